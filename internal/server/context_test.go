package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/planfewer/internal/mcp/oauth"
)

func newTestServerContext(t *testing.T) *ServerContext {
	t.Helper()
	sessions := NewSessionCoordinator(func(ctx context.Context, sessionID, clientID string) (any, error) {
		return &AgendaState{}, nil
	}, 30*time.Minute, time.Minute, nil)
	sc := NewServerContext(context.Background(), sessions, nil)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

func TestServerContext_SessionFor_RequiresAuthContext(t *testing.T) {
	sc := newTestServerContext(t)

	_, _, err := sc.SessionFor(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestServerContext_SessionFor_KeyedByTokenID(t *testing.T) {
	sc := newTestServerContext(t)

	ctx := oauth.WithAuthContext(context.Background(), &oauth.AuthContext{
		ClientID: "client-1",
		TokenID:  "token-1",
		Scopes:   oauth.NewScopeSet("tasks"),
	})

	session, state, err := sc.SessionFor(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "token-1", session.ID)
	assert.Equal(t, "client-1", session.ClientID)

	// The same token resolves to the same session
	again, _, err := sc.SessionFor(ctx)
	require.NoError(t, err)
	assert.Same(t, session, again)

	// A different token for the same client gets its own session
	other := oauth.WithAuthContext(context.Background(), &oauth.AuthContext{
		ClientID: "client-1",
		TokenID:  "token-2",
		Scopes:   oauth.NewScopeSet("tasks"),
	})
	otherSession, _, err := sc.SessionFor(other)
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, otherSession.ID)
	assert.Equal(t, 2, sc.Sessions().Count())
}

func TestServerContext_Shutdown(t *testing.T) {
	sc := newTestServerContext(t)

	assert.False(t, sc.IsShutdown())
	require.NoError(t, sc.Shutdown())
	assert.True(t, sc.IsShutdown())

	// Shutdown is idempotent and cancels the context
	require.NoError(t, sc.Shutdown())
	select {
	case <-sc.Context().Done():
	default:
		t.Fatal("server context should be cancelled after shutdown")
	}
}
