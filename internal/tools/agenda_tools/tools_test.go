package agenda_tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/planfewer/internal/mcp/oauth"
)

func authedContext(scopes ...string) context.Context {
	return oauth.WithAuthContext(context.Background(), &oauth.AuthContext{
		ClientID:  "client-1",
		Scopes:    oauth.NewScopeSet(scopes...),
		GrantKind: oauth.GrantAuthorizationCode,
		TokenID:   "token-1",
	})
}

func TestRequireScope(t *testing.T) {
	// No auth context at all
	err := requireScope(context.Background(), oauth.ScopeTasksRead)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")

	// Direct grant
	assert.NoError(t, requireScope(authedContext("tasks:read"), oauth.ScopeTasksRead))

	// Write implies read
	assert.NoError(t, requireScope(authedContext("tasks:write"), oauth.ScopeTasksRead))

	// Bare resource implies write
	assert.NoError(t, requireScope(authedContext("calendar"), oauth.ScopeCalendarWrite))

	// Universal scope
	assert.NoError(t, requireScope(authedContext("*"), oauth.ScopeTasksWrite))

	// Insufficient scope
	err = requireScope(authedContext("tasks:read"), oauth.ScopeTasksWrite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient scope")
}

func TestRequiredStringArg(t *testing.T) {
	args := map[string]interface{}{
		"taskListId": "list-1",
		"notANumber": 42,
	}

	v, err := requiredStringArg(args, "taskListId")
	require.NoError(t, err)
	assert.Equal(t, "list-1", v)

	_, err = requiredStringArg(args, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing is required")

	// Non-string values are treated as absent
	_, err = requiredStringArg(args, "notANumber")
	assert.Error(t, err)
}

func TestTimeArg(t *testing.T) {
	args := map[string]interface{}{
		"due":    "2026-09-01T10:00:00Z",
		"broken": "tomorrow",
	}

	parsed, err := timeArg(args, "due")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC), parsed.UTC())

	// Absent keys yield the zero time without error
	parsed, err = timeArg(args, "missing")
	require.NoError(t, err)
	assert.True(t, parsed.IsZero())

	_, err = timeArg(args, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RFC 3339")
}

func TestMarshalResult(t *testing.T) {
	out, err := marshalResult(map[string]string{"id": "task-1"})
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "task-1"`)
}
