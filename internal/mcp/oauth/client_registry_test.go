package oauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/planfewer/internal/storage"
	"github.com/teemow/planfewer/internal/storage/memory"
)

func newTestRegistry(t *testing.T) *ClientRegistry {
	t.Helper()
	registry := NewClientRegistry(memory.New(), nil)
	require.NoError(t, registry.Load(context.Background()))
	return registry
}

func TestClientRegistry_Register_PublicClient(t *testing.T) {
	registry := newTestRegistry(t)

	resp, oerr := registry.Register(context.Background(), &ClientRegistrationRequest{
		ClientName:   "Test App",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}, "192.0.2.1")
	require.Nil(t, oerr)

	assert.NotEmpty(t, resp.ClientID)
	assert.Empty(t, resp.ClientSecret, "public clients must not receive a secret")
	assert.Equal(t, "none", resp.TokenEndpointAuthMethod)
	assert.Equal(t, []string{"https://app.example.com/callback"}, resp.RedirectURIs)
	assert.NotZero(t, resp.ClientIDIssuedAt)

	client, err := registry.GetClient(resp.ClientID)
	require.NoError(t, err)
	assert.True(t, client.Public())
}

func TestClientRegistry_Register_ConfidentialClient(t *testing.T) {
	registry := newTestRegistry(t)

	resp, oerr := registry.Register(context.Background(), &ClientRegistrationRequest{
		ClientName:              "Backend Service",
		RedirectURIs:            []string{"https://service.example.com/callback"},
		TokenEndpointAuthMethod: "client_secret_post",
	}, "192.0.2.1")
	require.Nil(t, oerr)
	require.NotEmpty(t, resp.ClientSecret)

	// Only the bcrypt hash is stored
	client, err := registry.GetClient(resp.ClientID)
	require.NoError(t, err)
	assert.False(t, client.Public())
	assert.NotEqual(t, resp.ClientSecret, client.ClientSecretHash)

	assert.NoError(t, registry.ValidateClientSecret(resp.ClientID, resp.ClientSecret))
	assert.Error(t, registry.ValidateClientSecret(resp.ClientID, "wrong-secret"))
}

func TestClientRegistry_Register_RequiresClientName(t *testing.T) {
	registry := newTestRegistry(t)

	_, oerr := registry.Register(context.Background(), &ClientRegistrationRequest{
		RedirectURIs: []string{"https://app.example.com/callback"},
	}, "192.0.2.1")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_request", oerr.Code)
	assert.Contains(t, oerr.Description, "client_name")
}

func TestClientRegistry_Register_RedirectURIValidation(t *testing.T) {
	registry := newTestRegistry(t)

	tests := []struct {
		name     string
		uris     []string
		wantCode string
	}{
		{
			name:     "empty redirect_uris",
			uris:     nil,
			wantCode: "invalid_request",
		},
		{
			name:     "relative URI",
			uris:     []string{"/callback"},
			wantCode: "invalid_redirect_uri",
		},
		{
			name:     "fragment not allowed",
			uris:     []string{"https://app.example.com/callback#frag"},
			wantCode: "invalid_redirect_uri",
		},
		{
			name:     "plain http on public host",
			uris:     []string{"http://app.example.com/callback"},
			wantCode: "invalid_redirect_uri",
		},
		{
			name:     "custom scheme rejected",
			uris:     []string{"myapp://callback"},
			wantCode: "invalid_redirect_uri",
		},
		{
			name:     "one bad URI poisons the batch",
			uris:     []string{"https://app.example.com/callback", "ftp://files.example.com"},
			wantCode: "invalid_redirect_uri",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, oerr := registry.Register(context.Background(), &ClientRegistrationRequest{
				ClientName:   "Test App",
				RedirectURIs: tt.uris,
			}, "192.0.2.1")
			require.NotNil(t, oerr)
			assert.Equal(t, tt.wantCode, oerr.Code)
		})
	}
}

func TestClientRegistry_Register_LoopbackHTTPAllowed(t *testing.T) {
	registry := newTestRegistry(t)

	for _, uri := range []string{
		"http://localhost:8765/callback",
		"http://127.0.0.1/callback",
		"http://[::1]:9999/callback",
	} {
		_, oerr := registry.Register(context.Background(), &ClientRegistrationRequest{
			ClientName:   "Native App",
			RedirectURIs: []string{uri},
		}, "192.0.2.1")
		assert.Nil(t, oerr, "expected %s to be accepted", uri)
	}
}

func TestClientRegistry_Register_UnsupportedAuthMethod(t *testing.T) {
	registry := newTestRegistry(t)

	_, oerr := registry.Register(context.Background(), &ClientRegistrationRequest{
		ClientName:              "Test App",
		RedirectURIs:            []string{"https://app.example.com/callback"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}, "192.0.2.1")
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_request", oerr.Code)
}

func TestClientRegistry_ValidateRedirectURI_ExactMatch(t *testing.T) {
	registry := newTestRegistry(t)

	resp, oerr := registry.Register(context.Background(), &ClientRegistrationRequest{
		ClientName:   "Test App",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}, "192.0.2.1")
	require.Nil(t, oerr)

	assert.NoError(t, registry.ValidateRedirectURI(resp.ClientID, "https://app.example.com/callback"))

	// Matching is exact string comparison, no normalization
	assert.Error(t, registry.ValidateRedirectURI(resp.ClientID, "https://app.example.com/callback/"))
	assert.Error(t, registry.ValidateRedirectURI(resp.ClientID, "https://app.example.com/other"))
	assert.Error(t, registry.ValidateRedirectURI("unknown-client", "https://app.example.com/callback"))
}

func TestClientRegistry_CheckIPLimit(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, oerr := registry.Register(ctx, &ClientRegistrationRequest{
			ClientName:   "Test App",
			RedirectURIs: []string{"https://app.example.com/callback"},
		}, "192.0.2.7")
		require.Nil(t, oerr)
	}

	assert.Error(t, registry.CheckIPLimit(ctx, "192.0.2.7", 3))
	assert.NoError(t, registry.CheckIPLimit(ctx, "192.0.2.7", 4))
	assert.NoError(t, registry.CheckIPLimit(ctx, "198.51.100.1", 3))

	// Zero disables the limit
	assert.NoError(t, registry.CheckIPLimit(ctx, "192.0.2.7", 0))
}

func TestClientRegistry_Load_SurvivesRestart(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	first := NewClientRegistry(store, nil)
	require.NoError(t, first.Load(ctx))
	resp, oerr := first.Register(ctx, &ClientRegistrationRequest{
		ClientName:   "Durable App",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}, "192.0.2.1")
	require.Nil(t, oerr)

	// A fresh registry over the same store sees the client after Load
	second := NewClientRegistry(store, nil)
	_, err := second.GetClient(resp.ClientID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, second.Load(ctx))
	client, err := second.GetClient(resp.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "Durable App", client.ClientName)
}
