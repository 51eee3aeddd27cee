package oauth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mintTestToken mints a token directly against the store with the given scopes.
func mintTestToken(t *testing.T, server *AuthorizationServer, scopes ...string) *Token {
	t.Helper()
	token, err := server.Tokens().Mint(ClientCredentialsGrant{ClientID: "client-1"}, NewScopeSet(scopes...))
	require.NoError(t, err)
	return token
}

func TestRequireToken_MissingAuthorizationHeader(t *testing.T) {
	server := newTestServer(t)

	handler := server.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached without a token")
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The challenge points clients at the protected resource metadata
	challenge := rec.Header().Get("WWW-Authenticate")
	assert.Contains(t, challenge, "Bearer")
	assert.Contains(t, challenge, `error="invalid_token"`)
	assert.Contains(t, challenge, testIssuer+"/.well-known/oauth-protected-resource")
}

func TestRequireToken_MalformedHeader(t *testing.T) {
	server := newTestServer(t)

	handler := server.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	for _, header := range []string{
		"Basic dXNlcjpwYXNz",
		"Bearer",
		"Bearer ",
	} {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestRequireToken_UnknownToken(t *testing.T) {
	server := newTestServer(t)

	handler := server.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	value, err := generateSecureToken(AccessTokenBytes)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+value)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
}

func TestRequireToken_ValidTokenAttachesAuthContext(t *testing.T) {
	server := newTestServer(t)
	token := mintTestToken(t, server, "tasks:read")

	var captured *AuthContext
	handler := server.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = AuthContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token.Value)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "client-1", captured.ClientID)
	assert.Equal(t, token.ID, captured.TokenID)
	assert.True(t, captured.Scopes.Satisfies("tasks:read"))
}

func TestRequireToken_CaseInsensitiveScheme(t *testing.T) {
	server := newTestServer(t)
	token := mintTestToken(t, server, "tasks:read")

	handler := server.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "bearer "+token.Value)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireToken_InsufficientScope(t *testing.T) {
	server := newTestServer(t)
	token := mintTestToken(t, server, "tasks:read")

	handler := server.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached with insufficient scope")
	}), "calendar:write")

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token.Value)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="insufficient_scope"`)
}

func TestWithAuthContext_RoundTrip(t *testing.T) {
	ac := &AuthContext{ClientID: "client-1", GrantKind: GrantClientCredentials}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	ctx := WithAuthContext(req.Context(), ac)
	assert.Equal(t, ac, AuthContextFrom(ctx))
	assert.Nil(t, AuthContextFrom(req.Context()))
}
