package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenStore(t *testing.T) *TokenStore {
	t.Helper()
	store := NewTokenStore(time.Hour, time.Minute, nil)
	t.Cleanup(store.Stop)
	return store
}

func TestTokenStore_Mint(t *testing.T) {
	store := newTestTokenStore(t)

	token, err := store.Mint(ClientCredentialsGrant{ClientID: "client-1"}, NewScopeSet("tasks:read"))
	require.NoError(t, err)

	assert.NoError(t, ValidateTokenShape(token.Value))
	assert.NotEmpty(t, token.ID)
	assert.Equal(t, "client-1", token.Grant.Client())
	assert.Equal(t, GrantClientCredentials, token.Grant.Kind())
	assert.True(t, token.ExpiresAt.After(token.IssuedAt))
	assert.Equal(t, 1, store.Count())
}

func TestTokenStore_Mint_NilGrant(t *testing.T) {
	store := newTestTokenStore(t)

	_, err := store.Mint(nil, NewScopeSet("tasks:read"))
	assert.Error(t, err)
}

func TestTokenStore_Validate(t *testing.T) {
	store := newTestTokenStore(t)

	token, err := store.Mint(AuthorizationCodeGrant{ClientID: "client-1"}, NewScopeSet("tasks:write"))
	require.NoError(t, err)

	ac, oerr := store.Validate(token.Value)
	require.Nil(t, oerr)
	assert.Equal(t, "client-1", ac.ClientID)
	assert.Equal(t, GrantAuthorizationCode, ac.GrantKind)
	assert.Equal(t, token.ID, ac.TokenID)
}

func TestTokenStore_Validate_UnknownToken(t *testing.T) {
	store := newTestTokenStore(t)

	// Well-shaped but never minted
	value, err := generateSecureToken(AccessTokenBytes)
	require.NoError(t, err)

	_, oerr := store.Validate(value)
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_token", oerr.Code)
	assert.Equal(t, 401, oerr.Status)
}

func TestTokenStore_Validate_MalformedToken(t *testing.T) {
	store := newTestTokenStore(t)

	tests := []string{
		"",
		"short",
		"has spaces " + string(make([]byte, AccessTokenEncodedLength-11)),
	}
	for _, value := range tests {
		_, oerr := store.Validate(value)
		require.NotNil(t, oerr)
		assert.Equal(t, "invalid_token", oerr.Code)
	}
}

func TestTokenStore_Validate_Expired(t *testing.T) {
	store := newTestTokenStore(t)

	token, err := store.Mint(ClientCredentialsGrant{ClientID: "client-1"}, NewScopeSet("tasks"))
	require.NoError(t, err)

	// Move the clock past the TTL; lazy expiry evicts on the next lookup
	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, oerr := store.Validate(token.Value)
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_token", oerr.Code)
	assert.Equal(t, 0, store.Count())
}

func TestTokenStore_Validate_ScopeEnforcement(t *testing.T) {
	store := newTestTokenStore(t)

	token, err := store.Mint(ClientCredentialsGrant{ClientID: "client-1"}, NewScopeSet("tasks:write"))
	require.NoError(t, err)

	// Write implies read
	_, oerr := store.Validate(token.Value, "tasks:read")
	assert.Nil(t, oerr)

	// Unrelated scope is rejected with 403
	_, oerr = store.Validate(token.Value, "calendar:read")
	require.NotNil(t, oerr)
	assert.Equal(t, "insufficient_scope", oerr.Code)
	assert.Equal(t, 403, oerr.Status)
}

func TestTokenStore_Validate_UpdatesLastUsed(t *testing.T) {
	store := newTestTokenStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }

	token, err := store.Mint(ClientCredentialsGrant{ClientID: "client-1"}, NewScopeSet("tasks"))
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(10 * time.Minute) }
	ac, oerr := store.Validate(token.Value)
	require.Nil(t, oerr)
	assert.Equal(t, base, ac.LastUsedAt)

	// The second validation sees the first one's touch
	store.now = func() time.Time { return base.Add(20 * time.Minute) }
	ac, oerr = store.Validate(token.Value)
	require.Nil(t, oerr)
	assert.Equal(t, base.Add(10*time.Minute), ac.LastUsedAt)
}

func TestTokenStore_Revoke_Idempotent(t *testing.T) {
	store := newTestTokenStore(t)

	token, err := store.Mint(ClientCredentialsGrant{ClientID: "client-1"}, NewScopeSet("tasks"))
	require.NoError(t, err)

	store.Revoke(token.Value)
	assert.Equal(t, 0, store.Count())

	// Revoking again, or revoking garbage, is not an error
	store.Revoke(token.Value)
	store.Revoke("never-issued")

	_, oerr := store.Validate(token.Value)
	require.NotNil(t, oerr)
	assert.Equal(t, "invalid_token", oerr.Code)
}

func TestTokenStore_OnRevoke_RunsOnlyForLiveTokens(t *testing.T) {
	store := newTestTokenStore(t)

	var revoked []string
	store.OnRevoke(func(token *Token) {
		revoked = append(revoked, token.ID)
	})

	token, err := store.Mint(ClientCredentialsGrant{ClientID: "client-1"}, NewScopeSet("tasks"))
	require.NoError(t, err)

	store.Revoke(token.Value)
	require.Equal(t, []string{token.ID}, revoked)

	// Re-revoking and revoking garbage do not fire the hook again
	store.Revoke(token.Value)
	store.Revoke("never-issued")
	assert.Len(t, revoked, 1)
}

func TestTokenStore_Get(t *testing.T) {
	store := newTestTokenStore(t)

	token, err := store.Mint(ClientCredentialsGrant{ClientID: "client-1"}, NewScopeSet("tasks"))
	require.NoError(t, err)

	got := store.Get(token.Value)
	require.NotNil(t, got)
	assert.Equal(t, token.ID, got.ID)

	assert.Nil(t, store.Get("unknown"))

	// Expired tokens are evicted on lookup
	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Nil(t, store.Get(token.Value))
	assert.Equal(t, 0, store.Count())
}

func TestTokenStore_SweepExpired(t *testing.T) {
	store := newTestTokenStore(t)

	_, err := store.Mint(ClientCredentialsGrant{ClientID: "client-1"}, NewScopeSet("tasks"))
	require.NoError(t, err)
	keeper, err := store.Mint(ClientCredentialsGrant{ClientID: "client-2"}, NewScopeSet("tasks"))
	require.NoError(t, err)
	require.Equal(t, 2, store.Count())

	// Expire the first token only, then sweep
	store.mu.Lock()
	for value, token := range store.tokens {
		if value != keeper.Value {
			token.ExpiresAt = time.Now().Add(-time.Minute)
		}
	}
	store.mu.Unlock()

	store.sweepExpired()
	assert.Equal(t, 1, store.Count())
	assert.NotNil(t, store.Get(keeper.Value))
}
