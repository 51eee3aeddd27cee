package oauth

import (
	"fmt"
	"time"
)

// Grant describes how a token was obtained. Each grant kind carries only the
// fields that are meaningful for it, instead of one record with
// conditionally-populated columns.
type Grant interface {
	// Kind returns the OAuth grant type that produced the token
	Kind() string

	// Client returns the id of the client the token was issued to
	Client() string
}

// AuthorizationCodeGrant records a token minted through the PKCE-protected
// authorization-code flow.
type AuthorizationCodeGrant struct {
	// ClientID is the client that exchanged the code
	ClientID string

	// Code is the consumed authorization code, kept for audit correlation
	Code string

	// RedirectURI is the redirect target the code was bound to
	RedirectURI string
}

// Kind implements Grant
func (g AuthorizationCodeGrant) Kind() string { return GrantAuthorizationCode }

// Client implements Grant
func (g AuthorizationCodeGrant) Client() string { return g.ClientID }

// ClientCredentialsGrant records a token minted directly from client
// credentials, with no code or PKCE involved.
type ClientCredentialsGrant struct {
	// ClientID is the client that presented its credentials
	ClientID string
}

// Kind implements Grant
func (g ClientCredentialsGrant) Kind() string { return GrantClientCredentials }

// Client implements Grant
func (g ClientCredentialsGrant) Client() string { return g.ClientID }

// Token is the common envelope shared by all grant kinds.
type Token struct {
	// Value is the opaque bearer credential presented by clients
	Value string

	// ID is a unique identifier for the token (the introspection jti claim)
	ID string

	// Scopes are the granted scopes
	Scopes ScopeSet

	// Grant records the flow that produced the token
	Grant Grant

	// IssuedAt is when the token was minted
	IssuedAt time.Time

	// ExpiresAt is when the token stops being valid
	ExpiresAt time.Time

	// LastUsedAt is updated on every successful validation; it is the only
	// field mutated after mint
	LastUsedAt time.Time
}

// Expired reports whether the token is past its TTL at the given instant.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// AuthContext is the immutable result of a successful token validation,
// passed to the tool layer for its own authorization decisions.
type AuthContext struct {
	// ClientID is the client the token was issued to
	ClientID string

	// Scopes are the granted scopes
	Scopes ScopeSet

	// GrantKind is the OAuth flow that produced the token. The tool layer
	// must not treat client_credentials tokens as equivalent-strength
	// authentication to the PKCE-protected flow.
	GrantKind string

	// TokenID is the unique token identifier
	TokenID string

	// IssuedAt is when the token was minted
	IssuedAt time.Time

	// LastUsedAt is the previous use of the token, before this validation
	LastUsedAt time.Time
}

// ValidateTokenShape rejects values that cannot have been minted by this
// server before any store lookup happens. The expected shape is the base64url
// encoding of AccessTokenBytes random bytes; see the constants block for the
// lockstep requirement between generation and validation.
func ValidateTokenShape(value string) error {
	if len(value) != AccessTokenEncodedLength {
		return fmt.Errorf("token must be %d characters, got %d", AccessTokenEncodedLength, len(value))
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return fmt.Errorf("token contains invalid character at position %d", i)
		}
	}
	return nil
}
