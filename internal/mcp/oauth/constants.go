package oauth

import "time"

// Token and code lifetimes
const (
	// DefaultAuthorizationCodeTTL is how long authorization codes are valid (10 minutes)
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// DefaultAccessTokenTTL is the access token expiry (1 hour)
	DefaultAccessTokenTTL = 1 * time.Hour

	// DefaultSweepInterval is how often expired codes and tokens are removed
	// out-of-band; expiry is also checked lazily at use-time (5 minutes)
	DefaultSweepInterval = 5 * time.Minute

	// DefaultRateLimitCleanupInterval is how often inactive rate limiters are removed
	DefaultRateLimitCleanupInterval = 5 * time.Minute
)

// Token generation and shape constants.
//
// Access token validity is partly inferred from the literal token shape
// (length and charset), so generation and validation must stay in lockstep.
// Both sides read these constants; change them together or not at all.
const (
	// AccessTokenBytes is the number of random bytes in an access token
	AccessTokenBytes = 48

	// AccessTokenEncodedLength is the length of the base64url (no padding)
	// encoding of AccessTokenBytes random bytes
	AccessTokenEncodedLength = 64

	// AuthorizationCodeBytes is the number of random bytes in an authorization code
	AuthorizationCodeBytes = 32

	// ClientIDBytes is the number of random bytes in a generated client ID
	ClientIDBytes = 32

	// ClientSecretBytes is the number of random bytes in a generated client secret
	ClientSecretBytes = 48
)

// PKCE constants (RFC 7636)
const (
	// MinCodeVerifierLength is the minimum length for a PKCE code_verifier
	MinCodeVerifierLength = 43

	// MaxCodeVerifierLength is the maximum length for a PKCE code_verifier
	MaxCodeVerifierLength = 128
)

// Registration defaults
const (
	// DefaultMaxClientsPerIP is the default limit for client registrations per IP
	DefaultMaxClientsPerIP = 10

	// DefaultRateLimitRate is the default requests per second per IP
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the default burst size for rate limiting
	DefaultRateLimitBurst = 20
)

// Scopes understood by this server. Tokens carry a set of these; the
// validator in scopes.go applies the write-implies-read hierarchy.
const (
	// ScopeUniversal satisfies any scope requirement
	ScopeUniversal = "*"

	ScopeTasks         = "tasks"
	ScopeTasksRead     = "tasks:read"
	ScopeTasksWrite    = "tasks:write"
	ScopeCalendar      = "calendar"
	ScopeCalendarRead  = "calendar:read"
	ScopeCalendarWrite = "calendar:write"
)

// DefaultGrantedScopes is the fixed scope set minted onto every token,
// regardless of grant. Both grants receive the same superset; see the
// client_credentials notes in authz_server.go.
var DefaultGrantedScopes = []string{
	ScopeTasks,
	ScopeTasksRead,
	ScopeTasksWrite,
	ScopeCalendar,
	ScopeCalendarRead,
	ScopeCalendarWrite,
}

// Grant kinds recorded on issued tokens
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
)

// OAuth protocol values advertised in discovery metadata
var (
	// SupportedGrantTypes are the grant types this server implements
	SupportedGrantTypes = []string{GrantAuthorizationCode, GrantClientCredentials}

	// SupportedResponseTypes are the response types this server implements
	SupportedResponseTypes = []string{"code"}

	// SupportedCodeChallengeMethods lists the PKCE methods we accept.
	// Only S256; the "plain" method violates OAuth 2.1.
	SupportedCodeChallengeMethods = []string{"S256"}

	// SupportedTokenAuthMethods are the token endpoint auth methods we accept
	SupportedTokenAuthMethods = []string{"client_secret_post", "none"}

	// LoopbackHosts lists recognized loopback hostnames for redirect targets
	LoopbackHosts = []string{"localhost", "127.0.0.1", "::1", "[::1]"}
)
