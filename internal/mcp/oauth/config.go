package oauth

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/teemow/planfewer/internal/instrumentation"
)

// RateLimitConfig configures per-IP rate limiting for the OAuth endpoints.
type RateLimitConfig struct {
	// Rate is requests per second per IP. Zero disables rate limiting.
	Rate int

	// Burst is the bucket size. Zero means 2x Rate.
	Burst int

	// TrustProxy controls whether X-Forwarded-For and X-Real-IP are honored.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// CleanupInterval is how often inactive per-IP limiters are removed.
	CleanupInterval time.Duration
}

// Config configures the authorization server.
type Config struct {
	// Issuer is the server's externally reachable base URL. It appears as the
	// issuer in discovery metadata and as the protected resource identifier.
	Issuer string

	// SupportedScopes are the scopes advertised in discovery metadata and
	// minted onto issued tokens. Defaults to DefaultGrantedScopes.
	SupportedScopes []string

	// AuthorizationCodeTTL is the authorization code lifetime.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is the access token lifetime.
	AccessTokenTTL time.Duration

	// SweepInterval is how often expired codes and tokens are swept.
	SweepInterval time.Duration

	// MaxClientsPerIP limits client registrations per IP. Zero means no limit.
	MaxClientsPerIP int

	// RateLimit configures per-IP rate limiting.
	RateLimit RateLimitConfig

	// Metrics records token issuance, validation, and code exchange counters.
	// Defaults to a no-op recorder.
	Metrics *instrumentation.Metrics

	// Logger is the structured logger. Defaults to slog.Default.
	Logger *slog.Logger
}

// validate checks the config and fills in defaults.
func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Scheme != "https" {
		// Allow plain http for loopback development only.
		if u.Scheme != "http" || !isLoopbackHost(u.Hostname()) {
			return fmt.Errorf("issuer must use HTTPS (got %s://)", u.Scheme)
		}
	}

	if len(c.SupportedScopes) == 0 {
		c.SupportedScopes = DefaultGrantedScopes
	}
	if c.AuthorizationCodeTTL <= 0 {
		c.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxClientsPerIP == 0 {
		c.MaxClientsPerIP = DefaultMaxClientsPerIP
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.Rate * 2
	}
	if c.RateLimit.CleanupInterval <= 0 {
		c.RateLimit.CleanupInterval = DefaultRateLimitCleanupInterval
	}
	if c.Metrics == nil {
		c.Metrics = &instrumentation.Metrics{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return nil
}
