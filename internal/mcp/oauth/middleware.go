package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/teemow/planfewer/internal/instrumentation"
)

type contextKey string

// authContextKey is the request context key carrying the validated AuthContext.
const authContextKey contextKey = "oauth_auth_context"

// AuthContextFrom extracts the validated AuthContext from a request context.
// It returns nil when the request did not pass through RequireToken.
func AuthContextFrom(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(authContextKey).(*AuthContext)
	return ac
}

// WithAuthContext returns a context carrying the given AuthContext.
// Exposed for tests and for transports that validate tokens themselves.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// RequireToken wraps a handler with bearer token validation, optionally
// requiring scopes. Unauthenticated requests receive a 401 with a
// WWW-Authenticate challenge pointing at the protected resource metadata, so
// MCP clients can discover the authorization server. Valid requests proceed
// with the AuthContext attached to the request context.
func (s *AuthorizationServer) RequireToken(next http.Handler, requiredScopes ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value, ok := extractBearerToken(r)
		if !ok {
			s.writeChallenge(w, ErrInvalidToken("Missing or malformed Authorization header"))
			return
		}

		ac, oerr := s.tokens.Validate(value, requiredScopes...)
		if oerr != nil {
			s.metrics.RecordTokenValidation(r.Context(), instrumentation.ResultFailure)
			s.writeChallenge(w, oerr)
			return
		}

		s.metrics.RecordTokenValidation(r.Context(), instrumentation.ResultSuccess)
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// writeChallenge writes a bearer challenge per RFC 6750 section 3 alongside
// the JSON error body.
func (s *AuthorizationServer) writeChallenge(w http.ResponseWriter, oerr *OAuthError) {
	resourceMetadata := s.config.Issuer + "/.well-known/oauth-protected-resource"
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer realm=%q, error=%q, error_description=%q, resource_metadata=%q`,
		s.config.Issuer, oerr.Code, oerr.Description, resourceMetadata,
	))
	s.writeError(w, oerr)
}

// extractBearerToken pulls the token out of the Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || value == "" {
		return "", false
	}
	return value, true
}
