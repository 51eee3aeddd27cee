package oauth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// setSecurityHeaders sets security headers on HTTP responses.
func (s *AuthorizationServer) setSecurityHeaders(w http.ResponseWriter) {
	// Prevent clickjacking attacks
	w.Header().Set("X-Frame-Options", "DENY")

	// Prevent MIME type sniffing
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// Content Security Policy - restrict resource loading
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

	// Referrer policy - don't leak referrer information
	w.Header().Set("Referrer-Policy", "no-referrer")

	if strings.HasPrefix(s.config.Issuer, "https://") {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// writeJSON writes a JSON response with security headers.
func (s *AuthorizationServer) writeJSON(w http.ResponseWriter, status int, body any) {
	s.setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an OAuth error response as a direct JSON body.
func (s *AuthorizationServer) writeError(w http.ResponseWriter, oerr *OAuthError) {
	s.logger.Debug("oauth error",
		"code", oerr.Code,
		"description", oerr.Description,
		"status", oerr.Status,
	)
	// Token responses must not be cached (RFC 6749 section 5.1).
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	s.writeJSON(w, oerr.Status, ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}

// redirectError delivers an error to the client via the validated redirect
// URI, per RFC 6749 section 4.1.2.1. Only called after client_id and
// redirect_uri have been validated; errors before that point must never
// redirect to an unvalidated target.
func (s *AuthorizationServer) redirectError(w http.ResponseWriter, r *http.Request, redirectURI string, oerr *OAuthError, state string) {
	s.logger.Debug("oauth error (redirect)",
		"code", oerr.Code,
		"description", oerr.Description,
	)

	target, err := url.Parse(redirectURI)
	if err != nil {
		s.writeError(w, ErrServerError("invalid redirect target"))
		return
	}

	q := target.Query()
	q.Set("error", oerr.Code)
	if oerr.Description != "" {
		q.Set("error_description", oerr.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()

	s.setSecurityHeaders(w)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// decodeJSONBody decodes a JSON request body with a sane size cap.
func decodeJSONBody(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(dst)
}

// RateLimitMiddleware applies per-IP rate limiting when configured.
func (s *AuthorizationServer) RateLimitMiddleware(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r, s.config.RateLimit.TrustProxy)
		if !s.rateLimiter.Allow(ip) {
			w.Header().Set("Retry-After", "1")
			s.writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:            "rate_limit_exceeded",
				ErrorDescription: "Rate limit exceeded. Please try again later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
