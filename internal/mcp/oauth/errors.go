package oauth

import (
	"fmt"
	"net/http"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError("invalid_request", desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code is invalid, consumed, or expired,
	// or that PKCE or client/redirect binding verification failed
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError("invalid_grant", desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates the client is unknown or client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError("invalid_client", desc, http.StatusBadRequest)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is malformed, uses a
	// forbidden scheme, or is not registered for the client
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError("invalid_redirect_uri", desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates a response_type other than "code"
	ErrUnsupportedResponseType = func(desc string) *OAuthError {
		return NewOAuthError("unsupported_response_type", desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError("unsupported_grant_type", desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is absent, malformed, or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError("invalid_token", desc, http.StatusUnauthorized)
	}

	// ErrInsufficientScope indicates a valid token that lacks the required scope
	ErrInsufficientScope = func(desc string) *OAuthError {
		return NewOAuthError("insufficient_scope", desc, http.StatusForbidden)
	}

	// ErrServerError indicates an unexpected internal fault
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError("server_error", desc, http.StatusInternalServerError)
	}
)
