package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyClientID  = "client_id"
	KeyGrantType = "grant_type"
	KeySessionID = "session_hash"
	KeyDuration  = "duration"
	KeyStatus    = "status"
	KeyError     = "error"
	KeyTool      = "tool"
)

// Status values for consistent logging.
// Note: These are intentionally duplicated from instrumentation package
// to avoid circular dependencies (instrumentation imports logging).
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithTool returns a logger with the tool attribute set.
func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(slog.String(KeyTool, tool))
}

// WithClient returns a logger with the client_id attribute set.
func WithClient(logger *slog.Logger, clientID string) *slog.Logger {
	return logger.With(slog.String(KeyClientID, clientID))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// ClientID returns a slog attribute for the OAuth client id.
func ClientID(clientID string) slog.Attr {
	return slog.String(KeyClientID, clientID)
}

// GrantType returns a slog attribute for the OAuth grant type.
func GrantType(grantType string) slog.Attr {
	return slog.String(KeyGrantType, grantType)
}

// Tool returns a slog attribute for the tool name.
func Tool(tool string) slog.Attr {
	return slog.String(KeyTool, tool)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
// This allows safely passing Err(maybeNilErr) without adding empty attributes.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		// Return an empty Group that slog will omit from output
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeSession returns a hashed representation of a session id for
// logging. This allows correlation of log entries without exposing the
// bearer-adjacent session identifier itself.
func AnonymizeSession(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(sessionID))
	return "session:" + hex.EncodeToString(hash[:8])
}

// SessionHash returns a slog attribute with the anonymized session id.
//
// Usage:
//
//	logger.Info("session created", logging.SessionHash(id))
func SessionHash(sessionID string) slog.Attr {
	return slog.String(KeySessionID, AnonymizeSession(sessionID))
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content,
// as even partial token prefixes can aid attacks.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
