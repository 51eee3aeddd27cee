package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// GenerateCodeVerifier generates a random code verifier for PKCE.
// The result is 43 characters of the unreserved set, the RFC 7636 minimum.
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateCodeChallenge derives the S256 code challenge from a verifier:
// BASE64URL(SHA256(ASCII(code_verifier))), no padding.
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidateCodeVerifier checks the verifier shape required by RFC 7636:
// 43-128 characters, all from the unreserved set
// [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~".
func ValidateCodeVerifier(verifier string) error {
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be %d-%d characters, got %d",
			MinCodeVerifierLength, MaxCodeVerifierLength, len(verifier))
	}
	for i := 0; i < len(verifier); i++ {
		if !isUnreservedChar(verifier[i]) {
			return fmt.Errorf("code_verifier contains invalid character at position %d", i)
		}
	}
	return nil
}

// VerifyCodeChallenge recomputes the S256 challenge from the presented
// verifier and compares it byte-for-byte against the stored challenge.
func VerifyCodeChallenge(verifier, challenge string) bool {
	computed := GenerateCodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func isUnreservedChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}

// generateSecureToken generates a cryptographically secure random token of
// length random bytes, base64url encoded without padding.
func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
