package oauth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeVerifier(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)

	require.NoError(t, ValidateCodeVerifier(verifier))

	// Verifiers must be unique
	other, err := GenerateCodeVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, other)
}

func TestGenerateCodeChallenge(t *testing.T) {
	// Known vector from RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := GenerateCodeChallenge(verifier)
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", challenge)
}

func TestValidateCodeVerifier(t *testing.T) {
	tests := []struct {
		name     string
		verifier string
		wantErr  bool
	}{
		{
			name:     "minimum length",
			verifier: strings.Repeat("a", 43),
			wantErr:  false,
		},
		{
			name:     "maximum length",
			verifier: strings.Repeat("a", 128),
			wantErr:  false,
		},
		{
			name:     "too short",
			verifier: strings.Repeat("a", 42),
			wantErr:  true,
		},
		{
			name:     "too long",
			verifier: strings.Repeat("a", 129),
			wantErr:  true,
		},
		{
			name:     "full unreserved set",
			verifier: "abcDEF0123456789-._~" + strings.Repeat("x", 23),
			wantErr:  false,
		},
		{
			name:     "invalid character",
			verifier: strings.Repeat("a", 42) + "+",
			wantErr:  true,
		},
		{
			name:     "whitespace rejected",
			verifier: strings.Repeat("a", 42) + " ",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCodeVerifier(tt.verifier)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifyCodeChallenge(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)
	challenge := GenerateCodeChallenge(verifier)

	assert.True(t, VerifyCodeChallenge(verifier, challenge))
	assert.False(t, VerifyCodeChallenge(verifier+"x", challenge))
	assert.False(t, VerifyCodeChallenge(verifier, challenge+"x"))
	assert.False(t, VerifyCodeChallenge("", challenge))
}
