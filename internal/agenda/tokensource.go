package agenda

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// NewHTTPClient builds an HTTP client that authenticates with the given
// Google access token. The token is used as-is; refresh is the caller's
// concern.
func NewHTTPClient(ctx context.Context, accessToken string) *http.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
	return oauth2.NewClient(ctx, ts)
}

// NewDefaultHTTPClient builds an HTTP client from Application Default
// Credentials, for deployments where the server owns a service account
// instead of a user token.
func NewDefaultHTTPClient(ctx context.Context, scopes ...string) (*http.Client, error) {
	creds, err := googleoauth.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, creds.TokenSource), nil
}
