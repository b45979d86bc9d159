// Package identity obtains OpenID Connect tokens for calling services behind
// an identity-aware proxy.
package identity

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// IAMScope is the scope the base credential is requested with.
const IAMScope = "https://www.googleapis.com/auth/iam"

// ErrNoToken is returned when the token source yields an empty token.
var ErrNoToken = errors.New("empty identity token")

// GoogleTokenProvider exchanges Google credentials for an ID token whose
// audience is the IAP OAuth client id. Tokens are fetched fresh on every
// call.
type GoogleTokenProvider struct {
	credentialsJSON []byte
}

// NewGoogleTokenProvider returns a provider using the given service account
// key. With a nil key the ambient application default credentials are used
// (the attached service account on Cloud Functions, Cloud Run and GCE).
func NewGoogleTokenProvider(credentialsJSON []byte) *GoogleTokenProvider {
	return &GoogleTokenProvider{credentialsJSON: credentialsJSON}
}

// Token returns an ID token for audience.
func (p *GoogleTokenProvider) Token(ctx context.Context, audience string) (string, error) {
	creds, err := p.credentials(ctx)
	if err != nil {
		return "", err
	}

	// Refresh the base credential first so a missing identity fails here
	// rather than inside the ID token exchange.
	if _, err := creds.TokenSource.Token(); err != nil {
		return "", fmt.Errorf("refreshing service account credentials: %w", err)
	}

	ts, err := idtoken.NewTokenSource(ctx, audience, option.WithCredentials(creds))
	if err != nil {
		return "", fmt.Errorf("creating id token source for %q: %w", audience, err)
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("fetching id token for %q: %w", audience, err)
	}
	if tok.AccessToken == "" {
		return "", ErrNoToken
	}
	return tok.AccessToken, nil
}

func (p *GoogleTokenProvider) credentials(ctx context.Context) (*google.Credentials, error) {
	if len(p.credentialsJSON) > 0 {
		creds, err := google.CredentialsFromJSON(ctx, p.credentialsJSON, IAMScope)
		if err != nil {
			return nil, fmt.Errorf("parsing service account key: %w", err)
		}
		return creds, nil
	}
	creds, err := google.FindDefaultCredentials(ctx, IAMScope)
	if err != nil {
		return nil, fmt.Errorf("finding default credentials: %w", err)
	}
	return creds, nil
}

// StaticTokenProvider returns the same token for every audience.
type StaticTokenProvider string

// Token returns the static token, or ErrNoToken if it is empty.
func (s StaticTokenProvider) Token(ctx context.Context, audience string) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
