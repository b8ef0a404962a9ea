// Package auth acquires bearer credentials for the audit feed API.
package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenProvider obtains a bearer token for feed requests. Implementations
// cache and refresh internally; callers ask for a token per poll cycle.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentials implements TokenProvider against an OAuth2
// client-credentials token endpoint.
type ClientCredentials struct {
	cfg *clientcredentials.Config

	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewClientCredentials builds a provider for the given token endpoint.
func NewClientCredentials(tokenURL, clientID, clientSecret, scope string) *ClientCredentials {
	return &ClientCredentials{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{scope},
		},
	}
}

// Token returns a valid access token, fetching or refreshing as needed.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.src == nil {
		// The token source keeps refreshing across cycles, so it is bound
		// to the process lifetime rather than one cycle's context.
		c.src = c.cfg.TokenSource(context.Background())
	}
	src := c.src
	c.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("acquire feed token: %w", err)
	}
	return tok.AccessToken, nil
}

// StaticToken is a fixed-token provider for tests and local development
// against the feed simulator.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}
