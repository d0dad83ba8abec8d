package agent

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config holds client credentials for agents that sit behind a token endpoint.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewWithOAuth2 returns a Client whose requests carry a bearer token obtained
// with the client credentials grant. Tokens are cached and refreshed on expiry.
// ctx bounds token fetches for the lifetime of the client, not a single call.
func NewWithOAuth2(ctx context.Context, baseURL, sessionID string, timeout time.Duration, oc OAuth2Config) *Client {
	c := New(baseURL, sessionID, timeout)

	cc := &clientcredentials.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		TokenURL:     oc.TokenURL,
		Scopes:       oc.Scopes,
	}
	// token requests share the timeout of agent calls
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})

	c.HTTP = cc.Client(tokenCtx)
	c.HTTP.Timeout = timeout
	return c
}
