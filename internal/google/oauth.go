package google

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// TokenEndpoint is the provider token endpoint used for both the code
// exchange and refresh-token grants.
const TokenEndpoint = "https://oauth2.googleapis.com/token"

// OAuthConfig returns the OAuth2 configuration for the consent flow.
// redirectURL is the absolute callback URL of this deployment.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     googleoauth.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       DefaultScopes,
	}
}

// AuthCodeURL builds the consent URL. Offline access is requested so the
// provider issues a refresh token, and the consent prompt is forced so
// re-running the flow can pick up scopes the user previously declined.
func AuthCodeURL(conf *oauth2.Config, state string) string {
	return conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for a token.
func Exchange(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error) {
	t, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return t, nil
}
