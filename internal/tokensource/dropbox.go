package tokensource

import (
	"golang.org/x/oauth2"
)

// Endpoint defines the OAuth2 endpoints for Dropbox.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://www.dropbox.com/oauth2/authorize",
	TokenURL:  "https://api.dropboxapi.com/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Scopes are the Dropbox permissions requested during authorization.
var Scopes = []string{"files.content.write", "files.content.read", "account_info.read"}

// NewOAuthConfig returns the OAuth2 configuration for the registered Dropbox app.
// An empty redirectURL selects the no-redirect flow where Dropbox displays the
// authorization code to the user.
func NewOAuthConfig(appKey, appSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     appKey,
		ClientSecret: appSecret,
		Endpoint:     Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       append([]string(nil), Scopes...),
	}
}
