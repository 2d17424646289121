// Package tokensource keeps Dropbox credentials usable: it decides when a stored
// token has expired, refreshes it through the token endpoint, persists the result
// and hands out access tokens to API consumers.
//
// Dropbox issues short-lived access tokens (about four hours) together with a
// long-lived refresh token when authorization requests token_access_type=offline.
// Refresh responses usually omit refresh_token; the previous one stays valid.
//
// # Lifecycle
//
//	lc, err := tokensource.New(tokensource.NewOAuthConfig(key, secret, ""), store,
//		tokensource.WithAccountChecker(dropbox.New()),
//	)
//	token, err := lc.AccessToken(ctx, "alice")
//
// A token is treated as expired DefaultExpiryBuffer (see WithExpiryBuffer) before
// its actual expiry so that it cannot lapse while a request is in flight.
package tokensource
