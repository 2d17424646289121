package credential

import "errors"

var (
	// ErrConfiguration indicates missing or invalid static configuration (client
	// credentials, passphrase source). Fatal, never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrAuthentication indicates that no usable credential exists for an identity.
	// Callers should trigger re-authorization.
	ErrAuthentication = errors.New("not authenticated")
	// ErrAuthorization indicates that the interactive flow was denied or the code
	// exchange failed.
	ErrAuthorization = errors.New("authorization failed")
	// ErrTokenRefresh indicates that the refresh grant was rejected or could not be sent.
	ErrTokenRefresh = errors.New("token refresh failed")
	// ErrTokenStorage indicates that a credential could not be encrypted, written or
	// verified. Always fatal to the current operation.
	ErrTokenStorage = errors.New("token storage failed")
)
