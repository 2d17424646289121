package commands

import (
	"errors"
	"fmt"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

// UserMessage turns an error from Execute into a message for the terminal. Full
// details are expected to be logged separately.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, credential.ErrTokenStorage):
		return "could not save credentials; check permissions of the token directory or keyring"
	case errors.Is(err, credential.ErrTokenRefresh):
		return "could not refresh credentials; run `rsskobo login` again"
	case errors.Is(err, credential.ErrAuthentication):
		return fmt.Sprintf("not authenticated: %v", err)
	case errors.Is(err, credential.ErrAuthorization):
		return fmt.Sprintf("authorization failed: %v", err)
	case errors.Is(err, credential.ErrConfiguration):
		return fmt.Sprintf("configuration error: %v", err)
	default:
		return err.Error()
	}
}
