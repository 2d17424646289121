package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

// EnvStore provides read-only access to a static access token stored in an
// environment variable. The token is surfaced as a non-expiring record; it cannot be
// refreshed, so it only suits long-lived tokens issued out of band.
type EnvStore struct {
	envKey string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
// Returns error if the variable name is empty.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	return &EnvStore{
		envKey: envKey,
	}, nil
}

// Load returns the token from the environment variable as a non-expiring record,
// or nil when the variable is unset or empty. The identity is not consulted.
func (e *EnvStore) Load(ctx context.Context, identity string) (*credential.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token := strings.TrimSpace(os.Getenv(e.envKey))
	if token == "" {
		return nil, nil
	}
	return &credential.TokenRecord{
		AccessToken: token,
		TokenType:   credential.DefaultTokenType,
	}, nil
}

// Save is not supported for environment variables (they are read-only).
func (e *EnvStore) Save(ctx context.Context, identity string, record *credential.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: environment variable storage is read-only", credential.ErrTokenStorage)
}

// Clear is not supported for environment variables (they are read-only).
func (e *EnvStore) Clear(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: environment variable storage is read-only; unset %s instead", credential.ErrTokenStorage, e.envKey)
}
