package tokenstore

import (
	"context"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

// Store reads and writes token records keyed by identity.
type Store interface {
	// Load returns the stored record, or nil when there is no usable record.
	Load(ctx context.Context, identity string) (*credential.TokenRecord, error)

	// Save persists the record and stamps its SavedAt. Returns an error wrapping
	// credential.ErrTokenStorage if the record could not be stored durably.
	Save(ctx context.Context, identity string, record *credential.TokenRecord) error

	// Clear removes the stored record. Clearing an absent record succeeds.
	Clear(ctx context.Context, identity string) error
}
