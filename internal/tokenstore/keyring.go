package tokenstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/AMathur20/rss-to-kobo/internal/credcodec"
	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

// DefaultKeyringService is the keyring service name records are stored under.
const DefaultKeyringService = "rss-to-kobo-token"

// KeyringStore provides OS-native secure credential storage for token records.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service. Records
// are still encrypted with the codec before they reach the keyring.
type KeyringStore struct {
	service string
	codec   *credcodec.Codec
	now     func() time.Time
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore using the given service identifier; the
// identity is used as the keyring user.
func NewKeyringStore(service string, codec *credcodec.Codec, opts ...Option) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if codec == nil {
		return nil, fmt.Errorf("missing credential codec")
	}

	o := applyOptions(opts)
	return &KeyringStore{
		service: service,
		codec:   codec,
		now:     o.now,
	}, nil
}

// Load returns the record from the system keyring, or nil if none is usable.
func (k *KeyringStore) Load(ctx context.Context, identity string) (*credential.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	encoded, err := keyring.Get(k.service, identity)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			slog.DebugContext(ctx, "no stored credentials", "identity", identity)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading keyring: %v", credential.ErrTokenStorage, err)
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		slog.ErrorContext(ctx, "keyring entry is not a credential blob; re-authorization required", "identity", identity)
		return nil, nil
	}
	return openBlob(ctx, k.codec, identity, blob), nil
}

// Save persists the record to the system keyring, overwriting any existing value.
// Keyring writes replace the entry as a whole.
func (k *KeyringStore) Save(ctx context.Context, identity string, record *credential.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateIdentity(identity); err != nil {
		return err
	}

	stamped := record.Clone()
	if stamped != nil {
		stamped.SavedAt = k.now().UTC()
	}
	blob, err := k.codec.Seal(stamped)
	if err != nil {
		return fmt.Errorf("%w: encrypting credentials: %v", credential.ErrTokenStorage, err)
	}

	if err := keyring.Set(k.service, identity, base64.StdEncoding.EncodeToString(blob)); err != nil {
		return fmt.Errorf("%w: writing keyring: %v", credential.ErrTokenStorage, err)
	}

	record.SavedAt = stamped.SavedAt
	slog.InfoContext(ctx, "credentials saved to keyring", "identity", identity, "record", stamped)
	return nil
}

// Clear deletes the keyring entry. A missing entry is not an error.
func (k *KeyringStore) Clear(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateIdentity(identity); err != nil {
		return err
	}

	if err := keyring.Delete(k.service, identity); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: deleting keyring entry: %v", credential.ErrTokenStorage, err)
	}
	slog.InfoContext(ctx, "credentials cleared", "identity", identity)
	return nil
}
