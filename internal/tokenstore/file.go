package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AMathur20/rss-to-kobo/internal/credcodec"
	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

// FileStore provides atomic, encrypted file-based token storage with owner-only permissions.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	dir   string
	codec *credcodec.Codec
	now   func() time.Time

	// beforeRename runs between writing the temp file and renaming it (tests only).
	beforeRename func(tempName string) error
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp SavedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewFileStore creates a FileStore rooted at dir, creating it with 0700 permissions
// if it doesn't exist.
func NewFileStore(dir string, codec *credcodec.Codec, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("token directory cannot be empty")
	}
	if codec == nil {
		return nil, fmt.Errorf("missing credential codec")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating token directory: %v", credential.ErrTokenStorage, err)
	}
	// MkdirAll leaves existing directories untouched and is subject to umask
	if err := os.Chmod(dir, 0700); err != nil {
		slog.Warn("could not restrict token directory permissions", "dir", dir, "error", err)
	}

	o := applyOptions(opts)
	return &FileStore{
		dir:   dir,
		codec: codec,
		now:   o.now,
	}, nil
}

// Path returns the record file for identity.
func (f *FileStore) Path(identity string) string {
	return filepath.Join(f.dir, FileName(identity))
}

// Load returns the decrypted record for identity, or nil if none is usable.
func (f *FileStore) Load(ctx context.Context, identity string) (*credential.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	path := f.Path(identity)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.DebugContext(ctx, "no stored credentials", "identity", identity)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", credential.ErrTokenStorage, err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		slog.WarnContext(ctx, "token file is accessible by other users", "path", path, "mode", fmt.Sprintf("%04o", perm))
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", credential.ErrTokenStorage, err)
	}
	return openBlob(ctx, f.codec, identity, blob), nil
}

// Save encrypts the record and atomically replaces the identity's file.
func (f *FileStore) Save(ctx context.Context, identity string, record *credential.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateIdentity(identity); err != nil {
		return err
	}

	stamped := record.Clone()
	if stamped != nil {
		stamped.SavedAt = f.now().UTC()
	}
	blob, err := f.codec.Seal(stamped)
	if err != nil {
		return fmt.Errorf("%w: encrypting credentials: %v", credential.ErrTokenStorage, err)
	}

	if err := f.writeAtomic(ctx, f.Path(identity), blob); err != nil {
		return fmt.Errorf("%w: %v", credential.ErrTokenStorage, err)
	}

	record.SavedAt = stamped.SavedAt
	slog.InfoContext(ctx, "credentials saved", "identity", identity, "record", stamped)
	return nil
}

func (f *FileStore) writeAtomic(ctx context.Context, path string, data []byte) error {
	// Create temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(f.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths; after a successful rename Remove is a no-op
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// Best effort: some filesystems do not support POSIX modes
	if err := os.Chmod(tempName, 0600); err != nil {
		slog.WarnContext(ctx, "could not set token file permissions", "path", tempName, "error", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if f.beforeRename != nil {
		if err := f.beforeRename(tempName); err != nil {
			return err
		}
	}

	return os.Rename(tempName, path)
}

// Clear removes the identity's record file. A missing file is not an error.
func (f *FileStore) Clear(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateIdentity(identity); err != nil {
		return err
	}

	if err := os.Remove(f.Path(identity)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing credentials: %v", credential.ErrTokenStorage, err)
	}
	slog.InfoContext(ctx, "credentials cleared", "identity", identity)
	return nil
}

// openBlob decrypts a stored blob. Undecryptable or invalid records are logged and
// reported as absent.
func openBlob(ctx context.Context, codec *credcodec.Codec, identity string, blob []byte) *credential.TokenRecord {
	if len(blob) == 0 {
		slog.ErrorContext(ctx, "stored credentials are empty", "identity", identity)
		return nil
	}
	record, err := codec.Open(blob)
	if err != nil {
		if errors.Is(err, credcodec.ErrDecryption) {
			slog.ErrorContext(ctx, "stored credentials could not be decrypted; re-authorization required", "identity", identity, "error", err)
		} else {
			slog.ErrorContext(ctx, "stored credentials are malformed; re-authorization required", "identity", identity, "error", err)
		}
		return nil
	}
	return record
}

func validateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	return nil
}
