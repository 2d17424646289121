package tokenstore

import (
	"context"
	"errors"
	"testing"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

func TestEnvStore(t *testing.T) {
	ctx := context.Background()
	t.Setenv("TEST_DROPBOX_TOKEN", "  static-token \n")

	store, err := NewEnvStore("TEST_DROPBOX_TOKEN")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := store.Load(ctx, "anyone")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || got.AccessToken != "static-token" {
		t.Fatalf("unexpected record: %v", got)
	}
	if got.ExpiresAt != nil || got.CanRefresh() {
		t.Error("env record must be static and non-expiring")
	}

	if err := store.Save(ctx, "anyone", got); !errors.Is(err, credential.ErrTokenStorage) {
		t.Errorf("save: expected ErrTokenStorage, got %v", err)
	}
	if err := store.Clear(ctx, "anyone"); !errors.Is(err, credential.ErrTokenStorage) {
		t.Errorf("clear: expected ErrTokenStorage, got %v", err)
	}

	t.Setenv("TEST_DROPBOX_TOKEN", "")
	got, err = store.Load(ctx, "anyone")
	if err != nil || got != nil {
		t.Errorf("expected absent record for empty variable, got %v, %v", got, err)
	}
}

func TestNewEnvStoreRequiresKey(t *testing.T) {
	if _, err := NewEnvStore(""); err == nil {
		t.Error("expected error for empty key")
	}
}
