package tokenstore

import (
	"context"
	"errors"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

func TestKeyringStoreRoundTrip(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	store, err := NewKeyringStore("test-service", testCodec(t, 7))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := store.Load(ctx, "alice")
	if err != nil || got != nil {
		t.Fatalf("expected absent record, got %v, %v", got, err)
	}

	if err := store.Save(ctx, "alice", testRecord("kr-access")); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := keyring.Get("test-service", "alice")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if raw == "kr-access" {
		t.Error("token stored in keyring without encryption")
	}

	got, err = store.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || got.AccessToken != "kr-access" {
		t.Fatalf("unexpected record: %v", got)
	}
	if got.SavedAt.IsZero() {
		t.Error("SavedAt not stamped")
	}

	if err := store.Clear(ctx, "alice"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(ctx, "alice"); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestKeyringStoreForeignEntryIsAbsent(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	if err := keyring.Set("test-service", "alice", "!!not base64!!"); err != nil {
		t.Fatal(err)
	}
	store, err := NewKeyringStore("test-service", testCodec(t, 7))
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx, "alice")
	if err != nil || got != nil {
		t.Errorf("expected absent record, got %v, %v", got, err)
	}
}

func TestKeyringStoreBackendFailure(t *testing.T) {
	keyring.MockInitWithError(errors.New("secret service unavailable"))
	t.Cleanup(keyring.MockInit)

	store, err := NewKeyringStore("test-service", testCodec(t, 7))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), "alice", testRecord("a")); !errors.Is(err, credential.ErrTokenStorage) {
		t.Errorf("expected ErrTokenStorage, got %v", err)
	}
}

func TestNewKeyringStoreValidation(t *testing.T) {
	if _, err := NewKeyringStore("", testCodec(t, 1)); err == nil {
		t.Error("expected error for empty service")
	}
	if _, err := NewKeyringStore("svc", nil); err == nil {
		t.Error("expected error for nil codec")
	}
}
