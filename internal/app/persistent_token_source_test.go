package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

func TestPersistentTokenSource(t *testing.T) {
	a, fake := newTestApp(t)
	ctx := context.Background()

	valid := time.Now().Add(time.Hour)
	if err := a.store.Save(ctx, "alice", &credential.TokenRecord{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "bearer",
		ExpiresAt:    &valid,
	}); err != nil {
		t.Fatal(err)
	}

	ts, err := a.TokenSource(ctx, "alice")
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "at-1" || tok.Type() != "Bearer" || tok.RefreshToken != "" {
		t.Errorf("unexpected token %+v", tok)
	}

	// Cached while fresh: clearing the store does not affect the source.
	if err := a.store.Clear(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if tok, err := ts.Token(); err != nil || tok.AccessToken != "at-1" {
		t.Errorf("cached token: %v %v", tok, err)
	}
	if len(fake.grants) != 0 {
		t.Errorf("unexpected token requests %v", fake.grants)
	}
}

func TestPersistentTokenSourceWithoutCredentials(t *testing.T) {
	a, _ := newTestApp(t)

	ts, err := a.TokenSource(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	if _, err := ts.Token(); !errors.Is(err, credential.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}

	if _, err := NewPersistentTokenSource(context.Background(), nil, "alice"); err == nil {
		t.Error("expected error for missing lifecycle")
	}
}
