package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

// fakeDropbox serves the token endpoint, the account check and uploads.
type fakeDropbox struct {
	t *testing.T

	mu       sync.Mutex
	uploads  map[string][]byte
	grants   []string
	bearers  []string
	denyCode bool
}

func (d *fakeDropbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/oauth2/token":
		_ = r.ParseForm()
		grant := r.PostForm.Get("grant_type")
		d.grants = append(d.grants, grant)
		switch {
		case grant == "authorization_code" && r.PostForm.Get("code") == "good-code" && !d.denyCode:
			_, _ = io.WriteString(w, `{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","expires_in":14400,"account_id":"dbid:alice","uid":"1"}`)
		case grant == "refresh_token" && r.PostForm.Get("refresh_token") == "rt-1":
			_, _ = io.WriteString(w, `{"access_token":"at-2","token_type":"bearer","expires_in":14400}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
		}
	case "/2/users/get_current_account":
		auth := r.Header.Get("Authorization")
		d.bearers = append(d.bearers, auth)
		if auth != "Bearer at-1" && auth != "Bearer at-2" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error_summary":"invalid_access_token/"}`)
			return
		}
		_, _ = io.WriteString(w, `{"account_id":"dbid:alice","name":{"display_name":"Alice"}}`)
	case "/2/files/upload":
		d.bearers = append(d.bearers, r.Header.Get("Authorization"))
		var arg struct {
			Path string `json:"path"`
		}
		_ = jsonUnmarshal(r.Header.Get("Dropbox-API-Arg"), &arg)
		body, _ := io.ReadAll(r.Body)
		d.uploads[arg.Path] = body
		_, _ = io.WriteString(w, `{"name":"x","path_display":"`+arg.Path+`"}`)
	default:
		d.t.Errorf("unexpected request %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Close() }()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

func newTestApp(t *testing.T, opts ...Option) (*App, *fakeDropbox) {
	t.Helper()
	t.Setenv("TOKEN_ENCRYPTION_KEY", "test-passphrase")

	fake := &fakeDropbox{t: t, uploads: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := &Config{
		OAuth: OAuthConfig{
			AppKey:          "app-key",
			AppSecret:       "app-secret",
			RedirectHost:    "127.0.0.1",
			RedirectPort:    freePort(t),
			CallbackTimeout: 5 * time.Second,
			AuthURL:         srv.URL + "/oauth2/authorize",
			TokenURL:        srv.URL + "/oauth2/token",
		},
		Storage: StorageConfig{Dir: t.TempDir()},
		Dropbox: DropboxConfig{APIBaseURL: srv.URL, ContentBaseURL: srv.URL},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}

	base := []Option{WithPrompt(io.Discard, strings.NewReader(""))}
	a, err := New(context.Background(), cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, fake
}

// redirectingBrowser plays the user's browser: it follows the authorization URL's
// redirect_uri with the given query.
func redirectingBrowser(t *testing.T, query func(state string) string) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		redirect, err := url.Parse(u.Query().Get("redirect_uri"))
		if err != nil {
			return err
		}
		redirect.Host = strings.Replace(redirect.Host, "localhost", "127.0.0.1", 1)
		redirect.RawQuery = query(u.Query().Get("state"))

		resp, err := http.Get(redirect.String())
		if err != nil {
			t.Errorf("browser: %v", err)
			return err
		}
		_ = resp.Body.Close()
		return nil
	}
}

func TestLoginWithCallback(t *testing.T) {
	a, fake := newTestApp(t, WithBrowser(redirectingBrowser(t, func(state string) string {
		return "code=good-code&state=" + url.QueryEscape(state)
	})))
	ctx := context.Background()

	record, err := a.Login(ctx, "alice", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if record.AccessToken != "at-1" || record.RefreshToken != "rt-1" {
		t.Errorf("unexpected record %v", record)
	}

	status, err := a.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Stored || !status.Authenticated || !status.CanRefresh || status.AccountID != "dbid:alice" {
		t.Errorf("unexpected status %+v", status)
	}
	if len(fake.grants) != 1 || fake.grants[0] != "authorization_code" {
		t.Errorf("grants = %v", fake.grants)
	}
}

func TestLoginDenied(t *testing.T) {
	a, _ := newTestApp(t, WithBrowser(redirectingBrowser(t, func(state string) string {
		return "error=access_denied&error_description=denied&state=" + url.QueryEscape(state)
	})))

	_, err := a.Login(context.Background(), "alice", false)
	if !errors.Is(err, credential.ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
	if record, _ := a.store.Load(context.Background(), "alice"); record != nil {
		t.Error("nothing should be stored after a denied login")
	}
}

func TestLoginTimeout(t *testing.T) {
	a, _ := newTestApp(t, WithBrowser(func(string) error { return nil }))
	a.cfg.OAuth.CallbackTimeout = 50 * time.Millisecond

	if _, err := a.Login(context.Background(), "alice", false); !errors.Is(err, credential.ErrAuthorization) {
		t.Fatalf("expected ErrAuthorization, got %v", err)
	}
}

func TestLoginManual(t *testing.T) {
	var out bytes.Buffer
	a, _ := newTestApp(t,
		WithBrowser(func(string) error {
			t.Error("browser must not be opened in manual mode")
			return nil
		}),
		WithPrompt(&out, strings.NewReader("  good-code \n")),
	)

	record, err := a.Login(context.Background(), "alice", true)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if record.AccessToken != "at-1" {
		t.Errorf("unexpected record %v", record)
	}
	if !strings.Contains(out.String(), "/oauth2/authorize?") {
		t.Errorf("authorization URL not shown: %s", out.String())
	}
	if strings.Contains(out.String(), "redirect_uri") {
		t.Error("manual mode must not send a redirect URI")
	}
}

func TestLoginRequiresConfiguration(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.OAuth.AppSecret = ""
	if _, err := a.Login(context.Background(), "alice", true); !errors.Is(err, credential.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	a, _ := newTestApp(t, WithPrompt(io.Discard, strings.NewReader("good-code\n")))
	ctx := context.Background()

	if _, err := a.Login(ctx, "alice", true); err != nil {
		t.Fatalf("Login: %v", err)
	}
	for range 2 {
		if err := a.Logout(ctx, "alice"); err != nil {
			t.Fatalf("Logout: %v", err)
		}
	}
	status, err := a.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Stored || status.Authenticated {
		t.Errorf("unexpected status after logout %+v", status)
	}
}

func TestUploadRefreshesExpiredToken(t *testing.T) {
	a, fake := newTestApp(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Minute)
	if err := a.store.Save(ctx, "alice", &credential.TokenRecord{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "bearer",
		ExpiresAt:    &expired,
	}); err != nil {
		t.Fatal(err)
	}

	local := filepath.Join(t.TempDir(), "digest.epub")
	if err := os.WriteFile(local, []byte("epub-bytes"), 0600); err != nil {
		t.Fatal(err)
	}

	meta, err := a.Upload(ctx, "alice", local, "")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if meta.PathDisplay != "/Apps/Rakuten Kobo/digest.epub" {
		t.Errorf("path = %q", meta.PathDisplay)
	}
	if got := string(fake.uploads["/Apps/Rakuten Kobo/digest.epub"]); got != "epub-bytes" {
		t.Errorf("uploaded %q", got)
	}
	if last := fake.bearers[len(fake.bearers)-1]; last != "Bearer at-2" {
		t.Errorf("upload used %q, want refreshed token", last)
	}

	stored, err := a.store.Load(ctx, "alice")
	if err != nil || stored == nil {
		t.Fatalf("Load: %v %v", stored, err)
	}
	if stored.AccessToken != "at-2" || stored.RefreshToken != "rt-1" {
		t.Errorf("refreshed record not persisted: %v", stored)
	}
}

func TestNotLoggedIn(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	if _, err := a.AccessToken(ctx, "nobody"); !errors.Is(err, credential.ErrAuthentication) {
		t.Errorf("AccessToken: expected ErrAuthentication, got %v", err)
	}

	local := filepath.Join(t.TempDir(), "x.epub")
	if err := os.WriteFile(local, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Upload(ctx, "nobody", local, "/Books"); !errors.Is(err, credential.ErrAuthentication) {
		t.Errorf("Upload: expected ErrAuthentication, got %v", err)
	}
}

func jsonUnmarshal(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
