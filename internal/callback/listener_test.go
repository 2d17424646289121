package callback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

func startListener(t *testing.T, opts ...Option) *Listener {
	t.Helper()
	l := New("127.0.0.1:0", opts...)
	if _, err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Shutdown(context.Background()) })
	return l
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestCallbackDeliversCode(t *testing.T) {
	l := startListener(t, WithExpectedState("s1"))

	status, body := get(t, l.RedirectURL()+"?code=abc&state=s1")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(body, "Authorization successful") {
		t.Errorf("unexpected page: %s", body)
	}

	result, err := l.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.Code != "abc" || result.State != "s1" || result.Err() != nil {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestCallbackDeliversProviderError(t *testing.T) {
	l := startListener(t)

	status, _ := get(t, l.RedirectURL()+"?error=access_denied&error_description=user+said+no")
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}

	result, err := l.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !errors.Is(result.Err(), credential.ErrAuthorization) {
		t.Errorf("Err() = %v", result.Err())
	}
	if !strings.Contains(result.Err().Error(), "user said no") {
		t.Errorf("description missing: %v", result.Err())
	}
}

func TestCallbackIgnoresStrayRequests(t *testing.T) {
	l := startListener(t, WithExpectedState("s1"), WithTimeout(5*time.Second))

	for _, query := range []string{"", "?foo=bar", "?code=abc&state=wrong", "?code=abc"} {
		if status, _ := get(t, l.RedirectURL()+query); status != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want 400", query, status)
		}
	}

	resp, err := http.Post(l.RedirectURL()+"?code=abc&state=s1", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST: status = %d, want 400", resp.StatusCode)
	}
	redirect, err := url.Parse(l.RedirectURL())
	if err != nil {
		t.Fatalf("parse redirect URL: %v", err)
	}
	if status, _ := get(t, redirect.Scheme+"://"+redirect.Host+"/favicon.ico"); status != http.StatusBadRequest {
		t.Errorf("favicon: status = %d, want 400", status)
	}

	// Still listening: the real callback is accepted afterwards.
	if status, _ := get(t, l.RedirectURL()+"?code=real&state=s1"); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	result, err := l.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.Code != "real" {
		t.Errorf("code = %q", result.Code)
	}
}

func TestWaitTimeout(t *testing.T) {
	l := startListener(t, WithTimeout(50*time.Millisecond))

	if _, err := l.Wait(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	l := startListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartPortInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = occupied.Close() }()

	l := New(occupied.Addr().String())
	if _, err := l.Start(context.Background()); err == nil {
		_ = l.Shutdown(context.Background())
		t.Fatal("expected error when port is in use")
	}
}

func TestServerStopsAfterOutcome(t *testing.T) {
	l := startListener(t)
	get(t, l.RedirectURL()+"?code=abc")
	if _, err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(l.RedirectURL() + "?code=again")
		if err != nil {
			return
		}
		_ = resp.Body.Close()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("listener still serving after outcome was delivered")
}

func TestRequestLogOmitsQuery(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	l := New("127.0.0.1:0", WithLogger(logger))

	rec := httptest.NewRecorder()
	l.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?code=supersecret&state=x", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(logs.String(), "supersecret") {
		t.Errorf("authorization code leaked into logs: %s", logs.String())
	}
}

func TestRedirectURL(t *testing.T) {
	l := New("127.0.0.1:5000", WithPath("/callback"))
	if got := l.RedirectURL(); got != "http://localhost:5000/callback" {
		t.Errorf("RedirectURL() = %q", got)
	}
}
