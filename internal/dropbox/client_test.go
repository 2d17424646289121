package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCheckAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/users/get_current_account" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %q", r.Method)
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = io.WriteString(w, `{"account_id":"dbid:abc","email":"a@example.com","name":{"display_name":"Alice"}}`)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error_summary":"invalid_access_token/...","error":{".tag":"invalid_access_token"}}`)
		}
	}))
	defer srv.Close()

	client := New(WithAPIBaseURL(srv.URL))

	account, err := client.CheckAccount(context.Background(), "good")
	if err != nil {
		t.Fatalf("CheckAccount: %v", err)
	}
	if account.AccountID != "dbid:abc" || account.Name.DisplayName != "Alice" {
		t.Errorf("unexpected account %+v", account)
	}

	_, err = client.CheckAccount(context.Background(), "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || !strings.HasPrefix(apiErr.Summary, "invalid_access_token") {
		t.Errorf("unexpected api error %+v", apiErr)
	}

	if _, err := client.CheckAccount(context.Background(), ""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestUploadSmallFile(t *testing.T) {
	var gotArg map[string]any
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/files/upload" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &gotArg); err != nil {
			t.Errorf("bad Dropbox-API-Arg: %v", err)
		}
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"name":"book.epub","path_display":"/Apps/Rakuten Kobo/book.epub","size":5}`)
	}))
	defer srv.Close()

	client := New(WithContentBaseURL(srv.URL))
	meta, err := client.Upload(context.Background(), strings.NewReader("hello"), 5, "/Apps/Rakuten Kobo/book.epub")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if meta.PathDisplay != "/Apps/Rakuten Kobo/book.epub" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if string(gotBody) != "hello" {
		t.Errorf("body = %q", gotBody)
	}
	if gotArg["path"] != "/Apps/Rakuten Kobo/book.epub" || gotArg["mode"] != "overwrite" {
		t.Errorf("unexpected arg %v", gotArg)
	}
}

func TestUploadSession(t *testing.T) {
	var (
		mu       sync.Mutex
		calls    []string
		received bytes.Buffer
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.URL.Path)
		body, _ := io.ReadAll(r.Body)

		var arg struct {
			Cursor struct {
				SessionID string `json:"session_id"`
				Offset    int64  `json:"offset"`
			} `json:"cursor"`
		}
		_ = json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg)

		switch r.URL.Path {
		case "/2/files/upload_session/start":
			received.Write(body)
			_, _ = io.WriteString(w, `{"session_id":"sess-1"}`)
		case "/2/files/upload_session/append_v2":
			if arg.Cursor.SessionID != "sess-1" || arg.Cursor.Offset != int64(received.Len()) {
				t.Errorf("unexpected cursor %+v at %d", arg.Cursor, received.Len())
			}
			received.Write(body)
			_, _ = io.WriteString(w, `null`)
		case "/2/files/upload_session/finish":
			if arg.Cursor.Offset != int64(received.Len()) {
				t.Errorf("finish offset %d, want %d", arg.Cursor.Offset, received.Len())
			}
			received.Write(body)
			_, _ = io.WriteString(w, `{"name":"big.epub","path_display":"/big.epub","size":10}`)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := New(WithContentBaseURL(srv.URL), WithChunkSize(4))
	payload := "0123456789"
	if _, err := client.Upload(context.Background(), strings.NewReader(payload), int64(len(payload)), "/big.epub"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	want := []string{
		"/2/files/upload_session/start",
		"/2/files/upload_session/append_v2",
		"/2/files/upload_session/finish",
	}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if received.String() != payload {
		t.Errorf("received %q, want %q", received.String(), payload)
	}
}

func TestUploadShortSource(t *testing.T) {
	client := New(WithContentBaseURL("http://127.0.0.1:0"))
	if _, err := client.Upload(context.Background(), strings.NewReader("abc"), 10, "/x"); err == nil {
		t.Fatal("expected error for short source")
	}
}

func TestHeaderJSONEscapesNonASCII(t *testing.T) {
	got, err := headerJSON(map[string]string{"path": "/Büch 📚.epub"})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range got {
		if r > 0x7F {
			t.Fatalf("non-ASCII rune %q in %s", r, got)
		}
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(got), &decoded); err != nil {
		t.Fatalf("escaped header is not valid JSON: %v", err)
	}
	if decoded["path"] != "/Büch 📚.epub" {
		t.Errorf("round trip mismatch: %q", decoded["path"])
	}
}
