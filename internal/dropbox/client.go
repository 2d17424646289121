package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultAPIBaseURL     = "https://api.dropboxapi.com"
	DefaultContentBaseURL = "https://content.dropboxapi.com"

	// ChunkSize is the largest body sent in a single upload request.
	ChunkSize = 4 * 1024 * 1024

	maxErrorBody = 4096
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Its transport is expected to authenticate
// Upload requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithAPIBaseURL overrides the RPC endpoint host (used in tests).
func WithAPIBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.apiBaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithContentBaseURL overrides the content endpoint host (used in tests).
func WithContentBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.contentBaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithChunkSize overrides ChunkSize.
func WithChunkSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// Client talks to the Dropbox API.
type Client struct {
	httpClient     *http.Client
	apiBaseURL     string
	contentBaseURL string
	chunkSize      int
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: 5 * time.Minute},
		apiBaseURL:     DefaultAPIBaseURL,
		contentBaseURL: DefaultContentBaseURL,
		chunkSize:      ChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account is the subset of users/get_current_account the application uses.
type Account struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Name      struct {
		DisplayName string `json:"display_name"`
	} `json:"name"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Endpoint   string
	StatusCode int
	Summary    string
}

func (e *APIError) Error() string {
	if e.Summary == "" {
		return fmt.Sprintf("dropbox %s: HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("dropbox %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Summary)
}

// CheckAccount calls users/get_current_account with an explicit access token.
func (c *Client) CheckAccount(ctx context.Context, accessToken string) (*Account, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}
	header := http.Header{"Authorization": []string{"Bearer " + accessToken}}
	var account Account
	if err := c.rpc(ctx, "/2/users/get_current_account", header, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// rpc performs an argument-less RPC call and decodes the JSON result into out.
func (c *Client) rpc(ctx context.Context, endpoint string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return c.do(req, endpoint, out)
}

// content performs a content-upload style call: arguments in the Dropbox-API-Arg
// header, raw bytes in the body.
func (c *Client) content(ctx context.Context, endpoint string, arg any, body []byte, out any) error {
	argHeader, err := headerJSON(arg)
	if err != nil {
		return fmt.Errorf("encoding %s arguments: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentBaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Dropbox-API-Arg", argHeader)
	return c.do(req, endpoint, out)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dropbox %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(endpoint, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("dropbox %s: decoding response: %w", endpoint, err)
	}
	return nil
}

func newAPIError(endpoint string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode}

	var payload struct {
		ErrorSummary string `json:"error_summary"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.ErrorSummary != "" {
		apiErr.Summary = payload.ErrorSummary
	} else {
		apiErr.Summary = strings.TrimSpace(string(body))
	}
	return apiErr
}

// headerJSON marshals v for the Dropbox-API-Arg header. HTTP headers must be ASCII,
// so every non-ASCII rune is escaped as \uXXXX (surrogate pairs above the BMP).
func headerJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, r := range string(data) {
		switch {
		case r < utf8.RuneSelf:
			sb.WriteRune(r)
		case r > 0xFFFF:
			r -= 0x10000
			fmt.Fprintf(&sb, `\u%04x\u%04x`, 0xD800+(r>>10), 0xDC00+(r&0x3FF))
		default:
			fmt.Fprintf(&sb, `\u%04x`, r)
		}
	}
	return sb.String(), nil
}
