package tokensource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
	"github.com/AMathur20/rss-to-kobo/internal/dropbox"
	"github.com/AMathur20/rss-to-kobo/internal/tokenstore"
)

const (
	// DefaultExpiryBuffer is how long before ExpiresAt a token is treated as expired.
	DefaultExpiryBuffer = 300 * time.Second

	// DefaultTimeout bounds each token or account request.
	DefaultTimeout = 30 * time.Second
)

// AccountChecker performs a lightweight authenticated call with an access token.
type AccountChecker interface {
	CheckAccount(ctx context.Context, accessToken string) (*dropbox.Account, error)
}

// Compile-time check to ensure the Dropbox client satisfies AccountChecker.
var _ AccountChecker = (*dropbox.Client)(nil)

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithHTTPClient sets the client used for token refresh requests. The client is
// used as is; no User-Agent transport is added.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Lifecycle) {
		l.httpClient = client
	}
}

// WithClock overrides time.Now for expiry decisions and timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// WithExpiryBuffer overrides DefaultExpiryBuffer.
func WithExpiryBuffer(d time.Duration) Option {
	return func(l *Lifecycle) {
		if d >= 0 {
			l.expiryBuffer = d
		}
	}
}

// WithAccountChecker sets the checker used by IsAuthenticated.
func WithAccountChecker(checker AccountChecker) Option {
	return func(l *Lifecycle) {
		l.checker = checker
	}
}

// WithUserAgent sets the User-Agent of the default HTTP client.
func WithUserAgent(userAgent string) Option {
	return func(l *Lifecycle) {
		l.userAgent = userAgent
	}
}

// Lifecycle decides when credentials need refreshing, refreshes and persists them,
// and exposes usable access tokens.
type Lifecycle struct {
	oauth        *oauth2.Config
	store        tokenstore.Store
	httpClient   *http.Client
	checker      AccountChecker
	now          func() time.Time
	expiryBuffer time.Duration
	userAgent    string

	group singleflight.Group
}

// New creates a Lifecycle for the given OAuth configuration and store.
func New(cfg *oauth2.Config, store tokenstore.Store, opts ...Option) (*Lifecycle, error) {
	if cfg == nil || cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: app key is required", credential.ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: token store is required", credential.ErrConfiguration)
	}

	l := &Lifecycle{
		oauth:        cfg,
		store:        store,
		now:          time.Now,
		expiryBuffer: DefaultExpiryBuffer,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.httpClient == nil {
		l.httpClient = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: NewTransport(nil, l.userAgent),
		}
	}
	return l, nil
}

// Expired reports whether record must be refreshed before use. Records without an
// expiry never expire.
func (l *Lifecycle) Expired(record *credential.TokenRecord) bool {
	if record == nil || record.ExpiresAt == nil {
		return false
	}
	return !l.now().Before(record.ExpiresAt.Add(-l.expiryBuffer))
}

// GetValidToken returns a usable record for identity, refreshing it if needed.
// It returns nil without error when nothing usable is stored and no refresh is
// possible. Concurrent calls for the same identity share one refresh, which runs
// detached from any single caller's cancellation and is bounded by DefaultTimeout.
func (l *Lifecycle) GetValidToken(ctx context.Context, identity string) (*credential.TokenRecord, error) {
	ch := l.group.DoChan(identity, func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
		defer cancel()
		return l.getValidToken(sharedCtx, identity)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for credentials of %q: %w", identity, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.DebugContext(ctx, "shared token lookup", "identity", identity)
		}
		record, _ := res.Val.(*credential.TokenRecord)
		return record.Clone(), nil
	}
}

func (l *Lifecycle) getValidToken(ctx context.Context, identity string) (*credential.TokenRecord, error) {
	record, err := l.store.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if record == nil {
		slog.DebugContext(ctx, "no stored credentials", "identity", identity)
		return nil, nil
	}
	if !l.Expired(record) {
		return record, nil
	}
	if !record.CanRefresh() {
		slog.InfoContext(ctx, "stored token expired and cannot be refreshed", "identity", identity)
		return nil, nil
	}

	slog.InfoContext(ctx, "access token expired, refreshing", "identity", identity)
	return l.Refresh(ctx, identity, record)
}

// Refresh exchanges the refresh token in current for a new access token and
// persists the result. Failures at the token endpoint wrap
// credential.ErrTokenRefresh; persistence failures wrap credential.ErrTokenStorage.
func (l *Lifecycle) Refresh(ctx context.Context, identity string, current *credential.TokenRecord) (*credential.TokenRecord, error) {
	if !current.CanRefresh() {
		return nil, fmt.Errorf("%w: no refresh token stored for %q", credential.ErrTokenRefresh, identity)
	}

	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, l.httpClient)
	tok, err := l.oauth.TokenSource(oauthCtx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		slog.ErrorContext(ctx, "token refresh failed", "identity", identity, "error", DescribeError(err))
		return nil, fmt.Errorf("%w: %s", credential.ErrTokenRefresh, DescribeError(err))
	}

	next := RecordFromToken(tok, l.now())
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	next.CreatedAt = current.CreatedAt
	if next.AccountID == "" {
		next.AccountID = current.AccountID
	}
	if next.UserID == "" {
		next.UserID = current.UserID
	}

	if err := l.store.Save(ctx, identity, next); err != nil {
		slog.ErrorContext(ctx, "persisting credentials failed", "identity", identity, "error", err)
		if !errors.Is(err, credential.ErrTokenStorage) {
			err = fmt.Errorf("%w: %w", credential.ErrTokenStorage, err)
		}
		return nil, fmt.Errorf("persisting refreshed credentials: %w", err)
	}

	slog.InfoContext(ctx, "access token refreshed", "identity", identity, "expires_at", next.ExpiresAt)
	return next, nil
}

// IsAuthenticated reports whether identity has usable credentials that the
// provider still accepts. Any failure yields false.
func (l *Lifecycle) IsAuthenticated(ctx context.Context, identity string) bool {
	record, err := l.GetValidToken(ctx, identity)
	if err != nil {
		slog.WarnContext(ctx, "authentication check failed", "identity", identity, "error", err)
		return false
	}
	if record == nil {
		return false
	}
	if l.checker == nil {
		return true
	}
	if _, err := l.checker.CheckAccount(ctx, record.AccessToken); err != nil {
		slog.WarnContext(ctx, "stored credentials rejected", "identity", identity, "error", err)
		return false
	}
	return true
}

// AccessToken returns an access token ready for API calls. It fails with
// credential.ErrAuthentication when the user has to log in again.
func (l *Lifecycle) AccessToken(ctx context.Context, identity string) (string, error) {
	record, err := l.GetValidToken(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("%w: %w", credential.ErrAuthentication, err)
	}
	if record == nil {
		return "", fmt.Errorf("%w: no valid credentials for %q, run `rsskobo login %s`",
			credential.ErrAuthentication, identity, identity)
	}
	return record.AccessToken, nil
}

// RecordFromToken converts a token endpoint response into a record stamped at now.
func RecordFromToken(tok *oauth2.Token, now time.Time) *credential.TokenRecord {
	now = now.UTC()
	record := &credential.TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		AccountID:    extraString(tok, "account_id"),
		UserID:       extraString(tok, "uid"),
		CreatedAt:    now,
	}
	switch {
	case tok.ExpiresIn > 0:
		exp := now.Add(time.Duration(tok.ExpiresIn) * time.Second)
		record.ExpiresAt = &exp
	case !tok.Expiry.IsZero():
		exp := tok.Expiry.UTC()
		record.ExpiresAt = &exp
	}
	record.Normalize()
	return record
}

func extraString(tok *oauth2.Token, key string) string {
	switch v := tok.Extra(key).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// DescribeError flattens token endpoint errors into text so that provider error
// types never escape this package or its callers.
func DescribeError(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		switch {
		case re.ErrorCode != "" && re.ErrorDescription != "":
			return fmt.Sprintf("%s: %s (HTTP %d)", re.ErrorCode, re.ErrorDescription, status)
		case re.ErrorCode != "":
			return fmt.Sprintf("%s (HTTP %d)", re.ErrorCode, status)
		default:
			return fmt.Sprintf("token endpoint returned HTTP %d", status)
		}
	}
	return err.Error()
}
