// Package authflow drives the one-time OAuth2 authorization code grant that turns a
// user's consent into a stored credential.
package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
	"github.com/AMathur20/rss-to-kobo/internal/tokensource"
	"github.com/AMathur20/rss-to-kobo/internal/tokenstore"
)

// Phase is the position of a Flow in its state machine.
type Phase int

const (
	Idle Phase = iota
	AwaitingAuthorization
	Authorized
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingAuthorization:
		return "awaiting_authorization"
	case Authorized:
		return "authorized"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Option configures a Flow.
type Option func(*Flow)

// WithHTTPClient sets the client used for the code exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Flow) {
		f.httpClient = client
	}
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		f.now = now
	}
}

// WithRedirectURL sets the redirect URL sent with the authorization request and
// the exchange. Without one the provider displays the code for manual entry.
func WithRedirectURL(redirectURL string) Option {
	return func(f *Flow) {
		f.redirectURL = redirectURL
	}
}

// Flow is a single authorization attempt: Start, then Finish with the code the
// provider returned. A Flow ends in Authorized or Failed; Start begins a new attempt.
type Flow struct {
	oauth       oauth2.Config
	store       tokenstore.Store
	httpClient  *http.Client
	now         func() time.Time
	redirectURL string

	mu       sync.Mutex
	phase    Phase
	identity string
	state    string
	verifier string
}

// New creates a Flow for the OAuth configuration and store.
func New(cfg *oauth2.Config, store tokenstore.Store, opts ...Option) (*Flow, error) {
	if cfg == nil || cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: app key is required", credential.ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: token store is required", credential.ErrConfiguration)
	}

	f := &Flow{
		oauth: *cfg,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.oauth.RedirectURL = f.redirectURL
	if f.httpClient == nil {
		f.httpClient = &http.Client{
			Timeout:   tokensource.DefaultTimeout,
			Transport: tokensource.NewTransport(nil, ""),
		}
	}
	return f, nil
}

// Start begins an authorization attempt for identity and returns the URL the user
// must open.
func (f *Flow) Start(identity string) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("%w: identity cannot be empty", credential.ErrAuthorization)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.identity = identity
	f.state = uuid.NewString()
	f.verifier = oauth2.GenerateVerifier()
	f.phase = AwaitingAuthorization

	return f.oauth.AuthCodeURL(f.state,
		oauth2.S256ChallengeOption(f.verifier),
		oauth2.SetAuthURLParam("token_access_type", "offline"),
	), nil
}

// State returns the anti-forgery state of the current attempt.
func (f *Flow) State() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Phase returns the current phase.
func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Fail ends a pending attempt, e.g. after the callback reported an error or timed out.
func (f *Flow) Fail(reason error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase == AwaitingAuthorization {
		f.phase = Failed
		slog.Warn("authorization failed", "identity", f.identity, "error", reason)
	}
}

// Finish exchanges code for tokens, persists them for identity and verifies the
// stored copy. Exchange failures wrap credential.ErrAuthorization; persistence or
// verification failures wrap credential.ErrTokenStorage.
func (f *Flow) Finish(ctx context.Context, identity, code string) (*credential.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.phase != AwaitingAuthorization {
		return nil, fmt.Errorf("%w: no authorization in progress (phase %s)", credential.ErrAuthorization, f.phase)
	}
	if identity != f.identity {
		return nil, fmt.Errorf("%w: authorization was started for a different identity", credential.ErrAuthorization)
	}
	if code == "" {
		f.phase = Failed
		return nil, fmt.Errorf("%w: authorization code is empty", credential.ErrAuthorization)
	}

	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	tok, err := f.oauth.Exchange(oauthCtx, code, oauth2.VerifierOption(f.verifier))
	if err != nil {
		f.phase = Failed
		slog.ErrorContext(ctx, "code exchange failed", "identity", identity, "error", tokensource.DescribeError(err))
		return nil, fmt.Errorf("%w: code exchange failed: %s", credential.ErrAuthorization, tokensource.DescribeError(err))
	}

	record := tokensource.RecordFromToken(tok, f.now())
	if record.RefreshToken == "" {
		slog.WarnContext(ctx, "provider returned no refresh token, re-login will be needed when the access token expires",
			"identity", identity)
	}

	if err := f.persist(ctx, identity, record); err != nil {
		f.phase = Failed
		slog.ErrorContext(ctx, "persisting credentials failed", "identity", identity, "error", err)
		return nil, err
	}

	f.phase = Authorized
	slog.InfoContext(ctx, "authorization complete", "identity", identity, "account_id", record.AccountID)
	return record, nil
}

// persist saves the record and reads it back to confirm it round-trips.
func (f *Flow) persist(ctx context.Context, identity string, record *credential.TokenRecord) error {
	if err := f.store.Save(ctx, identity, record); err != nil {
		return fmt.Errorf("%w: saving credentials: %w", credential.ErrTokenStorage, err)
	}

	stored, err := f.store.Load(ctx, identity)
	if err != nil {
		return fmt.Errorf("%w: verifying saved credentials: %w", credential.ErrTokenStorage, err)
	}
	if stored == nil ||
		stored.AccessToken != record.AccessToken ||
		stored.RefreshToken != record.RefreshToken {
		return fmt.Errorf("%w: saved credentials could not be read back", credential.ErrTokenStorage)
	}
	return nil
}
