package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/AMathur20/rss-to-kobo/internal/authflow"
	"github.com/AMathur20/rss-to-kobo/internal/callback"
	"github.com/AMathur20/rss-to-kobo/internal/credential"
	"github.com/AMathur20/rss-to-kobo/internal/dropbox"
	"github.com/AMathur20/rss-to-kobo/internal/tokensource"
	"github.com/AMathur20/rss-to-kobo/internal/tokenstore"
)

// uploadTimeout bounds a whole upload, including upload sessions.
const uploadTimeout = 30 * time.Minute

// Option configures an App.
type Option func(*App)

// WithTokenStore replaces the store built from configuration.
func WithTokenStore(store tokenstore.Store) Option {
	return func(a *App) {
		a.store = store
	}
}

// WithBrowser replaces the function that opens the authorization URL.
func WithBrowser(open func(url string) error) Option {
	return func(a *App) {
		a.openBrowser = open
	}
}

// WithPrompt sets where messages for the user are written and where a pasted
// authorization code is read from.
func WithPrompt(out io.Writer, in io.Reader) Option {
	return func(a *App) {
		a.out = out
		a.in = in
	}
}

// WithUserAgent sets the User-Agent for outgoing requests.
func WithUserAgent(userAgent string) Option {
	return func(a *App) {
		a.userAgent = userAgent
	}
}

// App wires configuration, credential storage and the Dropbox client together and
// implements the CLI operations.
type App struct {
	cfg         *Config
	store       tokenstore.Store
	openBrowser func(url string) error
	out         io.Writer
	in          io.Reader
	userAgent   string
}

// New creates a new App instance.
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{
		cfg:         cfg,
		openBrowser: openSystemBrowser,
		out:         os.Stderr,
		in:          os.Stdin,
		userAgent:   tokensource.DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		store, err := cfg.NewTokenStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create token store: %w", err)
		}
		a.store = store
	}

	return a, nil
}

func (a *App) httpClient() *http.Client {
	return &http.Client{
		Timeout:   tokensource.DefaultTimeout,
		Transport: tokensource.NewTransport(nil, a.userAgent),
	}
}

func (a *App) dropboxClient(opts ...dropbox.Option) *dropbox.Client {
	base := []dropbox.Option{
		dropbox.WithAPIBaseURL(a.cfg.Dropbox.APIBaseURL),
		dropbox.WithContentBaseURL(a.cfg.Dropbox.ContentBaseURL),
	}
	return dropbox.New(append(base, opts...)...)
}

// lifecycle builds the token lifecycle. It needs the app credentials because a
// refresh may be required.
func (a *App) lifecycle() (*tokensource.Lifecycle, error) {
	if err := a.cfg.RequireAppCredentials(); err != nil {
		return nil, err
	}
	return tokensource.New(a.cfg.NewOAuthConfig(), a.store,
		tokensource.WithHTTPClient(a.httpClient()),
		tokensource.WithExpiryBuffer(a.cfg.OAuth.ExpiryBuffer),
		tokensource.WithAccountChecker(a.dropboxClient(dropbox.WithHTTPClient(a.httpClient()))),
	)
}

// Login runs the authorization flow for identity. With manual set, no callback
// listener is started: the user opens the URL and pastes the displayed code.
func (a *App) Login(ctx context.Context, identity string, manual bool) (*credential.TokenRecord, error) {
	if err := a.cfg.RequireAppCredentials(); err != nil {
		return nil, err
	}
	if a.cfg.Storage.Backend == TokenStorageTypeEnv {
		return nil, fmt.Errorf("%w: login requires writable storage, env is read-only", credential.ErrConfiguration)
	}

	if manual {
		return a.loginManual(ctx, identity)
	}
	return a.loginWithCallback(ctx, identity)
}

func (a *App) loginWithCallback(ctx context.Context, identity string) (*credential.TokenRecord, error) {
	listener := callback.New(a.cfg.RedirectAddress(),
		callback.WithPath(a.cfg.OAuth.RedirectPath),
		callback.WithTimeout(a.cfg.OAuth.CallbackTimeout),
	)
	if _, err := listener.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: callback listener: %w", credential.ErrAuthorization, err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
		defer cancel()
		if err := listener.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(ctx, "callback listener shutdown failed", "error", err)
		}
	}()

	flow, err := authflow.New(a.cfg.NewOAuthConfig(), a.store,
		authflow.WithHTTPClient(a.httpClient()),
		authflow.WithRedirectURL(listener.RedirectURL()),
	)
	if err != nil {
		return nil, err
	}
	authURL, err := flow.Start(identity)
	if err != nil {
		return nil, err
	}
	listener.ExpectState(flow.State())

	g, gCtx := errgroup.WithContext(ctx)
	var result callback.Result
	g.Go(func() error {
		r, err := listener.Wait(gCtx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	g.Go(func() error {
		_, _ = fmt.Fprintf(a.out, "Opening your browser to authorize rss-to-kobo.\nIf it does not open, visit:\n\n  %s\n\n", authURL)
		if err := a.openBrowser(authURL); err != nil {
			slog.WarnContext(gCtx, "could not open browser", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		flow.Fail(err)
		return nil, fmt.Errorf("%w: waiting for authorization: %w", credential.ErrAuthorization, err)
	}
	if err := result.Err(); err != nil {
		flow.Fail(err)
		return nil, err
	}

	return flow.Finish(ctx, identity, result.Code)
}

func (a *App) loginManual(ctx context.Context, identity string) (*credential.TokenRecord, error) {
	flow, err := authflow.New(a.cfg.NewOAuthConfig(), a.store, authflow.WithHTTPClient(a.httpClient()))
	if err != nil {
		return nil, err
	}
	authURL, err := flow.Start(identity)
	if err != nil {
		return nil, err
	}

	_, _ = fmt.Fprintf(a.out, "1. Visit:\n\n  %s\n\n2. Click \"Allow\" (you might have to log in first).\n3. Copy the authorization code.\nEnter the authorization code here: ", authURL)

	code, err := readLine(ctx, a.in)
	if err != nil {
		flow.Fail(err)
		return nil, fmt.Errorf("%w: reading authorization code: %w", credential.ErrAuthorization, err)
	}
	return flow.Finish(ctx, identity, code)
}

// readLine reads one trimmed line, giving up when ctx is done.
func readLine(ctx context.Context, r io.Reader) (string, error) {
	type line struct {
		text string
		err  error
	}
	ch := make(chan line, 1)
	go func() {
		text, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && text != "") {
			ch <- line{err: err}
			return
		}
		ch <- line{text: strings.TrimSpace(text)}
	}()

	select {
	case l := <-ch:
		return l.text, l.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Logout removes stored credentials for identity.
func (a *App) Logout(ctx context.Context, identity string) error {
	if err := a.store.Clear(ctx, identity); err != nil {
		return fmt.Errorf("removing credentials: %w", err)
	}
	slog.InfoContext(ctx, "logged out", "identity", identity)
	return nil
}

// Status summarises stored credentials for an identity.
type Status struct {
	Identity      string
	Stored        bool
	Authenticated bool
	CanRefresh    bool
	AccountID     string
	ExpiresAt     *time.Time
	SavedAt       time.Time
}

// Status reports whether identity has stored credentials and whether Dropbox still
// accepts them.
func (a *App) Status(ctx context.Context, identity string) (*Status, error) {
	record, err := a.store.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	status := &Status{Identity: identity}
	if record == nil {
		return status, nil
	}
	status.Stored = true
	status.CanRefresh = record.CanRefresh()
	status.AccountID = record.AccountID
	status.ExpiresAt = record.ExpiresAt
	status.SavedAt = record.SavedAt

	lc, err := a.lifecycle()
	if err != nil {
		return nil, err
	}
	status.Authenticated = lc.IsAuthenticated(ctx, identity)
	return status, nil
}

// AccessToken returns a usable access token for identity.
func (a *App) AccessToken(ctx context.Context, identity string) (string, error) {
	lc, err := a.lifecycle()
	if err != nil {
		return "", err
	}
	return lc.AccessToken(ctx, identity)
}

// TokenSource returns an oauth2.TokenSource backed by identity's stored credentials.
func (a *App) TokenSource(ctx context.Context, identity string) (oauth2.TokenSource, error) {
	lc, err := a.lifecycle()
	if err != nil {
		return nil, err
	}
	return NewPersistentTokenSource(ctx, lc, identity)
}

// Upload sends a local file to targetDir (the configured directory when empty) in
// identity's Dropbox.
func (a *App) Upload(ctx context.Context, identity, localPath, targetDir string) (*dropbox.FileMetadata, error) {
	ts, err := a.TokenSource(ctx, identity)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", localPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", localPath)
	}

	if targetDir == "" {
		targetDir = a.cfg.Dropbox.TargetDir
	}
	remote := path.Join("/", targetDir, filepath.Base(localPath))

	client := a.dropboxClient(dropbox.WithHTTPClient(&http.Client{
		Timeout:   uploadTimeout,
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   tokensource.NewTransport(nil, a.userAgent),
		},
	}))

	slog.InfoContext(ctx, "uploading", "identity", identity, "file", localPath, "target", remote, "bytes", info.Size())
	return client.Upload(ctx, f, info.Size(), remote)
}

// openSystemBrowser opens url in the user's default browser.
func openSystemBrowser(url string) error {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return browser.OpenURL(url)
}
