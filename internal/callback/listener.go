package callback

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

const (
	// DefaultTimeout is how long Wait blocks for the browser redirect.
	DefaultTimeout = 300 * time.Second

	// DefaultPath is the redirect path registered with the provider.
	DefaultPath = "/"
)

// ErrTimeout is returned by Wait when no callback arrived in time.
var ErrTimeout = errors.New("timed out waiting for authorization callback")

// Result is the outcome carried by the redirect.
type Result struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Err converts a provider-reported error into credential.ErrAuthorization.
func (r Result) Err() error {
	if r.Error == "" {
		return nil
	}
	if r.ErrorDescription != "" {
		return fmt.Errorf("%w: %s: %s", credential.ErrAuthorization, r.Error, r.ErrorDescription)
	}
	return fmt.Errorf("%w: %s", credential.ErrAuthorization, r.Error)
}

// Option configures a Listener.
type Option func(*Listener)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithPath overrides DefaultPath.
func WithPath(path string) Option {
	return func(l *Listener) {
		if path != "" {
			l.path = path
		}
	}
}

// WithExpectedState sets the state value a callback must carry.
func WithExpectedState(state string) Option {
	return func(l *Listener) {
		l.state = state
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// Listener receives a single authorization redirect on a loopback address.
type Listener struct {
	addr    string
	path    string
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	state string

	routes  http.Handler
	server  *http.Server
	bound   net.Addr
	errCh   <-chan error
	results chan Result
	once    sync.Once
}

// Compile-time check that Listener implements http.Handler
var _ http.Handler = (*Listener)(nil)

// New creates a Listener for addr (host:port; port 0 picks a free port).
func New(addr string, opts ...Option) *Listener {
	l := &Listener{
		addr:    addr,
		path:    DefaultPath,
		timeout: DefaultTimeout,
		results: make(chan Result, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.routes = l.newRoutes()
	return l
}

// ExpectState sets the state value a callback must carry. It may be called after
// Start, once the authorization URL has been built.
func (l *Listener) ExpectState(state string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
}

func (l *Listener) expectedState() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ServeHTTP implements http.Handler interface
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.routes.ServeHTTP(w, r)
}

func (l *Listener) newRoutes() http.Handler {
	pattern := "GET " + l.path
	if l.path == "/" {
		pattern = "GET /{$}"
	}
	mux := http.NewServeMux()
	mux.Handle(pattern, applyMiddlewares(http.HandlerFunc(l.handleCallback),
		Logging(l.logger),
		Recovery,
	))
	// Anything else is a stray request; the listener keeps waiting.
	mux.Handle("/", applyMiddlewares(http.HandlerFunc(handleStray),
		Logging(l.logger),
		Recovery,
	))
	return HideQuery(mux)
}

func handleStray(w http.ResponseWriter, r *http.Request) {
	slog.DebugContext(r.Context(), "ignoring stray request", "method", r.Method, "path", r.URL.Path)
	renderPage(w, http.StatusBadRequest, "Authorization failed", "No authorization code received.")
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := Query(r)
	result := Result{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	if want := l.expectedState(); want != "" && result.State != want {
		slog.WarnContext(r.Context(), "ignoring callback with unexpected state")
		renderPage(w, http.StatusBadRequest, "Authorization failed", "The request did not match the pending login.")
		return
	}

	switch {
	case result.Code != "":
		renderPage(w, http.StatusOK, "Authorization successful", "You can close this window and return to the terminal.")
	case result.Error != "":
		message := result.Error
		if result.ErrorDescription != "" {
			message += ": " + result.ErrorDescription
		}
		renderPage(w, http.StatusBadRequest, "Authorization failed", message)
	default:
		renderPage(w, http.StatusBadRequest, "Authorization failed", "No authorization code received.")
		return
	}

	l.deliver(result)
}

// deliver hands the first outcome to Wait and stops the server in the background.
func (l *Listener) deliver(result Result) {
	l.once.Do(func() {
		l.results <- result
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.Shutdown(ctx); err != nil {
				slog.Warn("callback listener shutdown failed", "error", err)
			}
		}()
	})
}

// Start binds the listener synchronously and serves in the background.
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors are sent to the returned channel.
func (l *Listener) Start(ctx context.Context) (<-chan error, error) {
	listener, err := net.Listen("tcp", l.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}
	l.bound = listener.Addr()

	l.server = &http.Server{
		Handler:           l.routes,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		err := l.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	l.errCh = errCh

	slog.DebugContext(ctx, "callback listener started", "address", l.bound.String())
	return errCh, nil
}

// RedirectURL is the URL to register as the OAuth2 redirect. Only valid after Start.
func (l *Listener) RedirectURL() string {
	port := ""
	if tcp, ok := l.bound.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	} else if _, p, err := net.SplitHostPort(l.addr); err == nil {
		port = p
	}
	return "http://localhost:" + port + l.path
}

// Wait blocks until a callback outcome arrives, the timeout elapses (ErrTimeout),
// the server fails or ctx is done.
func (l *Listener) Wait(ctx context.Context) (Result, error) {
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case result := <-l.results:
		return result, nil
	case err, ok := <-l.errCh:
		if ok && err != nil {
			return Result{}, fmt.Errorf("callback listener failed: %w", err)
		}
		// Server stopped; an outcome may still be buffered.
		select {
		case result := <-l.results:
			return result, nil
		default:
			return Result{}, fmt.Errorf("callback listener stopped before a callback arrived")
		}
	case <-timer.C:
		return Result{}, ErrTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (l *Listener) Shutdown(ctx context.Context) error {
	if l.server == nil {
		return nil
	}

	if err := l.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = l.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>{{.Message}}</p></body></html>
`))

func renderPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = page.Execute(w, struct{ Title, Message string }{title, message})
}
