package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/AMathur20/rss-to-kobo/internal/credential"
	"github.com/AMathur20/rss-to-kobo/internal/tokensource"
)

// PersistentTokenSource exposes one identity's stored credentials as an
// oauth2.TokenSource. Refreshes go through the lifecycle, which persists them.
type PersistentTokenSource struct {
	lifecycle *tokensource.Lifecycle
	identity  string
	ctx       context.Context

	current atomic.Pointer[credential.TokenRecord]
}

// Compile-time check to ensure PersistentTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*PersistentTokenSource)(nil)

// NewPersistentTokenSource creates a PersistentTokenSource.
// No I/O is performed until the first Token call.
func NewPersistentTokenSource(ctx context.Context, lifecycle *tokensource.Lifecycle, identity string) (*PersistentTokenSource, error) {
	if lifecycle == nil {
		return nil, fmt.Errorf("missing token lifecycle")
	}
	if identity == "" {
		return nil, fmt.Errorf("missing identity")
	}
	return &PersistentTokenSource{
		lifecycle: lifecycle,
		identity:  identity,
		// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
		ctx: context.WithoutCancel(ctx),
	}, nil
}

// Token returns a valid token, refreshing and persisting it when it is about to expire.
func (p *PersistentTokenSource) Token() (*oauth2.Token, error) {
	// Hot path: lock-free atomic read while the cached record is still fresh
	if cached := p.current.Load(); cached != nil && !p.lifecycle.Expired(cached) {
		return toOAuthToken(cached), nil
	}

	record, err := p.lifecycle.GetValidToken(p.ctx, p.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", credential.ErrAuthentication, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: no valid credentials for %q, run `rsskobo login %s`",
			credential.ErrAuthentication, p.identity, p.identity)
	}

	p.current.Store(record)
	return toOAuthToken(record), nil
}

func toOAuthToken(record *credential.TokenRecord) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: record.AccessToken,
		TokenType:   "Bearer",
	}
	if record.ExpiresAt != nil {
		tok.Expiry = *record.ExpiresAt
	}
	return tok
}
