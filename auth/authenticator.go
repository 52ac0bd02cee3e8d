package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/simplegithub/simplegithub/tokenstore"
)

// DefaultExpiryMargin is subtracted from a credential's expiry when deciding
// whether it is still usable, so a request does not go out with a token that
// dies while in flight.
const DefaultExpiryMargin = time.Minute

// Authenticator caches the credential produced by a TokenSource and
// refreshes it when absent or within the expiry margin. At most one refresh
// is in flight per instance: concurrent callers block on the refresh and all
// observe the fresh credential before issuing their requests. A failed or
// cancelled refresh leaves the cached state untouched and propagates the
// error to the caller that triggered it. The Authenticator never retries.
//
// Authenticator itself implements TokenSource.
type Authenticator struct {
	src    TokenSource
	margin time.Duration
	store  tokenstore.Store
	key    string
	log    *slog.Logger

	mu  sync.Mutex
	tok *oauth2.Token

	now func() time.Time
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithExpiryMargin overrides DefaultExpiryMargin.
func WithExpiryMargin(margin time.Duration) AuthenticatorOption {
	return func(a *Authenticator) {
		if margin > 0 {
			a.margin = margin
		}
	}
}

// WithStore persists credentials under key so separate processes share them.
// The store is consulted before fetching and written through after a fetch.
// Store failures are treated as cache misses; the source stays authoritative.
func WithStore(store tokenstore.Store, key string) AuthenticatorOption {
	return func(a *Authenticator) {
		a.store = store
		a.key = key
	}
}

// WithLogger sets the logger for refresh events. Defaults to slog.Default().
func WithLogger(log *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if log != nil {
			a.log = log
		}
	}
}

// NewAuthenticator wraps src with caching and transparent refresh.
func NewAuthenticator(src TokenSource, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		src:    src,
		margin: DefaultExpiryMargin,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Token returns a credential valid for at least the expiry margin,
// refreshing through the underlying source when needed.
func (a *Authenticator) Token(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.valid(a.tok) {
		return a.tok, nil
	}

	if a.store != nil {
		tok, err := a.store.Get(ctx, a.key)
		if err != nil {
			a.log.Debug("token store read failed",
				slog.String("key", a.key), slog.String("err", err.Error()))
		} else if a.valid(tok) {
			a.tok = tok
			return a.tok, nil
		}
	}

	tok, err := a.src.Token(ctx)
	if err != nil {
		return nil, err
	}
	a.tok = tok
	if a.store != nil {
		if err := a.store.Put(ctx, a.key, tok); err != nil {
			a.log.Debug("token store write failed",
				slog.String("key", a.key), slog.String("err", err.Error()))
		}
	}
	a.log.Debug("credential refreshed", slog.Time("expires", tok.Expiry))
	return a.tok, nil
}

// Invalidate drops the cached credential, and its stored copy when a store
// is configured, so the next Token call fetches a fresh one. Useful after
// GitHub rejects the current token.
func (a *Authenticator) Invalidate(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tok = nil
	if a.store != nil {
		if err := a.store.Delete(ctx, a.key); err != nil {
			a.log.Debug("token store delete failed",
				slog.String("key", a.key), slog.String("err", err.Error()))
		}
	}
}

// valid reports whether tok can still front requests for at least the
// margin. A zero expiry never goes stale.
func (a *Authenticator) valid(tok *oauth2.Token) bool {
	if tok == nil {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return a.now().Before(tok.Expiry.Add(-a.margin))
}

// Interface compliance
var _ TokenSource = (*Authenticator)(nil)
