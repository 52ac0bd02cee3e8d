package auth

import (
	"context"

	"golang.org/x/oauth2"
)

// OAuth2TokenSource adapts src for libraries that accept a stock
// oauth2.TokenSource, such as generated API clients. The oauth2 interface has
// no per-call context, so ctx is captured here and carried into every fetch;
// use a context that outlives the consumer.
func OAuth2TokenSource(ctx context.Context, src TokenSource) oauth2.TokenSource {
	return oauth2Adapter{ctx: ctx, src: src}
}

type oauth2Adapter struct {
	ctx context.Context
	src TokenSource
}

func (a oauth2Adapter) Token() (*oauth2.Token, error) { return a.src.Token(a.ctx) }

// FromOAuth2TokenSource adapts a stock oauth2.TokenSource so it can feed an
// Authenticator or client here. The per-call context cannot be forwarded;
// fetches block until the underlying source returns.
func FromOAuth2TokenSource(ts oauth2.TokenSource) TokenSource {
	return SourceFunc(func(context.Context) (*oauth2.Token, error) { return ts.Token() })
}

// Interface compliance
var _ oauth2.TokenSource = oauth2Adapter{}
