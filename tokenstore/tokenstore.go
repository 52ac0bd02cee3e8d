// Package tokenstore defines the pluggable cache used to share short-lived
// GitHub credentials, such as App installation tokens, across callers and
// processes.
package tokenstore

import (
	"context"

	"golang.org/x/oauth2"
)

// Store caches tokens by key. Implementations must be safe for concurrent
// use.
//
// Get returns (nil, nil) when no usable token is cached under key; errors are
// reserved for backend failures. Put replaces whatever is cached under key.
type Store interface {
	Get(ctx context.Context, key string) (*oauth2.Token, error)
	Put(ctx context.Context, key string, tok *oauth2.Token) error
	Delete(ctx context.Context, key string) error
}
