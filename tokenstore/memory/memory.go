// Package memory provides an in-process token store. It is suitable for
// single-instance programs and tests; use redisstore when several processes
// share one App installation.
package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/simplegithub/simplegithub/tokenstore"
)

// Store is an in-memory tokenstore.Store.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]oauth2.Token
}

// New creates an empty store.
func New() *Store {
	return &Store{tokens: make(map[string]oauth2.Token)}
}

// Get returns the token cached under key, or (nil, nil) when absent or
// already expired. Expired entries are dropped on the way out.
func (s *Store) Get(ctx context.Context, key string) (*oauth2.Token, error) {
	s.mu.RLock()
	tok, ok := s.tokens[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !tok.Expiry.IsZero() && time.Now().After(tok.Expiry) {
		s.mu.Lock()
		// Re-check so a fresh token written in the meantime survives.
		if cur, ok := s.tokens[key]; ok && cur.Expiry.Equal(tok.Expiry) {
			delete(s.tokens, key)
		}
		s.mu.Unlock()
		return nil, nil
	}
	out := tok
	return &out, nil
}

// Put caches a copy of tok under key. A nil tok clears the entry.
func (s *Store) Put(ctx context.Context, key string, tok *oauth2.Token) error {
	if tok == nil {
		return s.Delete(ctx, key)
	}
	s.mu.Lock()
	s.tokens[key] = *tok
	s.mu.Unlock()
	return nil
}

// Delete removes the entry under key, if any.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.tokens, key)
	s.mu.Unlock()
	return nil
}

// Interface compliance
var _ tokenstore.Store = (*Store)(nil)
