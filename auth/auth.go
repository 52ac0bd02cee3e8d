package auth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrInvalidPrivateKey indicates an App private key that could not be parsed.
var ErrInvalidPrivateKey = errors.New("invalid private key")

// ErrNoInstallation indicates the GitHub App has no installation for the
// requested owner.
var ErrNoInstallation = errors.New("github app installation not found")

// TokenSource produces the current bearer credential for outgoing requests.
// An empty AccessToken means the request should carry no Authorization header
// at all. A zero Expiry means the credential never expires.
//
// Implementations must be safe for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// SourceFunc adapts a function to a TokenSource.
type SourceFunc func(ctx context.Context) (*oauth2.Token, error)

func (f SourceFunc) Token(ctx context.Context) (*oauth2.Token, error) { return f(ctx) }

// staticSource hands out one fixed credential forever.
type staticSource struct {
	tok *oauth2.Token
}

func (s staticSource) Token(ctx context.Context) (*oauth2.Token, error) { return s.tok, nil }

// Static returns a TokenSource that always yields the given personal access
// token. The credential never expires.
func Static(token string) TokenSource {
	return staticSource{tok: &oauth2.Token{AccessToken: token}}
}

// Anonymous returns a TokenSource yielding an empty credential, so requests
// go out unauthenticated.
func Anonymous() TokenSource {
	return staticSource{tok: &oauth2.Token{}}
}

// Interface compliance
var (
	_ TokenSource = SourceFunc(nil)
	_ TokenSource = staticSource{}
)
