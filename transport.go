package simplegithub

import (
	"fmt"
	"net/http"

	"github.com/elnormous/contenttype"

	"github.com/simplegithub/simplegithub/auth"
)

const (
	// Use canonical header names; Go matches headers case-insensitively.
	acceptHeader        = "Accept"
	authorizationHeader = "Authorization"
	contentTypeHeader   = "Content-Type"
	userAgentHeader     = "User-Agent"
)

var (
	githubMediaType = contenttype.NewMediaType("application/vnd.github+json")
	jsonMediaType   = contenttype.NewMediaType("application/json")
)

// roundTripper resolves the current credential and injects it, plus default
// headers, into each outgoing request. The request is cloned before any
// mutation, as required of a RoundTripper.
type roundTripper struct {
	base      http.RoundTripper
	creds     auth.TokenSource
	userAgent string
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := rt.creds.Token(req.Context())
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	clone := req.Clone(req.Context())
	if clone.Header.Get(acceptHeader) == "" {
		clone.Header.Set(acceptHeader, githubMediaType.String())
	}
	if clone.Header.Get(userAgentHeader) == "" {
		clone.Header.Set(userAgentHeader, rt.userAgent)
	}
	// An empty credential means the request goes out with no Authorization
	// header at all.
	if tok != nil && tok.AccessToken != "" {
		clone.Header.Set(authorizationHeader, tok.Type()+" "+tok.AccessToken)
	}
	return rt.base.RoundTrip(clone)
}

// CloseIdleConnections forwards pool teardown to the base transport.
// http.Client.CloseIdleConnections only reaches transports that expose the
// method, so the wrapper has to pass it through.
func (rt *roundTripper) CloseIdleConnections() {
	if tr, ok := rt.base.(interface{ CloseIdleConnections() }); ok {
		tr.CloseIdleConnections()
	}
}

// Interface compliance
var _ http.RoundTripper = (*roundTripper)(nil)
var _ interface{ CloseIdleConnections() } = (*roundTripper)(nil)
