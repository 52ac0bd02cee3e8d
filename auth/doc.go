// Package auth acquires the bearer credentials that the simplegithub client
// attaches to outgoing GitHub requests. It covers the four ways this library
// can authenticate: a personal access token, a GitHub App JWT, a GitHub App
// installation token, and no credential at all.
//
// The public surface intentionally stays small: a TokenSource produces the
// current credential as an *oauth2.Token, and an Authenticator wraps any
// TokenSource with caching and transparent refresh. The HTTP layer asks the
// Authenticator for a credential per request and never sees where it came
// from.
//
// # Token Sources
//
// Static and Anonymous cover the trivial variants. NewAppTokenSource mints
// short-lived RS256 JWTs that authenticate as the App itself, signed with the
// App's private key. NewInstallationTokenSource exchanges those JWTs for
// installation tokens scoped to an owner and optional repository set:
//
//	app, err := auth.NewAppTokenSource(12345, pemKey)
//	if err != nil { log.Fatal(err) }
//	src, err := auth.NewInstallationTokenSource(app, auth.InstallationConfig{
//	    Owner:        "octo-org",
//	    Repositories: []string{"widgets"},
//	})
//	if err != nil { log.Fatal(err) }
//	tok, err := src.Token(ctx)
//
// # Refresh
//
// NewAuthenticator caches the credential from its source and refreshes it
// when absent or within DefaultExpiryMargin of expiry. At most one refresh is
// in flight per Authenticator; concurrent callers block on it and observe the
// fresh credential. A failed or cancelled refresh leaves the prior state
// untouched and the error goes to the caller that triggered it. The
// Authenticator never retries; retry policy belongs to callers.
//
// WithStore plugs in a tokenstore.Store so separate processes sharing one
// installation reuse the same token instead of each minting its own.
//
// # Key Rotation
//
// OpenKeyFile loads an App private key from disk once. WatchKeyFile also
// watches the file and swaps in the re-parsed key when it is rewritten or
// replaced, so App sources built with NewAppTokenSourceFromKeyFile pick up
// rotated keys without a restart.
//
// # Errors
//
// ErrInvalidPrivateKey signals a key that could not be parsed; it is fatal
// and never retried. ErrNoInstallation signals that the owner has no
// installation of the App. A non-2xx reply from the discovery or exchange
// endpoints surfaces as an *ExchangeError carrying the remote status, body,
// and URL; match it with errors.As.
package auth
