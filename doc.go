// Package simplegithub is a small GitHub API client. It acquires a bearer
// credential (personal access token, GitHub App JWT, App installation token,
// or none at all) and forwards REST and GraphQL requests through one shared
// HTTP session, refreshing short-lived credentials transparently before they
// expire.
//
// The client deliberately stays thin: REST calls return the native
// *http.Response uninterpreted, GraphQL calls return the decoded data map,
// and no retry or pagination logic hides inside. What it does own is the
// credential lifecycle, which is shared by both call paths.
//
// # Quick start
//
//	gh, err := simplegithub.TokenClient(os.Getenv("GITHUB_TOKEN"))
//	if err != nil { log.Fatal(err) }
//	defer gh.Close()
//
//	resp, err := gh.Get(ctx, "/repos/octo-org/widgets", nil)
//	if err != nil { log.Fatal(err) }
//	defer resp.Body.Close()
//
//	data, err := gh.Execute(ctx, `query { viewer { login } }`, nil)
//
// NewFromEnv picks the credential from GITHUB_TOKEN / GH_TOKEN /
// GITHUB_APP_* and honors the GITHUB_API_URL and GITHUB_GRAPHQL_URL
// variables GitHub Actions sets.
//
// # GitHub Apps
//
// AppClient authenticates as an App. Scoped to an owner, it exchanges App
// JWTs for installation tokens and refreshes them before expiry; requests
// never observe a stale credential, and concurrent callers share a single
// refresh:
//
//	gh, err := simplegithub.AppClient(12345, pemKey,
//	    simplegithub.WithOwner("octo-org"),
//	    simplegithub.WithRepositories("widgets"),
//	)
//
// WithTokenStore plugs in a tokenstore.Store (see tokenstore/memory and
// tokenstore/redisstore) so separate processes reuse one installation token.
// WithPrivateKeyFile loads the key from disk and follows rotations.
//
// # Errors
//
// Credential failures surface from the request that triggered them:
// auth.ErrInvalidPrivateKey, auth.ErrNoInstallation, or an
// *auth.ExchangeError carrying the remote status and body. REST and GraphQL
// statuses are the caller's to interpret; package ratelimit helps classify
// rate-limited responses for callers that retry.
package simplegithub
