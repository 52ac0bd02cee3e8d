package simplegithub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Khan/genqlient/graphql"

	"github.com/simplegithub/simplegithub/auth"
	"github.com/simplegithub/simplegithub/tokenstore"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = auth.DefaultBaseURL
	// DefaultGraphQLURL is the public GitHub GraphQL endpoint.
	DefaultGraphQLURL = "https://api.github.com/graphql"

	defaultUserAgent = "simplegithub"
)

// Client issues REST and GraphQL requests to GitHub through one shared HTTP
// session. Each request picks up the current credential from the client's
// authenticator; installation tokens refresh transparently as they near
// expiry. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	gql        graphql.Client
	creds      *auth.Authenticator
	baseURL    string
	log        *slog.Logger

	ownsPool bool
	closers  []io.Closer
}

type config struct {
	owner          string
	repositories   []string
	installationID int64
	baseURL        string
	graphqlURL     string
	httpClient     *http.Client
	logger         *slog.Logger
	userAgent      string
	store          tokenstore.Store
	storeKey       string
	margin         time.Duration
	keyFilePath    string
}

func defaultConfig() config {
	return config{
		baseURL:    DefaultBaseURL,
		graphqlURL: DefaultGraphQLURL,
		userAgent:  defaultUserAgent,
		logger:     slog.Default(),
	}
}

// Option configures a client constructor.
type Option func(*config)

// WithOwner scopes an AppClient's credentials to the given user or
// organization's installation of the App. Without it an AppClient
// authenticates as the App itself.
func WithOwner(owner string) Option {
	return func(c *config) { c.owner = owner }
}

// WithRepositories restricts an AppClient's installation tokens to the named
// repositories within the owner.
func WithRepositories(repos ...string) Option {
	return func(c *config) { c.repositories = append([]string(nil), repos...) }
}

// WithInstallationID pins an AppClient to a known installation, skipping
// discovery.
func WithInstallationID(id int64) Option {
	return func(c *config) { c.installationID = id }
}

// WithBaseURL points the client at a different REST endpoint, e.g. GitHub
// Enterprise. Defaults to DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *config) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithGraphQLURL points the client at a different GraphQL endpoint. Defaults
// to DefaultGraphQLURL.
func WithGraphQLURL(graphqlURL string) Option {
	return func(c *config) { c.graphqlURL = graphqlURL }
}

// WithHTTPClient supplies the HTTP client whose transport carries all
// requests. The caller keeps ownership; Close will not release it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithLogger sets the logger for request and refresh events. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithUserAgent overrides the User-Agent header sent with each request.
func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}

// WithTokenStore persists an AppClient's installation tokens so processes
// sharing one installation reuse them. Other client kinds ignore it.
func WithTokenStore(store tokenstore.Store) Option {
	return func(c *config) { c.store = store }
}

// WithExpiryMargin tunes how long before literal expiry a credential is
// treated as stale. Defaults to auth.DefaultExpiryMargin.
func WithExpiryMargin(margin time.Duration) Option {
	return func(c *config) { c.margin = margin }
}

// WithPrivateKeyFile makes an AppClient load its key from path instead of
// the privateKey argument, watching the file so rotated keys take effect
// live.
func WithPrivateKeyFile(path string) Option {
	return func(c *config) { c.keyFilePath = path }
}

// New builds a client around an arbitrary token source. Most callers want
// TokenClient, AppClient, PublicClient, or NewFromEnv instead.
func New(src auth.TokenSource, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newClient(src, &cfg, nil)
}

// TokenClient builds a client that authenticates every request with the
// given personal access token.
func TokenClient(token string, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newClient(auth.Static(token), &cfg, nil)
}

// PublicClient builds a client that sends requests unauthenticated.
func PublicClient(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newClient(auth.Anonymous(), &cfg, nil)
}

// AppClient builds a client that authenticates as a GitHub App. With
// WithOwner (or WithInstallationID) it exchanges App JWTs for installation
// tokens scoped to that installation; otherwise requests carry the App JWT
// itself, which only the App management endpoints accept. privateKey is the
// App's PEM key, raw or base64-wrapped; WithPrivateKeyFile replaces it with
// a watched file.
func AppClient(appID int64, privateKey []byte, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var closers []io.Closer
	var appSrc *auth.AppTokenSource
	if cfg.keyFilePath != "" {
		kf, err := auth.WatchKeyFile(cfg.keyFilePath, cfg.logger)
		if err != nil {
			return nil, err
		}
		closers = append(closers, kf)
		appSrc = auth.NewAppTokenSourceFromKeyFile(appID, kf)
	} else {
		var err error
		appSrc, err = auth.NewAppTokenSource(appID, privateKey)
		if err != nil {
			return nil, err
		}
	}

	src := auth.TokenSource(appSrc)
	if cfg.owner != "" || cfg.installationID != 0 {
		inst, err := auth.NewInstallationTokenSource(appSrc, auth.InstallationConfig{
			Owner:          cfg.owner,
			Repositories:   cfg.repositories,
			InstallationID: cfg.installationID,
			BaseURL:        cfg.baseURL,
			HTTPClient:     cfg.httpClient,
			Logger:         cfg.logger,
		})
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		closers = append(closers, inst)
		src = inst
	}

	if cfg.store != nil {
		cfg.storeKey = appStoreKey(appID, &cfg)
	}
	return newClient(src, &cfg, closers)
}

// appStoreKey derives a stable cache key for one installation's tokens.
func appStoreKey(appID int64, cfg *config) string {
	parts := []string{"app", strconv.FormatInt(appID, 10)}
	if cfg.installationID != 0 {
		parts = append(parts, strconv.FormatInt(cfg.installationID, 10))
	} else {
		parts = append(parts, strings.ToLower(cfg.owner))
	}
	if len(cfg.repositories) > 0 {
		repos := append([]string(nil), cfg.repositories...)
		sort.Strings(repos)
		parts = append(parts, strings.Join(repos, ","))
	}
	return strings.Join(parts, ":")
}

func newClient(src auth.TokenSource, cfg *config, closers []io.Closer) (*Client, error) {
	var authOpts []auth.AuthenticatorOption
	authOpts = append(authOpts, auth.WithLogger(cfg.logger))
	if cfg.margin > 0 {
		authOpts = append(authOpts, auth.WithExpiryMargin(cfg.margin))
	}
	if cfg.store != nil && cfg.storeKey != "" {
		authOpts = append(authOpts, auth.WithStore(cfg.store, cfg.storeKey))
	}
	creds := auth.NewAuthenticator(src, authOpts...)

	base := http.RoundTripper(http.DefaultTransport)
	session := &http.Client{}
	ownsPool := cfg.httpClient == nil
	if ownsPool {
		// Clone the default transport so Close tears down only this
		// client's connections, never the process-wide pool.
		if t, ok := http.DefaultTransport.(*http.Transport); ok {
			base = t.Clone()
		}
	} else {
		if cfg.httpClient.Transport != nil {
			base = cfg.httpClient.Transport
		}
		session.CheckRedirect = cfg.httpClient.CheckRedirect
		session.Jar = cfg.httpClient.Jar
		session.Timeout = cfg.httpClient.Timeout
	}
	session.Transport = &roundTripper{base: base, creds: creds, userAgent: cfg.userAgent}

	c := &Client{
		httpClient: session,
		creds:      creds,
		baseURL:    strings.TrimRight(cfg.baseURL, "/"),
		log:        cfg.logger,
		ownsPool:   ownsPool,
		closers:    closers,
	}
	c.gql = graphql.NewClient(cfg.graphqlURL, session)
	return c, nil
}

func closeAll(closers []io.Closer) {
	for _, cl := range closers {
		_ = cl.Close()
	}
}

// Get issues a GET request. path is relative to the client's base URL;
// params, when non-nil, become the query string. The response comes back
// as-is: the caller checks the status and closes the body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Post issues a POST request. data, when non-nil, is JSON-encoded as the
// request body.
func (c *Client) Post(ctx context.Context, path string, data any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, nil, data)
}

// Put issues a PUT request with an optional JSON body.
func (c *Client) Put(ctx context.Context, path string, data any) (*http.Response, error) {
	return c.do(ctx, http.MethodPut, path, nil, data)
}

// Patch issues a PATCH request with an optional JSON body.
func (c *Client) Patch(ctx context.Context, path string, data any) (*http.Response, error) {
	return c.do(ctx, http.MethodPatch, path, nil, data)
}

// Delete issues a DELETE request with an optional JSON body.
func (c *Client) Delete(ctx context.Context, path string, data any) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, data)
}

// Do issues a request with an arbitrary method. The verb methods all come
// through here.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, data any) (*http.Response, error) {
	return c.do(ctx, method, path, params, data)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, data any) (*http.Response, error) {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set(contentTypeHeader, jsonMediaType.String())
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	c.log.DebugContext(ctx, "github request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("dur", time.Since(start)))
	return resp, nil
}

// Execute runs a GraphQL query with optional variables and decodes the data
// section of the reply. GraphQL errors come back as the returned error (a
// gqlerror.List from the genqlient runtime) alongside whatever partial data
// GitHub produced.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (map[string]any, error) {
	var data map[string]any
	req := &graphql.Request{Query: query, Variables: variables}
	err := c.gql.MakeRequest(ctx, req, &graphql.Response{Data: &data})
	return data, err
}

// GraphQL exposes the genqlient client bound to the shared session, for
// generated typed queries.
func (c *Client) GraphQL() graphql.Client { return c.gql }

// HTTPClient exposes the authorized HTTP client so other libraries can share
// the session and its credential handling.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// Authenticator exposes the client's credential cache, e.g. to Invalidate
// after a 401.
func (c *Client) Authenticator() *auth.Authenticator { return c.creds }

// Close releases everything the client created: idle connections in an owned
// pool, the installation exchange client, and any key file watcher. It never
// revokes credentials, and it is safe to call more than once. Clients built
// on a caller-supplied HTTP client leave that client untouched.
func (c *Client) Close() error {
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsPool {
		c.httpClient.CloseIdleConnections()
	}
	return errors.Join(errs...)
}
