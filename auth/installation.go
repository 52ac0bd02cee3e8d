package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public GitHub REST endpoint, used for installation
// discovery and token exchange unless overridden.
const DefaultBaseURL = "https://api.github.com"

const (
	acceptHeader = "application/vnd.github+json"

	// installationTokenTTL is assumed when the exchange response carries no
	// expires_at. GitHub issues installation tokens for one hour.
	installationTokenTTL = time.Hour
)

// ExchangeError reports a non-2xx response from GitHub during installation
// discovery or token exchange.
type ExchangeError struct {
	Status int
	URL    string
	Body   []byte
}

func (e *ExchangeError) Error() string {
	body := bytes.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("github: %s returned %d: %s", e.URL, e.Status, body)
}

// InstallationConfig configures an InstallationTokenSource.
type InstallationConfig struct {
	// Owner is the user or organization whose installation of the App the
	// issued tokens are scoped to. Required unless InstallationID is set.
	Owner string
	// Repositories optionally restricts issued tokens to the named
	// repositories within Owner.
	Repositories []string
	// InstallationID pins the installation and skips discovery when nonzero.
	InstallationID int64
	// BaseURL overrides DefaultBaseURL, e.g. for GitHub Enterprise.
	BaseURL string
	// HTTPClient performs the discovery and exchange requests. Defaults to a
	// dedicated client whose idle connections are released by Close.
	HTTPClient *http.Client
	// Logger receives debug logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// InstallationTokenSource exchanges App JWTs for installation tokens scoped
// to one owner and optional repository set. Wrap it in an Authenticator so a
// token is reused until it nears expiry; each Token call performs a full
// exchange.
type InstallationTokenSource struct {
	app   *Authenticator
	appID int64
	owner string
	repos []string
	base  string
	hc    *http.Client
	owns  bool
	log   *slog.Logger

	mu             sync.Mutex
	installationID int64

	now func() time.Time
}

// NewInstallationTokenSource builds a source that authenticates as app and
// issues tokens for the installation selected by cfg. The App JWT is minted
// lazily and reused across exchanges until it nears expiry.
func NewInstallationTokenSource(app *AppTokenSource, cfg InstallationConfig) (*InstallationTokenSource, error) {
	if app == nil {
		return nil, errors.New("app token source is required")
	}
	if cfg.Owner == "" && cfg.InstallationID == 0 {
		return nil, errors.New("owner or installation id is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	owns := false
	if hc == nil {
		// A dedicated pool, so Close releases only the exchange
		// connections and not the process-wide transport.
		hc = &http.Client{}
		if t, ok := http.DefaultTransport.(*http.Transport); ok {
			hc.Transport = t.Clone()
		}
		owns = true
	}
	return &InstallationTokenSource{
		app:            NewAuthenticator(app, WithLogger(log)),
		appID:          app.AppID(),
		owner:          cfg.Owner,
		repos:          append([]string(nil), cfg.Repositories...),
		base:           base,
		hc:             hc,
		owns:           owns,
		log:            log,
		installationID: cfg.InstallationID,
		now:            time.Now,
	}, nil
}

// InstallationID returns the resolved installation id, or zero before the
// first successful discovery.
func (s *InstallationTokenSource) InstallationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installationID
}

// Token exchanges a current App JWT for a fresh installation token.
func (s *InstallationTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	id, err := s.resolveInstallationID(ctx)
	if err != nil {
		return nil, err
	}

	issued := s.now()
	var body io.Reader
	if len(s.repos) > 0 {
		payload, err := json.Marshal(map[string][]string{"repositories": s.repos})
		if err != nil {
			return nil, fmt.Errorf("encode exchange body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.base, id)
	resp, err := s.roundTrip(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode installation token: %w", err)
	}
	expiry := out.ExpiresAt
	if expiry.IsZero() {
		expiry = issued.Add(installationTokenTTL)
	}
	s.log.Debug("exchanged installation token",
		slog.Int64("installation_id", id), slog.Time("expires_at", expiry))
	return &oauth2.Token{AccessToken: out.Token, TokenType: "Bearer", Expiry: expiry}, nil
}

// resolveInstallationID finds the installation of the App for the configured
// owner. The result is cached for the life of the source.
func (s *InstallationTokenSource) resolveInstallationID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installationID != 0 {
		return s.installationID, nil
	}

	resp, err := s.roundTrip(ctx, http.MethodGet, s.base+"/app/installations", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	var installations []struct {
		ID      int64 `json:"id"`
		Account struct {
			Login string `json:"login"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&installations); err != nil {
		return 0, fmt.Errorf("decode installations: %w", err)
	}
	for _, inst := range installations {
		// GitHub treats logins case-insensitively.
		if strings.EqualFold(inst.Account.Login, s.owner) {
			s.installationID = inst.ID
			s.log.Debug("resolved installation",
				slog.String("owner", s.owner), slog.Int64("installation_id", inst.ID))
			return inst.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: app %d has no installation for %q", ErrNoInstallation, s.appID, s.owner)
}

// roundTrip issues one request against the exchange endpoints, authenticated
// with a current App JWT.
func (s *InstallationTokenSource) roundTrip(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	jwtTok, err := s.app.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "Bearer "+jwtTok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.hc.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &ExchangeError{Status: resp.StatusCode, URL: resp.Request.URL.String(), Body: body}
}

// Close releases the exchange client's idle connections when the source
// created that client itself.
func (s *InstallationTokenSource) Close() error {
	if s.owns {
		s.hc.CloseIdleConnections()
	}
	return nil
}

// Interface compliance
var _ TokenSource = (*InstallationTokenSource)(nil)
