// Package authtest provides fakes for exercising credential flows in tests:
// a scripted token source and an httptest fake of the two GitHub endpoints
// the App installation flow touches.
package authtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// GenerateKey returns a throwaway RSA key and its PKCS#1 PEM encoding.
func GenerateKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	raw := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, raw
}

// Source is a scripted token source that counts fetches. It satisfies the
// package auth TokenSource interface. Tokens are handed out in order; the
// final one repeats once the rest are consumed.
type Source struct {
	mu    sync.Mutex
	queue []*oauth2.Token
	err   error
	calls int
}

func NewSource(tokens ...*oauth2.Token) *Source {
	return &Source{queue: append([]*oauth2.Token(nil), tokens...)}
}

// FailWith makes subsequent fetches return err; pass nil to recover.
func (s *Source) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Calls returns how many fetches have been attempted, including failed ones.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Source) Token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.queue) == 0 {
		return nil, errors.New("authtest: no tokens queued")
	}
	tok := s.queue[0]
	if len(s.queue) > 1 {
		s.queue = s.queue[1:]
	}
	return tok, nil
}

// AppAPIConfig describes the fake App installation the server exposes.
type AppAPIConfig struct {
	// AppID, when nonzero, must match the iss claim of presented JWTs.
	AppID int64
	// Owner is the account login the installation belongs to.
	Owner string
	// InstallationID identifies the installation in discovery and in the
	// exchange path.
	InstallationID int64
	// Token is returned from exchanges until SetToken replaces it.
	Token string
	// ExpiresAt is the expiry returned with Token.
	ExpiresAt time.Time
	// OmitExpiresAt leaves expires_at out of exchange responses, exercising
	// the caller's fallback.
	OmitExpiresAt bool
	// VerifyKey, when set, makes the server verify each presented JWT's
	// RS256 signature and reject requests that fail.
	VerifyKey *rsa.PublicKey
}

// AppAPI fakes GitHub's installation discovery and token exchange endpoints.
// Any other path is answered 200 with an empty JSON object and recorded, so
// the same server can stand in for the REST API in client-level tests.
type AppAPI struct {
	srv *httptest.Server
	cfg AppAPIConfig

	mu          sync.Mutex
	token       string
	expiresAt   time.Time
	discoveries int
	exchanges   int
	lastBody    []byte
	restCalls   int
	lastAuth    string
	lastPath    string
}

func NewAppAPI(t *testing.T, cfg AppAPIConfig) *AppAPI {
	t.Helper()
	a := &AppAPI{cfg: cfg, token: cfg.Token, expiresAt: cfg.ExpiresAt}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.srv.Close)
	return a
}

// URL returns the server's base URL.
func (a *AppAPI) URL() string { return a.srv.URL }

// Close shuts the server down; NewAppAPI also registers this as a cleanup.
func (a *AppAPI) Close() { a.srv.Close() }

// SetToken changes what subsequent exchanges return.
func (a *AppAPI) SetToken(token string, expiresAt time.Time) {
	a.mu.Lock()
	a.token = token
	a.expiresAt = expiresAt
	a.mu.Unlock()
}

// Discoveries returns how many GET /app/installations calls were served.
func (a *AppAPI) Discoveries() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discoveries
}

// Exchanges returns how many token exchanges were served.
func (a *AppAPI) Exchanges() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exchanges
}

// LastExchangeBody returns the body of the most recent exchange request.
func (a *AppAPI) LastExchangeBody() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastBody
}

// RESTCalls returns how many non-exchange requests were served.
func (a *AppAPI) RESTCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.restCalls
}

// LastAuthorization returns the Authorization header of the most recent
// non-exchange request, empty when the header was absent.
func (a *AppAPI) LastAuthorization() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAuth
}

// LastPath returns the path of the most recent non-exchange request.
func (a *AppAPI) LastPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPath
}

func (a *AppAPI) handle(w http.ResponseWriter, r *http.Request) {
	exchangePath := fmt.Sprintf("/app/installations/%d/access_tokens", a.cfg.InstallationID)
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/app/installations":
		if !a.authorize(w, r) {
			return
		}
		a.mu.Lock()
		a.discoveries++
		a.mu.Unlock()
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": a.cfg.InstallationID, "account": map[string]any{"login": a.cfg.Owner}},
		})
	case r.Method == http.MethodPost && r.URL.Path == exchangePath:
		if !a.authorize(w, r) {
			return
		}
		body, _ := io.ReadAll(r.Body)
		a.mu.Lock()
		a.exchanges++
		a.lastBody = body
		token, expires := a.token, a.expiresAt
		a.mu.Unlock()
		out := map[string]any{"token": token}
		if !a.cfg.OmitExpiresAt {
			out["expires_at"] = expires.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusCreated, out)
	default:
		a.mu.Lock()
		a.restCalls++
		a.lastAuth = r.Header.Get("Authorization")
		a.lastPath = r.URL.Path
		a.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func (a *AppAPI) authorize(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "missing bearer credential"})
		return false
	}
	if a.cfg.VerifyKey == nil {
		return true
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return a.cfg.VerifyKey, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": err.Error()})
		return false
	}
	if a.cfg.AppID != 0 && claims.Issuer != strconv.FormatInt(a.cfg.AppID, 10) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "jwt issued for a different app"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
