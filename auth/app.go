package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// appTokenTTL is the validity window requested for App JWTs. GitHub caps App
// JWTs at ten minutes; staying a minute under the cap absorbs clock skew
// between this host and GitHub.
const appTokenTTL = 9 * time.Minute

// keyProvider yields the private key to sign with. A KeyFile satisfies it
// with whatever key is currently on disk.
type keyProvider interface {
	Key() *rsa.PrivateKey
}

type staticKey struct {
	key *rsa.PrivateKey
}

func (s staticKey) Key() *rsa.PrivateKey { return s.key }

// AppTokenSource mints short-lived JWTs that authenticate as the GitHub App
// itself. Each fetch produces a fresh token carrying the App id as issuer,
// signed RS256 with the App's private key. Wrap it in an Authenticator to
// reuse a JWT until it nears expiry.
type AppTokenSource struct {
	appID int64
	keys  keyProvider

	now func() time.Time
}

// NewAppTokenSource builds a source for the App identified by appID, signing
// with privateKey. The key must be PEM encoded, either raw or base64-wrapped
// as commonly carried in environment variables. Returns ErrInvalidPrivateKey
// when the key cannot be parsed.
func NewAppTokenSource(appID int64, privateKey []byte) (*AppTokenSource, error) {
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &AppTokenSource{appID: appID, keys: staticKey{key: key}, now: time.Now}, nil
}

// NewAppTokenSourceFromKeyFile builds a source that signs with the key file's
// current key on every mint, so rotated keys take effect without rebuilding
// the source.
func NewAppTokenSourceFromKeyFile(appID int64, kf *KeyFile) *AppTokenSource {
	return &AppTokenSource{appID: appID, keys: kf, now: time.Now}
}

// AppID returns the App id this source authenticates as.
func (s *AppTokenSource) AppID() int64 { return s.appID }

// Token mints a new App JWT valid for the next nine minutes.
func (s *AppTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	issued := s.now()
	expiry := issued.Add(appTokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.keys.Key())
	if err != nil {
		return nil, fmt.Errorf("sign app jwt: %w", err)
	}
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer", Expiry: expiry}, nil
}

// ParsePrivateKey parses a PEM-encoded RSA private key. It also accepts a
// base64-wrapped PEM, since environment variables cannot hold the newlines a
// raw PEM needs. Returns ErrInvalidPrivateKey when neither form parses.
func ParsePrivateKey(privateKey []byte) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKey)
	if err == nil {
		return key, nil
	}
	if decoded, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(privateKey))); decErr == nil {
		if key, decErr := jwt.ParseRSAPrivateKeyFromPEM(decoded); decErr == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
}

// Interface compliance
var _ TokenSource = (*AppTokenSource)(nil)
