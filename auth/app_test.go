package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/simplegithub/simplegithub/auth/authtest"
)

func TestAppTokenSource_MintsSignedJWT(t *testing.T) {
	key, pemBytes := authtest.GenerateKey(t)
	src, err := NewAppTokenSource(12345, pemBytes)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if src.AppID() != 12345 {
		t.Fatalf("want app id 12345, got %d", src.AppID())
	}

	before := time.Now()
	tok, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.TokenType != "Bearer" {
		t.Fatalf("want Bearer, got %q", tok.TokenType)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tok.AccessToken, claims,
		func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
		jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("jwt did not validate")
	}
	if claims.Issuer != "12345" {
		t.Fatalf("want issuer 12345, got %q", claims.Issuer)
	}
	if d := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); d != appTokenTTL {
		t.Fatalf("want %v validity window, got %v", appTokenTTL, d)
	}
	if tok.Expiry.Before(before.Add(appTokenTTL-5*time.Second)) || tok.Expiry.After(time.Now().Add(appTokenTTL+5*time.Second)) {
		t.Fatalf("expiry %v not anchored to mint time", tok.Expiry)
	}
}

func TestAppTokenSource_FreshJWTPerMint(t *testing.T) {
	_, pemBytes := authtest.GenerateKey(t)
	src, err := NewAppTokenSource(7, pemBytes)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	clock := time.Now()
	src.now = func() time.Time { return clock }
	first, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	clock = clock.Add(time.Second)
	second, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if first.AccessToken == second.AccessToken {
		t.Fatal("want a fresh jwt per mint")
	}
}

func TestAppTokenSource_Base64Key(t *testing.T) {
	_, pemBytes := authtest.GenerateKey(t)
	encoded := []byte(base64.StdEncoding.EncodeToString(pemBytes))
	src, err := NewAppTokenSource(7, encoded)
	if err != nil {
		t.Fatalf("new from base64 key: %v", err)
	}
	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
}

func TestAppTokenSource_BadKey(t *testing.T) {
	if _, err := NewAppTokenSource(7, []byte("not a pem")); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Fatalf("want ErrInvalidPrivateKey, got %v", err)
	}
}

func TestParsePrivateKey(t *testing.T) {
	key, pemBytes := authtest.GenerateKey(t)
	parsed, err := ParsePrivateKey(pemBytes)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Fatal("parsed a different key")
	}
	if _, err := ParsePrivateKey([]byte("garbage")); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Fatalf("want ErrInvalidPrivateKey, got %v", err)
	}
}

func TestAppTokenSource_SignsWithKeyFile(t *testing.T) {
	key, pemBytes := authtest.GenerateKey(t)
	path := filepath.Join(t.TempDir(), "app.pem")
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	kf, err := OpenKeyFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	src := NewAppTokenSourceFromKeyFile(42, kf)
	tok, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(tok.AccessToken, claims,
		func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
		jwt.WithValidMethods([]string{"RS256"})); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Issuer != "42" {
		t.Fatalf("want issuer 42, got %q", claims.Issuer)
	}
}
