// Package redisstore provides a Redis-backed token store so processes
// sharing one GitHub App installation reuse the same installation token
// instead of each minting its own.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/simplegithub/simplegithub/tokenstore"
)

// Config for the Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Password for the Redis connection, empty for none. ENV: REDIS_PASSWORD
	Password string `env:"REDIS_PASSWORD"`
	// DB selects the Redis logical database. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: TOKENS_KEY_PREFIX
	KeyPrefix string `env:"TOKENS_KEY_PREFIX,default=simplegithub:tokens:"`
}

// Store caches tokens in Redis with a TTL matching each token's expiry.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

func New(cfg Config) (*Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "simplegithub:tokens:"
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config. A value
// that does not parse, such as a non-numeric REDIS_DB, is an error.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(k string) string { return s.keyPrefix + k }

// storedToken is the wire form; oauth2.Token has unexported state that does
// not survive JSON.
type storedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
}

func (s *Store) Get(ctx context.Context, key string) (*oauth2.Token, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &oauth2.Token{AccessToken: st.AccessToken, TokenType: st.TokenType, Expiry: st.Expiry}, nil
}

func (s *Store) Put(ctx context.Context, key string, tok *oauth2.Token) error {
	if tok == nil {
		return s.Delete(ctx, key)
	}
	raw, err := json.Marshal(storedToken{AccessToken: tok.AccessToken, TokenType: tok.TokenType, Expiry: tok.Expiry})
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	var ttl time.Duration
	if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry)
		if ttl <= 0 {
			// Already expired; nothing worth caching.
			return s.Delete(ctx, key)
		}
	}
	return s.client.Set(ctx, s.key(key), raw, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.Del(ctx, s.key(key)).Result()
	return err
}

// Interface compliance
var _ tokenstore.Store = (*Store)(nil)
