package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	conn := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 3})
	if err := conn.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer conn.Close()
	defer conn.FlushDB(ctx)

	s, err := New(Config{Addr: "127.0.0.1:6379", DB: 3, KeyPrefix: "tokentest:"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Close()

	t.Run("PutGet", func(t *testing.T) { testPutGet(t, s) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, s) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, s) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, s) })
	t.Run("ExpiredNotCached", func(t *testing.T) { testExpiredNotCached(t, s) })
	t.Run("NoExpiry", func(t *testing.T) { testNoExpiry(t, s) })
}

func TestNewFromEnv_MalformedDB(t *testing.T) {
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("REDIS_PASSWORD", "")
	t.Setenv("TOKENS_KEY_PREFIX", "")
	t.Setenv("REDIS_DB", "not-a-number")

	// The decode failure surfaces before any connection is attempted.
	if _, err := NewFromEnv(); err == nil {
		t.Fatal("malformed REDIS_DB accepted")
	}
}

func testPutGet(t *testing.T, s *Store) {
	ctx := context.Background()
	want := &oauth2.Token{AccessToken: "tok-1", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := s.Put(ctx, "roundtrip", want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "roundtrip")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.AccessToken != "tok-1" || got.TokenType != "Bearer" {
		t.Fatalf("want tok-1, got %+v", got)
	}
	if !got.Expiry.Equal(want.Expiry) {
		t.Fatalf("want expiry %v, got %v", want.Expiry, got.Expiry)
	}
}

func testMissing(t *testing.T, s *Store) {
	got, err := s.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("want nil for a miss, got %+v", got)
	}
}

func testDelete(t *testing.T, s *Store) {
	ctx := context.Background()
	if err := s.Put(ctx, "doomed", &oauth2.Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(ctx, "doomed"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, err := s.Get(ctx, "doomed"); err != nil || got != nil {
		t.Fatalf("entry survived delete: %+v, %v", got, err)
	}
}

func testTTL(t *testing.T, s *Store) {
	ctx := context.Background()
	if err := s.Put(ctx, "short", &oauth2.Token{AccessToken: "tok-1", Expiry: time.Now().Add(200 * time.Millisecond)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "short")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("fresh entry missing")
	}

	time.Sleep(400 * time.Millisecond)
	got, err = s.Get(ctx, "short")
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if got != nil {
		t.Fatalf("entry outlived its expiry: %+v", got)
	}
}

func testExpiredNotCached(t *testing.T, s *Store) {
	ctx := context.Background()
	if err := s.Put(ctx, "dead", &oauth2.Token{AccessToken: "tok-1", Expiry: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, err := s.Get(ctx, "dead"); err != nil || got != nil {
		t.Fatalf("expired token cached: %+v, %v", got, err)
	}
}

func testNoExpiry(t *testing.T, s *Store) {
	ctx := context.Background()
	if err := s.Put(ctx, "forever", &oauth2.Token{AccessToken: "tok-1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "forever")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.AccessToken != "tok-1" {
		t.Fatalf("want tok-1, got %+v", got)
	}
	if !got.Expiry.IsZero() {
		t.Fatalf("zero expiry not preserved: %v", got.Expiry)
	}
}
