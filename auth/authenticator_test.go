package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/simplegithub/simplegithub/auth/authtest"
	"github.com/simplegithub/simplegithub/tokenstore/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testToken(value string, expiry time.Time) *oauth2.Token {
	return &oauth2.Token{AccessToken: value, TokenType: "Bearer", Expiry: expiry}
}

// gateSource blocks fetches until release is closed, for exercising
// concurrent and cancelled refreshes.
type gateSource struct {
	release chan struct{}
	tok     *oauth2.Token

	mu    sync.Mutex
	calls int
}

func (g *gateSource) Token(ctx context.Context) (*oauth2.Token, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case <-g.release:
		return g.tok, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gateSource) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*oauth2.Token, error) {
	return nil, errors.New("backend down")
}
func (failingStore) Put(context.Context, string, *oauth2.Token) error {
	return errors.New("backend down")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("backend down") }

func TestAuthenticator_CachesUntilMargin(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := authtest.NewSource(
		testToken("t1", base.Add(2*time.Minute)),
		testToken("t2", base.Add(20*time.Minute)),
	)
	a := NewAuthenticator(src, WithLogger(quietLogger()))
	clock := base
	a.now = func() time.Time { return clock }

	tok, err := a.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "t1" {
		t.Fatalf("want t1, got %q", tok.AccessToken)
	}

	// 61 seconds of validity left: outside the one minute margin, reuse.
	clock = base.Add(59 * time.Second)
	tok, err = a.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "t1" || src.Calls() != 1 {
		t.Fatalf("want cached t1 after 1 fetch, got %q after %d", tok.AccessToken, src.Calls())
	}

	// 59 seconds left: inside the margin, refresh.
	clock = base.Add(61 * time.Second)
	tok, err = a.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "t2" || src.Calls() != 2 {
		t.Fatalf("want refreshed t2 after 2 fetches, got %q after %d", tok.AccessToken, src.Calls())
	}
}

func TestAuthenticator_CustomMargin(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := authtest.NewSource(
		testToken("t1", base.Add(6*time.Minute)),
		testToken("t2", base.Add(time.Hour)),
	)
	a := NewAuthenticator(src, WithExpiryMargin(5*time.Minute), WithLogger(quietLogger()))
	clock := base
	a.now = func() time.Time { return clock }

	if _, err := a.Token(ctx); err != nil {
		t.Fatalf("token: %v", err)
	}
	clock = base.Add(61 * time.Second) // 4m59s left, inside the 5m margin
	tok, err := a.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "t2" || src.Calls() != 2 {
		t.Fatalf("want refresh under widened margin, got %q after %d fetches", tok.AccessToken, src.Calls())
	}
}

func TestAuthenticator_ZeroExpiryNeverRefreshes(t *testing.T) {
	ctx := context.Background()
	src := authtest.NewSource(testToken("static", time.Time{}))
	a := NewAuthenticator(src, WithLogger(quietLogger()))
	clock := time.Now()
	a.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		tok, err := a.Token(ctx)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if tok.AccessToken != "static" {
			t.Fatalf("want static, got %q", tok.AccessToken)
		}
		clock = clock.Add(1000 * time.Hour)
	}
	if src.Calls() != 1 {
		t.Fatalf("want one fetch ever, got %d", src.Calls())
	}
}

func TestAuthenticator_SingleFlight(t *testing.T) {
	ctx := context.Background()
	src := &gateSource{release: make(chan struct{}), tok: testToken("shared", time.Time{})}
	a := NewAuthenticator(src, WithLogger(quietLogger()))

	const workers = 10
	results := make(chan string, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := a.Token(ctx)
			if err != nil {
				errs <- err
				return
			}
			results <- tok.AccessToken
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("token: %v", err)
	}
	n := 0
	for got := range results {
		n++
		if got != "shared" {
			t.Fatalf("want shared, got %q", got)
		}
	}
	if n != workers {
		t.Fatalf("want %d results, got %d", workers, n)
	}
	if src.Calls() != 1 {
		t.Fatalf("want one fetch for all callers, got %d", src.Calls())
	}
}

func TestAuthenticator_FetchErrorPropagates(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	src := authtest.NewSource(testToken("ok", time.Time{}))
	src.FailWith(boom)
	a := NewAuthenticator(src, WithLogger(quietLogger()))

	if _, err := a.Token(ctx); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	// A failed fetch leaves no cached state behind; the next call retries.
	src.FailWith(nil)
	tok, err := a.Token(ctx)
	if err != nil {
		t.Fatalf("token after failure: %v", err)
	}
	if tok.AccessToken != "ok" || src.Calls() != 2 {
		t.Fatalf("want ok after 2 fetches, got %q after %d", tok.AccessToken, src.Calls())
	}
}

func TestAuthenticator_CancelledFetchRecovers(t *testing.T) {
	src := &gateSource{release: make(chan struct{}), tok: testToken("fresh", time.Time{})}
	a := NewAuthenticator(src, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := a.Token(ctx)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	close(src.release)
	tok, err := a.Token(context.Background())
	if err != nil {
		t.Fatalf("token after cancel: %v", err)
	}
	if tok.AccessToken != "fresh" {
		t.Fatalf("want fresh, got %q", tok.AccessToken)
	}
	if src.Calls() != 2 {
		t.Fatalf("want 2 fetches, got %d", src.Calls())
	}
}

func TestAuthenticator_StoreReadThrough(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if err := store.Put(ctx, "k", testToken("cached", time.Now().Add(2*time.Hour))); err != nil {
		t.Fatalf("put: %v", err)
	}
	src := authtest.NewSource()
	a := NewAuthenticator(src, WithStore(store, "k"), WithLogger(quietLogger()))

	tok, err := a.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "cached" {
		t.Fatalf("want cached, got %q", tok.AccessToken)
	}
	if src.Calls() != 0 {
		t.Fatalf("source consulted despite stored token: %d calls", src.Calls())
	}
}

func TestAuthenticator_StoreStaleTriggersFetch(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	// 30 seconds of validity left is inside the default margin.
	if err := store.Put(ctx, "k", testToken("stale", time.Now().Add(30*time.Second))); err != nil {
		t.Fatalf("put: %v", err)
	}
	src := authtest.NewSource(testToken("fresh", time.Now().Add(2*time.Hour)))
	a := NewAuthenticator(src, WithStore(store, "k"), WithLogger(quietLogger()))

	tok, err := a.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "fresh" || src.Calls() != 1 {
		t.Fatalf("want fresh from source, got %q after %d fetches", tok.AccessToken, src.Calls())
	}

	// The replacement was written through.
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.AccessToken != "fresh" {
		t.Fatalf("want fresh persisted, got %+v", got)
	}
}

func TestAuthenticator_StoreFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	src := authtest.NewSource(testToken("direct", time.Now().Add(2*time.Hour)))
	a := NewAuthenticator(src, WithStore(failingStore{}, "k"), WithLogger(quietLogger()))

	tok, err := a.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "direct" {
		t.Fatalf("want direct, got %q", tok.AccessToken)
	}
}

func TestAuthenticator_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := authtest.NewSource(
		testToken("first", time.Now().Add(2*time.Hour)),
		testToken("second", time.Now().Add(2*time.Hour)),
	)
	a := NewAuthenticator(src, WithStore(store, "k"), WithLogger(quietLogger()))

	if _, err := a.Token(ctx); err != nil {
		t.Fatalf("token: %v", err)
	}
	a.Invalidate(ctx)

	if got, err := store.Get(ctx, "k"); err != nil || got != nil {
		t.Fatalf("stored token survived invalidate: %+v, %v", got, err)
	}
	tok, err := a.Token(ctx)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "second" || src.Calls() != 2 {
		t.Fatalf("want second after refetch, got %q after %d fetches", tok.AccessToken, src.Calls())
	}
}
