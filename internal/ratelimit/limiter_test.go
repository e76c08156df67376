package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func frozenStore(at time.Time) *MemoryStore {
	s := NewMemoryStoreWithCleanup(0)
	s.now = func() time.Time { return at }
	return s
}

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(Config{Store: frozenStore(time.Now()), RequestsPerSecond: 1, BurstSize: 3})
	defer limiter.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, "alice") {
			t.Errorf("request %d should be allowed", i)
		}
	}
	if limiter.Allow(ctx, "alice") {
		t.Error("4th request should be denied")
	}
	if !limiter.Allow(ctx, "bob") {
		t.Error("different user should be allowed")
	}
}

func TestLimiter_Refill(t *testing.T) {
	now := time.Now()
	store := frozenStore(now)
	limiter := NewLimiter(Config{Store: store, RequestsPerSecond: 2, BurstSize: 2})
	ctx := context.Background()

	limiter.Allow(ctx, "alice")
	limiter.Allow(ctx, "alice")
	if limiter.Allow(ctx, "alice") {
		t.Fatal("bucket should be empty")
	}
	store.now = func() time.Time { return now.Add(600 * time.Millisecond) }
	if !limiter.Allow(ctx, "alice") {
		t.Fatal("bucket should have refilled one token")
	}
}

func TestLimiter_RemainingAndReset(t *testing.T) {
	limiter := NewLimiter(Config{Store: frozenStore(time.Now()), RequestsPerSecond: 1, BurstSize: 10})
	ctx := context.Background()

	if got := limiter.Remaining(ctx, "alice"); got != 10 {
		t.Fatalf("expected 10 remaining, got %f", got)
	}
	for i := 0; i < 4; i++ {
		limiter.Allow(ctx, "alice")
	}
	if got := limiter.Remaining(ctx, "alice"); got != 6 {
		t.Fatalf("expected 6 remaining, got %f", got)
	}
	if got := limiter.ResetAfter(6); got != 4*time.Second {
		t.Fatalf("reset after = %v", got)
	}
	if err := limiter.Reset(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if got := limiter.Remaining(ctx, "alice"); got != 10 {
		t.Fatalf("expected full bucket after reset, got %f", got)
	}
}

func TestLimiter_EmptyUser(t *testing.T) {
	limiter := NewLimiter(DefaultConfig())
	defer limiter.Close()
	for i := 0; i < 100; i++ {
		if !limiter.Allow(context.Background(), "") {
			t.Fatal("anonymous requests are not limited")
		}
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	now := time.Now()
	store := frozenStore(now)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		store.Allow(ctx, k, 5, 1)
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 buckets, got %d", store.Len())
	}
	store.now = func() time.Time { return now.Add(10 * time.Second) }
	store.cleanup()
	if store.Len() != 0 {
		t.Fatalf("expected refilled buckets to be dropped, got %d", store.Len())
	}
}

func TestMiddleware_Headers(t *testing.T) {
	limiter := NewLimiter(Config{Store: frozenStore(time.Now()), RequestsPerSecond: 1, BurstSize: 1})
	var rejected []string
	mw := NewMiddleware(limiter, true, func(r *http.Request) string { return r.Header.Get("X-User") }, nil)
	mw.OnReject(func(u string) { rejected = append(rejected, u) })
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/completions/prompt/c1", nil)
		req.Header.Set("X-User", "alice")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	if first.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" || first.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected headers: %v", first.Header())
	}
	if first.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("expected reset header on a drained bucket")
	}

	second := do()
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.Code)
	}
	if len(rejected) != 1 || rejected[0] != "alice" {
		t.Fatalf("rejections = %v", rejected)
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	mw := NewMiddleware(nil, false, nil, nil)
	called := false
	mw.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("disabled middleware must pass through")
	}
}

func TestRedisStore(t *testing.T) {
	uri := os.Getenv("CHATD_TEST_REDIS_URI")
	if uri == "" {
		t.Skip("CHATD_TEST_REDIS_URI not set")
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatal(err)
	}
	client := goredis.NewClient(opts)
	defer client.Close()

	store := NewRedisStore(client, "chatd-test:ratelimit:")
	ctx := context.Background()
	key := "user:" + time.Now().Format(time.RFC3339Nano)
	defer store.Reset(ctx, key)

	for i := 0; i < 2; i++ {
		ok, _, err := store.Allow(ctx, key, 2, 0.01)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, remaining, err := store.Allow(ctx, key, 2, 0.01)
	if err != nil || ok {
		t.Fatalf("third request: ok=%v err=%v", ok, err)
	}
	if remaining >= 1 {
		t.Fatalf("remaining = %f", remaining)
	}
}
