package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

// Requires a reachable server; set CHATD_TEST_REDIS_URI to run.
func TestCacheRoundTrip(t *testing.T) {
	uri := os.Getenv("CHATD_TEST_REDIS_URI")
	if uri == "" {
		t.Skip("CHATD_TEST_REDIS_URI not set")
	}
	ctx := context.Background()
	c, err := Dial(ctx, uri, "chatd-test:")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := c.Set(ctx, "openrouter-u1", "sealed", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := c.Get(ctx, "openrouter-u1")
	if err != nil || !ok || v != "sealed" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if err := c.Delete(ctx, "openrouter-u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestDialRejectsBadURI(t *testing.T) {
	if _, err := Dial(context.Background(), "://nope", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}
