package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestThrottleCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	throttle := NewThrottle(client, 2, 1, time.Minute)

	allowed, err := throttle.Allow(ctx, "cycle")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _ = throttle.Allow(ctx, "cycle")
	if !allowed {
		t.Fatal("expected second token allowed")
	}
	allowed, _ = throttle.Allow(ctx, "cycle")
	if allowed {
		t.Fatal("expected third token to be rejected")
	}

	// Scopes are independent buckets.
	allowed, _ = throttle.Allow(ctx, "api")
	if !allowed {
		t.Fatal("expected fresh scope to have tokens")
	}

	// Note: refill cannot be tested via miniredis.FastForward because the Lua
	// script takes its clock from Go's time.Now, not Redis.
}

func TestParseAllowed(t *testing.T) {
	if allowed, err := parseAllowed(int64(1)); err != nil || !allowed {
		t.Fatalf("parseAllowed(1) = %v, %v", allowed, err)
	}
	if allowed, err := parseAllowed(int64(0)); err != nil || allowed {
		t.Fatalf("parseAllowed(0) = %v, %v", allowed, err)
	}
	// A malformed script result must surface as an error, not as a silent
	// rate-limit.
	if _, err := parseAllowed("nope"); err == nil {
		t.Fatal("expected an error for a non-integer script result")
	}
}
