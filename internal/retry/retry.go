// Package retry is a self-contained wrapper for call sites that need local
// resilience without joining the document-level retry bookkeeping: no
// registry, no persisted state, just the shared backoff formula around a
// single call.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config mirrors the policy backoff parameters for a single call site.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay, ±
}

// DefaultConfig suits a single flaky outbound call.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      0.25,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	return c
}

func (c Config) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * c.Jitter * d
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do runs op up to MaxAttempts times, waiting an exponentially growing,
// jittered delay between attempts. The wait is a timer raced against the
// context, so cancellation interrupts it mid-delay. The last error is
// returned once attempts run out.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	cfg = cfg.normalized()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
