package policy

import (
	"testing"
	"time"

	"document-retry-scheduler/internal/config"
	"document-retry-scheduler/internal/models"
)

func testConfig() config.Config {
	cfg := config.Load()
	cfg.BaseDelay = 30 * time.Second
	cfg.MaxDelay = time.Hour
	cfg.Multiplier = 2
	cfg.JitterFraction = 0.25
	return cfg
}

// midRand yields zero jitter offset.
func midRand() float64 { return 0.5 }

func TestBaseDelayMonotonicAndCapped(t *testing.T) {
	p := New(testConfig(), WithRand(midRand))

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := p.BaseDelay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", attempt, d, prev)
		}
		if d > time.Hour {
			t.Fatalf("delay exceeds cap at attempt %d: %s", attempt, d)
		}
		prev = d
	}
	if got := p.BaseDelay(0); got != 30*time.Second {
		t.Fatalf("attempt 0 should wait one base delay, got %s", got)
	}
	if got := p.BaseDelay(2); got != 2*time.Minute {
		t.Fatalf("attempt 2 expected 2m got %s", got)
	}
	if got := p.BaseDelay(50); got != time.Hour {
		t.Fatalf("large attempt should hit the cap, got %s", got)
	}
}

func TestNextDelayJitterBounds(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		p := New(testConfig(), WithRand(func() float64 { return r }))
		base := p.BaseDelay(3)
		lo := time.Duration(float64(base) * 0.75)
		hi := time.Duration(float64(base) * 1.25)
		got := p.NextDelay(3)
		if got < lo || got > hi {
			t.Fatalf("rand=%v: jittered delay %s outside [%s, %s]", r, got, lo, hi)
		}
	}
}

func TestNextDelayZeroJitterIsExact(t *testing.T) {
	p := New(testConfig(), WithRand(midRand))
	if got := p.NextDelay(0); got != 30*time.Second {
		t.Fatalf("expected exact base delay with neutral rand, got %s", got)
	}
}

func TestMaxAttemptsDefaults(t *testing.T) {
	p := New(testConfig())

	if got := p.MaxAttempts(models.CategoryIO); got != 5 {
		t.Fatalf("io budget = %d, want 5", got)
	}
	if got := p.MaxAttempts(models.CategoryFormat); got != 1 {
		t.Fatalf("format budget = %d, want 1", got)
	}
	if got := p.MaxAttempts(models.ErrorCategory("made-up")); got != 2 {
		t.Fatalf("unknown category budget = %d, want fallback 2", got)
	}
}

func TestShouldRetryBudget(t *testing.T) {
	p := New(testConfig())

	for attempts := 0; attempts < 5; attempts++ {
		if !p.ShouldRetry(attempts, models.CategoryIO) {
			t.Fatalf("io attempt %d should be retryable", attempts)
		}
	}
	if p.ShouldRetry(5, models.CategoryIO) {
		t.Fatal("io should be exhausted at 5 attempts")
	}
	if p.ShouldRetry(1, models.CategoryFormat) {
		t.Fatal("format should be exhausted after a single attempt")
	}
}

func TestNextRetryAt(t *testing.T) {
	p := New(testConfig(), WithRand(midRand))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if got, want := p.NextRetryAt(now, 0), now.Add(30*time.Second); !got.Equal(want) {
		t.Fatalf("NextRetryAt = %s, want %s", got, want)
	}
}

func TestPhaseTimeout(t *testing.T) {
	p := New(testConfig())
	if got := p.PhaseTimeout(models.PhaseIndex); got != 10*time.Minute {
		t.Fatalf("index timeout = %s, want 10m", got)
	}
	if got := p.PhaseTimeout(models.Phase("nope")); got != 5*time.Minute {
		t.Fatalf("unknown phase should default to 5m, got %s", got)
	}
}
