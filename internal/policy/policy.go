package policy

import (
	"math"
	"math/rand"
	"time"

	"document-retry-scheduler/internal/config"
	"document-retry-scheduler/internal/models"
)

// defaultMaxAttempts applies when a category has no configured budget.
const defaultMaxAttempts = 2

// Policy is the process-wide, read-only retry configuration: per-category
// attempt budgets, backoff parameters, and per-phase timeouts. Built once at
// startup and never mutated.
type Policy struct {
	maxAttempts    map[models.ErrorCategory]int
	baseDelay      time.Duration
	maxDelay       time.Duration
	multiplier     float64
	jitterFraction float64
	phaseTimeouts  map[models.Phase]time.Duration
	randFloat      func() float64 // uniform [0,1)
}

// Option customizes a Policy.
type Option func(*Policy)

// WithRand replaces the jitter randomness source. Tests use this to make
// backoff deterministic; 0.5 yields zero jitter.
func WithRand(f func() float64) Option {
	return func(p *Policy) {
		p.randFloat = f
	}
}

// New builds a Policy from config.
func New(cfg config.Config, opts ...Option) *Policy {
	p := &Policy{
		maxAttempts:    cfg.MaxAttemptsByCategory,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		multiplier:     cfg.Multiplier,
		jitterFraction: cfg.JitterFraction,
		phaseTimeouts:  cfg.PhaseTimeouts,
		randFloat:      rand.Float64,
	}
	if p.maxAttempts == nil {
		p.maxAttempts = map[models.ErrorCategory]int{}
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 30 * time.Second
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	if p.multiplier < 1 {
		p.multiplier = 2
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the retry budget for a category. Unknown categories get
// a small default budget rather than an error.
func (p *Policy) MaxAttempts(category models.ErrorCategory) int {
	if n, ok := p.maxAttempts[category]; ok && n > 0 {
		return n
	}
	return defaultMaxAttempts
}

// ShouldRetry reports whether an item with the given attempt count still has
// budget left for its category.
func (p *Policy) ShouldRetry(attempts int, category models.ErrorCategory) bool {
	return attempts < p.MaxAttempts(category)
}

// BaseDelay returns the pre-jitter delay for a zero-based retry attempt,
// capped at the configured maximum. Attempt 0 still waits a full base delay;
// the first retry is deliberately not immediate.
func (p *Policy) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt))
	if d > float64(p.maxDelay) {
		d = float64(p.maxDelay)
	}
	return time.Duration(d)
}

// NextDelay returns the jittered delay for a zero-based retry attempt. The
// jitter is uniform in ±jitterFraction of the pre-jitter delay, so many items
// failing together do not wake up together.
func (p *Policy) NextDelay(attempt int) time.Duration {
	d := float64(p.BaseDelay(attempt))
	if p.jitterFraction > 0 {
		offset := (p.randFloat()*2 - 1) * p.jitterFraction * d
		d += offset
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// NextRetryAt computes when the given attempt should run.
func (p *Policy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(p.NextDelay(attempt))
}

// PhaseTimeout returns the processing timeout published for a pipeline phase.
func (p *Policy) PhaseTimeout(phase models.Phase) time.Duration {
	if d, ok := p.phaseTimeouts[phase]; ok && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// Snapshot is the serializable view of the policy for callers.
type Snapshot struct {
	MaxAttempts   map[models.ErrorCategory]int     `json:"max_attempts"`
	BaseDelay     string                           `json:"base_delay"`
	MaxDelay      string                           `json:"max_delay"`
	Multiplier    float64                          `json:"multiplier"`
	Jitter        float64                          `json:"jitter_fraction"`
	PhaseTimeouts map[models.Phase]string          `json:"phase_timeouts"`
}

// Snapshot exposes the effective configuration, e.g. for the policy endpoint.
func (p *Policy) Snapshot() Snapshot {
	budgets := make(map[models.ErrorCategory]int, len(models.Categories))
	for _, c := range models.Categories {
		budgets[c] = p.MaxAttempts(c)
	}
	timeouts := make(map[models.Phase]string, len(p.phaseTimeouts))
	for ph, d := range p.phaseTimeouts {
		timeouts[ph] = d.String()
	}
	return Snapshot{
		MaxAttempts:   budgets,
		BaseDelay:     p.baseDelay.String(),
		MaxDelay:      p.maxDelay.String(),
		Multiplier:    p.multiplier,
		Jitter:        p.jitterFraction,
		PhaseTimeouts: timeouts,
	}
}
