package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"document-retry-scheduler/internal/models"
	"document-retry-scheduler/internal/policy"
	"document-retry-scheduler/internal/telemetry"
)

var (
	// ErrInvalidKey is returned for empty item keys.
	ErrInvalidKey = errors.New("invalid item key")
	// ErrNotFound is returned when an item is not tracked.
	ErrNotFound = errors.New("item not tracked for retry")
)

// InFlightFunc reports whether the item's external processing status is
// currently processing or queued. Items in flight are never returned as ready.
type InFlightFunc func(ctx context.Context, key string) (bool, error)

// StateStore persists retry state so it survives restarts. The registry
// writes through on every mutation; the in-memory map stays authoritative.
type StateStore interface {
	Load(ctx context.Context) ([]State, error)
	Save(ctx context.Context, st State) error
	Delete(ctx context.Context, key string) error
}

// Registry owns retry scheduling state for failing items. It is safe for
// concurrent use; a single mutex keeps every read-modify-write on an item
// atomic. The external processing status store is consulted only through the
// injected InFlightFunc.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*State

	policy   *policy.Policy
	inFlight InFlightFunc
	store    StateStore
	log      *slog.Logger
	now      func() time.Time
}

// Option customizes a Registry.
type Option func(*Registry)

// WithStore attaches a durable state store.
func WithStore(s StateStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithNow overrides the clock used for attempt timestamps.
func WithNow(f func() time.Time) Option {
	return func(r *Registry) { r.now = f }
}

// New builds a registry. inFlight may be nil, in which case no item is ever
// considered in flight.
func New(p *policy.Policy, inFlight InFlightFunc, opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]*State),
		policy:   p,
		inFlight: inFlight,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore loads persisted state from the attached store at startup. No-op
// without a store.
func (r *Registry) Restore(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		return err
	}
	r.mu.RLock()
	n := len(r.entries)
	r.mu.RUnlock()
	r.log.Info("retry state restored", "entries", n)
	return nil
}

// Refresh replaces the in-memory entries with the persisted state. Every
// mutation writes through, so a registry sharing its store with another
// process (registrations arriving in the API, cycles running in the
// scheduler) sees the other's writes and deletes after a refresh. No-op
// without a store.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	states, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("refresh retry state: %w", err)
	}
	entries := make(map[string]*State, len(states))
	for _, st := range states {
		cp := st
		entries[st.Key] = &cp
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// Register records a failure for an item. New items start at one attempt;
// known items have their attempt count incremented and their category updated
// to the latest observed failure cause. The next retry time is recomputed
// from the policy. It returns true when another retry was scheduled and false
// when the item's budget is exhausted.
func (r *Registry) Register(ctx context.Context, key string, category models.ErrorCategory) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("register for retry: %w", ErrInvalidKey)
	}
	now := r.now()

	r.mu.Lock()
	st, exists := r.entries[key]
	eligibleBefore := true
	if exists {
		eligibleBefore = r.policy.ShouldRetry(st.Attempts, st.Category)
		st.Attempts++
		st.Category = category
	} else {
		st = &State{Key: key, Category: category, Attempts: 1}
		r.entries[key] = st
	}
	st.LastAttemptAt = now
	st.TerminalRecorded = false

	scheduled := r.policy.ShouldRetry(st.Attempts, category)
	if scheduled {
		// Attempt count is 1-based; the backoff exponent is 0-based so the
		// first retry waits one base delay.
		st.NextRetryAt = r.policy.NextRetryAt(now, st.Attempts-1)
	} else {
		st.NextRetryAt = time.Time{}
	}
	snapshot := st.clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	telemetry.RetryScheduled.Inc()

	if scheduled {
		r.log.Info("retry scheduled",
			"key", key,
			"category", category,
			"attempt", snapshot.Attempts,
			"max_attempts", r.policy.MaxAttempts(category),
			"next_retry_at", snapshot.NextRetryAt)
	} else {
		if eligibleBefore {
			telemetry.RetryExhausted.Inc()
		}
		r.log.Warn("retry budget exhausted",
			"key", key,
			"category", category,
			"attempts", snapshot.Attempts,
			"max_attempts", r.policy.MaxAttempts(category))
	}
	return scheduled, nil
}

// Ready returns the keys of all items whose budget allows another attempt,
// whose timer has elapsed, and whose external status is not in flight.
// Order is unspecified.
func (r *Registry) Ready(ctx context.Context, now time.Time) []string {
	r.mu.RLock()
	candidates := make([]string, 0)
	for key, st := range r.entries {
		if !r.policy.ShouldRetry(st.Attempts, st.Category) {
			continue
		}
		if st.NextRetryAt.IsZero() || now.Before(st.NextRetryAt) {
			continue
		}
		candidates = append(candidates, key)
	}
	r.mu.RUnlock()

	if r.inFlight == nil {
		return candidates
	}
	ready := candidates[:0]
	for _, key := range candidates {
		inFlight, err := r.inFlight(ctx, key)
		if err != nil {
			// Can't prove the item is idle; keep it for the next cycle.
			r.log.Warn("in-flight check failed", "key", key, "error", err)
			continue
		}
		if inFlight {
			continue
		}
		ready = append(ready, key)
	}
	return ready
}

// Info returns a read-only snapshot for one item.
func (r *Registry) Info(key string) (models.RetryInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.entries[key]
	if !ok {
		return models.RetryInfo{}, false
	}
	return r.infoLocked(st), true
}

func (r *Registry) infoLocked(st *State) models.RetryInfo {
	info := models.RetryInfo{
		Key:           st.Key,
		Category:      st.Category,
		Attempts:      st.Attempts,
		MaxAttempts:   r.policy.MaxAttempts(st.Category),
		LastAttemptAt: st.LastAttemptAt,
		Eligible:      r.policy.ShouldRetry(st.Attempts, st.Category),
	}
	if !st.NextRetryAt.IsZero() {
		t := st.NextRetryAt
		info.NextRetryAt = &t
	}
	return info
}

// Stats summarizes the registry, including how many items are ready right now.
func (r *Registry) Stats(ctx context.Context, now time.Time) models.RetryStats {
	ready := len(r.Ready(ctx, now))
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := models.RetryStats{Tracked: len(r.entries), Ready: ready}
	for _, st := range r.entries {
		if !r.policy.ShouldRetry(st.Attempts, st.Category) {
			stats.Exhausted++
		}
	}
	return stats
}

// Snapshot returns up to limit entries sorted by key, for dashboards.
func (r *Registry) Snapshot(limit int) []models.RetryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]models.RetryInfo, 0, len(keys))
	for _, key := range keys {
		out = append(out, r.infoLocked(r.entries[key]))
	}
	return out
}

// Resolve removes an item after successful reprocessing. It reports whether
// the item was tracked.
func (r *Registry) Resolve(ctx context.Context, key string) bool {
	r.mu.Lock()
	_, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if ok {
		r.remove(ctx, key)
		r.log.Info("retry resolved", "key", key)
	}
	return ok
}

// Acknowledge removes an item from tracking at an operator's request,
// regardless of its exhaustion state.
func (r *Registry) Acknowledge(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("acknowledge: %w", ErrInvalidKey)
	}
	r.mu.Lock()
	_, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("acknowledge %q: %w", key, ErrNotFound)
	}
	r.remove(ctx, key)
	r.log.Info("retry acknowledged", "key", key)
	return nil
}

// Cleanup removes entries whose last attempt is older than maxAge, exhausted
// or not, and returns how many were removed. Running it twice in a row
// removes nothing the second time.
func (r *Registry) Cleanup(ctx context.Context, maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	removed := make([]string, 0)
	for key, st := range r.entries {
		if st.LastAttemptAt.Before(cutoff) {
			delete(r.entries, key)
			removed = append(removed, key)
		}
	}
	r.mu.Unlock()

	for _, key := range removed {
		r.remove(ctx, key)
		r.log.Info("stale retry state removed", "key", key)
	}
	telemetry.CleanupRemoved.Add(float64(len(removed)))
	return len(removed)
}

// NewlyExhausted lists exhausted items whose terminal failure has not been
// recorded in the external status store yet.
func (r *Registry) NewlyExhausted() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0)
	for key, st := range r.entries {
		if st.TerminalRecorded {
			continue
		}
		if !r.policy.ShouldRetry(st.Attempts, st.Category) {
			keys = append(keys, key)
		}
	}
	return keys
}

// ConfirmTerminal marks an exhausted item as recorded so the terminal status
// write happens at most once.
func (r *Registry) ConfirmTerminal(ctx context.Context, key string) {
	r.mu.Lock()
	st, ok := r.entries[key]
	var snapshot State
	if ok {
		st.TerminalRecorded = true
		snapshot = st.clone()
	}
	r.mu.Unlock()
	if ok {
		r.persist(ctx, snapshot)
	}
}

func (r *Registry) persist(ctx context.Context, st State) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, st); err != nil {
		r.log.Warn("persist retry state failed", "key", st.Key, "error", err)
	}
}

func (r *Registry) remove(ctx context.Context, key string) {
	if r.store == nil {
		return
	}
	if err := r.store.Delete(ctx, key); err != nil {
		r.log.Warn("delete retry state failed", "key", key, "error", err)
	}
}
