package driver

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"document-retry-scheduler/internal/config"
	"document-retry-scheduler/internal/ratelimit"
	"document-retry-scheduler/internal/registry"
	"document-retry-scheduler/internal/telemetry"
)

// StatusStore is the slice of the external processing-status store the
// driver needs: reset before re-submission, terminal marking on exhaustion.
type StatusStore interface {
	Reset(ctx context.Context, key string) error
	MarkTerminal(ctx context.Context, key, reason string) error
}

// Submitter hands an item back to the execution pipeline. It must tolerate
// being invoked more than once for the same item.
type Submitter interface {
	Submit(ctx context.Context, key string) (bool, error)
}

// CycleSummary reports what one retry cycle did.
type CycleSummary struct {
	Retried    int `json:"retried"`
	StillReady int `json:"still_ready"`
}

// Driver periodically pulls ready items from the registry, resets their
// processing status, and re-submits them. Scheduling-infrastructure failures
// never consume an item's attempt budget; the item simply stays for the next
// cycle.
type Driver struct {
	registry *registry.Registry
	status   StatusStore
	queue    Submitter
	throttle *ratelimit.Throttle

	cycleInterval   time.Duration
	cleanupAge      time.Duration
	cleanupInterval time.Duration

	log *slog.Logger
}

// New wires a driver from config and collaborators. throttle may be nil.
func New(cfg config.Config, reg *registry.Registry, status StatusStore, queue Submitter, throttle *ratelimit.Throttle, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		registry:        reg,
		status:          status,
		queue:           queue,
		throttle:        throttle,
		cycleInterval:   cfg.CycleInterval,
		cleanupAge:      cfg.CleanupAge,
		cleanupInterval: cfg.CleanupInterval,
		log:             log,
	}
}

// RunCycle performs a single retry pass: record freshly exhausted items as
// terminal, then reset and re-submit every ready item at most once.
func (d *Driver) RunCycle(ctx context.Context) (CycleSummary, error) {
	cycleID := uuid.NewString()[:8]
	now := time.Now()
	log := d.log.With("cycle", cycleID)

	// Pick up registrations written to the shared store by other processes.
	if err := d.registry.Refresh(ctx); err != nil {
		log.Warn("refresh retry state failed, using in-memory view", "error", err)
	}

	for _, key := range d.registry.NewlyExhausted() {
		if err := d.status.MarkTerminal(ctx, key, "retry budget exhausted"); err != nil {
			log.Error("mark terminal failed", "key", key, "error", err)
			continue
		}
		d.registry.ConfirmTerminal(ctx, key)
		log.Warn("item terminally failed", "key", key)
	}

	items := d.registry.Ready(ctx, now)
	retried := 0
	for _, key := range items {
		if d.throttle != nil {
			allowed, err := d.throttle.Allow(ctx, "cycle")
			if err != nil {
				log.Warn("throttle check failed", "key", key, "error", err)
			} else if !allowed {
				log.Info("submission throttled, deferring remainder", "remaining", len(items)-retried)
				break
			}
		}

		if err := d.status.Reset(ctx, key); err != nil {
			// Leave the registry entry untouched; next cycle tries again.
			telemetry.ResetFailures.Inc()
			log.Error("status reset failed", "key", key, "error", err)
			continue
		}
		enqueued, err := d.queue.Submit(ctx, key)
		if err != nil {
			log.Error("submit failed", "key", key, "error", err)
			continue
		}
		if !enqueued {
			log.Info("item already pending in queue", "key", key)
			continue
		}
		telemetry.RetrySubmitted.Inc()
		retried++
		log.Info("item re-submitted", "key", key)
	}

	stats := d.registry.Stats(ctx, time.Now())
	telemetry.TrackedGauge.Set(float64(stats.Tracked))
	telemetry.ReadyGauge.Set(float64(stats.Ready))

	summary := CycleSummary{Retried: retried, StillReady: stats.Ready}
	log.Info("retry cycle complete",
		"retried", summary.Retried,
		"still_ready", summary.StillReady,
		"tracked", stats.Tracked,
		"exhausted", stats.Exhausted)
	return summary, nil
}

// Run executes retry cycles and stale-state cleanup on their configured
// intervals until the context is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	cycle := time.NewTicker(d.cycleInterval)
	defer cycle.Stop()
	cleanup := time.NewTicker(d.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cycle.C:
			if _, err := d.RunCycle(ctx); err != nil {
				d.log.Error("retry cycle failed", "error", err)
			}
		case <-cleanup.C:
			removed := d.registry.Cleanup(ctx, d.cleanupAge)
			if removed > 0 {
				d.log.Info("cleanup removed stale entries", "removed", removed)
			}
		}
	}
}
