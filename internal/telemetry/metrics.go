package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RetryScheduled  = prometheus.NewCounter(prometheus.CounterOpts{Name: "retry_scheduled_total", Help: "Failures registered for retry"})
	RetrySubmitted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "retry_submitted_total", Help: "Items re-submitted to the pipeline"})
	RetryExhausted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "retry_exhausted_total", Help: "Items that ran out of retry budget"})
	ResetFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "retry_status_reset_failures_total", Help: "Status resets that failed during a cycle"})
	CleanupRemoved  = prometheus.NewCounter(prometheus.CounterOpts{Name: "retry_cleanup_removed_total", Help: "Stale retry entries removed by cleanup"})
	TrackedGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "retry_tracked", Help: "Items currently tracked for retry"})
	ReadyGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "retry_ready", Help: "Items currently ready for re-submission"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RetryScheduled,
			RetrySubmitted,
			RetryExhausted,
			ResetFailures,
			CleanupRemoved,
			TrackedGauge,
			ReadyGauge,
		)
	})
	return promhttp.Handler()
}
