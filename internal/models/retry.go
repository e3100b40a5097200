package models

import (
	"time"
)

// ErrorCategory classifies the cause of a processing failure. The category
// decides how many retry attempts an item is granted.
type ErrorCategory string

const (
	CategoryIO         ErrorCategory = "io"
	CategoryConnection ErrorCategory = "connection"
	CategoryAPI        ErrorCategory = "api"
	CategoryFormat     ErrorCategory = "format"
	CategoryIndexing   ErrorCategory = "indexing"
	CategoryArchiving  ErrorCategory = "archiving"
	CategoryPermission ErrorCategory = "permission"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryValidation ErrorCategory = "validation"
	CategoryUnknown    ErrorCategory = "unknown"
)

// Categories lists every known category.
var Categories = []ErrorCategory{
	CategoryIO,
	CategoryConnection,
	CategoryAPI,
	CategoryFormat,
	CategoryIndexing,
	CategoryArchiving,
	CategoryPermission,
	CategoryTimeout,
	CategoryValidation,
	CategoryUnknown,
}

// ParseCategory maps a string onto a known category, falling back to unknown.
func ParseCategory(s string) ErrorCategory {
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return CategoryUnknown
}

// ErrorSeverity grades a failure for alerting. It never influences retry
// scheduling.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// Phase identifies a stage of the document processing pipeline.
type Phase string

const (
	PhaseScan     Phase = "scan"
	PhaseExtract  Phase = "extract"
	PhaseIndex    Phase = "index"
	PhaseArchive  Phase = "archive"
	PhaseFinalize Phase = "finalize"
)

// Processing states persisted in the external document status store.
const (
	StatusPending    = "pending"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
	StatusCompleted  = "completed"
	StatusTerminal   = "terminal"
)

// RetryInfo is a read-only snapshot of one item's retry bookkeeping.
type RetryInfo struct {
	Key           string        `json:"key"`
	Category      ErrorCategory `json:"category"`
	Attempts      int           `json:"attempts"`
	MaxAttempts   int           `json:"max_attempts"`
	LastAttemptAt time.Time     `json:"last_attempt_at"`
	NextRetryAt   *time.Time    `json:"next_retry_at,omitempty"`
	Eligible      bool          `json:"eligible"`
}

// RetryStats summarizes the registry for dashboards and metrics.
type RetryStats struct {
	Tracked   int `json:"total_tracked"`
	Ready     int `json:"total_ready"`
	Exhausted int `json:"total_exhausted"`
}

// DocumentStatus is a row from the external processing status store.
type DocumentStatus struct {
	Key       string    `json:"key"`
	State     string    `json:"state"`
	Phase     Phase     `json:"phase"`
	LastError *string   `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
