package registry

import (
	"time"

	"document-retry-scheduler/internal/models"
)

// State is the per-item retry record. NextRetryAt is always derived from
// Attempts and Category through the policy backoff; it is never set directly.
// A zero NextRetryAt means the item has exhausted its budget.
type State struct {
	Key              string               `json:"key"`
	Category         models.ErrorCategory `json:"category"`
	Attempts         int                  `json:"attempts"`
	LastAttemptAt    time.Time            `json:"last_attempt_at"`
	NextRetryAt      time.Time            `json:"next_retry_at"`
	TerminalRecorded bool                 `json:"terminal_recorded,omitempty"`
}

func (s *State) clone() State {
	return *s
}
