package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"document-retry-scheduler/internal/models"
)

// Store wraps pgxpool for the document processing status table. It is the
// pipeline's source of truth for an item's substantive state; the retry
// registry only reads it through IsInFlight and resets it before
// re-submission.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS document_status (
	file_name  TEXT PRIMARY KEY,
	state      TEXT NOT NULL DEFAULT 'pending',
	phase      TEXT NOT NULL DEFAULT 'scan',
	last_error TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_document_status_state ON document_status (state);
`

// EnsureSchema creates the status table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure document_status schema: %w", err)
	}
	return nil
}

// Upsert records the current state of a document, typically called by
// pipeline workers on every transition.
func (s *Store) Upsert(ctx context.Context, key, state string, phase models.Phase, lastError *string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_status (file_name, state, phase, last_error, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (file_name) DO UPDATE
		SET state = $2, phase = $3, last_error = $4, updated_at = NOW()
	`, key, state, phase, lastError)
	if err != nil {
		return fmt.Errorf("upsert document status: %w", err)
	}
	return nil
}

// Get fetches the status row for a document.
func (s *Store) Get(ctx context.Context, key string) (models.DocumentStatus, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT file_name, state, phase, last_error, updated_at
		FROM document_status WHERE file_name = $1
	`, key)

	var st models.DocumentStatus
	var lastErr pgtype.Text
	if err := row.Scan(&st.Key, &st.State, &st.Phase, &lastErr, &st.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DocumentStatus{}, false, nil
		}
		return models.DocumentStatus{}, false, fmt.Errorf("scan document status: %w", err)
	}
	if lastErr.Valid {
		st.LastError = &lastErr.String
	}
	return st, true, nil
}

// IsInFlight reports whether the document is currently processing or queued.
// Unknown documents are not in flight.
func (s *Store) IsInFlight(ctx context.Context, key string) (bool, error) {
	var state string
	err := s.pool.QueryRow(ctx, `
		SELECT state FROM document_status WHERE file_name = $1
	`, key).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query document status: %w", err)
	}
	return state == models.StatusProcessing || state == models.StatusQueued, nil
}

// Reset clears a document back to pending so the pipeline will accept it
// again. Documents with no row yet get one.
func (s *Store) Reset(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_status (file_name, state, last_error, updated_at)
		VALUES ($1, $2, NULL, NOW())
		ON CONFLICT (file_name) DO UPDATE
		SET state = $2, last_error = NULL, updated_at = NOW()
	`, key, models.StatusPending)
	if err != nil {
		return fmt.Errorf("reset document status: %w", err)
	}
	return nil
}

// MarkTerminal flags a document as terminally failed once its retry budget
// is gone. The row stays for operators to inspect.
func (s *Store) MarkTerminal(ctx context.Context, key, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_status (file_name, state, last_error, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (file_name) DO UPDATE
		SET state = $2, last_error = $3, updated_at = NOW()
	`, key, models.StatusTerminal, reason)
	if err != nil {
		return fmt.Errorf("mark document terminal: %w", err)
	}
	return nil
}

// CountByState returns how many documents sit in the given state, for
// diagnostics.
func (s *Store) CountByState(ctx context.Context, state string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM document_status WHERE state = $1
	`, state).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents by state: %w", err)
	}
	return n, nil
}
