package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"document-retry-scheduler/internal/models"
)

// Classifier maps a failure to a retry category and an alerting severity.
// The registry consumes the category; severity is informational only.
type Classifier interface {
	Classify(err error, itemKey string, phase models.Phase) (models.ErrorCategory, models.ErrorSeverity)
}

// Default is the built-in classifier. It inspects well-known Go error types
// first, then error-text heuristics, and finally falls back to the failing
// phase.
type Default struct{}

// NewDefault returns the built-in classifier.
func NewDefault() *Default {
	return &Default{}
}

func (c *Default) Classify(err error, itemKey string, phase models.Phase) (models.ErrorCategory, models.ErrorSeverity) {
	if err == nil {
		return models.CategoryUnknown, models.SeverityLow
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return models.CategoryTimeout, models.SeverityMedium
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPg(pgErr)
	}

	if cat, sev, ok := classifyNet(err); ok {
		return cat, sev
	}

	if errors.Is(err, fs.ErrPermission) {
		return models.CategoryPermission, models.SeverityHigh
	}
	if errors.Is(err, fs.ErrNotExist) {
		return models.CategoryIO, models.SeverityMedium
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return models.CategoryIO, models.SeverityMedium
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return models.CategoryFormat, models.SeverityHigh
	}

	if cat, sev, ok := classifyText(err.Error()); ok {
		return cat, sev
	}

	// Nothing recognizable in the error itself; fall back to the phase.
	switch phase {
	case models.PhaseIndex:
		return models.CategoryIndexing, models.SeverityMedium
	case models.PhaseArchive:
		return models.CategoryArchiving, models.SeverityMedium
	}
	return models.CategoryUnknown, models.SeverityMedium
}

// classifyPg maps PostgreSQL error classes. Connection and resource classes
// are transient; data and integrity classes are validation problems; the
// rest is charged to the indexing store.
func classifyPg(pgErr *pgconn.PgError) (models.ErrorCategory, models.ErrorSeverity) {
	code := pgErr.Code
	switch {
	case strings.HasPrefix(code, "08"), // connection exception
		strings.HasPrefix(code, "53"), // insufficient resources
		strings.HasPrefix(code, "57"): // operator intervention
		return models.CategoryConnection, models.SeverityHigh
	case strings.HasPrefix(code, "28"): // invalid authorization
		return models.CategoryPermission, models.SeverityHigh
	case strings.HasPrefix(code, "22"), // data exception
		strings.HasPrefix(code, "23"): // integrity constraint violation
		return models.CategoryValidation, models.SeverityHigh
	}
	return models.CategoryIndexing, models.SeverityMedium
}

func classifyNet(err error) (models.ErrorCategory, models.ErrorSeverity, bool) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.CategoryConnection, models.SeverityHigh, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return models.CategoryTimeout, models.SeverityMedium, true
		}
		return models.CategoryConnection, models.SeverityHigh, true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return models.CategoryConnection, models.SeverityHigh, true
		}
	}
	return "", "", false
}

// classifyText catches errors that only surface as strings, e.g. wrapped
// responses from external APIs.
func classifyText(msg string) (models.ErrorCategory, models.ErrorSeverity, bool) {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "quota"),
		strings.Contains(msg, "429"):
		return models.CategoryAPI, models.SeverityMedium, true
	case strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "deadline exceeded"):
		return models.CategoryTimeout, models.SeverityMedium, true
	case strings.Contains(lower, "connection"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "no such host"):
		return models.CategoryConnection, models.SeverityHigh, true
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "forbidden"),
		strings.Contains(lower, "unauthorized"):
		return models.CategoryPermission, models.SeverityHigh, true
	case strings.Contains(lower, "malformed"),
		strings.Contains(lower, "unsupported format"),
		strings.Contains(lower, "parse error"),
		strings.Contains(lower, "corrupt"):
		return models.CategoryFormat, models.SeverityHigh, true
	case strings.Contains(lower, "validation"),
		strings.Contains(lower, "invalid"):
		return models.CategoryValidation, models.SeverityHigh, true
	}
	return "", "", false
}
