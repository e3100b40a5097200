package classify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"document-retry-scheduler/internal/models"
)

func TestClassify(t *testing.T) {
	c := NewDefault()

	tests := []struct {
		name  string
		err   error
		phase models.Phase
		want  models.ErrorCategory
	}{
		{"deadline", context.DeadlineExceeded, models.PhaseExtract, models.CategoryTimeout},
		{"wrapped deadline", fmt.Errorf("extract: %w", context.DeadlineExceeded), models.PhaseExtract, models.CategoryTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.com"}, models.PhaseIndex, models.CategoryConnection},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), models.PhaseIndex, models.CategoryConnection},
		{"pg connection class", &pgconn.PgError{Code: "08006"}, models.PhaseIndex, models.CategoryConnection},
		{"pg auth class", &pgconn.PgError{Code: "28P01"}, models.PhaseIndex, models.CategoryPermission},
		{"pg integrity class", &pgconn.PgError{Code: "23505"}, models.PhaseIndex, models.CategoryValidation},
		{"pg other", &pgconn.PgError{Code: "42P01"}, models.PhaseIndex, models.CategoryIndexing},
		{"permission", fs.ErrPermission, models.PhaseScan, models.CategoryPermission},
		{"missing file", fs.ErrNotExist, models.PhaseScan, models.CategoryIO},
		{"path error", &fs.PathError{Op: "open", Path: "x.pdf", Err: errors.New("boom")}, models.PhaseScan, models.CategoryIO},
		{"rate limited", errors.New("upstream returned 429 too many requests"), models.PhaseExtract, models.CategoryAPI},
		{"quota", errors.New("monthly quota exceeded"), models.PhaseExtract, models.CategoryAPI},
		{"timeout text", errors.New("operation timed out"), models.PhaseExtract, models.CategoryTimeout},
		{"corrupt file", errors.New("corrupt xref table"), models.PhaseExtract, models.CategoryFormat},
		{"validation text", errors.New("invalid metadata block"), models.PhaseExtract, models.CategoryValidation},
		{"opaque in index phase", errors.New("boom"), models.PhaseIndex, models.CategoryIndexing},
		{"opaque in archive phase", errors.New("boom"), models.PhaseArchive, models.CategoryArchiving},
		{"opaque elsewhere", errors.New("boom"), models.PhaseScan, models.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := c.Classify(tt.err, "a.pdf", tt.phase)
			if got != tt.want {
				t.Fatalf("Classify(%v, %s) = %s, want %s", tt.err, tt.phase, got, tt.want)
			}
		})
	}
}

func TestClassifyNilError(t *testing.T) {
	c := NewDefault()
	cat, sev := c.Classify(nil, "a.pdf", models.PhaseScan)
	if cat != models.CategoryUnknown || sev != models.SeverityLow {
		t.Fatalf("nil error classified as %s/%s", cat, sev)
	}
}

func TestSeverityGrading(t *testing.T) {
	c := NewDefault()
	if _, sev := c.Classify(fs.ErrPermission, "a.pdf", models.PhaseScan); sev != models.SeverityHigh {
		t.Fatalf("permission severity = %s, want high", sev)
	}
	if _, sev := c.Classify(context.DeadlineExceeded, "a.pdf", models.PhaseScan); sev != models.SeverityMedium {
		t.Fatalf("timeout severity = %s, want medium", sev)
	}
}
