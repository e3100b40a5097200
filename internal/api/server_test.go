package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"document-retry-scheduler/internal/config"
	"document-retry-scheduler/internal/driver"
	"document-retry-scheduler/internal/models"
	"document-retry-scheduler/internal/policy"
	"document-retry-scheduler/internal/registry"
)

type fakeCycles struct {
	summary driver.CycleSummary
	err     error
	calls   int
}

func (f *fakeCycles) RunCycle(context.Context) (driver.CycleSummary, error) {
	f.calls++
	return f.summary, f.err
}

func newTestServer(t *testing.T, cycles CycleRunner) (*Server, *registry.Registry) {
	t.Helper()
	cfg := config.Load()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = time.Second
	pol := policy.New(cfg, policy.WithRand(func() float64 { return 0.5 }))
	past := time.Now().Add(-time.Hour)
	reg := registry.New(pol, nil, registry.WithNow(func() time.Time { return past }))
	return New(cfg, reg, pol, cycles, nil), reg
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv.Router(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestScheduleAndInfo(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/retry/a.pdf", `{"category":"io"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("schedule status = %d, want 202: %s", rec.Code, rec.Body)
	}
	var resp scheduleResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Scheduled {
		t.Fatal("first failure should be scheduled")
	}
	if resp.Info.Category != models.CategoryIO || resp.Info.Attempts != 1 {
		t.Fatalf("unexpected info: %+v", resp.Info)
	}

	rec = doRequest(t, router, http.MethodGet, "/retry/a.pdf", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("info status = %d, want 200", rec.Code)
	}
	var info models.RetryInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Key != "a.pdf" || info.MaxAttempts != 5 {
		t.Fatalf("unexpected info payload: %+v", info)
	}
}

func TestScheduleRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv.Router(), http.MethodPost, "/retry/a.pdf", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestInfoUnknownKey(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv.Router(), http.MethodGet, "/retry/missing.pdf", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAcknowledge(t *testing.T) {
	srv, reg := newTestServer(t, nil)
	router := srv.Router()
	ctx := context.Background()
	_, _ = reg.Register(ctx, "a.pdf", models.CategoryIO)

	rec := doRequest(t, router, http.MethodDelete, "/retry/a.pdf", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d, want 200", rec.Code)
	}
	if _, ok := reg.Info("a.pdf"); ok {
		t.Fatal("item still tracked after acknowledge")
	}

	rec = doRequest(t, router, http.MethodDelete, "/retry/a.pdf", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second acknowledge status = %d, want 404", rec.Code)
	}
}

func TestReadyAndStats(t *testing.T) {
	srv, reg := newTestServer(t, nil)
	router := srv.Router()
	ctx := context.Background()
	_, _ = reg.Register(ctx, "a.pdf", models.CategoryIO)

	rec := doRequest(t, router, http.MethodGet, "/retry/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
	var ready struct {
		Items []string `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&ready); err != nil {
		t.Fatal(err)
	}
	if len(ready.Items) != 1 || ready.Items[0] != "a.pdf" {
		t.Fatalf("ready items = %v, want [a.pdf]", ready.Items)
	}

	rec = doRequest(t, router, http.MethodGet, "/retry/stats", "")
	var stats models.RetryStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Tracked != 1 || stats.Ready != 1 {
		t.Fatalf("stats = %+v, want one tracked and ready", stats)
	}
}

func TestDashboard(t *testing.T) {
	srv, reg := newTestServer(t, nil)
	ctx := context.Background()
	_, _ = reg.Register(ctx, "a.pdf", models.CategoryIO)
	// format budget is 1 so this one shows up as exhausted.
	_, _ = reg.Register(ctx, "broken.pdf", models.CategoryFormat)

	rec := doRequest(t, srv.Router(), http.MethodGet, "/retry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rec.Code)
	}
	var page struct {
		Statistics   models.RetryStats  `json:"statistics"`
		Ready        []models.RetryInfo `json:"ready"`
		Entries      []models.RetryInfo `json:"entries"`
		TotalEntries int                `json:"total_entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if page.TotalEntries != 2 || page.Statistics.Exhausted != 1 {
		t.Fatalf("unexpected dashboard stats: %+v", page.Statistics)
	}
	if len(page.Ready) != 1 || page.Ready[0].Key != "a.pdf" {
		t.Fatalf("ready details = %+v, want only a.pdf", page.Ready)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(page.Entries))
	}
}

func TestPolicyEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv.Router(), http.MethodGet, "/retry/policy", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("policy status = %d", rec.Code)
	}
	var snap map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap) == 0 {
		t.Fatal("expected a non-empty policy snapshot")
	}
}

func TestCycleEndpoint(t *testing.T) {
	cycles := &fakeCycles{summary: driver.CycleSummary{Retried: 3}}
	srv, _ := newTestServer(t, cycles)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/retry/cycle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cycle status = %d: %s", rec.Code, rec.Body)
	}
	if cycles.calls != 1 {
		t.Fatalf("cycle calls = %d, want 1", cycles.calls)
	}
	var summary driver.CycleSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	if summary.Retried != 3 {
		t.Fatalf("summary = %+v", summary)
	}

	cycles.err = errors.New("boom")
	rec = doRequest(t, router, http.MethodPost, "/retry/cycle", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failed cycle status = %d, want 500", rec.Code)
	}
}

func TestCycleEndpointWithoutRunner(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv.Router(), http.MethodPost, "/retry/cycle", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
