package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"document-retry-scheduler/internal/config"
	"document-retry-scheduler/internal/driver"
	"document-retry-scheduler/internal/models"
	"document-retry-scheduler/internal/policy"
	"document-retry-scheduler/internal/ratelimit"
	"document-retry-scheduler/internal/registry"
	"document-retry-scheduler/internal/telemetry"
)

// CycleRunner triggers a retry cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) (driver.CycleSummary, error)
}

// Server wires the HTTP surface of the retry subsystem.
type Server struct {
	cfg      config.Config
	registry *registry.Registry
	policy   *policy.Policy
	cycles   CycleRunner
	throttle *ratelimit.Throttle
}

// New constructs the API server. cycles and throttle may be nil.
func New(cfg config.Config, reg *registry.Registry, pol *policy.Policy, cycles CycleRunner, throttle *ratelimit.Throttle) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		policy:   pol,
		cycles:   cycles,
		throttle: throttle,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/retry", s.handleDashboard)
	r.Get("/retry/ready", s.handleReady)
	r.Get("/retry/stats", s.handleStats)
	r.Get("/retry/policy", s.handlePolicy)
	r.Post("/retry/cycle", s.handleCycle)
	r.Post("/retry/{key}", s.handleSchedule)
	r.Get("/retry/{key}", s.handleInfo)
	r.Delete("/retry/{key}", s.handleAcknowledge)
	return r
}

type scheduleRequest struct {
	Category string `json:"category"`
}

type scheduleResponse struct {
	Scheduled bool             `json:"scheduled"`
	Info      models.RetryInfo `json:"info"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if s.throttle != nil {
		allowed, err := s.throttle.Allow(r.Context(), "api")
		if err != nil {
			http.Error(w, "throttle error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	category := models.ParseCategory(req.Category)

	scheduled, err := s.registry.Register(r.Context(), key, category)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidKey) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	info, _ := s.registry.Info(key)
	writeJSON(w, http.StatusAccepted, scheduleResponse{Scheduled: scheduled, Info: info})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	info, ok := s.registry.Info(key)
	if !ok {
		http.Error(w, "item not tracked", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.registry.Acknowledge(r.Context(), key); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "item not tracked", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	items := s.registry.Ready(r.Context(), time.Now())
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats(r.Context(), time.Now()))
}

// handleDashboard returns statistics, ready-item details, and a capped view
// of active entries in one payload for monitoring UIs.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	readyKeys := s.registry.Ready(r.Context(), now)
	ready := make([]models.RetryInfo, 0, len(readyKeys))
	for _, key := range readyKeys {
		if info, ok := s.registry.Info(key); ok {
			ready = append(ready, info)
		}
	}
	stats := s.registry.Stats(r.Context(), now)
	writeJSON(w, http.StatusOK, map[string]any{
		"statistics":    stats,
		"ready":         ready,
		"entries":       s.registry.Snapshot(20),
		"total_entries": stats.Tracked,
	})
}

func (s *Server) handlePolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.policy.Snapshot())
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if s.cycles == nil {
		http.Error(w, "cycle runner not configured", http.StatusServiceUnavailable)
		return
	}
	summary, err := s.cycles.RunCycle(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
