// Package server exposes the answer pipeline and report generators over
// HTTP. Input errors are rejected here; everything past the handlers
// degrades instead of faulting.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"metro-docs-rag/internal/metrics"
	"metro-docs-rag/internal/models"
	"metro-docs-rag/internal/rag"
	"metro-docs-rag/internal/reports"
)

// Orchestrator is the answer pipeline surface the handlers call.
type Orchestrator interface {
	Ask(ctx context.Context, req rag.AskRequest) models.AnswerResult
	Why(ctx context.Context, req rag.WhyRequest) models.WhyResult
}

// Reporter builds the batch products.
type Reporter interface {
	Briefing(ctx context.Context, role string) models.BriefingResult
	Alerts(ctx context.Context, role string) models.AlertResult
}

// Server routes HTTP requests to the orchestrator and report generators.
type Server struct {
	rag      Orchestrator
	reports  Reporter
	roles    *models.RoleRegistry
	log      zerolog.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

// New builds the HTTP server surface. The role registry gates every role
// field at the boundary; a nil registry falls back to the default role set.
func New(orchestrator Orchestrator, reporter Reporter, roles *models.RoleRegistry, m *metrics.Metrics, registry *prometheus.Registry, log zerolog.Logger) *Server {
	if roles == nil {
		roles = models.NewRoleRegistry()
	}
	return &Server{
		rag:      orchestrator,
		reports:  reporter,
		roles:    roles,
		log:      log,
		metrics:  m,
		registry: registry,
	}
}

// Routes returns the configured mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.instrument("/api/chat", s.handleChat))
	mux.HandleFunc("POST /api/why", s.instrument("/api/why", s.handleWhy))
	mux.HandleFunc("GET /api/briefings", s.instrument("/api/briefings", s.handleBriefings))
	mux.HandleFunc("GET /api/briefings/questions", s.instrument("/api/briefings/questions", s.handleBriefingQuestions))
	mux.HandleFunc("GET /api/alerts", s.instrument("/api/alerts", s.handleAlerts))
	mux.HandleFunc("GET /api/roles", s.instrument("/api/roles", s.handleRoles))
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

type chatRequest struct {
	Question string         `json:"question"`
	Role     string         `json:"role"`
	Filter   map[string]any `json:"filter,omitempty"`
	K        int            `json:"k,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Question == "" || req.Role == "" {
		writeError(w, "question and role are required", http.StatusBadRequest)
		return
	}
	if !s.roles.KnownRole(req.Role) {
		s.rejectRole(w, req.Role)
		return
	}

	result := s.rag.Ask(r.Context(), rag.AskRequest{
		Question: req.Question,
		Role:     req.Role,
		Filter:   req.Filter,
		K:        req.K,
	})
	writeJSON(w, result, http.StatusOK)
}

type whyRequest struct {
	Question string          `json:"question"`
	Role     string          `json:"role"`
	Docs     json.RawMessage `json:"docs"`
}

func (s *Server) handleWhy(w http.ResponseWriter, r *http.Request) {
	var req whyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Question == "" || req.Role == "" || len(req.Docs) == 0 {
		writeError(w, "question, role, and docs are required", http.StatusBadRequest)
		return
	}
	if !s.roles.KnownRole(req.Role) {
		s.rejectRole(w, req.Role)
		return
	}

	var docs []models.RetrievedDocument
	if err := json.Unmarshal(req.Docs, &docs); err != nil {
		writeError(w, "docs must be a list of retrieved documents", http.StatusBadRequest)
		return
	}

	result := s.rag.Why(r.Context(), rag.WhyRequest{
		Question: req.Question,
		Role:     req.Role,
		Docs:     docs,
	})
	writeJSON(w, result, http.StatusOK)
}

func (s *Server) handleBriefings(w http.ResponseWriter, r *http.Request) {
	role, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.reports.Briefing(r.Context(), role), http.StatusOK)
}

// handleBriefingQuestions reports the static topic list a briefing for the
// role would replay.
func (s *Server) handleBriefingQuestions(w http.ResponseWriter, r *http.Request) {
	role, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{
		"role":      role,
		"questions": reports.RoleQuestions(role),
	}, http.StatusOK)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	role, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.reports.Alerts(r.Context(), role), http.StatusOK)
}

// handleRoles lists the configured role labels.
func (s *Server) handleRoles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string][]string{"roles": s.roles.Roles()}, http.StatusOK)
}

// roleParam extracts and validates the role query parameter, writing the
// error response itself when the role is missing or unknown.
func (s *Server) roleParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	role := r.URL.Query().Get("role")
	if role == "" {
		writeError(w, "role is required", http.StatusBadRequest)
		return "", false
	}
	if !s.roles.KnownRole(role) {
		s.rejectRole(w, role)
		return "", false
	}
	return role, true
}

func (s *Server) rejectRole(w http.ResponseWriter, role string) {
	writeError(w, fmt.Sprintf("unknown role %q", role), http.StatusBadRequest)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// instrument wraps a handler with request counting and latency observation.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		s.metrics.ObserveRequest(path, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, map[string]string{"error": message}, status)
}
