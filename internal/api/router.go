package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/blogic/ucentral-mqtt/internal/audit"
	"github.com/blogic/ucentral-mqtt/internal/infrastructure/bus"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Method(http.MethodGet, s.cfg.MetricsPath, s.metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/audit", s.handleListAudit)
	})

	return r
}

// handleHealth reports liveness, the broker connection state and the audit
// database. A failing audit database makes the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var st bus.State
	if err := s.loop.Do(r.Context(), func() { st = s.state.State() }); err != nil {
		writeUnavailable(w, "event loop not running")
		return
	}

	status, code, auditStatus := "ok", http.StatusOK, "disabled"
	if s.auditDB != nil {
		auditStatus = "ok"
		if err := s.auditDB.HealthCheck(r.Context()); err != nil {
			s.logger.Error("audit database health check failed", "error", err)
			status, code, auditStatus = "degraded", http.StatusServiceUnavailable, "error"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"audit":      auditStatus,
		"connection": st,
	})
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters:
//   - action: command.received, command.rejected or command.completed
//   - task_id: entries of one command run
//   - limit: max results (default 50, max 200)
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		TaskID: q.Get("task_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
