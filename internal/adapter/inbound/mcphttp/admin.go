package mcphttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker reports whether the evaluator behind the bridge is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// AdminHandlers serves the optional admin listener.
type AdminHandlers struct {
	health  HealthChecker
	metrics http.Handler
	logger  *slog.Logger
}

// NewAdminHandlers creates a new AdminHandlers. metrics may be nil.
func NewAdminHandlers(health HealthChecker, metrics http.Handler, logger *slog.Logger) *AdminHandlers {
	return &AdminHandlers{
		health:  health,
		metrics: metrics,
		logger:  logger.With("component", "mcphttp_admin"),
	}
}

// RegisterAdminRoutes sets up the HTTP routes for admin endpoints.
func (h *AdminHandlers) RegisterAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth implements GET /healthz
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if err := h.health.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", slog.Any("error", err))
		resp = healthResponse{Status: "unavailable", Error: err.Error()}
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
