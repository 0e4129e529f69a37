package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/artisan/internal/health"
)

// HealthHandlers provides health and readiness check endpoints for Kubernetes probes.
type HealthHandlers struct {
	checkers     map[string]health.Checker
	checkTimeout time.Duration
	logger       *slog.Logger
}

// HealthHandlersConfig configures the health check handlers.
type HealthHandlersConfig struct {
	// Checkers are the critical dependencies, keyed by name ("database", "redis").
	// An empty map means the service runs on in-memory stores.
	Checkers map[string]health.Checker
	// CheckTimeout bounds each dependency check.
	CheckTimeout time.Duration
	Logger       *slog.Logger
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &HealthHandlers{
		checkers:     config.Checkers,
		checkTimeout: config.CheckTimeout,
		logger:       config.Logger,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
// Returns 200 whenever the process can serve requests.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe).
// Returns 503 when any configured dependency fails its check.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checkers))
	healthy := true
	for name, res := range health.RunAll(ctx, h.checkers, h.checkTimeout) {
		if res.Err != nil {
			checks[name] = "error"
			healthy = false
			h.logger.WarnContext(ctx, "dependency health check failed",
				"dependency", name,
				"error", res.Err,
				"duration_ms", res.Duration.Milliseconds())
			continue
		}
		checks[name] = "ok"
	}

	response := HealthResponse{
		Status:    "ready",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, response)
}
