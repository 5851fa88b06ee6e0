package handlers

import (
	"context"
	"net/http"
	"time"
)

// ReadinessCheck is one named dependency probe run by the readiness
// endpoint.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Are the stores reachable?
type HealthHandler struct {
	checks []ReadinessCheck
}

// NewHealthHandler creates a new health handler. An empty check list
// makes readiness equivalent to liveness.
func NewHealthHandler(checks []ReadinessCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. Designed for
// Kubernetes liveness probes; succeeds as long as the HTTP server is
// responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "pixstore",
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Runs every registered dependency check with a short per-check
// timeout. Returns 503 Service Unavailable on the first failure.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	checked := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check.Check(ctx)
		cancel()

		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable,
				unhealthyResponse(check.Name+": "+err.Error()))
			return
		}
		checked[check.Name] = "healthy"
	}

	writeJSON(w, http.StatusOK, healthyResponse(checked))
}
