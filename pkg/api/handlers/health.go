package handlers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// defaultProbeTimeout bounds each readiness probe individually, so one hung
// dependency cannot starve the probes after it.
const defaultProbeTimeout = 2 * time.Second

// Component is one dependency checked by the readiness probe.
type Component struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes. Both endpoints are
// exempt from rate limiting; liveness never touches a dependency.
type HealthHandler struct {
	components   []Component
	shuttingDown *atomic.Bool
	probeTimeout time.Duration
}

// NewHealthHandler creates the handler. shuttingDown flips readiness to
// shutting_down during graceful shutdown; it may be nil in tests.
func NewHealthHandler(components []Component, shuttingDown *atomic.Bool) *HealthHandler {
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}
	return &HealthHandler{
		components:   components,
		shuttingDown: shuttingDown,
		probeTimeout: defaultProbeTimeout,
	}
}

type livenessResponse struct {
	Alive     bool      `json:"alive"`
	Timestamp time.Time `json:"timestamp"`
}

type readinessResponse struct {
	Status    string    `json:"status"`
	Failing   []string  `json:"failing,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Liveness handles GET /health. It succeeds whenever the process can serve
// HTTP, regardless of dependency state.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{
		Alive:     true,
		Timestamp: time.Now().UTC(),
	})
}

// Readiness handles GET /ready: 200 only when every required adapter passes
// a shallow probe, 503 with the failing components otherwise. During
// shutdown it reports shutting_down so load balancers drain the instance.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	if h.shuttingDown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, readinessResponse{
			Status:    "shutting_down",
			Timestamp: now,
		})
		return
	}

	var failing []string
	for _, c := range h.components {
		ctx, cancel := context.WithTimeout(r.Context(), h.probeTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			failing = append(failing, c.Name)
		}
	}

	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, readinessResponse{
			Status:    "unavailable",
			Failing:   failing,
			Timestamp: now,
		})
		return
	}

	writeJSON(w, http.StatusOK, readinessResponse{
		Status:    "ready",
		Timestamp: now,
	})
}
