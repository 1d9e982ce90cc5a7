package api

import (
	"context"
	"net/http"
	"time"
)

// PingFunc checks one dependency, e.g. db.PingContext.
type PingFunc func(ctx context.Context) error

// HealthHandler serves liveness and readiness. Readiness pings each
// dependency with a short timeout.
type HealthHandler struct {
	Checks  map[string]PingFunc
	Timeout time.Duration
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Checks))
	for name, ping := range h.Checks {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respond(w, r, status, map[string]any{"status": overall, "checks": checks})
}
