package handler

import (
	"net/http"
)

// Pinger reports whether an optional dependency is reachable.
type Pinger interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	telemetry Pinger
	provider  string
}

// NewHealthHandler creates a new health handler. telemetry may be nil.
func NewHealthHandler(telemetry Pinger, provider string) *HealthHandler {
	return &HealthHandler{
		telemetry: telemetry,
		provider:  provider,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.telemetry != nil && !h.telemetry.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"provider": h.provider,
	})
}
