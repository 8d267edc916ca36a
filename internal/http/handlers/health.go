package handlers

import "net/http"

// HealthHandler answers liveness probes.
type HealthHandler struct{}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP handles GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
