package rest

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	ready func() bool
}

// NewHealthHandler creates a new health handler. A nil ready func means
// always ready.
func NewHealthHandler(ready func() bool) *HealthHandler {
	return &HealthHandler{ready: ready}
}

// Check handles GET /healthz requests
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, "ok")
}

// Ready handles GET /readyz. The client is ready once it has applied its
// first poll.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready() {
		writeHealth(w, http.StatusServiceUnavailable, "syncing")
		return
	}
	writeHealth(w, http.StatusOK, "ready")
}

func writeHealth(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: text})
}
