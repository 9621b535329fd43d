package server

import (
	"encoding/json"
	"net/http"
)

// Health status strings.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status  string   `json:"status"`
	Stalled []string `json:"stalled,omitempty"`
}

// NewHTTPHandler returns an http.Handler with all routes registered.
// When the server has an auth token, requests (except GET /v1/health) must
// include a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	if s.board != nil {
		mux.HandleFunc("GET /v1/sim/ws", s.handleSimSocket)
	}
	return AuthMiddleware(s.token, mux)
}

// handleHealth handles GET /v1/health. It answers 503 while any task is
// stalled.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: StatusOK}
	for _, e := range s.kernel.Liveness.Roster() {
		if e.Stalled {
			resp.Stalled = append(resp.Stalled, e.Task)
		}
	}
	if len(resp.Stalled) > 0 {
		resp.Status = StatusDegraded
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.kernel.Status())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
