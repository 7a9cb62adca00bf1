package server

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.controller.Status())
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	status := s.controller.Status()
	if status.Plan == nil {
		writeJSONError(w, "no plan computed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, status.Plan)
}

func (s *Server) handleReplan(w http.ResponseWriter, r *http.Request) {
	s.controller.Replan()
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, struct {
		Status string `json:"status"`
	}{Status: "replan requested"})
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	// Limit body size to 1MB to prevent DoS
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Enabled == nil {
		writeJSONError(w, "enabled is required", http.StatusBadRequest)
		return
	}

	s.controller.SetEnabled(*body.Enabled)
	writeJSON(w, struct {
		Enabled bool `json:"enabled"`
	}{Enabled: *body.Enabled})
}
