package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	GoVersion   string `json:"go_version"`
	Uptime      string `json:"uptime"`
	ActiveRoles int    `json:"active_roles"`
	Tracker     string `json:"file_tracker"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	active := 0
	for _, rs := range s.ctrl.Status() {
		if rs.Active {
			active++
		}
	}
	tracker := "disabled"
	if s.inspector != nil {
		tracker = "enabled"
	}

	respondOK(w, reqID, healthResponse{
		Status:      "healthy",
		Version:     Version,
		GoVersion:   runtime.Version(),
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		ActiveRoles: active,
		Tracker:     tracker,
	})
}
