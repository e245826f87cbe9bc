package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "rolesched API",
		Version:     "v1",
		Description: "Adaptive multi-role worker scheduler: task submission and role status",
		Endpoints: []endpointInfo{
			{"/api/v1/roles", []string{"GET"}, "Status of every role"},
			{"/api/v1/roles/{role}", []string{"GET"}, "Status of a single role"},
			{"/api/v1/roles/{role}/tasks", []string{"POST"}, "Submit a task to a role's queue"},
			{"/api/v1/resources", []string{"GET"}, "Latest resource sample and thresholds"},
			{"/api/v1/config", []string{"GET"}, "Scheduler configuration in effect"},
			{"/api/v1/locks", []string{"GET"}, "Advisory file locks and active workflows"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/metrics", []string{"GET"}, "Prometheus metrics"},
		},
	})
}
