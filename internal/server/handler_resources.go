package server

import (
	"net/http"

	"github.com/me/rolesched/internal/config"
	"github.com/me/rolesched/pkg/model"
)

type resourcesResponse struct {
	Sample     *model.ResourceSample `json:"sample"`
	Thresholds config.Thresholds     `json:"thresholds"`
}

func (s *Server) handleGetResources(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := resourcesResponse{Thresholds: s.ctrl.Config().ResourceThresholds}
	if sample, ok := s.ctrl.LastSample(); ok {
		resp.Sample = &sample
	}
	respondOK(w, reqID, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.ctrl.Config())
}
