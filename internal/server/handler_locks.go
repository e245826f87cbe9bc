package server

import (
	"net/http"

	"github.com/me/rolesched/pkg/model"
)

type locksResponse struct {
	Locks     []model.FileLock `json:"locks"`
	Workflows []model.Workflow `json:"workflows"`
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := locksResponse{Locks: []model.FileLock{}, Workflows: []model.Workflow{}}
	if s.inspector == nil {
		respondOK(w, reqID, resp)
		return
	}

	locks, err := s.inspector.Locks(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	workflows, err := s.inspector.ActiveWorkflows(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if locks != nil {
		resp.Locks = locks
	}
	if workflows != nil {
		resp.Workflows = workflows
	}
	respondOK(w, reqID, resp)
}
