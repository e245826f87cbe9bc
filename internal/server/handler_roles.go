package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/rolesched/pkg/model"
)

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.ctrl.Status())
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	raw := chi.URLParam(r, "role")

	role, err := model.ParseRole(raw)
	if err != nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("role", raw))
		return
	}
	for _, rs := range s.ctrl.Status() {
		if rs.Role == role {
			respondOK(w, reqID, rs)
			return
		}
	}
	respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("role", raw))
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	raw := chi.URLParam(r, "role")

	role, err := model.ParseRole(raw)
	if err != nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("role", raw))
		return
	}

	var req model.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	if req.Name == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("name is required"))
		return
	}

	task, ok := s.ctrl.Submit(r.Context(), role, model.Task{
		Name:       req.Name,
		Payload:    req.Payload,
		WorkflowID: req.WorkflowID,
		Files:      req.Files,
	})
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("role", raw))
		return
	}

	s.logger.Info("task submitted", "role", role, "task_id", task.ID, "request_id", reqID)
	respondCreated(w, reqID, model.SubmitResponse{
		TaskID:     task.ID,
		Role:       role,
		WorkflowID: task.WorkflowID,
	})
}
