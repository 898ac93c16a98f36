package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

type workflowCreateRequest struct {
	WorkflowID     *uuid.UUID      `json:"workflowId,omitempty"`
	OrganizationID string          `json:"organizationId,omitempty"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Steps          []workflow.Step `json:"steps"`
	Rules          workflow.Rules  `json:"rules"`
	Active         *bool           `json:"active,omitempty"`
}

type workflowVersionRequest struct {
	Version int `json:"version"`
}

// Workflow handlers
func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	def := workflow.Workflow{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		Steps:          req.Steps,
		Rules:          req.Rules,
		Active:         req.Active == nil || *req.Active,
	}
	actor := reviewerFromContext(r.Context())

	var (
		created *workflow.Workflow
		err     error
	)
	if req.WorkflowID != nil {
		created, err = s.workflowSvc.UpdateDefinition(r.Context(), *req.WorkflowID, def, &actor)
	} else {
		created, err = s.workflowSvc.CreateDefinition(r.Context(), def, &actor)
	}
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 200)
	filter := workflow.Filter{
		OrganizationID: optionalString(r, "organizationId"),
		ActiveOnly:     r.URL.Query().Get("active") == "true",
	}
	defs, err := s.workflowSvc.ListDefinitions(r.Context(), filter, limit, offset)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"workflows": defs})
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "workflowId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid workflowId")
		return
	}
	def, err := s.workflowSvc.GetDefinition(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (s *Server) listWorkflowVersions(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "workflowId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid workflowId")
		return
	}
	defs, err := s.workflowSvc.ListVersions(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if len(defs) == 0 {
		respondError(w, http.StatusNotFound, "NOT_FOUND", workflow.ErrWorkflowNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"versions": defs})
}

func (s *Server) activateWorkflow(w http.ResponseWriter, r *http.Request) {
	s.setWorkflowActive(w, r, true)
}

func (s *Server) deactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	s.setWorkflowActive(w, r, false)
}

// setWorkflowActive toggles one version; without a version in the body
// the latest is used.
func (s *Server) setWorkflowActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := parseUUIDParam(r, "workflowId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid workflowId")
		return
	}
	var req workflowVersionRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Version == 0 {
		latest, err := s.workflowSvc.GetDefinition(r.Context(), id)
		if err != nil {
			s.respondServiceError(w, r, err)
			return
		}
		req.Version = latest.Version
	}

	if active {
		err = s.workflowSvc.Activate(r.Context(), id, req.Version)
	} else {
		err = s.workflowSvc.Deactivate(r.Context(), id, req.Version)
	}
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflowId": id,
		"version":    req.Version,
		"active":     active,
	})
}
