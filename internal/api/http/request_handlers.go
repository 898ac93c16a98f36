package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	appApproval "github.com/execution-hub/content-approval/internal/application/approval"
	"github.com/execution-hub/content-approval/internal/domain/approval"
)

type contentBody struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Hashtags  []string `json:"hashtags,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
	MediaRefs []string `json:"mediaRefs,omitempty"`
}

func (c contentBody) toDomain() approval.Content {
	return approval.Content{
		Title:     c.Title,
		Body:      c.Body,
		Hashtags:  c.Hashtags,
		Mentions:  c.Mentions,
		MediaRefs: c.MediaRefs,
	}
}

type requestCreateRequest struct {
	ContentPieceID  string                 `json:"contentPieceId"`
	WorkflowID      uuid.UUID              `json:"workflowId"`
	WorkflowVersion int                    `json:"workflowVersion,omitempty"`
	Priority        approval.Priority      `json:"priority,omitempty"`
	Deadline        *time.Time             `json:"deadline,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Content         contentBody            `json:"content"`
	Notes           string                 `json:"notes,omitempty"`
}

type revisionRequest struct {
	Content contentBody `json:"content"`
	Notes   string      `json:"notes,omitempty"`
}

type decisionRequest struct {
	StepID             string                 `json:"stepId,omitempty"`
	Action             approval.Action        `json:"action"`
	Comments           string                 `json:"comments,omitempty"`
	SuggestedChanges   []string               `json:"suggestedChanges,omitempty"`
	CriteriaAssessment map[string]interface{} `json:"criteriaAssessment,omitempty"`
}

type commentRequest struct {
	Content  string               `json:"content"`
	Type     approval.CommentType `json:"type,omitempty"`
	Mentions []string             `json:"mentions,omitempty"`
}

type withdrawRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Request handlers
func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	var req requestCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.WorkflowID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "workflowId required")
		return
	}

	created, err := s.approvalSvc.Create(r.Context(), appApproval.CreateInput{
		ContentPieceID:  req.ContentPieceID,
		WorkflowID:      req.WorkflowID,
		WorkflowVersion: req.WorkflowVersion,
		SubmittedBy:     reviewerFromContext(r.Context()),
		Priority:        req.Priority,
		Deadline:        req.Deadline,
		Metadata:        req.Metadata,
		Content:         req.Content.toDomain(),
		Notes:           req.Notes,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// listRequests filters by status, workflowId, organizationId,
// submittedBy and contentPieceId. assignedTo switches to the reviewer
// inbox, which ignores the other filters.
func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 200)

	if assignee := optionalString(r, "assignedTo"); assignee != nil {
		reqs, err := s.approvalSvc.ListAssigned(r.Context(), *assignee, limit, offset)
		if err != nil {
			s.respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs})
		return
	}

	filter := approval.Filter{
		OrganizationID: optionalString(r, "organizationId"),
		SubmittedBy:    optionalString(r, "submittedBy"),
		ContentPieceID: optionalString(r, "contentPieceId"),
	}
	if v := optionalString(r, "status"); v != nil {
		st := approval.Status(*v)
		filter.Status = &st
	}
	if v := optionalString(r, "workflowId"); v != nil {
		id, err := uuid.Parse(*v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid workflowId")
			return
		}
		filter.WorkflowID = &id
	}

	reqs, err := s.approvalSvc.List(r.Context(), filter, limit, offset)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs})
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := s.approvalSvc.Get(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) submitRevision(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	var body revisionRequest
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	rev, req, err := s.approvalSvc.SubmitRevision(r.Context(), id, appApproval.RevisionInput{
		Content:     body.Content.toDomain(),
		SubmittedBy: reviewerFromContext(r.Context()),
		Notes:       body.Notes,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"revision": rev, "request": req})
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	var body decisionRequest
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	rec, req, err := s.approvalSvc.Decide(r.Context(), appApproval.DecideInput{
		RequestID:          id,
		StepID:             body.StepID,
		ReviewerID:         reviewerFromContext(r.Context()),
		Action:             body.Action,
		Comments:           body.Comments,
		SuggestedChanges:   body.SuggestedChanges,
		CriteriaAssessment: body.CriteriaAssessment,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"approval": rec, "request": req})
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	var body commentRequest
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	c, err := s.approvalSvc.AddComment(r.Context(), id, appApproval.CommentInput{
		Author:   reviewerFromContext(r.Context()),
		Content:  body.Content,
		Type:     body.Type,
		Mentions: body.Mentions,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) resolveComment(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	commentID, err := parseUUIDParam(r, "commentId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid commentId")
		return
	}
	c, err := s.approvalSvc.ResolveComment(r.Context(), id, commentID, reviewerFromContext(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	var body withdrawRequest
	if err := decodeBody(r, &body); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	req, err := s.approvalSvc.Withdraw(r.Context(), id, reviewerFromContext(r.Context()), body.Reason)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	h, err := s.approvalSvc.History(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h)
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	res, err := s.approvalSvc.Replay(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func requestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseUUIDParam(r, "requestId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid requestId")
		return uuid.Nil, false
	}
	return id, true
}
