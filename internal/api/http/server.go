package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appApproval "github.com/execution-hub/content-approval/internal/application/approval"
	appAuth "github.com/execution-hub/content-approval/internal/application/auth"
	appWorkflow "github.com/execution-hub/content-approval/internal/application/workflow"
	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/notification"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	workflowSvc *appWorkflow.Service
	approvalSvc *appApproval.Service
	authSvc     *appAuth.Service
	sseHub      notification.SSEHub
	metrics     http.Handler
	logger      zerolog.Logger
}

func NewServer(
	workflowSvc *appWorkflow.Service,
	approvalSvc *appApproval.Service,
	authSvc *appAuth.Service,
	sseHub notification.SSEHub,
	metrics http.Handler,
	logger zerolog.Logger,
) *Server {
	return &Server{
		workflowSvc: workflowSvc,
		approvalSvc: approvalSvc,
		authSvc:     authSvc,
		sseHub:      sseHub,
		metrics:     metrics,
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "sseClients": s.sseHub.GetClientCount()})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireReviewer)

		r.Get("/events", s.sseEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/workflows", func(r chi.Router) {
				r.Post("/", s.createWorkflow)
				r.Get("/", s.listWorkflows)
				r.Get("/{workflowId}", s.getWorkflow)
				r.Get("/{workflowId}/versions", s.listWorkflowVersions)
				r.Post("/{workflowId}/activate", s.activateWorkflow)
				r.Post("/{workflowId}/deactivate", s.deactivateWorkflow)
			})

			r.Route("/requests", func(r chi.Router) {
				r.Post("/", s.createRequest)
				r.Get("/", s.listRequests)
				r.Get("/{requestId}", s.getRequest)
				r.Post("/{requestId}/revisions", s.submitRevision)
				r.Post("/{requestId}/decisions", s.decide)
				r.Post("/{requestId}/comments", s.addComment)
				r.Post("/{requestId}/comments/{commentId}/resolve", s.resolveComment)
				r.Post("/{requestId}/withdraw", s.withdraw)
				r.Get("/{requestId}/history", s.history)
				r.Get("/{requestId}/replay", s.replay)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps an engine error onto a status code.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := approval.Kind(err)
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch kind {
	case approval.KindValidation:
		status, code = http.StatusBadRequest, "INVALID_PARAM"
	case approval.KindNotFound:
		status, code = http.StatusNotFound, "NOT_FOUND"
	case approval.KindTerminal:
		status, code = http.StatusConflict, "TERMINAL"
	case approval.KindConflict:
		status, code = http.StatusConflict, "CONFLICT"
	case approval.KindUnauthorized:
		status, code = http.StatusForbidden, "FORBIDDEN"
	case approval.KindProvider:
		status, code = http.StatusBadGateway, "PROVIDER_ERROR"
	case approval.KindConsistency:
		status, code = http.StatusInternalServerError, "CONSISTENCY_ERROR"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Str("kind", string(kind)).Msg("request failed")
	}
	respondError(w, status, code, err.Error())
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func optionalString(r *http.Request, key string) *string {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		return &v
	}
	return nil
}
