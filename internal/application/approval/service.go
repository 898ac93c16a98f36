package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/content-approval/internal/application/autoapproval"
	appNotification "github.com/execution-hub/content-approval/internal/application/notification"
	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/audit"
	"github.com/execution-hub/content-approval/internal/domain/identity"
	"github.com/execution-hub/content-approval/internal/domain/notification"
	"github.com/execution-hub/content-approval/internal/domain/policy"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// WorkflowSource resolves pinned workflow versions.
type WorkflowSource interface {
	GetDefinition(ctx context.Context, workflowID uuid.UUID) (*workflow.Workflow, error)
	GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*workflow.Workflow, error)
}

// CheckRunner evaluates content against a step's criteria.
type CheckRunner interface {
	Run(ctx context.Context, content policy.Content, criteria workflow.Criteria) (*policy.CheckResult, error)
}

// Publisher accepts lifecycle events for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, env appNotification.Envelope)
}

// Observer receives operation and transition counts.
type Observer interface {
	ObserveOperation(operation, result string)
	ObserveTransition(from, to string)
	ObserveTimeout(action string)
}

type noopObserver struct{}

func (noopObserver) ObserveOperation(string, string)  {}
func (noopObserver) ObserveTransition(string, string) {}
func (noopObserver) ObserveTimeout(string)            {}

// Config tunes the orchestrator.
type Config struct {
	// AsyncChecks runs policy checks in the background; callers observe
	// the request in_review until the result is applied.
	AsyncChecks bool
	// SigningKey enables HMAC signing of decision records when set.
	SigningKey []byte
}

// Service orchestrates approval requests: it owns the request lifecycle
// and routes every mutation through the repository's single-writer Update.
type Service struct {
	requests   approval.Repository
	workflows  WorkflowSource
	checks     CheckRunner
	evaluator  *autoapproval.Evaluator
	identities identity.Resolver
	publisher  Publisher
	observer   Observer
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewService creates an approval service.
func NewService(
	requests approval.Repository,
	workflows WorkflowSource,
	checks CheckRunner,
	evaluator *autoapproval.Evaluator,
	identities identity.Resolver,
	publisher Publisher,
	observer Observer,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if observer == nil {
		observer = noopObserver{}
	}
	if evaluator == nil {
		evaluator = autoapproval.NewEvaluator(logger)
	}
	if len(cfg.SigningKey) > 0 {
		requests = signedRepository{Repository: requests, key: cfg.SigningKey}
	}
	return &Service{
		requests:   requests,
		workflows:  workflows,
		checks:     checks,
		evaluator:  evaluator,
		identities: identities,
		publisher:  publisher,
		observer:   observer,
		cfg:        cfg,
		logger:     logger.With().Str("service", "approval").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Wait blocks until background check runs have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// CreateInput holds the inputs for Create.
type CreateInput struct {
	ContentPieceID string
	WorkflowID     uuid.UUID
	// WorkflowVersion pins a version; zero selects the latest.
	WorkflowVersion int
	SubmittedBy     string
	Priority        approval.Priority
	Deadline        *time.Time
	Metadata        map[string]interface{}
	Content         approval.Content
	Notes           string
}

// Create opens a request against a workflow with revision 1 and runs the
// first step's checks. The returned request reflects any auto-approval or
// automated decision already applied.
func (s *Service) Create(ctx context.Context, in CreateInput) (req *approval.Request, err error) {
	defer func() { s.observe("create", err) }()

	var wf *workflow.Workflow
	if in.WorkflowVersion > 0 {
		wf, err = s.workflows.GetVersion(ctx, in.WorkflowID, in.WorkflowVersion)
	} else {
		wf, err = s.workflows.GetDefinition(ctx, in.WorkflowID)
	}
	if err != nil {
		return nil, err
	}
	if !wf.Active {
		return nil, fmt.Errorf("%w: workflow %s v%d is not active", approval.ErrValidation, wf.WorkflowID, wf.Version)
	}
	switch in.Priority {
	case "", approval.PriorityLow, approval.PriorityNormal, approval.PriorityHigh, approval.PriorityUrgent:
	default:
		return nil, fmt.Errorf("%w: unknown priority %q", approval.ErrValidation, in.Priority)
	}

	now := s.now()
	req, err = approval.NewRequest(wf, approval.NewParams{
		ContentPieceID: in.ContentPieceID,
		SubmittedBy:    in.SubmittedBy,
		Priority:       in.Priority,
		Deadline:       in.Deadline,
		Metadata:       in.Metadata,
		Content:        in.Content,
		Notes:          in.Notes,
	}, now)
	if err != nil {
		return nil, err
	}

	var (
		rec *approval.ContentApproval
		out approval.Outcome
	)
	if !wf.Steps[0].HasRequiredChecks() {
		if res := s.evaluator.ShouldAutoApprove(req, wf, nil); res.Approved {
			rec, out, err = req.AutoApprove(wf, res.Reason(), now)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}
	s.observer.ObserveTransition(string(approval.StatusPending), string(approval.StatusInReview))

	s.logger.Info().
		Str("request_id", req.RequestID.String()).
		Str("workflow_id", wf.WorkflowID.String()).
		Int("workflow_version", wf.Version).
		Str("submitted_by", req.SubmittedBy).
		Msg("approval request created")
	s.notify(ctx, wf, req, appNotification.Envelope{
		Event:      notification.EventRequestCreated,
		Recipients: []string{req.SubmittedBy},
	})

	var next *approval.Request
	if rec != nil {
		next, err = s.settle(ctx, wf, req, rec, out)
	} else {
		next, err = s.review(ctx, wf, req, true, notification.EventStepEntered)
	}
	if err != nil {
		// The request exists; report it as stored rather than failing the call.
		s.logger.Error().Err(err).Str("request_id", req.RequestID.String()).Msg("failed to start review")
		return s.stored(req), nil
	}
	return next, nil
}

// stored re-reads a request, falling back to the given copy.
func (s *Service) stored(req *approval.Request) *approval.Request {
	cur, err := s.Get(context.Background(), req.RequestID)
	if err != nil {
		return req
	}
	return cur
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, requestID uuid.UUID) (*approval.Request, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", approval.ErrRequestNotFound, requestID)
	}
	return req, nil
}

// List lists requests matching filter, newest first.
func (s *Service) List(ctx context.Context, filter approval.Filter, limit, offset int) ([]*approval.Request, error) {
	reqs, err := s.requests.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	return reqs, nil
}

// HistoryEntry is one revision or decision in log order.
type HistoryEntry struct {
	Seq      int                       `json:"seq"`
	Kind     string                    `json:"kind"`
	Revision *approval.Revision        `json:"revision,omitempty"`
	Approval *approval.ContentApproval `json:"approval,omitempty"`
}

// History is the audit view of a request.
type History struct {
	RequestID   uuid.UUID           `json:"requestId"`
	Status      approval.Status     `json:"status"`
	CurrentStep int                 `json:"currentStep"`
	Entries     []HistoryEntry      `json:"entries"`
	Comments    []*approval.Comment `json:"comments"`
	Integrity   *audit.ChainReport  `json:"integrity,omitempty"`
}

// History returns the request's revisions and decisions interleaved by
// sequence number.
func (s *Service) History(ctx context.Context, requestID uuid.UUID) (*History, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	h := &History{
		RequestID:   req.RequestID,
		Status:      req.Status,
		CurrentStep: req.CurrentStep,
		Comments:    req.Comments,
		Integrity:   s.verify(req),
	}
	for _, rev := range req.Revisions {
		h.Entries = append(h.Entries, HistoryEntry{Seq: rev.Seq, Kind: "revision", Revision: rev})
	}
	for _, a := range req.Approvals {
		h.Entries = append(h.Entries, HistoryEntry{Seq: a.Seq, Kind: "decision", Approval: a})
	}
	sort.Slice(h.Entries, func(i, j int) bool { return h.Entries[i].Seq < h.Entries[j].Seq })
	return h, nil
}

// ReplayResult compares stored state with state rebuilt from the logs.
type ReplayResult struct {
	RequestID      uuid.UUID       `json:"requestId"`
	Status         approval.Status `json:"status"`
	CurrentStep    int             `json:"currentStep"`
	ReplayedStatus approval.Status `json:"replayedStatus"`
	ReplayedStep   int             `json:"replayedStep"`
	Consistent     bool            `json:"consistent"`
	// Integrity is set when decision records are signed.
	Integrity *audit.ChainReport `json:"integrity,omitempty"`
}

// Replay rebuilds the request's status and step from its revision and
// approval logs under the pinned workflow version.
func (s *Service) Replay(ctx context.Context, requestID uuid.UUID) (*ReplayResult, error) {
	req, wf, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	status, step := approval.Replay(wf, req)
	res := &ReplayResult{
		RequestID:      req.RequestID,
		Status:         req.Status,
		CurrentStep:    req.CurrentStep,
		ReplayedStatus: status,
		ReplayedStep:   step,
		Consistent:     status == req.Status && step == req.CurrentStep,
		Integrity:      s.verify(req),
	}
	if !res.Consistent {
		s.logger.Error().
			Str("request_id", req.RequestID.String()).
			Str("status", string(req.Status)).
			Str("replayed_status", string(status)).
			Int("step", req.CurrentStep).
			Int("replayed_step", step).
			Msg("replayed state differs from stored state")
	}
	return res, nil
}

// load returns a request together with the workflow version it pins.
func (s *Service) load(ctx context.Context, requestID uuid.UUID) (*approval.Request, *workflow.Workflow, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	wf, err := s.workflows.GetVersion(ctx, req.WorkflowID, req.WorkflowVersion)
	if err != nil {
		if errors.Is(err, workflow.ErrWorkflowNotFound) {
			err = fmt.Errorf("%w: %v", approval.ErrWorkflowMismatch, err)
			s.logger.Error().Err(err).Str("request_id", requestID.String()).Msg("pinned workflow version missing")
		}
		return nil, nil, err
	}
	return req, wf, nil
}

func (s *Service) observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = string(approval.Kind(err))
	}
	s.observer.ObserveOperation(operation, result)
	if approval.Kind(err) == approval.KindConsistency {
		s.logger.Error().Err(err).Str("operation", operation).Msg("consistency error")
	}
}
