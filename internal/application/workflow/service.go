package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// Service is the workflow registry. Definitions are never edited in place:
// every change is stored as a new version.
type Service struct {
	repo   workflow.Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a workflow service.
func NewService(repo workflow.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "workflow").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateDefinition stores a new workflow. When def carries the id of an
// existing workflow the result is the next version of it.
func (s *Service) CreateDefinition(ctx context.Context, def workflow.Workflow, createdBy *string) (*workflow.Workflow, error) {
	workflow.Normalize(&def)
	if err := workflow.Validate(&def); err != nil {
		return nil, err
	}

	def.Version = 1
	if def.WorkflowID == uuid.Nil {
		def.WorkflowID = uuid.New()
	} else {
		existing, err := s.repo.GetLatest(ctx, def.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to get workflow: %w", err)
		}
		if existing != nil {
			def.Version = existing.Version + 1
			if def.OrganizationID == "" {
				def.OrganizationID = existing.OrganizationID
			}
		}
	}
	def.CreatedAt = s.now()
	def.CreatedBy = createdBy

	if err := s.repo.Create(ctx, &def); err != nil {
		if errors.Is(err, workflow.ErrVersionExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	s.logger.Info().
		Str("workflow_id", def.WorkflowID.String()).
		Int("version", def.Version).
		Int("steps", len(def.Steps)).
		Msg("workflow definition created")

	return &def, nil
}

// UpdateDefinition publishes def as the next version of workflowID.
// In-flight requests keep the version they started with.
func (s *Service) UpdateDefinition(ctx context.Context, workflowID uuid.UUID, def workflow.Workflow, updatedBy *string) (*workflow.Workflow, error) {
	if _, err := s.GetDefinition(ctx, workflowID); err != nil {
		return nil, err
	}
	def.WorkflowID = workflowID
	return s.CreateDefinition(ctx, def, updatedBy)
}

// ListDefinitions lists the latest version of each workflow.
func (s *Service) ListDefinitions(ctx context.Context, filter workflow.Filter, limit, offset int) ([]*workflow.Workflow, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// GetDefinition retrieves the latest version of a workflow.
func (s *Service) GetDefinition(ctx context.Context, workflowID uuid.UUID) (*workflow.Workflow, error) {
	def, err := s.repo.GetLatest(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s", workflow.ErrWorkflowNotFound, workflowID)
	}
	return def, nil
}

// GetVersion retrieves one version of a workflow.
func (s *Service) GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*workflow.Workflow, error) {
	def, err := s.repo.GetVersion(ctx, workflowID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s v%d", workflow.ErrWorkflowNotFound, workflowID, version)
	}
	return def, nil
}

// ListVersions lists all versions for a workflow.
func (s *Service) ListVersions(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Workflow, error) {
	return s.repo.ListVersions(ctx, workflowID)
}

// Activate marks a workflow version as accepting new requests.
func (s *Service) Activate(ctx context.Context, workflowID uuid.UUID, version int) error {
	if err := s.repo.SetActive(ctx, workflowID, version, true); err != nil {
		return fmt.Errorf("failed to activate workflow: %w", err)
	}
	return nil
}

// Deactivate stops new requests from using a workflow version.
func (s *Service) Deactivate(ctx context.Context, workflowID uuid.UUID, version int) error {
	if err := s.repo.SetActive(ctx, workflowID, version, false); err != nil {
		return fmt.Errorf("failed to deactivate workflow: %w", err)
	}
	return nil
}
