package workflow

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Filter controls workflow listing.
type Filter struct {
	OrganizationID *string
	ActiveOnly     bool
}

// Repository defines workflow definition persistence. Versions are
// append-only: Create never overwrites an existing (id, version) pair.
type Repository interface {
	Create(ctx context.Context, wf *Workflow) error
	GetLatest(ctx context.Context, workflowID uuid.UUID) (*Workflow, error)
	GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*Workflow, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Workflow, error)
	ListVersions(ctx context.Context, workflowID uuid.UUID) ([]*Workflow, error)
	SetActive(ctx context.Context, workflowID uuid.UUID, version int, active bool) error
}
