package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

// Filter controls request listing.
type Filter struct {
	Status         *Status
	WorkflowID     *uuid.UUID
	OrganizationID *string
	SubmittedBy    *string
	ContentPieceID *string
}

// UpdateFunc mutates a private copy of a request. Returning an error
// discards the copy.
type UpdateFunc func(req *Request) error

// Repository defines persistence for approval requests. Update serializes
// all writers of a single request and stores the result only when fn
// succeeds.
type Repository interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, requestID uuid.UUID) (*Request, error)
	Update(ctx context.Context, requestID uuid.UUID, fn UpdateFunc) (*Request, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Request, error)
	// ListTimedOut returns in-review requests whose step deadline is at or
	// before now and whose timeout has not fired yet.
	ListTimedOut(ctx context.Context, now time.Time, limit int) ([]*Request, error)
}
