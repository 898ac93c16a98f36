package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/content-approval/internal/domain/approval"
)

// RequestRepository implements approval.Repository in process memory.
// Writers of one request are serialized by a per-request mutex.
type RequestRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*approval.Request
	locks map[uuid.UUID]*sync.Mutex
}

func NewRequestRepository() *RequestRepository {
	return &RequestRepository{
		items: map[uuid.UUID]*approval.Request{},
		locks: map[uuid.UUID]*sync.Mutex{},
	}
}

func (r *RequestRepository) Create(ctx context.Context, req *approval.Request) error {
	cp, err := req.Clone()
	if err != nil {
		return fmt.Errorf("failed to copy request: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[req.RequestID]; ok {
		return fmt.Errorf("%w: request %s already exists", approval.ErrVersionConflict, req.RequestID)
	}
	if cp.Version == 0 {
		cp.Version = 1
	}
	req.Version = cp.Version
	r.items[req.RequestID] = cp
	r.locks[req.RequestID] = &sync.Mutex{}
	return nil
}

func (r *RequestRepository) Get(ctx context.Context, requestID uuid.UUID) (*approval.Request, error) {
	r.mu.RLock()
	cur, ok := r.items[requestID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return cur.Clone()
}

func (r *RequestRepository) Update(ctx context.Context, requestID uuid.UUID, fn approval.UpdateFunc) (*approval.Request, error) {
	r.mu.RLock()
	lock, ok := r.locks[requestID]
	r.mu.RUnlock()
	if !ok {
		return nil, approval.ErrRequestNotFound
	}
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	cur := r.items[requestID]
	r.mu.RUnlock()
	cp, err := cur.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to copy request: %w", err)
	}
	if err := fn(cp); err != nil {
		return nil, err
	}
	cp.Version = cur.Version + 1
	stored, err := cp.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to copy request: %w", err)
	}

	r.mu.Lock()
	r.items[requestID] = stored
	r.mu.Unlock()
	return cp, nil
}

func (r *RequestRepository) List(ctx context.Context, filter approval.Filter, limit, offset int) ([]*approval.Request, error) {
	r.mu.RLock()
	matched := make([]*approval.Request, 0, len(r.items))
	for _, req := range r.items {
		if matches(req, filter) {
			matched = append(matched, req)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].RequestID.String() < matched[j].RequestID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return page(matched, limit, offset)
}

func (r *RequestRepository) ListTimedOut(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error) {
	r.mu.RLock()
	var due []*approval.Request
	for _, req := range r.items {
		if req.TimedOut(now) {
			due = append(due, req)
		}
	}
	r.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].StepDeadline.Before(*due[j].StepDeadline) })
	return page(due, limit, 0)
}

func matches(req *approval.Request, f approval.Filter) bool {
	if f.Status != nil && req.Status != *f.Status {
		return false
	}
	if f.WorkflowID != nil && req.WorkflowID != *f.WorkflowID {
		return false
	}
	if f.OrganizationID != nil && req.OrganizationID != *f.OrganizationID {
		return false
	}
	if f.SubmittedBy != nil && req.SubmittedBy != *f.SubmittedBy {
		return false
	}
	if f.ContentPieceID != nil && req.ContentPieceID != *f.ContentPieceID {
		return false
	}
	return true
}

func page(items []*approval.Request, limit, offset int) ([]*approval.Request, error) {
	if offset >= len(items) {
		return nil, nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	out := make([]*approval.Request, 0, len(items))
	for _, req := range items {
		cp, err := req.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to copy request: %w", err)
		}
		out = append(out, cp)
	}
	return out, nil
}
