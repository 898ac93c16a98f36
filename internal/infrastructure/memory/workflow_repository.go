package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// WorkflowRepository implements workflow.Repository in process memory.
type WorkflowRepository struct {
	mu       sync.RWMutex
	versions map[uuid.UUID][]*workflow.Workflow
}

func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{versions: map[uuid.UUID][]*workflow.Workflow{}}
}

func (r *WorkflowRepository) Create(ctx context.Context, wf *workflow.Workflow) error {
	cp, err := cloneWorkflow(wf)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions[wf.WorkflowID] {
		if v.Version == wf.Version {
			return workflow.ErrVersionExists
		}
	}
	vs := append(r.versions[wf.WorkflowID], cp)
	sort.Slice(vs, func(i, j int) bool { return vs[i].Version < vs[j].Version })
	r.versions[wf.WorkflowID] = vs
	return nil
}

func (r *WorkflowRepository) GetLatest(ctx context.Context, workflowID uuid.UUID) (*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs := r.versions[workflowID]
	if len(vs) == 0 {
		return nil, nil
	}
	return cloneWorkflow(vs[len(vs)-1])
}

func (r *WorkflowRepository) GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions[workflowID] {
		if v.Version == version {
			return cloneWorkflow(v)
		}
	}
	return nil, nil
}

// List returns the latest version of each workflow, newest first.
func (r *WorkflowRepository) List(ctx context.Context, filter workflow.Filter, limit, offset int) ([]*workflow.Workflow, error) {
	r.mu.RLock()
	var latest []*workflow.Workflow
	for _, vs := range r.versions {
		wf := vs[len(vs)-1]
		if filter.OrganizationID != nil && wf.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.ActiveOnly && !wf.Active {
			continue
		}
		latest = append(latest, wf)
	}
	r.mu.RUnlock()

	sort.Slice(latest, func(i, j int) bool { return latest[i].CreatedAt.After(latest[j].CreatedAt) })
	if offset >= len(latest) {
		return nil, nil
	}
	latest = latest[offset:]
	if limit > 0 && limit < len(latest) {
		latest = latest[:limit]
	}
	out := make([]*workflow.Workflow, 0, len(latest))
	for _, wf := range latest {
		cp, err := cloneWorkflow(wf)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (r *WorkflowRepository) ListVersions(ctx context.Context, workflowID uuid.UUID) ([]*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs := r.versions[workflowID]
	out := make([]*workflow.Workflow, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		cp, err := cloneWorkflow(vs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (r *WorkflowRepository) SetActive(ctx context.Context, workflowID uuid.UUID, version int, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions[workflowID] {
		if v.Version == version {
			v.Active = active
			return nil
		}
	}
	return workflow.ErrWorkflowNotFound
}

func cloneWorkflow(wf *workflow.Workflow) (*workflow.Workflow, error) {
	data, err := json.Marshal(wf)
	if err != nil {
		return nil, err
	}
	var out workflow.Workflow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
