package approval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

const inboxScanPage = 200

// ListAssigned returns in-review requests on which reviewerID is expected
// to act, newest first.
func (s *Service) ListAssigned(ctx context.Context, reviewerID string, limit, offset int) ([]*approval.Request, error) {
	rv, err := s.reviewer(ctx, reviewerID)
	if err != nil {
		return nil, err
	}

	type pin struct {
		id      uuid.UUID
		version int
	}
	defs := map[pin]*workflow.Workflow{}
	status := approval.StatusInReview
	filter := approval.Filter{Status: &status}

	var out []*approval.Request
	skipped := 0
	for page := 0; ; page += inboxScanPage {
		reqs, err := s.requests.List(ctx, filter, inboxScanPage, page)
		if err != nil {
			return nil, fmt.Errorf("failed to list approval requests: %w", err)
		}
		for _, req := range reqs {
			key := pin{req.WorkflowID, req.WorkflowVersion}
			wf, ok := defs[key]
			if !ok {
				wf, err = s.workflows.GetVersion(ctx, req.WorkflowID, req.WorkflowVersion)
				if err != nil {
					s.logger.Warn().Err(err).Str("request_id", req.RequestID.String()).Msg("skipping request with unresolved workflow")
					continue
				}
				defs[key] = wf
			}
			if !req.AwaitsReviewer(wf, rv) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, req)
			if len(out) == limit {
				return out, nil
			}
		}
		if len(reqs) < inboxScanPage {
			return out, nil
		}
	}
}
