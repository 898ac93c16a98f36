package approval

import (
	"context"

	"github.com/google/uuid"

	appNotification "github.com/execution-hub/content-approval/internal/application/notification"
	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/notification"
)

// RevisionInput holds a resubmission.
type RevisionInput struct {
	Content     approval.Content
	SubmittedBy string
	Notes       string
}

// SubmitRevision appends a revision and puts the request back into review
// on its current step. The step's checks run against the new revision;
// auto-approval is re-evaluated when the workflow asks for it.
func (s *Service) SubmitRevision(ctx context.Context, requestID uuid.UUID, in RevisionInput) (rev *approval.Revision, req *approval.Request, err error) {
	defer func() { s.observe("submit_revision", err) }()

	_, wf, err := s.load(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	reevaluate := wf.Rules.AutoApproval.ReevaluateOnRevision

	var (
		rec  *approval.ContentApproval
		out  approval.Outcome
		prev approval.Status
	)
	now := s.now()
	updated, err := s.requests.Update(ctx, requestID, func(r *approval.Request) error {
		rec = nil
		prev = r.Status
		var err error
		rev, err = r.SubmitRevision(wf, in.Content, in.SubmittedBy, in.Notes, now)
		if err != nil {
			return err
		}
		if step, ok := wf.StepByIndex(r.CurrentStep); ok && !step.HasRequiredChecks() && reevaluate {
			if res := s.evaluator.ShouldAutoApprove(r, wf, nil); res.Approved {
				rec, out, err = r.AutoApprove(wf, res.Reason(), now)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if prev != approval.StatusInReview {
		s.observer.ObserveTransition(string(prev), string(approval.StatusInReview))
	}

	s.logger.Info().
		Str("request_id", requestID.String()).
		Int("revision", rev.Version).
		Int("changes", len(rev.Changes)).
		Str("submitted_by", in.SubmittedBy).
		Msg("revision submitted")

	if rec != nil {
		s.notify(ctx, wf, updated, appNotification.Envelope{
			Event:      notification.EventRevisionSubmitted,
			Recipients: []string{updated.SubmittedBy},
			Payload:    map[string]interface{}{"revision": rev.Version},
		})
		req, err = s.settle(ctx, wf, updated, rec, out)
	} else {
		req, err = s.review(ctx, wf, updated, reevaluate, notification.EventRevisionSubmitted)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID.String()).Msg("failed to review revision")
		return rev, s.stored(updated), nil
	}
	return rev, req, nil
}
