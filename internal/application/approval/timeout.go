package approval

import (
	"context"
	"errors"

	"github.com/google/uuid"

	appNotification "github.com/execution-hub/content-approval/internal/application/notification"
	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/notification"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// HandleTimeout applies the current step's timeout action if it is still
// due. It reports false when the request moved on before the lock was
// taken.
func (s *Service) HandleTimeout(ctx context.Context, requestID uuid.UUID) (fired bool, err error) {
	defer func() { s.observe("timeout", err) }()

	_, wf, err := s.load(ctx, requestID)
	if err != nil {
		return false, err
	}
	var res *approval.TimeoutResult
	now := s.now()
	updated, err := s.requests.Update(ctx, requestID, func(r *approval.Request) error {
		var err error
		res, err = r.ApplyTimeout(wf, now)
		return err
	})
	if errors.Is(err, approval.ErrStaleTimeout) || errors.Is(err, approval.ErrRequestTerminal) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.observer.ObserveTimeout(string(res.Action))

	s.logger.Info().
		Str("request_id", requestID.String()).
		Str("step", res.StepID).
		Str("action", string(res.Action)).
		Msg("step timeout fired")

	env := appNotification.Envelope{
		Event:      notification.EventStepTimeout,
		StepID:     res.StepID,
		Recipients: append([]string{updated.SubmittedBy}, res.Notify...),
		Payload:    map[string]interface{}{"action": res.Action},
	}
	if step, ok := wf.StepByIndex(res.Outcome.PreviousStep); ok && res.Action == workflow.TimeoutNotify {
		env.Assignees = append(append([]workflow.Assignee{}, step.Assignees...), updated.Escalated[step.ID]...)
	}
	s.notify(ctx, wf, updated, env)

	if res.Record == nil {
		return true, nil
	}
	if _, err := s.settle(ctx, wf, updated, res.Record, res.Outcome); err != nil {
		return true, err
	}
	return true, nil
}
