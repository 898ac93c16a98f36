package approval

import (
	"fmt"
	"time"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// TimeoutResult describes what ApplyTimeout did.
type TimeoutResult struct {
	Action   workflow.TimeoutAction
	Record   *ContentApproval
	Outcome  Outcome
	StepID   string
	Notify   []string
	Assigned []workflow.Assignee
}

// TimedOut reports whether the current step's timeout is due and unhandled.
func (r *Request) TimedOut(now time.Time) bool {
	return r.Status == StatusInReview && !r.TimeoutFired &&
		r.StepDeadline != nil && !now.Before(*r.StepDeadline)
}

// ApplyTimeout performs the current step's timeout action. A request whose
// step moved on, or whose timeout already fired, returns ErrStaleTimeout.
func (r *Request) ApplyTimeout(wf *workflow.Workflow, now time.Time) (*TimeoutResult, error) {
	if r.Status.Terminal() {
		return nil, ErrRequestTerminal
	}
	if !r.TimedOut(now) {
		return nil, ErrStaleTimeout
	}
	step, ok := wf.StepByIndex(r.CurrentStep)
	if !ok {
		return nil, fmt.Errorf("%w: step %d of %d", ErrInvalidStep, r.CurrentStep, len(wf.Steps))
	}
	if step.Timeout == nil {
		return nil, ErrStaleTimeout
	}

	res := &TimeoutResult{
		Action:  step.Timeout.Action,
		StepID:  step.ID,
		Outcome: Outcome{PreviousStatus: r.Status, PreviousStep: r.CurrentStep, EnteredStep: -1},
	}
	reason := fmt.Sprintf("step %s timed out after %gh", step.ID, step.Timeout.Hours)

	switch step.Timeout.Action {
	case workflow.TimeoutAutoApprove, workflow.TimeoutAutoReject:
		action := ActionApprove
		if step.Timeout.Action == workflow.TimeoutAutoReject {
			action = ActionReject
		}
		r.MarkTimeoutFired(now)
		rec, out, err := r.Decide(wf, DecideInput{
			StepID:   step.ID,
			Reviewer: Reviewer{ID: SystemTimeout},
			Action:   action,
			Source:   SourceTimeout,
			Comments: reason,
		}, now)
		if err != nil {
			return nil, err
		}
		res.Record, res.Outcome = rec, out
	case workflow.TimeoutEscalate:
		elapsed := now.Sub(r.StepEnteredAt).Hours()
		for _, rule := range wf.EscalationFor(step.ID) {
			if rule.AfterHours > elapsed {
				continue
			}
			res.Assigned = append(res.Assigned, rule.Assignees...)
			res.Notify = append(res.Notify, rule.Notify...)
		}
		rec, err := r.Escalate(wf, SourceTimeout, SystemTimeout, res.Assigned, reason+"; escalated", now)
		if err != nil {
			return nil, err
		}
		r.MarkTimeoutFired(now)
		res.Record = rec
	case workflow.TimeoutNotify:
		r.MarkTimeoutFired(now)
	default:
		return nil, fmt.Errorf("%w: unknown timeout action %q", ErrValidation, step.Timeout.Action)
	}
	return res, nil
}
