package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	appNotification "github.com/execution-hub/content-approval/internal/application/notification"
	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/notification"
	"github.com/execution-hub/content-approval/internal/domain/policy"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

var titles = map[notification.Event]string{
	notification.EventRequestCreated:    "Content submitted for approval",
	notification.EventRevisionSubmitted: "New revision submitted",
	notification.EventDecisionRecorded:  "Decision recorded",
	notification.EventStepEntered:       "Content awaiting your review",
	notification.EventRequestApproved:   "Content approved",
	notification.EventRequestRejected:   "Content rejected",
	notification.EventChangesRequested:  "Changes requested",
	notification.EventRequestWithdrawn:  "Request withdrawn",
	notification.EventRequestEscalated:  "Review escalated",
	notification.EventStepTimeout:       "Review step timed out",
	notification.EventCommentAdded:      "New comment",
}

// review runs the current step's checks against the latest revision, or
// notifies the step's assignees directly when the step has none. event is
// what assignees are told once the request is ready for them.
func (s *Service) review(ctx context.Context, wf *workflow.Workflow, req *approval.Request, evaluateAuto bool, event notification.Event) (*approval.Request, error) {
	step, ok := wf.StepByIndex(req.CurrentStep)
	if !ok || req.Status != approval.StatusInReview {
		return req, nil
	}
	if !step.HasRequiredChecks() {
		s.notifyAssignees(ctx, wf, req, step, event)
		return req, nil
	}
	rev := req.LatestRevision()
	job := checkJob{
		requestID:    req.RequestID,
		stepIndex:    req.CurrentStep,
		revision:     rev.Version,
		content:      rev.Content.PolicyContent(platforms(step)),
		evaluateAuto: evaluateAuto,
		event:        event,
	}
	if s.cfg.AsyncChecks {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.check(context.WithoutCancel(ctx), wf, job); err != nil {
				s.logger.Error().Err(err).Str("request_id", job.requestID.String()).Msg("background check failed")
			}
		}()
		return req, nil
	}
	return s.check(ctx, wf, job)
}

type checkJob struct {
	requestID    uuid.UUID
	stepIndex    int
	revision     int
	content      policy.Content
	evaluateAuto bool
	event        notification.Event
}

// check scores a revision outside the request lock and applies the result
// in a second update. A result for a revision or step that has since
// moved on is dropped.
func (s *Service) check(ctx context.Context, wf *workflow.Workflow, job checkJob) (*approval.Request, error) {
	step := &wf.Steps[job.stepIndex]
	log := s.logger.With().
		Str("request_id", job.requestID.String()).
		Str("step", step.ID).
		Int("revision", job.revision).
		Logger()

	result, err := s.checks.Run(ctx, job.content, step.Criteria)
	if err != nil {
		log.Error().Err(err).Msg("policy checks failed; escalating to human review")
		result = &policy.CheckResult{Escalated: true, Error: err.Error(), CheckedAt: s.now()}
	}
	// The request is already stored; its result must land even when the
	// caller has gone away, or the step would wait on checks forever.
	ctx = context.WithoutCancel(ctx)

	var (
		rec *approval.ContentApproval
		out approval.Outcome
	)
	now := s.now()
	updated, err := s.requests.Update(ctx, job.requestID, func(r *approval.Request) error {
		rec, out = nil, approval.Outcome{}
		if job.evaluateAuto && result.AllPassed() {
			if _, err := r.AttachChecks(wf, job.stepIndex, job.revision, result, now); err != nil {
				return err
			}
			if res := s.evaluator.ShouldAutoApprove(r, wf, result); res.Approved {
				var err error
				rec, out, err = r.AutoApprove(wf, res.Reason(), now)
				return err
			}
		}
		var err error
		rec, out, err = r.ApplyChecks(wf, job.stepIndex, job.revision, result, now)
		return err
	})
	if err != nil {
		if errors.Is(err, approval.ErrStaleCheck) || errors.Is(err, approval.ErrRequestTerminal) {
			log.Debug().Err(err).Msg("dropping check result")
			return s.Get(ctx, job.requestID)
		}
		return nil, fmt.Errorf("failed to apply check result: %w", err)
	}

	log.Info().
		Bool("passed", result.AllPassed()).
		Bool("escalated", result.Escalated).
		Str("status", string(updated.Status)).
		Msg("policy checks applied")

	if updated.Status == approval.StatusInReview && updated.CurrentStep == job.stepIndex {
		s.notifyAssignees(ctx, wf, updated, step, job.event)
	}
	if rec == nil {
		return updated, nil
	}
	return s.settle(ctx, wf, updated, rec, out)
}

// settle emits the events implied by a recorded transition and, when a new
// step was entered, starts its review.
func (s *Service) settle(ctx context.Context, wf *workflow.Workflow, req *approval.Request, rec *approval.ContentApproval, out approval.Outcome) (*approval.Request, error) {
	if out.StatusChanged(req) {
		s.observer.ObserveTransition(string(out.PreviousStatus), string(req.Status))
	}

	payload := map[string]interface{}{
		"approvalId": rec.ApprovalID,
		"action":     rec.Action,
		"source":     rec.Source,
		"reviewer":   rec.Reviewer,
	}
	if rec.Decision != approval.DecisionNone {
		s.notify(ctx, wf, req, appNotification.Envelope{
			Event:      notification.EventDecisionRecorded,
			StepID:     rec.StepID,
			Recipients: []string{req.SubmittedBy},
			Payload:    payload,
		})
	}
	if len(rec.Escalation) > 0 || rec.Source == approval.SourcePolicyEscalation {
		var notify []string
		for _, rule := range wf.EscalationFor(rec.StepID) {
			notify = append(notify, rule.Notify...)
		}
		s.notify(ctx, wf, req, appNotification.Envelope{
			Event:      notification.EventRequestEscalated,
			StepID:     rec.StepID,
			Recipients: notify,
			Assignees:  rec.Escalation,
			Payload:    map[string]interface{}{"reason": rec.Comments, "source": rec.Source},
		})
	}

	if out.StatusChanged(req) {
		switch req.Status {
		case approval.StatusApproved:
			s.notify(ctx, wf, req, appNotification.Envelope{Event: notification.EventRequestApproved, Recipients: []string{req.SubmittedBy}, Payload: payload})
		case approval.StatusRejected:
			s.notify(ctx, wf, req, appNotification.Envelope{Event: notification.EventRequestRejected, Recipients: []string{req.SubmittedBy}, Payload: payload})
		case approval.StatusNeedsChanges:
			payload["suggestedChanges"] = rec.SuggestedChanges
			s.notify(ctx, wf, req, appNotification.Envelope{Event: notification.EventChangesRequested, Recipients: []string{req.SubmittedBy}, Payload: payload})
		case approval.StatusWithdrawn:
			env := appNotification.Envelope{Event: notification.EventRequestWithdrawn, Payload: payload}
			if step, ok := wf.StepByIndex(req.CurrentStep); ok {
				env.StepID = step.ID
				env.Assignees = step.Assignees
			}
			s.notify(ctx, wf, req, env)
		}
		if req.Status.Terminal() {
			s.logger.Info().
				Str("request_id", req.RequestID.String()).
				Str("status", string(req.Status)).
				Str("source", string(rec.Source)).
				Msg("approval request completed")
		}
	}

	if out.EnteredStep >= 0 {
		return s.review(ctx, wf, req, false, notification.EventStepEntered)
	}
	return req, nil
}

func (s *Service) notifyAssignees(ctx context.Context, wf *workflow.Workflow, req *approval.Request, step *workflow.Step, event notification.Event) {
	assignees := append([]workflow.Assignee{}, step.Assignees...)
	assignees = append(assignees, req.Escalated[step.ID]...)
	if len(assignees) == 0 {
		return
	}
	s.notify(ctx, wf, req, appNotification.Envelope{
		Event:     event,
		StepID:    step.ID,
		Assignees: assignees,
		Payload: map[string]interface{}{
			"stepName": step.Name,
			"revision": req.LatestRevision().Version,
		},
	})
}

func (s *Service) notify(ctx context.Context, wf *workflow.Workflow, req *approval.Request, env appNotification.Envelope) {
	if s.publisher == nil {
		return
	}
	env.RequestID = req.RequestID
	env.Settings = wf.Rules.Notifications
	if env.Title == "" {
		env.Title = titles[env.Event]
	}
	payload := map[string]interface{}{
		"status":         req.Status,
		"currentStep":    req.CurrentStep,
		"workflowId":     req.WorkflowID,
		"contentPieceId": req.ContentPieceID,
	}
	for k, v := range env.Payload {
		payload[k] = v
	}
	env.Payload = payload
	s.publisher.Publish(ctx, env)
}

func platforms(step *workflow.Step) []string {
	if step.Criteria.PlatformOptimization == nil {
		return nil
	}
	return step.Criteria.PlatformOptimization.Platforms
}
