package approval

import "github.com/execution-hub/content-approval/internal/domain/workflow"

// AwaitsReviewer reports whether rv is explicitly assigned to the current
// step, or escalated onto it, and still owes a decision on the latest
// revision. Open steps that accept anyone do not count as an assignment.
func (r *Request) AwaitsReviewer(wf *workflow.Workflow, rv Reviewer) bool {
	if r.Status != StatusInReview {
		return false
	}
	step, ok := wf.StepByIndex(r.CurrentStep)
	if !ok {
		return false
	}
	rev := r.LatestRevision()
	if rev == nil {
		return false
	}
	if step.HasRequiredChecks() && rev.Checks[step.ID] == nil {
		return false
	}
	if r.hasDecision(r.CurrentStep, rev.Version, rv.ID) {
		return false
	}
	for _, action := range []Action{ActionApprove, ActionReject, ActionRequestChanges} {
		slot, escalated, err := r.authorize(step, rv, action)
		if err == nil && (slot != nil || escalated) {
			return true
		}
	}
	return false
}
