package approval

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

func timedReview(action workflow.TimeoutAction) *workflow.Workflow {
	return &workflow.Workflow{
		WorkflowID: uuid.New(),
		Version:    1,
		Name:       "timed",
		Steps: []workflow.Step{
			{ID: "review", Name: "Review", Kind: workflow.KindReview, Order: 1,
				Assignees: []workflow.Assignee{user("alice")},
				Timeout:   &workflow.Timeout{Hours: 2, Action: action}},
			{ID: "publish", Name: "Publish", Kind: workflow.KindFinalApproval, Order: 2,
				Assignees: []workflow.Assignee{user("carol")}},
		},
		Rules: workflow.Rules{Escalation: []workflow.EscalationRule{
			{StepID: "review", Assignees: []workflow.Assignee{user("lead")}, Notify: []string{"ops"}},
			{StepID: "review", AfterHours: 48, Assignees: []workflow.Assignee{user("director")}},
		}},
	}
}

func TestApplyTimeout_AutoReject(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)
	_, _, err := req.Decide(wf, approve("alice"), t0)
	require.NoError(t, err)
	_, _, err = req.Decide(wf, approve("bob"), t0)
	require.NoError(t, err)
	require.Equal(t, 1, req.CurrentStep)
	require.NotNil(t, req.StepDeadline)

	_, err = req.ApplyTimeout(wf, t0.Add(23*time.Hour))
	assert.ErrorIs(t, err, ErrStaleTimeout)

	res, err := req.ApplyTimeout(wf, t0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, workflow.TimeoutAutoReject, res.Action)
	assert.Equal(t, StatusRejected, req.Status)
	require.NotNil(t, res.Record)
	assert.Equal(t, SourceTimeout, res.Record.Source)
	assert.Equal(t, SystemTimeout, res.Record.Reviewer)
	assert.Equal(t, "final", res.Record.StepID)

	_, err = req.ApplyTimeout(wf, t0.Add(26*time.Hour))
	assert.ErrorIs(t, err, ErrRequestTerminal)
}

func TestApplyTimeout_AutoApproveAdvances(t *testing.T) {
	wf := timedReview(workflow.TimeoutAutoApprove)
	req := newRequest(t, wf)

	res, err := req.ApplyTimeout(wf, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Outcome.Advanced)
	assert.Equal(t, 1, res.Outcome.EnteredStep)
	assert.Equal(t, StatusInReview, req.Status)
	assert.False(t, req.TimeoutFired)
	assert.Nil(t, req.StepDeadline)
}

func TestApplyTimeout_Escalate(t *testing.T) {
	wf := timedReview(workflow.TimeoutEscalate)
	req := newRequest(t, wf)

	res, err := req.ApplyTimeout(wf, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []workflow.Assignee{user("lead")}, res.Assigned)
	assert.Equal(t, []string{"ops"}, res.Notify)
	assert.Equal(t, StatusInReview, req.Status)
	assert.True(t, req.TimeoutFired)
	assert.Equal(t, []workflow.Assignee{user("lead")}, req.Escalated["review"])

	_, err = req.ApplyTimeout(wf, t0.Add(4*time.Hour))
	assert.ErrorIs(t, err, ErrStaleTimeout)

	rec, out, err := req.Decide(wf, approve("lead"), t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.True(t, rec.EscalatedReviewer)
	assert.Equal(t, 1, out.EnteredStep)
}

func TestApplyTimeout_Notify(t *testing.T) {
	wf := timedReview(workflow.TimeoutNotify)
	req := newRequest(t, wf)
	approvals := len(req.Approvals)

	res, err := req.ApplyTimeout(wf, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, res.Record)
	assert.True(t, req.TimeoutFired)
	assert.Equal(t, StatusInReview, req.Status)
	assert.Len(t, req.Approvals, approvals)
}

func TestApplyTimeout_SkipsRequestsAwaitingRevision(t *testing.T) {
	wf := timedReview(workflow.TimeoutAutoApprove)
	req := newRequest(t, wf)
	_, _, err := req.Decide(wf, DecideInput{Reviewer: Reviewer{ID: "alice"}, Action: ActionRequestChanges}, t0)
	require.NoError(t, err)

	_, err = req.ApplyTimeout(wf, t0.Add(3*time.Hour))
	assert.ErrorIs(t, err, ErrStaleTimeout)
	assert.Equal(t, StatusNeedsChanges, req.Status)
}
