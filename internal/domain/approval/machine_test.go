package approval

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/content-approval/internal/domain/policy"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func user(id string) workflow.Assignee {
	return workflow.Assignee{Type: workflow.AssigneeUser, ID: id, CanApprove: true, CanReject: true, CanRequestChanges: true, CanComment: true}
}

func float(v float64) *float64 { return &v }

// checkThenReview is an automated brand-safety gate followed by a single
// reviewer.
func checkThenReview() *workflow.Workflow {
	return &workflow.Workflow{
		WorkflowID: uuid.New(),
		Version:    1,
		Name:       "check then review",
		Active:     true,
		Steps: []workflow.Step{
			{
				ID:          "brand",
				Name:        "Brand safety",
				Kind:        workflow.KindAutomatedCheck,
				Order:       1,
				AutoAdvance: true,
				Criteria: workflow.Criteria{
					BrandSafety: &workflow.BrandSafetyCriteria{Required: true, Threshold: 0.8, AutoReject: true},
				},
			},
			{
				ID:        "review",
				Name:      "Editorial review",
				Kind:      workflow.KindReview,
				Order:     2,
				Assignees: []workflow.Assignee{user("alice")},
			},
		},
	}
}

func parallelWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		WorkflowID: uuid.New(),
		Version:    1,
		Name:       "parallel",
		Steps: []workflow.Step{
			{ID: "legal", Name: "Legal", Kind: workflow.KindApproval, Order: 1, Parallel: true,
				Assignees: []workflow.Assignee{user("alice"), user("bob")}},
			{ID: "final", Name: "Final", Kind: workflow.KindFinalApproval, Order: 2,
				Assignees: []workflow.Assignee{user("carol"), user("dave")},
				Timeout:   &workflow.Timeout{Hours: 24, Action: workflow.TimeoutAutoReject}},
		},
	}
}

func newRequest(t *testing.T, wf *workflow.Workflow) *Request {
	t.Helper()
	req, err := NewRequest(wf, NewParams{
		ContentPieceID: "post-1",
		SubmittedBy:    "writer",
		Content:        Content{Title: "Launch", Body: "We are live.", Hashtags: []string{"launch"}},
	}, t0)
	require.NoError(t, err)
	return req
}

func brandResult(score float64, passed bool) *policy.CheckResult {
	return &policy.CheckResult{
		Results: []policy.DimensionResult{{
			Dimension:  policy.DimensionBrandSafety,
			Passed:     passed,
			Score:      float(score),
			Threshold:  float(0.8),
			AutoReject: true,
			Issues:     issuesFor(passed),
		}},
		CheckedAt: t0,
	}
}

func issuesFor(passed bool) []string {
	if passed {
		return nil
	}
	return []string{"score below threshold"}
}

func approve(id string) DecideInput {
	return DecideInput{Reviewer: Reviewer{ID: id}, Action: ActionApprove}
}

func TestNewRequest(t *testing.T) {
	wf := checkThenReview()
	req := newRequest(t, wf)

	assert.Equal(t, StatusInReview, req.Status)
	assert.Equal(t, 0, req.CurrentStep)
	require.Len(t, req.Revisions, 1)
	assert.Equal(t, 1, req.Revisions[0].Version)
	assert.Empty(t, req.Revisions[0].Changes)
	assert.Equal(t, PriorityNormal, req.Priority)
	assert.Equal(t, wf.Version, req.WorkflowVersion)

	t.Run("requires content piece", func(t *testing.T) {
		_, err := NewRequest(wf, NewParams{SubmittedBy: "writer"}, t0)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestAutomatedCheckAutoAdvancesThenApproves(t *testing.T) {
	wf := checkThenReview()
	req := newRequest(t, wf)

	rec, out, err := req.ApplyChecks(wf, 0, 1, brandResult(0.95, true), t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, SourceAutomatedCheck, rec.Source)
	assert.Equal(t, 1, req.CurrentStep)
	assert.Equal(t, 1, out.EnteredStep)
	assert.Equal(t, StatusInReview, req.Status)

	_, _, err = req.Decide(wf, approve("alice"), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, len(wf.Steps), req.CurrentStep)
	assert.NotNil(t, req.CompletedAt)
}

func TestAutomatedCheckAutoReject(t *testing.T) {
	wf := checkThenReview()
	req := newRequest(t, wf)

	rec, _, err := req.ApplyChecks(wf, 0, 1, brandResult(0.3, false), t0)
	require.NoError(t, err)
	assert.Equal(t, DecisionRejected, rec.Decision)
	assert.Equal(t, StatusRejected, req.Status)
	assert.Equal(t, 0, req.CurrentStep)
	assert.Contains(t, rec.SuggestedChanges, "brand_safety: score below threshold")
}

func TestFailedCheckWithoutAutoRejectRequestsChanges(t *testing.T) {
	wf := checkThenReview()
	wf.Steps[0].Criteria.BrandSafety.AutoReject = false
	req := newRequest(t, wf)

	result := brandResult(0.5, false)
	result.Results[0].AutoReject = false
	rec, _, err := req.ApplyChecks(wf, 0, 1, result, t0)
	require.NoError(t, err)
	assert.Equal(t, DecisionNeedsChanges, rec.Decision)
	assert.Equal(t, StatusNeedsChanges, req.Status)

	rev, err := req.SubmitRevision(wf, Content{Title: "Launch", Body: "We are live!"}, "writer", "softened", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, rev.Version)
	assert.Equal(t, StatusInReview, req.Status)
	assert.Equal(t, 0, req.CurrentStep)
	assert.Empty(t, rev.Checks)

	_, _, err = req.ApplyChecks(wf, 0, 1, brandResult(0.9, true), t0)
	assert.ErrorIs(t, err, ErrStaleCheck)

	_, _, err = req.ApplyChecks(wf, 0, 2, brandResult(0.9, true), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, req.CurrentStep)
}

func TestPolicyEscalationAddsReviewers(t *testing.T) {
	wf := checkThenReview()
	wf.Rules.Escalation = []workflow.EscalationRule{{StepID: "brand", Assignees: []workflow.Assignee{user("lead")}}}
	req := newRequest(t, wf)

	rec, out, err := req.ApplyChecks(wf, 0, 1, &policy.CheckResult{Escalated: true, Error: "timeout"}, t0)
	require.NoError(t, err)
	assert.Equal(t, SourcePolicyEscalation, rec.Source)
	assert.Equal(t, DecisionNone, rec.Decision)
	assert.False(t, out.Advanced)
	assert.Equal(t, StatusInReview, req.Status)
	require.Len(t, req.Escalated["brand"], 1)

	_, _, err = req.Decide(wf, approve("mallory"), t0)
	assert.ErrorIs(t, err, ErrReviewerNotAuthorized)

	rec, _, err = req.Decide(wf, approve("lead"), t0)
	require.NoError(t, err)
	assert.True(t, rec.EscalatedReviewer)
	assert.Equal(t, 1, req.CurrentStep)
}

func TestParallelStepNeedsEveryAssignee(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)

	_, out, err := req.Decide(wf, approve("alice"), t0)
	require.NoError(t, err)
	assert.False(t, out.Advanced)
	assert.Equal(t, StatusInReview, req.Status)
	assert.Equal(t, 0, req.CurrentStep)
	assert.False(t, req.StepComplete(wf, 0))

	_, _, err = req.Decide(wf, approve("alice"), t0)
	assert.ErrorIs(t, err, ErrDuplicateDecision)
	assert.Equal(t, 0, req.CurrentStep)

	_, out, err = req.Decide(wf, approve("bob"), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, out.Advanced)
	assert.Equal(t, 1, req.CurrentStep)
	assert.Equal(t, StatusInReview, req.Status)
	require.NotNil(t, req.StepDeadline)
	assert.Equal(t, t0.Add(time.Minute+24*time.Hour), *req.StepDeadline)
}

func TestParallelStepIgnoresNonAssigneeApprovals(t *testing.T) {
	wf := parallelWorkflow()
	wf.Steps[0].AllowNonAssignees = true
	req := newRequest(t, wf)

	rec, _, err := req.Decide(wf, approve("outsider"), t0)
	require.NoError(t, err)
	assert.Nil(t, rec.AssigneeSlot)
	_, _, err = req.Decide(wf, approve("alice"), t0)
	require.NoError(t, err)

	assert.Equal(t, 0, req.CurrentStep)
	assert.False(t, req.StepComplete(wf, 0))
}

func TestParallelStepRoleSlots(t *testing.T) {
	wf := parallelWorkflow()
	role := workflow.Assignee{Type: workflow.AssigneeRole, ID: "legal", CanApprove: true}
	wf.Steps[0].Assignees = []workflow.Assignee{role, role}
	req := newRequest(t, wf)

	first, _, err := req.Decide(wf, DecideInput{Reviewer: Reviewer{ID: "erin", Roles: []string{"legal"}}, Action: ActionApprove}, t0)
	require.NoError(t, err)
	require.NotNil(t, first.AssigneeSlot)
	assert.Equal(t, 0, *first.AssigneeSlot)

	second, _, err := req.Decide(wf, DecideInput{Reviewer: Reviewer{ID: "frank", Roles: []string{"Legal"}}, Action: ActionApprove}, t0)
	require.NoError(t, err)
	require.NotNil(t, second.AssigneeSlot)
	assert.Equal(t, 1, *second.AssigneeSlot)
	assert.Equal(t, 1, req.CurrentStep)
}

func TestSequentialStepOneApprovalSuffices(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)
	_, _, err := req.Decide(wf, approve("alice"), t0)
	require.NoError(t, err)
	_, _, err = req.Decide(wf, approve("bob"), t0)
	require.NoError(t, err)

	_, _, err = req.Decide(wf, approve("dave"), t0)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, 2, req.CurrentStep)
}

func TestDecideAuthorization(t *testing.T) {
	wf := parallelWorkflow()

	t.Run("unassigned reviewer", func(t *testing.T) {
		req := newRequest(t, wf)
		_, _, err := req.Decide(wf, approve("mallory"), t0)
		assert.ErrorIs(t, err, ErrReviewerNotAuthorized)
		assert.Empty(t, req.Approvals)
	})

	t.Run("capability denied", func(t *testing.T) {
		restricted := parallelWorkflow()
		restricted.Steps[0].Assignees[0].CanReject = false
		req := newRequest(t, restricted)
		_, _, err := req.Decide(restricted, DecideInput{Reviewer: Reviewer{ID: "alice"}, Action: ActionReject}, t0)
		assert.ErrorIs(t, err, ErrReviewerNotAuthorized)
		assert.Equal(t, StatusInReview, req.Status)
	})

	t.Run("stale step", func(t *testing.T) {
		req := newRequest(t, wf)
		in := approve("alice")
		in.StepID = "final"
		_, _, err := req.Decide(wf, in, t0)
		assert.ErrorIs(t, err, ErrStepMismatch)
	})

	t.Run("unknown action", func(t *testing.T) {
		req := newRequest(t, wf)
		_, _, err := req.Decide(wf, DecideInput{Reviewer: Reviewer{ID: "alice"}, Action: "escalate"}, t0)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("step out of range", func(t *testing.T) {
		req := newRequest(t, wf)
		req.CurrentStep = 7
		_, _, err := req.Decide(wf, approve("alice"), t0)
		assert.ErrorIs(t, err, ErrInvalidStep)
		assert.Equal(t, KindConsistency, Kind(err))
	})

	t.Run("checks pending", func(t *testing.T) {
		gated := checkThenReview()
		gated.Steps[0].Assignees = []workflow.Assignee{user("alice")}
		req := newRequest(t, gated)
		_, _, err := req.Decide(gated, approve("alice"), t0)
		assert.ErrorIs(t, err, ErrChecksPending)
	})
}

func TestRequestChangesKeepsStep(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)
	_, _, err := req.Decide(wf, approve("alice"), t0)
	require.NoError(t, err)

	_, _, err = req.Decide(wf, DecideInput{Reviewer: Reviewer{ID: "bob"}, Action: ActionRequestChanges, SuggestedChanges: []string{"cite source"}}, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsChanges, req.Status)
	assert.Equal(t, 0, req.CurrentStep)

	_, _, err = req.Decide(wf, approve("bob"), t0)
	assert.ErrorIs(t, err, ErrNotAwaitingDecision)

	_, err = req.SubmitRevision(wf, Content{Title: "Launch", Body: "We are live. Source: blog."}, "writer", "", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, req.Status)

	// approvals on the previous revision no longer count
	_, out, err := req.Decide(wf, approve("bob"), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, out.Advanced)
	_, out, err = req.Decide(wf, approve("alice"), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, out.Advanced)
}

func TestTerminality(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)
	_, _, err := req.Decide(wf, DecideInput{Reviewer: Reviewer{ID: "alice"}, Action: ActionReject}, t0)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, req.Status)

	approvals := len(req.Approvals)
	revisions := len(req.Revisions)

	_, _, err = req.Decide(wf, approve("bob"), t0)
	assert.ErrorIs(t, err, ErrRequestTerminal)
	_, err = req.SubmitRevision(wf, Content{Title: "x"}, "writer", "", t0)
	assert.ErrorIs(t, err, ErrRequestTerminal)
	_, _, err = req.ApplyChecks(wf, 0, 1, brandResult(1, true), t0)
	assert.ErrorIs(t, err, ErrRequestTerminal)
	_, _, err = req.AutoApprove(wf, "", t0)
	assert.ErrorIs(t, err, ErrRequestTerminal)
	_, err = req.Withdraw(wf, "writer", "", t0)
	assert.ErrorIs(t, err, ErrRequestTerminal)
	_, err = req.AddComment("bob", "late", CommentGeneral, nil, t0)
	assert.ErrorIs(t, err, ErrRequestTerminal)

	assert.Len(t, req.Approvals, approvals)
	assert.Len(t, req.Revisions, revisions)
	assert.Equal(t, KindTerminal, Kind(ErrRequestTerminal))
}

func TestAutoApprove(t *testing.T) {
	wf := checkThenReview()
	req := newRequest(t, wf)

	rec, out, err := req.AutoApprove(wf, "trusted submitter", t0)
	require.NoError(t, err)
	assert.Equal(t, SourceAutoApproval, rec.Source)
	assert.Equal(t, SystemAutoApproval, rec.Reviewer)
	assert.True(t, out.Advanced)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, len(wf.Steps), req.CurrentStep)
}

func TestTimeoutDecisionMatchesHumanShape(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)

	rec, _, err := req.Decide(wf, DecideInput{
		Reviewer: Reviewer{ID: SystemTimeout},
		Action:   ActionReject,
		Source:   SourceTimeout,
		Comments: "step timed out",
	}, t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ActionReject, rec.Action)
	assert.Equal(t, DecisionRejected, rec.Decision)
	assert.Equal(t, "legal", rec.StepID)
	assert.Equal(t, StatusRejected, req.Status)
}

func TestWithdraw(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)

	_, err := req.Withdraw(wf, "alice", "", t0)
	assert.ErrorIs(t, err, ErrReviewerNotAuthorized)

	rec, err := req.Withdraw(wf, "writer", "duplicate post", t0)
	require.NoError(t, err)
	assert.Equal(t, SourceWithdrawal, rec.Source)
	assert.Equal(t, StatusWithdrawn, req.Status)
	assert.True(t, req.Status.Terminal())
}

func TestComments(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)

	c, err := req.AddComment("alice", "Is the date right?", CommentQuestion, []string{"writer"}, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, req.Status)
	assert.Empty(t, req.Approvals)

	_, err = req.AddComment("alice", "x", "rant", nil, t0)
	assert.ErrorIs(t, err, ErrValidation)

	resolved, err := req.ResolveComment(c.CommentID, "writer", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "writer", *resolved.ResolvedBy)

	_, err = req.ResolveComment(uuid.New(), "writer", t0)
	assert.ErrorIs(t, err, ErrCommentNotFound)
}

func TestRevisionVersionsAreGapless(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)
	for i := 0; i < 4; i++ {
		_, _, err := req.Decide(wf, DecideInput{Reviewer: Reviewer{ID: "alice"}, Action: ActionRequestChanges}, t0)
		require.NoError(t, err)
		_, err = req.SubmitRevision(wf, Content{Title: "v", Body: string(rune('a' + i))}, "writer", "", t0)
		require.NoError(t, err)
	}
	for i, rev := range req.Revisions {
		assert.Equal(t, i+1, rev.Version)
	}
}

func TestCurrentStepNeverDecreases(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)
	steps := []int{req.CurrentStep}
	inputs := []DecideInput{
		approve("alice"),
		{Reviewer: Reviewer{ID: "bob"}, Action: ActionRequestChanges},
	}
	for _, in := range inputs {
		_, _, err := req.Decide(wf, in, t0)
		require.NoError(t, err)
		steps = append(steps, req.CurrentStep)
	}
	_, err := req.SubmitRevision(wf, Content{Title: "again"}, "writer", "", t0)
	require.NoError(t, err)
	for _, id := range []string{"alice", "bob", "carol"} {
		_, _, err := req.Decide(wf, approve(id), t0)
		require.NoError(t, err)
		steps = append(steps, req.CurrentStep)
	}
	for i := 1; i < len(steps); i++ {
		assert.GreaterOrEqual(t, steps[i], steps[i-1])
	}
	assert.Equal(t, StatusApproved, req.Status)
}

func TestReplayReconstructsState(t *testing.T) {
	t.Run("parallel with revision", func(t *testing.T) {
		wf := parallelWorkflow()
		req := newRequest(t, wf)
		_, _, err := req.Decide(wf, approve("alice"), t0)
		require.NoError(t, err)
		_, _, err = req.Decide(wf, DecideInput{Reviewer: Reviewer{ID: "bob"}, Action: ActionRequestChanges}, t0)
		require.NoError(t, err)
		_, err = req.SubmitRevision(wf, Content{Title: "fixed"}, "writer", "", t0)
		require.NoError(t, err)
		_, _, err = req.Decide(wf, approve("bob"), t0)
		require.NoError(t, err)
		_, _, err = req.Decide(wf, approve("alice"), t0)
		require.NoError(t, err)

		status, step := Replay(wf, req)
		assert.Equal(t, req.Status, status)
		assert.Equal(t, req.CurrentStep, step)
		assert.Equal(t, 1, step)
	})

	t.Run("checks and escalation", func(t *testing.T) {
		wf := checkThenReview()
		wf.Rules.Escalation = []workflow.EscalationRule{{Assignees: []workflow.Assignee{user("lead")}}}
		req := newRequest(t, wf)
		_, _, err := req.ApplyChecks(wf, 0, 1, &policy.CheckResult{Escalated: true}, t0)
		require.NoError(t, err)
		_, _, err = req.Decide(wf, approve("lead"), t0)
		require.NoError(t, err)
		_, _, err = req.Decide(wf, approve("alice"), t0)
		require.NoError(t, err)

		status, step := Replay(wf, req)
		assert.Equal(t, StatusApproved, status)
		assert.Equal(t, 2, step)
	})

	t.Run("survives clone", func(t *testing.T) {
		wf := parallelWorkflow()
		req := newRequest(t, wf)
		_, _, err := req.Decide(wf, DecideInput{Reviewer: Reviewer{ID: "alice"}, Action: ActionReject}, t0)
		require.NoError(t, err)

		cp, err := req.Clone()
		require.NoError(t, err)
		status, step := Replay(wf, cp)
		assert.Equal(t, StatusRejected, status)
		assert.Equal(t, 0, step)
	})
}

func TestDiffContent(t *testing.T) {
	prev := Content{Title: "Launch", Body: "line one\nline two\n", Hashtags: []string{"a", "b"}, MediaRefs: []string{"img1"}}
	next := Content{Title: "Launch", Body: "line one\nline 2\n", Hashtags: []string{"b", "c"}, Mentions: []string{"@acme"}}

	changes := DiffContent(prev, next)

	byField := map[string][]Change{}
	for _, c := range changes {
		byField[c.Field] = append(byField[c.Field], c)
	}
	assert.NotContains(t, byField, "title")
	require.Len(t, byField["body"], 1)
	assert.Equal(t, ChangeModification, byField["body"][0].Type)
	assert.Contains(t, byField["body"][0].Patch, "-line two")
	assert.Contains(t, byField["body"][0].Patch, "+line 2")
	assert.ElementsMatch(t, []Change{
		{Type: ChangeDeletion, Field: "hashtags", OldValue: "a"},
		{Type: ChangeAddition, Field: "hashtags", NewValue: "c"},
	}, byField["hashtags"])
	assert.Equal(t, []Change{{Type: ChangeAddition, Field: "mentions", NewValue: "@acme"}}, byField["mentions"])
	assert.Equal(t, []Change{{Type: ChangeDeletion, Field: "media", OldValue: "img1"}}, byField["media"])

	assert.Empty(t, DiffContent(prev, prev))
}

func TestParallelStepEscalatedApprovalFillsNoSlot(t *testing.T) {
	wf := parallelWorkflow()
	req := newRequest(t, wf)

	_, err := req.Escalate(wf, SourceTimeout, SystemTimeout, []workflow.Assignee{user("carol")}, "legal is away", t0)
	require.NoError(t, err)

	rec, out, err := req.Decide(wf, approve("carol"), t0)
	require.NoError(t, err)
	assert.True(t, rec.EscalatedReviewer)
	assert.Nil(t, rec.AssigneeSlot)
	assert.False(t, out.Advanced)
	assert.Equal(t, 0, req.CurrentStep)
	assert.False(t, req.StepComplete(wf, 0))

	_, _, err = req.Decide(wf, approve("alice"), t0)
	require.NoError(t, err)
	assert.Equal(t, 0, req.CurrentStep)

	_, out, err = req.Decide(wf, approve("bob"), t0)
	require.NoError(t, err)
	assert.True(t, out.Advanced)
	assert.Equal(t, 1, req.CurrentStep)
}
