package approval

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/content-approval/internal/domain/policy"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// Reviewer is a resolved identity taking part in a decision.
type Reviewer struct {
	ID    string
	Roles []string
}

// Matches reports whether the reviewer fills the assignee slot.
func (rv Reviewer) Matches(a workflow.Assignee) bool {
	switch a.Type {
	case workflow.AssigneeRole:
		for _, role := range rv.Roles {
			if strings.EqualFold(role, a.ID) {
				return true
			}
		}
		return false
	default:
		return rv.ID == a.ID
	}
}

// Outcome summarizes what a transition did.
type Outcome struct {
	PreviousStatus Status
	PreviousStep   int
	Advanced       bool
	// EnteredStep is the index of a newly active step, or -1.
	EnteredStep int
}

// StatusChanged reports whether the request status moved.
func (o Outcome) StatusChanged(r *Request) bool {
	return o.PreviousStatus != r.Status
}

// NewParams holds the inputs for NewRequest.
type NewParams struct {
	ContentPieceID string
	SubmittedBy    string
	Priority       Priority
	Deadline       *time.Time
	Metadata       map[string]interface{}
	Content        Content
	Notes          string
}

// NewRequest creates a pending request with its initial revision and the
// first step active.
func NewRequest(wf *workflow.Workflow, p NewParams, now time.Time) (*Request, error) {
	if strings.TrimSpace(p.ContentPieceID) == "" {
		return nil, fmt.Errorf("%w: content piece id is required", ErrValidation)
	}
	if strings.TrimSpace(p.SubmittedBy) == "" {
		return nil, fmt.Errorf("%w: submitter is required", ErrValidation)
	}
	if len(wf.Steps) == 0 {
		return nil, fmt.Errorf("%w: workflow %s has no steps", ErrWorkflowMismatch, wf.WorkflowID)
	}
	priority := p.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	r := &Request{
		RequestID:       uuid.New(),
		ContentPieceID:  p.ContentPieceID,
		WorkflowID:      wf.WorkflowID,
		WorkflowVersion: wf.Version,
		OrganizationID:  wf.OrganizationID,
		SubmittedBy:     p.SubmittedBy,
		Metadata:        p.Metadata,
		Status:          StatusPending,
		Priority:        priority,
		Deadline:        p.Deadline,
		Escalated:       map[string][]workflow.Assignee{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.enterStep(wf, 0, now)
	r.appendRevision(p.Content, p.SubmittedBy, p.Notes, now)
	return r, nil
}

// SubmitRevision appends a new revision, diffed against the previous one,
// and moves the request back into review.
func (r *Request) SubmitRevision(wf *workflow.Workflow, content Content, submittedBy, notes string, now time.Time) (*Revision, error) {
	if r.Status.Terminal() {
		return nil, ErrRequestTerminal
	}
	if r.Status != StatusNeedsChanges && r.Status != StatusInReview {
		return nil, fmt.Errorf("%w: status is %s", ErrNotAwaitingRevision, r.Status)
	}
	if _, ok := wf.StepByIndex(r.CurrentStep); !ok {
		return nil, fmt.Errorf("%w: step %d of %d", ErrInvalidStep, r.CurrentStep, len(wf.Steps))
	}
	if strings.TrimSpace(submittedBy) == "" {
		return nil, fmt.Errorf("%w: submitter is required", ErrValidation)
	}
	return r.appendRevision(content, submittedBy, notes, now), nil
}

func (r *Request) appendRevision(content Content, submittedBy, notes string, now time.Time) *Revision {
	rev := &Revision{
		RevisionID:  uuid.New(),
		Version:     len(r.Revisions) + 1,
		Content:     content,
		SubmittedBy: submittedBy,
		Notes:       notes,
		Checks:      map[string]*policy.CheckResult{},
		CreatedAt:   now,
	}
	if prev := r.LatestRevision(); prev != nil {
		rev.Changes = DiffContent(prev.Content, content)
	}
	r.Seq++
	rev.Seq = r.Seq
	r.Revisions = append(r.Revisions, rev)
	r.applyRevision()
	r.UpdatedAt = now
	return rev
}

func (r *Request) applyRevision() {
	if !r.Status.Terminal() {
		r.Status = StatusInReview
	}
}

func (r *Request) enterStep(wf *workflow.Workflow, idx int, now time.Time) {
	r.CurrentStep = idx
	r.StepEnteredAt = now
	r.StepDeadline = nil
	r.TimeoutFired = false
	if step, ok := wf.StepByIndex(idx); ok && step.Timeout != nil {
		deadline := now.Add(step.Timeout.Duration())
		r.StepDeadline = &deadline
	}
}

// DecideInput is a decision presented to the state machine.
type DecideInput struct {
	// StepID, when set, must name the current step.
	StepID             string
	Reviewer           Reviewer
	Action             Action
	Source             Source
	Comments           string
	SuggestedChanges   []string
	CriteriaAssessment map[string]interface{}
}

// Decide authorizes and records a decision, then applies the resulting
// transition. On error the request is left unmodified.
func (r *Request) Decide(wf *workflow.Workflow, in DecideInput, now time.Time) (*ContentApproval, Outcome, error) {
	out := Outcome{PreviousStatus: r.Status, PreviousStep: r.CurrentStep, EnteredStep: -1}
	if r.Status.Terminal() {
		return nil, out, ErrRequestTerminal
	}
	step, ok := wf.StepByIndex(r.CurrentStep)
	if !ok {
		return nil, out, fmt.Errorf("%w: step %d of %d", ErrInvalidStep, r.CurrentStep, len(wf.Steps))
	}
	if in.StepID != "" && in.StepID != step.ID {
		return nil, out, fmt.Errorf("%w: current step is %s", ErrStepMismatch, step.ID)
	}
	decision, ok := DecisionFor(in.Action)
	if !ok {
		return nil, out, fmt.Errorf("%w: unknown action %q", ErrValidation, in.Action)
	}
	if in.Source == "" {
		in.Source = SourceHuman
	}
	if decision != DecisionNone && r.Status != StatusInReview {
		return nil, out, fmt.Errorf("%w: status is %s", ErrNotAwaitingDecision, r.Status)
	}
	rev := r.LatestRevision()
	if rev == nil {
		return nil, out, fmt.Errorf("%w: request has no revisions", ErrInvalidStep)
	}

	rec := &ContentApproval{
		ApprovalID:         uuid.New(),
		StepID:             step.ID,
		StepIndex:          r.CurrentStep,
		RevisionVersion:    rev.Version,
		Reviewer:           in.Reviewer.ID,
		Source:             in.Source,
		Action:             in.Action,
		Decision:           decision,
		Comments:           in.Comments,
		SuggestedChanges:   in.SuggestedChanges,
		CriteriaAssessment: in.CriteriaAssessment,
		CreatedAt:          now,
	}

	if in.Source == SourceHuman {
		if strings.TrimSpace(in.Reviewer.ID) == "" {
			return nil, out, fmt.Errorf("%w: reviewer is required", ErrValidation)
		}
		slot, escalated, err := r.authorize(step, in.Reviewer, in.Action)
		if err != nil {
			return nil, out, err
		}
		if decision != DecisionNone && r.hasDecision(r.CurrentStep, rev.Version, in.Reviewer.ID) {
			return nil, out, ErrDuplicateDecision
		}
		if in.Action == ActionApprove && step.HasRequiredChecks() && rev.Checks[step.ID] == nil {
			return nil, out, ErrChecksPending
		}
		if in.Action == ActionApprove {
			rec.AssigneeSlot = r.claimSlot(step, in.Reviewer, slot, rev.Version)
		}
		rec.EscalatedReviewer = escalated
	}

	out = r.apply(wf, rec, now)
	return rec, out, nil
}

// authorize returns the first assignee slot the reviewer matches for the
// action, or reports that the reviewer acts through an escalation.
func (r *Request) authorize(step *workflow.Step, rv Reviewer, action Action) (*int, bool, error) {
	capability := string(action)
	matchedAny := false
	var slot *int
	for i, a := range step.Assignees {
		if !rv.Matches(a) {
			continue
		}
		matchedAny = true
		if a.Allows(capability) && slot == nil {
			idx := i
			slot = &idx
		}
	}
	if slot != nil {
		return slot, false, nil
	}
	for _, a := range r.Escalated[step.ID] {
		if rv.Matches(a) && a.Allows(capability) {
			return nil, true, nil
		}
	}
	if matchedAny {
		return nil, false, fmt.Errorf("%w: %s may not %s", ErrReviewerNotAuthorized, rv.ID, action)
	}
	if step.AllowNonAssignees {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s is not assigned to step %s", ErrReviewerNotAuthorized, rv.ID, step.ID)
}

// claimSlot picks the assignee slot an approval fills. For parallel steps a
// slot already filled on this revision is skipped in favour of another slot
// the same reviewer matches.
func (r *Request) claimSlot(step *workflow.Step, rv Reviewer, first *int, revision int) *int {
	if first == nil {
		return nil
	}
	if !step.Parallel {
		return first
	}
	filled := r.filledSlots(r.CurrentStep, revision)
	for i, a := range step.Assignees {
		if _, ok := filled[i]; ok {
			continue
		}
		if rv.Matches(a) && a.Allows(string(ActionApprove)) {
			idx := i
			return &idx
		}
	}
	return first
}

func (r *Request) filledSlots(stepIndex, revision int) map[int]struct{} {
	filled := map[int]struct{}{}
	for _, a := range r.Approvals {
		if a.StepIndex == stepIndex && a.RevisionVersion == revision &&
			a.Decision == DecisionApproved && a.AssigneeSlot != nil {
			filled[*a.AssigneeSlot] = struct{}{}
		}
	}
	return filled
}

func (r *Request) hasDecision(stepIndex, revision int, reviewer string) bool {
	for _, a := range r.Approvals {
		if a.StepIndex == stepIndex && a.RevisionVersion == revision &&
			a.Reviewer == reviewer && a.Decision != DecisionNone {
			return true
		}
	}
	return false
}

// StepComplete evaluates completion of the step at idx on the latest
// revision. Engine-authored approvals complete a step outright. Escalated
// reviewers add approvals without filling an assignee slot, so a parallel
// step with assignees still needs every slot filled.
func (r *Request) StepComplete(wf *workflow.Workflow, idx int) bool {
	step, ok := wf.StepByIndex(idx)
	if !ok {
		return false
	}
	rev := r.LatestRevision()
	if rev == nil {
		return false
	}
	approvals := 0
	for _, a := range r.Approvals {
		if a.StepIndex != idx || a.RevisionVersion != rev.Version || a.Decision != DecisionApproved {
			continue
		}
		if a.Source.System() {
			return true
		}
		approvals++
	}
	if !step.Parallel || len(step.Assignees) == 0 {
		return approvals > 0
	}
	return len(r.filledSlots(idx, rev.Version)) == len(step.Assignees)
}

// apply appends rec and performs the transition it implies. Authorization
// has already happened; Replay calls apply directly.
func (r *Request) apply(wf *workflow.Workflow, rec *ContentApproval, now time.Time) Outcome {
	out := Outcome{PreviousStatus: r.Status, PreviousStep: r.CurrentStep, EnteredStep: -1}
	r.Seq++
	rec.Seq = r.Seq
	r.Approvals = append(r.Approvals, rec)
	r.UpdatedAt = now

	if len(rec.Escalation) > 0 {
		if r.Escalated == nil {
			r.Escalated = map[string][]workflow.Assignee{}
		}
		r.Escalated[rec.StepID] = append(r.Escalated[rec.StepID], rec.Escalation...)
	}

	if rec.Source == SourceWithdrawal {
		r.Status = StatusWithdrawn
		r.CompletedAt = &now
		return out
	}

	switch rec.Decision {
	case DecisionRejected:
		r.Status = StatusRejected
		r.CompletedAt = &now
	case DecisionNeedsChanges:
		r.Status = StatusNeedsChanges
	case DecisionApproved:
		if rec.Source == SourceAutoApproval {
			r.CurrentStep = len(wf.Steps)
			r.StepDeadline = nil
			r.Status = StatusApproved
			r.CompletedAt = &now
			out.Advanced = true
			return out
		}
		if !r.StepComplete(wf, r.CurrentStep) {
			r.Status = StatusInReview
			return out
		}
		out.Advanced = true
		next := r.CurrentStep + 1
		if next >= len(wf.Steps) {
			r.CurrentStep = len(wf.Steps)
			r.StepDeadline = nil
			r.Status = StatusApproved
			r.CompletedAt = &now
			return out
		}
		r.enterStep(wf, next, now)
		r.Status = StatusInReview
		out.EnteredStep = next
	}
	return out
}

// AutoApprove records an engine-authored approval that bypasses every
// remaining step.
func (r *Request) AutoApprove(wf *workflow.Workflow, reason string, now time.Time) (*ContentApproval, Outcome, error) {
	out := Outcome{PreviousStatus: r.Status, PreviousStep: r.CurrentStep, EnteredStep: -1}
	if r.Status.Terminal() {
		return nil, out, ErrRequestTerminal
	}
	step, ok := wf.StepByIndex(r.CurrentStep)
	if !ok {
		return nil, out, fmt.Errorf("%w: step %d of %d", ErrInvalidStep, r.CurrentStep, len(wf.Steps))
	}
	rec := &ContentApproval{
		ApprovalID:      uuid.New(),
		StepID:          step.ID,
		StepIndex:       r.CurrentStep,
		RevisionVersion: r.LatestRevision().Version,
		Reviewer:        SystemAutoApproval,
		Source:          SourceAutoApproval,
		Action:          ActionApprove,
		Decision:        DecisionApproved,
		Comments:        reason,
		CreatedAt:       now,
	}
	out = r.apply(wf, rec, now)
	return rec, out, nil
}

// ApplyChecks caches a check result on the revision it was computed for
// and applies the decision it implies. Results for a revision or step that
// is no longer current return ErrStaleCheck.
func (r *Request) ApplyChecks(wf *workflow.Workflow, stepIndex, revision int, result *policy.CheckResult, now time.Time) (*ContentApproval, Outcome, error) {
	out := Outcome{PreviousStatus: r.Status, PreviousStep: r.CurrentStep, EnteredStep: -1}
	step, err := r.AttachChecks(wf, stepIndex, revision, result, now)
	if err != nil {
		return nil, out, err
	}

	rec := &ContentApproval{
		ApprovalID:      uuid.New(),
		StepID:          step.ID,
		StepIndex:       stepIndex,
		RevisionVersion: revision,
		Reviewer:        SystemAutomatedCheck,
		Source:          SourceAutomatedCheck,
		CreatedAt:       now,
	}
	switch {
	case result.Escalated:
		rec.Reviewer = SystemPolicy
		rec.Source = SourcePolicyEscalation
		rec.Action = ActionComment
		rec.Comments = "policy provider unavailable; escalated to human review: " + result.Error
		for _, rule := range wf.EscalationFor(step.ID) {
			rec.Escalation = append(rec.Escalation, rule.Assignees...)
		}
	case result.AutoRejected():
		rec.Action = ActionReject
		rec.Decision = DecisionRejected
		rec.SuggestedChanges = result.Issues()
		rec.Comments = "automatically rejected by policy checks"
	case !result.AllPassed():
		rec.Action = ActionRequestChanges
		rec.Decision = DecisionNeedsChanges
		rec.SuggestedChanges = result.Issues()
		rec.Comments = "policy checks failed"
	case step.Kind == workflow.KindAutomatedCheck && step.AutoAdvance:
		rec.Action = ActionApprove
		rec.Decision = DecisionApproved
		rec.Comments = "all policy checks passed"
	default:
		return nil, out, nil
	}
	out = r.apply(wf, rec, now)
	return rec, out, nil
}

// AttachChecks caches a check result on the revision it was computed for
// without applying a transition.
func (r *Request) AttachChecks(wf *workflow.Workflow, stepIndex, revision int, result *policy.CheckResult, now time.Time) (*workflow.Step, error) {
	if r.Status.Terminal() {
		return nil, ErrRequestTerminal
	}
	rev := r.LatestRevision()
	if rev == nil || rev.Version != revision || r.CurrentStep != stepIndex || r.Status != StatusInReview {
		return nil, ErrStaleCheck
	}
	step, ok := wf.StepByIndex(stepIndex)
	if !ok {
		return nil, fmt.Errorf("%w: step %d of %d", ErrInvalidStep, stepIndex, len(wf.Steps))
	}
	if rev.Checks == nil {
		rev.Checks = map[string]*policy.CheckResult{}
	}
	rev.Checks[step.ID] = result
	r.UpdatedAt = now
	return step, nil
}

// Escalate adds assignees to the current step without changing it.
func (r *Request) Escalate(wf *workflow.Workflow, source Source, reviewer string, assignees []workflow.Assignee, reason string, now time.Time) (*ContentApproval, error) {
	if r.Status.Terminal() {
		return nil, ErrRequestTerminal
	}
	step, ok := wf.StepByIndex(r.CurrentStep)
	if !ok {
		return nil, fmt.Errorf("%w: step %d of %d", ErrInvalidStep, r.CurrentStep, len(wf.Steps))
	}
	rec := &ContentApproval{
		ApprovalID:      uuid.New(),
		StepID:          step.ID,
		StepIndex:       r.CurrentStep,
		RevisionVersion: r.LatestRevision().Version,
		Reviewer:        reviewer,
		Source:          source,
		Action:          ActionComment,
		Escalation:      assignees,
		Comments:        reason,
		CreatedAt:       now,
	}
	r.apply(wf, rec, now)
	return rec, nil
}

// Withdraw terminates the request on behalf of its submitter.
func (r *Request) Withdraw(wf *workflow.Workflow, actor, reason string, now time.Time) (*ContentApproval, error) {
	if r.Status.Terminal() {
		return nil, ErrRequestTerminal
	}
	if actor != r.SubmittedBy {
		return nil, fmt.Errorf("%w: only the submitter may withdraw", ErrReviewerNotAuthorized)
	}
	stepID := ""
	if step, ok := wf.StepByIndex(r.CurrentStep); ok {
		stepID = step.ID
	}
	rec := &ContentApproval{
		ApprovalID:      uuid.New(),
		StepID:          stepID,
		StepIndex:       r.CurrentStep,
		RevisionVersion: r.LatestRevision().Version,
		Reviewer:        actor,
		Source:          SourceWithdrawal,
		Action:          ActionComment,
		Comments:        reason,
		CreatedAt:       now,
	}
	r.apply(wf, rec, now)
	return rec, nil
}

// AddComment appends a collaborative comment. Comments never transition.
func (r *Request) AddComment(author, content string, typ CommentType, mentions []string, now time.Time) (*Comment, error) {
	if r.Status.Terminal() {
		return nil, ErrRequestTerminal
	}
	if strings.TrimSpace(author) == "" || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: author and content are required", ErrValidation)
	}
	if typ == "" {
		typ = CommentGeneral
	}
	switch typ {
	case CommentGeneral, CommentSuggestion, CommentQuestion, CommentConcern, CommentPraise:
	default:
		return nil, fmt.Errorf("%w: unknown comment type %q", ErrValidation, typ)
	}
	c := &Comment{
		CommentID: uuid.New(),
		Author:    author,
		Content:   content,
		Type:      typ,
		Mentions:  mentions,
		CreatedAt: now,
	}
	r.Comments = append(r.Comments, c)
	r.UpdatedAt = now
	return c, nil
}

// ResolveComment marks a comment as resolved.
func (r *Request) ResolveComment(commentID uuid.UUID, by string, now time.Time) (*Comment, error) {
	for _, c := range r.Comments {
		if c.CommentID != commentID {
			continue
		}
		if !c.Resolved {
			c.Resolved = true
			c.ResolvedBy = &by
			c.ResolvedAt = &now
			r.UpdatedAt = now
		}
		return c, nil
	}
	return nil, ErrCommentNotFound
}

// MarkTimeoutFired records that the current step's timeout has been handled.
func (r *Request) MarkTimeoutFired(now time.Time) {
	r.TimeoutFired = true
	r.UpdatedAt = now
}

// Replay rebuilds status and current step by folding the revision and
// approval logs in sequence order.
func Replay(wf *workflow.Workflow, r *Request) (Status, int) {
	type entry struct {
		seq      int
		revision *Revision
		approval *ContentApproval
	}
	entries := make([]entry, 0, len(r.Revisions)+len(r.Approvals))
	for _, rev := range r.Revisions {
		entries = append(entries, entry{seq: rev.Seq, revision: rev})
	}
	for _, a := range r.Approvals {
		entries = append(entries, entry{seq: a.Seq, approval: a})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	replayed := &Request{Status: StatusPending, Escalated: map[string][]workflow.Assignee{}}
	for _, e := range entries {
		if e.revision != nil {
			cp := *e.revision
			replayed.Seq = cp.Seq
			replayed.Revisions = append(replayed.Revisions, &cp)
			replayed.applyRevision()
			continue
		}
		cp := *e.approval
		replayed.Seq = cp.Seq - 1
		replayed.apply(wf, &cp, cp.CreatedAt)
	}
	return replayed.Status, replayed.CurrentStep
}
