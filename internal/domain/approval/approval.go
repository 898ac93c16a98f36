package approval

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/content-approval/internal/domain/policy"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// Status represents the state of an approval request.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInReview     Status = "in_review"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusNeedsChanges Status = "needs_changes"
	StatusWithdrawn    Status = "withdrawn"
)

// Terminal reports whether no further revisions or decisions are accepted.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusWithdrawn
}

// Action is what a reviewer does.
type Action string

const (
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionRequestChanges Action = "request_changes"
	ActionComment        Action = "comment"
)

// Decision is derived from an Action. Comments carry no decision.
type Decision string

const (
	DecisionNone         Decision = ""
	DecisionApproved     Decision = "approved"
	DecisionRejected     Decision = "rejected"
	DecisionNeedsChanges Decision = "needs_changes"
)

// DecisionFor maps an action to the decision it records.
func DecisionFor(a Action) (Decision, bool) {
	switch a {
	case ActionApprove:
		return DecisionApproved, true
	case ActionReject:
		return DecisionRejected, true
	case ActionRequestChanges:
		return DecisionNeedsChanges, true
	case ActionComment:
		return DecisionNone, true
	}
	return DecisionNone, false
}

// Source identifies who or what authored an approval record.
type Source string

const (
	SourceHuman            Source = "human"
	SourceAutomatedCheck   Source = "automated_check"
	SourceAutoApproval     Source = "auto_approval"
	SourceTimeout          Source = "timeout"
	SourcePolicyEscalation Source = "policy_escalation"
	SourceWithdrawal       Source = "withdrawal"
)

// System reports whether the record was produced by the engine itself.
func (s Source) System() bool {
	return s != SourceHuman && s != SourceWithdrawal
}

// Priority of a request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// CommentType classifies a collaborative comment.
type CommentType string

const (
	CommentGeneral    CommentType = "general"
	CommentSuggestion CommentType = "suggestion"
	CommentQuestion   CommentType = "question"
	CommentConcern    CommentType = "concern"
	CommentPraise     CommentType = "praise"
)

// Reviewer ids used for engine-authored records.
const (
	SystemAutomatedCheck = "system:automated-check"
	SystemAutoApproval   = "system:auto-approval"
	SystemTimeout        = "system:timeout"
	SystemPolicy         = "system:policy"
)

// Content is a snapshot of the reviewed content piece.
type Content struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Hashtags  []string `json:"hashtags,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
	MediaRefs []string `json:"mediaRefs,omitempty"`
}

// PolicyContent converts the snapshot for external scorers.
func (c Content) PolicyContent(platforms []string) policy.Content {
	return policy.Content{
		Title:     c.Title,
		Body:      c.Body,
		Hashtags:  c.Hashtags,
		Mentions:  c.Mentions,
		MediaRefs: c.MediaRefs,
		Platforms: platforms,
	}
}

// Request is a content approval request and the owner of its audit trail.
type Request struct {
	RequestID       uuid.UUID                      `json:"requestId"`
	ContentPieceID  string                         `json:"contentPieceId"`
	WorkflowID      uuid.UUID                      `json:"workflowId"`
	WorkflowVersion int                            `json:"workflowVersion"`
	OrganizationID  string                         `json:"organizationId,omitempty"`
	SubmittedBy     string                         `json:"submittedBy"`
	Metadata        map[string]interface{}         `json:"metadata,omitempty"`
	CurrentStep     int                            `json:"currentStep"`
	Status          Status                         `json:"status"`
	Priority        Priority                       `json:"priority"`
	Deadline        *time.Time                     `json:"deadline,omitempty"`
	StepEnteredAt   time.Time                      `json:"stepEnteredAt"`
	StepDeadline    *time.Time                     `json:"stepDeadline,omitempty"`
	TimeoutFired    bool                           `json:"timeoutFired"`
	Escalated       map[string][]workflow.Assignee `json:"escalated,omitempty"`
	Revisions       []*Revision                    `json:"revisions"`
	Approvals       []*ContentApproval             `json:"approvals"`
	Comments        []*Comment                     `json:"comments"`
	Seq             int                            `json:"seq"`
	Version         int                            `json:"version"`
	CreatedAt       time.Time                      `json:"createdAt"`
	UpdatedAt       time.Time                      `json:"updatedAt"`
	CompletedAt     *time.Time                     `json:"completedAt,omitempty"`
}

// Revision is an immutable snapshot submitted for review.
type Revision struct {
	RevisionID  uuid.UUID                      `json:"revisionId"`
	Version     int                            `json:"version"`
	Content     Content                        `json:"content"`
	Changes     []Change                       `json:"changes,omitempty"`
	SubmittedBy string                         `json:"submittedBy"`
	Notes       string                         `json:"notes,omitempty"`
	Checks      map[string]*policy.CheckResult `json:"checks,omitempty"`
	Seq         int                            `json:"seq"`
	CreatedAt   time.Time                      `json:"createdAt"`
}

// ContentApproval is one append-only decision record.
type ContentApproval struct {
	ApprovalID         uuid.UUID              `json:"approvalId"`
	StepID             string                 `json:"stepId"`
	StepIndex          int                    `json:"stepIndex"`
	RevisionVersion    int                    `json:"revisionVersion"`
	Reviewer           string                 `json:"reviewer"`
	Source             Source                 `json:"source"`
	Action             Action                 `json:"action"`
	Decision           Decision               `json:"decision,omitempty"`
	AssigneeSlot       *int                   `json:"assigneeSlot,omitempty"`
	EscalatedReviewer  bool                   `json:"escalatedReviewer,omitempty"`
	Escalation         []workflow.Assignee    `json:"escalation,omitempty"`
	Comments           string                 `json:"comments,omitempty"`
	SuggestedChanges   []string               `json:"suggestedChanges,omitempty"`
	CriteriaAssessment map[string]interface{} `json:"criteriaAssessment,omitempty"`
	Seq                int                    `json:"seq"`
	CreatedAt          time.Time              `json:"createdAt"`
	// Signature is an HMAC over the record and its predecessor's signature.
	Signature []byte `json:"signature,omitempty"`
}

// Comment is collaborative metadata; it never drives a transition.
type Comment struct {
	CommentID  uuid.UUID   `json:"commentId"`
	Author     string      `json:"author"`
	Content    string      `json:"content"`
	Type       CommentType `json:"type"`
	Mentions   []string    `json:"mentions,omitempty"`
	Resolved   bool        `json:"resolved"`
	ResolvedBy *string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// LatestRevision returns the most recent revision.
func (r *Request) LatestRevision() *Revision {
	if len(r.Revisions) == 0 {
		return nil
	}
	return r.Revisions[len(r.Revisions)-1]
}

// Clone returns a deep copy. Repositories mutate clones so that a failed
// transition leaves the stored request untouched.
func (r *Request) Clone() (*Request, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out Request
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
