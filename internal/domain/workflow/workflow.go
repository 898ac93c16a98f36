package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StepKind classifies an approval step.
type StepKind string

const (
	KindReview         StepKind = "review"
	KindApproval       StepKind = "approval"
	KindAutomatedCheck StepKind = "automated_check"
	KindFeedback       StepKind = "feedback"
	KindFinalApproval  StepKind = "final_approval"
)

// AssigneeType identifies how an assignee is resolved to reviewers.
type AssigneeType string

const (
	AssigneeUser     AssigneeType = "user"
	AssigneeRole     AssigneeType = "role"
	AssigneeExternal AssigneeType = "external"
)

// TimeoutAction is applied when a step outlives its timeout.
type TimeoutAction string

const (
	TimeoutAutoApprove TimeoutAction = "auto_approve"
	TimeoutAutoReject  TimeoutAction = "auto_reject"
	TimeoutEscalate    TimeoutAction = "escalate"
	TimeoutNotify      TimeoutAction = "notify"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrInvalidWorkflow  = errors.New("invalid workflow")
	ErrVersionExists    = errors.New("workflow version already exists")
)

// Workflow is an immutable, versioned approval workflow definition.
type Workflow struct {
	WorkflowID     uuid.UUID `json:"workflowId" yaml:"workflowId"`
	Version        int       `json:"version" yaml:"version"`
	OrganizationID string    `json:"organizationId" yaml:"organizationId"`
	Name           string    `json:"name" yaml:"name"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	Steps          []Step    `json:"steps" yaml:"steps"`
	Rules          Rules     `json:"rules" yaml:"rules"`
	Active         bool      `json:"active" yaml:"active"`
	CreatedAt      time.Time `json:"createdAt" yaml:"-"`
	CreatedBy      *string   `json:"createdBy,omitempty" yaml:"-"`
}

// Step is one stage of a workflow.
type Step struct {
	ID                string     `json:"id" yaml:"id"`
	Name              string     `json:"name" yaml:"name"`
	Kind              StepKind   `json:"kind" yaml:"kind"`
	Order             int        `json:"order" yaml:"order"`
	Assignees         []Assignee `json:"assignees,omitempty" yaml:"assignees,omitempty"`
	Criteria          Criteria   `json:"criteria" yaml:"criteria"`
	AutoAdvance       bool       `json:"autoAdvance" yaml:"autoAdvance"`
	Timeout           *Timeout   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Parallel          bool       `json:"parallel" yaml:"parallel"`
	AllowNonAssignees bool       `json:"allowNonAssignees,omitempty" yaml:"allowNonAssignees,omitempty"`
}

// Assignee names a reviewer, a role, or an external party.
type Assignee struct {
	Type              AssigneeType `json:"type" yaml:"type"`
	ID                string       `json:"id" yaml:"id"`
	CanApprove        bool         `json:"canApprove" yaml:"canApprove"`
	CanReject         bool         `json:"canReject" yaml:"canReject"`
	CanRequestChanges bool         `json:"canRequestChanges" yaml:"canRequestChanges"`
	CanComment        bool         `json:"canComment" yaml:"canComment"`
}

// Timeout configures the escalation scheduler for a step.
type Timeout struct {
	Hours  float64       `json:"hours" yaml:"hours"`
	Action TimeoutAction `json:"action" yaml:"action"`
}

// Duration returns the timeout as a time.Duration.
func (t *Timeout) Duration() time.Duration {
	if t == nil {
		return 0
	}
	return time.Duration(t.Hours * float64(time.Hour))
}

// Rules are workflow-level policies.
type Rules struct {
	AutoApproval  AutoApproval         `json:"autoApproval" yaml:"autoApproval"`
	Escalation    []EscalationRule     `json:"escalationRules,omitempty" yaml:"escalationRules,omitempty"`
	Notifications NotificationSettings `json:"notificationSettings" yaml:"notificationSettings"`
}

// AutoApproval lists the predicates that let a request bypass review.
type AutoApproval struct {
	Conditions           []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	RequiresAll          bool        `json:"requiresAll" yaml:"requiresAll"`
	ReevaluateOnRevision bool        `json:"reevaluateOnRevision" yaml:"reevaluateOnRevision"`
}

// Condition is a single auto-approval predicate.
type Condition struct {
	Type       string      `json:"type" yaml:"type"`
	Operator   string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	Expression string      `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// EscalationRule adds assignees to a step once it has been escalated.
// An empty StepID matches every step.
type EscalationRule struct {
	StepID     string     `json:"stepId,omitempty" yaml:"stepId,omitempty"`
	AfterHours float64    `json:"afterHours,omitempty" yaml:"afterHours,omitempty"`
	Assignees  []Assignee `json:"assignees" yaml:"assignees"`
	Notify     []string   `json:"notify,omitempty" yaml:"notify,omitempty"`
}

// NotificationSettings controls which events are emitted and where.
type NotificationSettings struct {
	Channels   []string `json:"channels,omitempty" yaml:"channels,omitempty"`
	Events     []string `json:"events,omitempty" yaml:"events,omitempty"`
	Recipients []string `json:"recipients,omitempty" yaml:"recipients,omitempty"`
}

// StepByIndex returns the step at idx.
func (w *Workflow) StepByIndex(idx int) (*Step, bool) {
	if idx < 0 || idx >= len(w.Steps) {
		return nil, false
	}
	return &w.Steps[idx], true
}

// EscalationFor returns the escalation rules that apply to stepID.
func (w *Workflow) EscalationFor(stepID string) []EscalationRule {
	var out []EscalationRule
	for _, r := range w.Rules.Escalation {
		if r.StepID == "" || r.StepID == stepID {
			out = append(out, r)
		}
	}
	return out
}

// HasRequiredChecks reports whether automated checks gate this step.
func (s *Step) HasRequiredChecks() bool {
	return s.Kind == KindAutomatedCheck || s.Criteria.AnyRequired()
}

// Allows reports whether the assignee may perform the named capability.
func (a Assignee) Allows(capability string) bool {
	switch capability {
	case "approve":
		return a.CanApprove
	case "reject":
		return a.CanReject
	case "request_changes":
		return a.CanRequestChanges
	case "comment":
		return a.CanComment
	}
	return false
}

// Normalize fills defaults in place. It is applied before validation.
func Normalize(w *Workflow) {
	for i := range w.Steps {
		s := &w.Steps[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", s.Order)
		}
		for j := range s.Assignees {
			normalizeAssignee(&s.Assignees[j])
		}
	}
	for i := range w.Rules.Escalation {
		for j := range w.Rules.Escalation[i].Assignees {
			normalizeAssignee(&w.Rules.Escalation[i].Assignees[j])
		}
	}
}

func normalizeAssignee(a *Assignee) {
	if a.Type == "" {
		a.Type = AssigneeUser
	}
	if !a.CanApprove && !a.CanReject && !a.CanRequestChanges && !a.CanComment {
		a.CanApprove = true
		a.CanReject = true
		a.CanRequestChanges = true
		a.CanComment = true
	}
}

// Validate checks the structural invariants of a workflow.
func Validate(w *Workflow) error {
	if w == nil {
		return fmt.Errorf("%w: workflow is nil", ErrInvalidWorkflow)
	}
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWorkflow)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidWorkflow)
	}
	seen := make(map[string]struct{}, len(w.Steps))
	for i, s := range w.Steps {
		if i > 0 && s.Order <= w.Steps[i-1].Order {
			return fmt.Errorf("%w: step order must be strictly increasing (step %s)", ErrInvalidWorkflow, s.ID)
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("%w: duplicate step id %s", ErrInvalidWorkflow, s.ID)
		}
		seen[s.ID] = struct{}{}
		if err := validateStep(&s); err != nil {
			return err
		}
	}
	for _, c := range w.Rules.AutoApproval.Conditions {
		if c.Type == "" {
			return fmt.Errorf("%w: auto-approval condition type is required", ErrInvalidWorkflow)
		}
		if c.Type == "expression" {
			if strings.TrimSpace(c.Expression) == "" {
				return fmt.Errorf("%w: expression condition requires an expression", ErrInvalidWorkflow)
			}
			continue
		}
		switch c.Operator {
		case "gt", "gte", "lt", "lte", "eq", "ne", "in", "contains":
		default:
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidWorkflow, c.Operator)
		}
	}
	for _, r := range w.Rules.Escalation {
		if r.StepID != "" {
			if _, ok := seen[r.StepID]; !ok {
				return fmt.Errorf("%w: escalation rule references unknown step %s", ErrInvalidWorkflow, r.StepID)
			}
		}
	}
	return nil
}

func validateStep(s *Step) error {
	switch s.Kind {
	case KindReview, KindApproval, KindAutomatedCheck, KindFeedback, KindFinalApproval:
	default:
		return fmt.Errorf("%w: step %s has unknown kind %q", ErrInvalidWorkflow, s.ID, s.Kind)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: step %s name is required", ErrInvalidWorkflow, s.ID)
	}
	if s.Kind != KindAutomatedCheck && len(s.Assignees) == 0 && !s.AllowNonAssignees {
		return fmt.Errorf("%w: step %s needs assignees", ErrInvalidWorkflow, s.ID)
	}
	if s.Kind == KindAutomatedCheck && !s.AutoAdvance && len(s.Assignees) == 0 && !s.AllowNonAssignees {
		return fmt.Errorf("%w: automated step %s neither advances nor has reviewers", ErrInvalidWorkflow, s.ID)
	}
	if s.Parallel && len(s.Assignees) == 0 {
		return fmt.Errorf("%w: parallel step %s needs assignees", ErrInvalidWorkflow, s.ID)
	}
	for _, a := range s.Assignees {
		switch a.Type {
		case AssigneeUser, AssigneeRole, AssigneeExternal:
		default:
			return fmt.Errorf("%w: step %s has assignee of unknown type %q", ErrInvalidWorkflow, s.ID, a.Type)
		}
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("%w: step %s has assignee without id", ErrInvalidWorkflow, s.ID)
		}
	}
	if s.Timeout != nil {
		if s.Timeout.Hours <= 0 {
			return fmt.Errorf("%w: step %s timeout hours must be > 0", ErrInvalidWorkflow, s.ID)
		}
		switch s.Timeout.Action {
		case TimeoutAutoApprove, TimeoutAutoReject, TimeoutEscalate, TimeoutNotify:
		default:
			return fmt.Errorf("%w: step %s has unknown timeout action %q", ErrInvalidWorkflow, s.ID, s.Timeout.Action)
		}
	}
	return s.Criteria.validate(s.ID)
}
