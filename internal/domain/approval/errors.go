package approval

import (
	"errors"

	"github.com/execution-hub/content-approval/internal/domain/policy"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrRequestNotFound       = errors.New("approval request not found")
	ErrRequestTerminal       = errors.New("approval request is terminal")
	ErrInvalidStep           = errors.New("current step out of range")
	ErrWorkflowMismatch      = errors.New("workflow cannot be resolved for request")
	ErrReviewerNotAuthorized = errors.New("reviewer not authorized for step")
	ErrPolicyProvider        = errors.New("policy provider error")
	ErrNotAwaitingDecision   = errors.New("request is not awaiting a decision")
	ErrNotAwaitingRevision   = errors.New("request is not awaiting a revision")
	ErrDuplicateDecision     = errors.New("decision already recorded")
	ErrStepMismatch          = errors.New("decision targets a step that is not current")
	ErrChecksPending         = errors.New("automated checks have not completed for this revision")
	ErrStaleCheck            = errors.New("check result no longer applies")
	ErrStaleTimeout          = errors.New("step timeout no longer applies")
	ErrCommentNotFound       = errors.New("comment not found")
	ErrVersionConflict       = errors.New("approval request was modified concurrently")
)

// ErrorKind groups errors by how callers should react to them.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindTerminal     ErrorKind = "terminal"
	KindConflict     ErrorKind = "conflict"
	KindConsistency  ErrorKind = "consistency"
	KindUnauthorized ErrorKind = "unauthorized"
	KindProvider     ErrorKind = "provider"
	KindInternal     ErrorKind = "internal"
)

// Kind classifies err.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrCommentNotFound),
		errors.Is(err, workflow.ErrWorkflowNotFound):
		return KindNotFound
	case errors.Is(err, ErrRequestTerminal):
		return KindTerminal
	case errors.Is(err, ErrInvalidStep), errors.Is(err, ErrWorkflowMismatch):
		return KindConsistency
	case errors.Is(err, ErrReviewerNotAuthorized):
		return KindUnauthorized
	case errors.Is(err, ErrPolicyProvider), errors.Is(err, policy.ErrProviderUnavailable):
		return KindProvider
	case errors.Is(err, ErrNotAwaitingDecision), errors.Is(err, ErrNotAwaitingRevision),
		errors.Is(err, ErrDuplicateDecision), errors.Is(err, ErrStepMismatch),
		errors.Is(err, ErrChecksPending), errors.Is(err, ErrStaleCheck),
		errors.Is(err, ErrStaleTimeout), errors.Is(err, ErrVersionConflict),
		errors.Is(err, workflow.ErrVersionExists):
		return KindConflict
	case errors.Is(err, ErrValidation), errors.Is(err, workflow.ErrInvalidWorkflow):
		return KindValidation
	}
	return KindInternal
}
