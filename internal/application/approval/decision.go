package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	appNotification "github.com/execution-hub/content-approval/internal/application/notification"
	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/identity"
	"github.com/execution-hub/content-approval/internal/domain/notification"
)

// DecideInput is a reviewer's decision on the current step.
type DecideInput struct {
	RequestID uuid.UUID
	// StepID, when set, must name the current step.
	StepID             string
	ReviewerID         string
	Action             approval.Action
	Comments           string
	SuggestedChanges   []string
	CriteriaAssessment map[string]interface{}
}

// Decide records a reviewer decision and applies the transition it
// implies. Entering a new step runs that step's checks before its
// assignees are notified.
func (s *Service) Decide(ctx context.Context, in DecideInput) (rec *approval.ContentApproval, req *approval.Request, err error) {
	defer func() { s.observe("decide", err) }()

	_, wf, err := s.load(ctx, in.RequestID)
	if err != nil {
		return nil, nil, err
	}
	reviewer, err := s.reviewer(ctx, in.ReviewerID)
	if err != nil {
		return nil, nil, err
	}

	var out approval.Outcome
	now := s.now()
	updated, err := s.requests.Update(ctx, in.RequestID, func(r *approval.Request) error {
		var err error
		rec, out, err = r.Decide(wf, approval.DecideInput{
			StepID:             in.StepID,
			Reviewer:           reviewer,
			Action:             in.Action,
			Source:             approval.SourceHuman,
			Comments:           in.Comments,
			SuggestedChanges:   in.SuggestedChanges,
			CriteriaAssessment: in.CriteriaAssessment,
		}, now)
		return err
	})
	if err != nil {
		s.logger.Debug().Err(err).
			Str("request_id", in.RequestID.String()).
			Str("reviewer", in.ReviewerID).
			Str("action", string(in.Action)).
			Msg("decision refused")
		return nil, nil, err
	}

	s.logger.Info().
		Str("request_id", in.RequestID.String()).
		Str("step", rec.StepID).
		Str("reviewer", rec.Reviewer).
		Str("action", string(rec.Action)).
		Str("status", string(updated.Status)).
		Msg("decision recorded")

	req, err = s.settle(ctx, wf, updated, rec, out)
	return rec, req, err
}

// reviewer resolves an id into the identity used for slot matching.
// Unknown ids act with no roles.
func (s *Service) reviewer(ctx context.Context, id string) (approval.Reviewer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return approval.Reviewer{}, fmt.Errorf("%w: reviewer is required", approval.ErrValidation)
	}
	if s.identities == nil {
		return approval.Reviewer{ID: id}, nil
	}
	ident, err := s.identities.Resolve(ctx, id)
	if errors.Is(err, identity.ErrUnknownIdentity) || (err == nil && ident == nil) {
		return approval.Reviewer{ID: id}, nil
	}
	if err != nil {
		return approval.Reviewer{}, fmt.Errorf("failed to resolve reviewer: %w", err)
	}
	return approval.Reviewer{ID: ident.ID, Roles: ident.Roles}, nil
}

// Withdraw terminates a request on behalf of its submitter.
func (s *Service) Withdraw(ctx context.Context, requestID uuid.UUID, actor, reason string) (req *approval.Request, err error) {
	defer func() { s.observe("withdraw", err) }()

	_, wf, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	var (
		rec  *approval.ContentApproval
		prev approval.Status
	)
	now := s.now()
	updated, err := s.requests.Update(ctx, requestID, func(r *approval.Request) error {
		prev = r.Status
		var err error
		rec, err = r.Withdraw(wf, actor, reason, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, wf, updated, rec, approval.Outcome{PreviousStatus: prev, PreviousStep: updated.CurrentStep, EnteredStep: -1})
}

// CommentInput is a collaborative comment.
type CommentInput struct {
	Author   string
	Content  string
	Type     approval.CommentType
	Mentions []string
}

// AddComment attaches a comment to a request. Comments never transition.
func (s *Service) AddComment(ctx context.Context, requestID uuid.UUID, in CommentInput) (c *approval.Comment, err error) {
	defer func() { s.observe("add_comment", err) }()

	_, wf, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	updated, err := s.requests.Update(ctx, requestID, func(r *approval.Request) error {
		var err error
		c, err = r.AddComment(in.Author, in.Content, in.Type, in.Mentions, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	recipients := append([]string{updated.SubmittedBy}, in.Mentions...)
	s.notify(ctx, wf, updated, appNotification.Envelope{
		Event:      notification.EventCommentAdded,
		Recipients: recipients,
		Payload: map[string]interface{}{
			"commentId": c.CommentID,
			"author":    c.Author,
			"type":      c.Type,
		},
	})
	return c, nil
}

// ResolveComment marks a comment resolved.
func (s *Service) ResolveComment(ctx context.Context, requestID, commentID uuid.UUID, by string) (c *approval.Comment, err error) {
	defer func() { s.observe("resolve_comment", err) }()

	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("%w: resolver is required", approval.ErrValidation)
	}
	now := s.now()
	_, err = s.requests.Update(ctx, requestID, func(r *approval.Request) error {
		var err error
		c, err = r.ResolveComment(commentID, by, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
