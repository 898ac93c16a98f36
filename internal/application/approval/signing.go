package approval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/audit"
)

// signedRepository signs decision records inside the same write that
// appends them, so no record is stored unsigned.
type signedRepository struct {
	approval.Repository
	key []byte
}

func (r signedRepository) Create(ctx context.Context, req *approval.Request) error {
	if err := audit.SignChain(req.RequestID, req.Approvals, r.key); err != nil {
		return fmt.Errorf("failed to sign decisions: %w", err)
	}
	return r.Repository.Create(ctx, req)
}

func (r signedRepository) Update(ctx context.Context, requestID uuid.UUID, fn approval.UpdateFunc) (*approval.Request, error) {
	return r.Repository.Update(ctx, requestID, func(req *approval.Request) error {
		if err := fn(req); err != nil {
			return err
		}
		if err := audit.SignChain(req.RequestID, req.Approvals, r.key); err != nil {
			return fmt.Errorf("failed to sign decisions: %w", err)
		}
		return nil
	})
}

// verify checks the request's decision log. It returns nil when signing is
// not configured.
func (s *Service) verify(req *approval.Request) *audit.ChainReport {
	if len(s.cfg.SigningKey) == 0 {
		return nil
	}
	report, err := audit.VerifyChain(req.RequestID, req.Approvals, s.cfg.SigningKey)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", req.RequestID.String()).Msg("failed to verify decision log")
		return &audit.ChainReport{}
	}
	if !report.Verified {
		ev := s.logger.Error().
			Str("request_id", req.RequestID.String()).
			Int("unsigned", report.Unsigned)
		if report.BrokenAt != nil {
			ev = ev.Int("broken_at", *report.BrokenAt)
		}
		ev.Msg("decision log failed verification")
	}
	return report
}
