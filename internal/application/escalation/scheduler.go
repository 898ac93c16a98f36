package escalation

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_handler.go -package=mocks . TimeoutHandler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/execution-hub/content-approval/internal/domain/approval"
)

// TimeoutHandler applies a request's timeout action under its lock.
type TimeoutHandler interface {
	HandleTimeout(ctx context.Context, requestID uuid.UUID) (bool, error)
}

// Config controls the sweep.
type Config struct {
	Interval    time.Duration
	Limit       int
	Concurrency int
}

// Scheduler periodically fires step timeouts. Candidates are only a hint:
// each one is re-checked by the handler under the request lock, so a
// decision that lands between the scan and the handler wins.
type Scheduler struct {
	requests approval.Repository
	handler  TimeoutHandler
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewScheduler creates a timeout scheduler.
func NewScheduler(requests approval.Repository, handler TimeoutHandler, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{
		requests: requests,
		handler:  handler,
		cfg:      cfg,
		logger:   logger.With().Str("service", "escalation").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessTimeouts fires every due timeout, up to limit requests. It
// returns how many fired. A failure on one request does not stop the
// others.
func (s *Scheduler) ProcessTimeouts(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	due, err := s.requests.ListTimedOut(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list timed out requests: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var fired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, req := range due {
		id := req.RequestID
		g.Go(func() error {
			ok, err := s.handler.HandleTimeout(gctx, id)
			if err != nil {
				s.logger.Error().Err(err).Str("request_id", id.String()).Msg("failed to handle step timeout")
				return nil
			}
			if ok {
				fired.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(fired.Load()), err
	}
	return int(fired.Load()), ctx.Err()
}

// Run sweeps on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Int("limit", s.cfg.Limit).Msg("timeout scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("timeout scheduler stopped")
			return
		case <-ticker.C:
			n, err := s.ProcessTimeouts(ctx, s.cfg.Limit)
			if err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("timeout sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int("fired", n).Msg("timeout sweep completed")
			}
		}
	}
}
