package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/execution-hub/content-approval/internal/domain/policy"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// Config controls retries against the policy scorer.
type Config struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CallTimeout     time.Duration
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultConfig returns conservative retry settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CallTimeout:     10 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Observer receives per-call outcomes. Implemented by the metrics package.
type Observer interface {
	ObserveScore(dimension policy.Dimension, outcome string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveScore(policy.Dimension, string, time.Duration) {}

// Runner evaluates content against a step's criteria by delegating each
// required dimension to the policy scorer and aggregating pass/fail
// against the configured thresholds. It holds no engine state.
type Runner struct {
	scorer   policy.Scorer
	breaker  *gobreaker.CircuitBreaker
	cfg      Config
	observer Observer
	logger   zerolog.Logger
}

// NewRunner creates a check runner.
func NewRunner(scorer policy.Scorer, cfg Config, observer Observer, logger zerolog.Logger) *Runner {
	if observer == nil {
		observer = noopObserver{}
	}
	r := &Runner{
		scorer:   scorer,
		cfg:      cfg,
		observer: observer,
		logger:   logger.With().Str("service", "checks").Logger(),
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "policy-scorer",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return r
}

// requirement is one dimension a step gates on.
type requirement struct {
	dimension  policy.Dimension
	threshold  *float64
	autoReject bool
	platforms  []string
	useScore   bool
}

// requirements lists the dimensions that gate a step, in a stable order.
func requirements(c workflow.Criteria) []requirement {
	var out []requirement
	if b := c.BrandSafety; b != nil && b.Required {
		out = append(out, requirement{dimension: policy.DimensionBrandSafety, threshold: floatPtr(b.Threshold), autoReject: b.AutoReject, useScore: true})
	}
	if q := c.ContentQuality; q != nil && q.Required {
		out = append(out, requirement{dimension: policy.DimensionQuality, threshold: floatPtr(q.MinScore), autoReject: q.AutoReject, useScore: true})
	}
	if cp := c.Compliance; cp != nil && cp.Required {
		out = append(out, requirement{dimension: policy.DimensionCompliance, autoReject: cp.AutoReject})
	}
	if p := c.PlatformOptimization; p != nil && p.Required {
		out = append(out, requirement{dimension: policy.DimensionPlatform, threshold: floatPtr(p.MinScore), autoReject: p.AutoReject, platforms: p.Platforms, useScore: true})
	}
	for _, cc := range c.Custom {
		if !cc.Required {
			continue
		}
		req := requirement{dimension: policy.CustomDimension(cc.ID), autoReject: cc.AutoReject}
		if cc.Type == workflow.CustomScore {
			req.threshold = floatPtr(cc.Threshold)
			req.useScore = true
		}
		out = append(out, req)
	}
	return out
}

// Run scores every required dimension concurrently. A provider failure
// that survives all retries is returned wrapping
// policy.ErrProviderUnavailable; it is never reported as a failed check.
func (r *Runner) Run(ctx context.Context, content policy.Content, criteria workflow.Criteria) (*policy.CheckResult, error) {
	reqs := requirements(criteria)
	results := make([]policy.DimensionResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			c := content
			if len(req.platforms) > 0 {
				c.Platforms = req.platforms
			}
			score, err := r.scoreWithRetry(gctx, c, req.dimension)
			if err != nil {
				return fmt.Errorf("%s: %w", req.dimension, err)
			}
			results[i] = aggregate(req, score)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &policy.CheckResult{Results: results, CheckedAt: time.Now().UTC()}, nil
}

func aggregate(req requirement, s policy.Score) policy.DimensionResult {
	res := policy.DimensionResult{
		Dimension:  req.dimension,
		Passed:     s.Passed,
		Score:      s.Score,
		Threshold:  req.threshold,
		Issues:     s.Issues,
		AutoReject: req.autoReject,
	}
	if req.useScore && req.threshold != nil && s.Score != nil {
		res.Passed = *s.Score >= *req.threshold
		if !res.Passed && len(res.Issues) == 0 {
			res.Issues = []string{fmt.Sprintf("score %.2f below threshold %.2f", *s.Score, *req.threshold)}
		}
	}
	return res
}

func (r *Runner) scoreWithRetry(ctx context.Context, content policy.Content, dim policy.Dimension) (policy.Score, error) {
	var score policy.Score
	attempt := 0
	op := func() error {
		attempt++
		start := time.Now()
		out, err := r.breaker.Execute(func() (interface{}, error) {
			callCtx := ctx
			if r.cfg.CallTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
				defer cancel()
			}
			return r.scorer.Score(callCtx, content, dim)
		})
		if err != nil {
			r.observer.ObserveScore(dim, "error", time.Since(start))
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		r.observer.ObserveScore(dim, "ok", time.Since(start))
		score = out.(policy.Score)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policyBackoff := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)

	err := backoff.RetryNotify(op, policyBackoff, func(err error, wait time.Duration) {
		r.logger.Warn().Err(err).Str("dimension", string(dim)).Int("attempt", attempt).Dur("retry_in", wait).Msg("policy scorer call failed")
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return policy.Score{}, ctx.Err()
			}
		}
		return policy.Score{}, fmt.Errorf("%w: %v", policy.ErrProviderUnavailable, err)
	}
	return score, nil
}

func floatPtr(v float64) *float64 { return &v }
