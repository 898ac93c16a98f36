package policy

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_scorer.go -package=mocks . Scorer

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Dimension names a scored policy dimension.
type Dimension string

const (
	DimensionBrandSafety Dimension = "brand_safety"
	DimensionQuality     Dimension = "content_quality"
	DimensionCompliance  Dimension = "compliance"
	DimensionPlatform    Dimension = "platform_optimization"
)

// CustomDimension returns the dimension used for a custom criterion.
func CustomDimension(id string) Dimension {
	return Dimension("custom:" + id)
}

// IsCustom reports whether d names a custom criterion.
func (d Dimension) IsCustom() bool {
	return strings.HasPrefix(string(d), "custom:")
}

var ErrProviderUnavailable = errors.New("policy provider unavailable")

// Content is the snapshot handed to external scorers.
type Content struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Hashtags  []string `json:"hashtags,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
	MediaRefs []string `json:"mediaRefs,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
}

// Score is what an external scorer reports for one dimension.
type Score struct {
	Passed bool     `json:"passed"`
	Score  *float64 `json:"score,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

// Scorer is an external policy collaborator, e.g. a brand-safety classifier.
type Scorer interface {
	Score(ctx context.Context, content Content, dimension Dimension) (Score, error)
}

// DimensionResult is the aggregated outcome for one required dimension.
type DimensionResult struct {
	Dimension  Dimension `json:"dimension"`
	Passed     bool      `json:"passed"`
	Score      *float64  `json:"score,omitempty"`
	Threshold  *float64  `json:"threshold,omitempty"`
	Issues     []string  `json:"issues,omitempty"`
	AutoReject bool      `json:"autoReject,omitempty"`
}

// CheckResult is the output of one automated check run.
type CheckResult struct {
	Results   []DimensionResult `json:"results"`
	Escalated bool              `json:"escalated,omitempty"`
	Error     string            `json:"error,omitempty"`
	CheckedAt time.Time         `json:"checkedAt"`
}

// AllPassed reports whether every required dimension passed.
func (r *CheckResult) AllPassed() bool {
	if r == nil || r.Escalated {
		return false
	}
	for _, d := range r.Results {
		if !d.Passed {
			return false
		}
	}
	return true
}

// AutoRejected reports whether a failing dimension demands automatic rejection.
func (r *CheckResult) AutoRejected() bool {
	if r == nil {
		return false
	}
	for _, d := range r.Results {
		if !d.Passed && d.AutoReject {
			return true
		}
	}
	return false
}

// ScoreOf returns the score recorded for a dimension.
func (r *CheckResult) ScoreOf(d Dimension) (float64, bool) {
	if r == nil {
		return 0, false
	}
	for _, res := range r.Results {
		if res.Dimension == d && res.Score != nil {
			return *res.Score, true
		}
	}
	return 0, false
}

// PassedOf reports whether a dimension was checked and passed.
func (r *CheckResult) PassedOf(d Dimension) (bool, bool) {
	if r == nil {
		return false, false
	}
	for _, res := range r.Results {
		if res.Dimension == d {
			return res.Passed, true
		}
	}
	return false, false
}

// Issues flattens the issues of failing dimensions.
func (r *CheckResult) Issues() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, d := range r.Results {
		if d.Passed {
			continue
		}
		for _, issue := range d.Issues {
			out = append(out, string(d.Dimension)+": "+issue)
		}
		if len(d.Issues) == 0 {
			out = append(out, string(d.Dimension)+": check failed")
		}
	}
	return out
}
