package autoapproval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/policy"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// Result explains an auto-approval evaluation.
type Result struct {
	Approved bool
	Matched  []string
}

// Reason renders the matched conditions for the audit record.
func (r Result) Reason() string {
	if len(r.Matched) == 0 {
		return "auto-approval conditions met"
	}
	return "auto-approval conditions met: " + strings.Join(r.Matched, ", ")
}

// Evaluator decides whether a request may bypass human review.
type Evaluator struct {
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With().Str("service", "autoapproval").Logger()}
}

// ShouldAutoApprove evaluates the workflow's auto-approval conditions
// against the request's latest revision. checks, when non-nil, supplies
// scores not yet attached to the revision. A workflow without conditions
// never auto-approves; a condition that fails to evaluate counts as not
// met.
func (e *Evaluator) ShouldAutoApprove(req *approval.Request, wf *workflow.Workflow, checks *policy.CheckResult) Result {
	conds := wf.Rules.AutoApproval.Conditions
	if len(conds) == 0 {
		return Result{}
	}
	attrs := Attributes(req, checks)
	requiresAll := wf.Rules.AutoApproval.RequiresAll

	var res Result
	for _, c := range conds {
		ok, err := EvaluateCondition(c, attrs)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("request_id", req.RequestID.String()).
				Str("condition", describe(c)).
				Msg("auto-approval condition failed to evaluate")
		}
		if ok {
			res.Matched = append(res.Matched, describe(c))
			if !requiresAll {
				res.Approved = true
				return res
			}
			continue
		}
		if requiresAll {
			return Result{}
		}
	}
	res.Approved = requiresAll
	return res
}

// metadataAttributes are the submitter-supplied metadata keys exposed at the
// top level. Everything else is reachable only under "metadata.".
var metadataAttributes = map[string]struct{}{
	"content_template": {},
	"user_history":     {},
}

// Attributes builds the values conditions may reference.
func Attributes(req *approval.Request, checks *policy.CheckResult) map[string]interface{} {
	attrs := map[string]interface{}{
		"priority":       string(req.Priority),
		"submitter":      req.SubmittedBy,
		"revision_count": float64(len(req.Revisions)),
	}
	rev := req.LatestRevision()
	if rev != nil {
		c := rev.Content
		attrs["title"] = c.Title
		attrs["body"] = c.Body
		attrs["hashtags"] = normalize(c.Hashtags)
		attrs["mentions"] = normalize(c.Mentions)
		attrs["hashtag_count"] = float64(len(c.Hashtags))
		attrs["mention_count"] = float64(len(c.Mentions))
		attrs["media_count"] = float64(len(c.MediaRefs))
		attrs["body_length"] = float64(len([]rune(c.Body)))
	}

	results := []*policy.CheckResult{checks}
	if rev != nil {
		steps := make([]string, 0, len(rev.Checks))
		for stepID := range rev.Checks {
			steps = append(steps, stepID)
		}
		sort.Strings(steps)
		for _, stepID := range steps {
			results = append(results, rev.Checks[stepID])
		}
	}
	for _, r := range results {
		addScore(attrs, "brand_safety_score", r, policy.DimensionBrandSafety)
		addScore(attrs, "quality_score", r, policy.DimensionQuality)
		addScore(attrs, "platform_score", r, policy.DimensionPlatform)
		if passed, ok := r.PassedOf(policy.DimensionCompliance); ok {
			if _, seen := attrs["compliance_passed"]; !seen {
				attrs["compliance_passed"] = passed
			}
		}
	}

	for k, v := range req.Metadata {
		if _, ok := metadataAttributes[k]; ok {
			attrs[k] = normalize(v)
		}
		if m, ok := v.(map[string]interface{}); ok {
			flatten("metadata."+k, m, attrs)
			continue
		}
		attrs["metadata."+k] = normalize(v)
	}
	return attrs
}

func addScore(attrs map[string]interface{}, key string, r *policy.CheckResult, d policy.Dimension) {
	if _, seen := attrs[key]; seen {
		return
	}
	if v, ok := r.ScoreOf(d); ok {
		attrs[key] = v
	}
}

func flatten(prefix string, m map[string]interface{}, out map[string]interface{}) {
	for k, v := range m {
		key := prefix + "." + k
		switch vv := v.(type) {
		case map[string]interface{}:
			flatten(key, vv, out)
		default:
			out[key] = normalize(vv)
		}
	}
}

func describe(c workflow.Condition) string {
	if c.Type == "expression" {
		return c.Expression
	}
	return fmt.Sprintf("%s %s %v", c.Type, c.Operator, c.Value)
}
