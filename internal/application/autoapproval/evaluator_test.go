package autoapproval

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/content-approval/internal/domain/approval"
	"github.com/execution-hub/content-approval/internal/domain/policy"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

func testRequest() *approval.Request {
	return &approval.Request{
		SubmittedBy: "trusted-writer",
		Priority:    approval.PriorityHigh,
		Metadata: map[string]interface{}{
			"content_template": "evergreen",
			"user_history":     map[string]interface{}{"approved": 42, "rejected": 0},
		},
		Revisions: []*approval.Revision{{
			Version: 1,
			Content: approval.Content{
				Title:    "Weekly tips",
				Body:     "Five tips for better posts.",
				Hashtags: []string{"Tips", "social"},
			},
		}},
	}
}

func brand(v float64) *policy.CheckResult {
	return &policy.CheckResult{Results: []policy.DimensionResult{
		{Dimension: policy.DimensionBrandSafety, Passed: true, Score: &v},
		{Dimension: policy.DimensionCompliance, Passed: true},
	}}
}

func TestEvaluateCondition(t *testing.T) {
	attrs := Attributes(testRequest(), brand(0.97))

	tests := []struct {
		name string
		cond workflow.Condition
		want bool
	}{
		{"gt matches", workflow.Condition{Type: "brand_safety_score", Operator: "gt", Value: 0.95}, true},
		{"gte boundary", workflow.Condition{Type: "hashtag_count", Operator: "gte", Value: 2}, true},
		{"lt fails", workflow.Condition{Type: "brand_safety_score", Operator: "lt", Value: 0.5}, false},
		{"lte integer value", workflow.Condition{Type: "revision_count", Operator: "lte", Value: 1}, true},
		{"eq string", workflow.Condition{Type: "priority", Operator: "eq", Value: "high"}, true},
		{"ne string", workflow.Condition{Type: "submitter", Operator: "ne", Value: "intern"}, true},
		{"eq bool", workflow.Condition{Type: "compliance_passed", Operator: "eq", Value: true}, true},
		{"in list", workflow.Condition{Type: "submitter", Operator: "in", Value: []interface{}{"trusted-writer", "editor"}}, true},
		{"in list miss", workflow.Condition{Type: "submitter", Operator: "in", Value: []string{"editor"}}, false},
		{"contains list case-insensitive", workflow.Condition{Type: "hashtags", Operator: "contains", Value: "tips"}, true},
		{"contains string", workflow.Condition{Type: "body", Operator: "contains", Value: "better posts"}, true},
		{"metadata template", workflow.Condition{Type: "content_template", Operator: "eq", Value: "evergreen"}, true},
		{"nested metadata", workflow.Condition{Type: "metadata.user_history.approved", Operator: "gte", Value: 10}, true},
		{"missing attribute", workflow.Condition{Type: "quality_score", Operator: "gt", Value: 0.1}, false},
		{"expression", workflow.Condition{Type: "expression", Expression: "brand_safety_score >= 0.9 && hashtag_count < 5"}, true},
		{"expression with function", workflow.Condition{Type: "expression", Expression: "includes(hashtags, 'social') && [metadata.user_history.rejected] == 0"}, true},
		{"literal false", workflow.Condition{Type: "expression", Expression: "false"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(tt.cond, attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unknown operator", func(t *testing.T) {
		_, err := EvaluateCondition(workflow.Condition{Type: "priority", Operator: "like", Value: "h%"}, attrs)
		assert.ErrorIs(t, err, ErrUnknownOperator)
	})

	t.Run("non-boolean expression", func(t *testing.T) {
		_, err := EvaluateCondition(workflow.Condition{Type: "expression", Expression: "hashtag_count + 1"}, attrs)
		assert.ErrorIs(t, err, ErrNotBoolean)
	})
}

func TestEvaluator_ShouldAutoApprove(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	high := workflow.Condition{Type: "brand_safety_score", Operator: "gte", Value: 0.95}
	trusted := workflow.Condition{Type: "submitter", Operator: "in", Value: []interface{}{"trusted-writer"}}
	urgent := workflow.Condition{Type: "priority", Operator: "eq", Value: "urgent"}

	wf := func(requiresAll bool, conds ...workflow.Condition) *workflow.Workflow {
		return &workflow.Workflow{Rules: workflow.Rules{AutoApproval: workflow.AutoApproval{Conditions: conds, RequiresAll: requiresAll}}}
	}

	t.Run("no conditions never approves", func(t *testing.T) {
		assert.False(t, e.ShouldAutoApprove(testRequest(), wf(true), brand(1)).Approved)
	})

	t.Run("requires all", func(t *testing.T) {
		res := e.ShouldAutoApprove(testRequest(), wf(true, high, trusted), brand(0.99))
		assert.True(t, res.Approved)
		assert.Len(t, res.Matched, 2)

		assert.False(t, e.ShouldAutoApprove(testRequest(), wf(true, high, trusted, urgent), brand(0.99)).Approved)
	})

	t.Run("any of", func(t *testing.T) {
		res := e.ShouldAutoApprove(testRequest(), wf(false, urgent, trusted), nil)
		assert.True(t, res.Approved)
		assert.Equal(t, "auto-approval conditions met: submitter in [trusted-writer]", res.Reason())

		assert.False(t, e.ShouldAutoApprove(testRequest(), wf(false, urgent, high), brand(0.5)).Approved)
	})

	t.Run("scores cached on the revision count", func(t *testing.T) {
		req := testRequest()
		req.Revisions[0].Checks = map[string]*policy.CheckResult{"brand": brand(0.96)}
		assert.True(t, e.ShouldAutoApprove(req, wf(true, high), nil).Approved)
	})

	t.Run("evaluation errors count as not met", func(t *testing.T) {
		bad := workflow.Condition{Type: "expression", Expression: "submitter > 3"}
		assert.False(t, e.ShouldAutoApprove(testRequest(), wf(false, bad), nil).Approved)
	})
}

func TestAttributes_MetadataCannotSupplyEngineValues(t *testing.T) {
	req := testRequest()
	req.Metadata["brand_safety_score"] = 0.99
	req.Metadata["compliance_passed"] = true
	req.Metadata["submitter"] = "editor"
	req.Metadata["campaign"] = "spring"

	attrs := Attributes(req, nil)
	_, ok := attrs["brand_safety_score"]
	assert.False(t, ok)
	_, ok = attrs["compliance_passed"]
	assert.False(t, ok)
	_, ok = attrs["campaign"]
	assert.False(t, ok)
	assert.Equal(t, "trusted-writer", attrs["submitter"])
	assert.Equal(t, 0.99, attrs["metadata.brand_safety_score"])
	assert.Equal(t, "spring", attrs["metadata.campaign"])
	assert.Equal(t, "evergreen", attrs["content_template"])

	e := NewEvaluator(zerolog.Nop())
	high := workflow.Condition{Type: "brand_safety_score", Operator: "gte", Value: 0.9}
	wf := &workflow.Workflow{Rules: workflow.Rules{AutoApproval: workflow.AutoApproval{Conditions: []workflow.Condition{high}, RequiresAll: true}}}
	assert.False(t, e.ShouldAutoApprove(req, wf, nil).Approved)
}
