package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() *Workflow {
	return &Workflow{
		Name: "social-post",
		Steps: []Step{
			{
				ID:          "checks",
				Name:        "Automated checks",
				Kind:        KindAutomatedCheck,
				Order:       1,
				AutoAdvance: true,
				Criteria: Criteria{
					BrandSafety: &BrandSafetyCriteria{Required: true, Threshold: 0.8, AutoReject: true},
				},
			},
			{
				ID:        "review",
				Name:      "Editor review",
				Kind:      KindReview,
				Order:     2,
				Assignees: []Assignee{{Type: AssigneeUser, ID: "editor"}},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		wf := validWorkflow()
		Normalize(wf)
		require.NoError(t, Validate(wf))
	})

	cases := map[string]func(w *Workflow){
		"no steps":             func(w *Workflow) { w.Steps = nil },
		"no name":              func(w *Workflow) { w.Name = "" },
		"order not increasing": func(w *Workflow) { w.Steps[1].Order = 1 },
		"duplicate ids":        func(w *Workflow) { w.Steps[1].ID = "checks" },
		"unknown kind":         func(w *Workflow) { w.Steps[1].Kind = "vote" },
		"missing assignees":    func(w *Workflow) { w.Steps[1].Assignees = nil },
		"stuck automated step": func(w *Workflow) { w.Steps[0].AutoAdvance = false },
		"bad threshold": func(w *Workflow) {
			w.Steps[0].Criteria.BrandSafety.Threshold = 1.5
		},
		"bad timeout": func(w *Workflow) {
			w.Steps[1].Timeout = &Timeout{Hours: 0, Action: TimeoutNotify}
		},
		"bad operator": func(w *Workflow) {
			w.Rules.AutoApproval.Conditions = []Condition{{Type: "priority", Operator: "like", Value: "low"}}
		},
		"escalation unknown step": func(w *Workflow) {
			w.Rules.Escalation = []EscalationRule{{StepID: "missing"}}
		},
	}
	t.Run("automated step with reviewers may hold", func(t *testing.T) {
		wf := validWorkflow()
		wf.Steps[0].AutoAdvance = false
		wf.Steps[0].Assignees = []Assignee{{Type: AssigneeRole, ID: "brand"}}
		Normalize(wf)
		require.NoError(t, Validate(wf))
	})

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			wf := validWorkflow()
			mutate(wf)
			Normalize(wf)
			err := Validate(wf)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidWorkflow))
		})
	}
}

func TestNormalizeAssigneeCapabilities(t *testing.T) {
	wf := validWorkflow()
	wf.Steps[1].Assignees = append(wf.Steps[1].Assignees, Assignee{ID: "legal", Type: AssigneeRole, CanComment: true})
	Normalize(wf)

	full := wf.Steps[1].Assignees[0]
	assert.True(t, full.Allows("approve"))
	assert.True(t, full.Allows("reject"))
	assert.True(t, full.Allows("request_changes"))

	commentOnly := wf.Steps[1].Assignees[1]
	assert.False(t, commentOnly.Allows("approve"))
	assert.True(t, commentOnly.Allows("comment"))
}

func TestHasRequiredChecks(t *testing.T) {
	wf := validWorkflow()
	assert.True(t, wf.Steps[0].HasRequiredChecks())
	assert.False(t, wf.Steps[1].HasRequiredChecks())

	wf.Steps[1].Criteria.Custom = []CustomCriterion{{ID: "cta", Type: CustomBoolean, Required: true}}
	assert.True(t, wf.Steps[1].HasRequiredChecks())
}

func TestEscalationFor(t *testing.T) {
	wf := validWorkflow()
	wf.Rules.Escalation = []EscalationRule{
		{StepID: "review", Assignees: []Assignee{{ID: "lead"}}},
		{Assignees: []Assignee{{ID: "ops"}}},
		{StepID: "checks", Assignees: []Assignee{{ID: "bot-owner"}}},
	}
	rules := wf.EscalationFor("review")
	require.Len(t, rules, 2)
	assert.Equal(t, "lead", rules[0].Assignees[0].ID)
	assert.Equal(t, "ops", rules[1].Assignees[0].ID)
}
