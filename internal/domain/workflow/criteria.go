package workflow

import "fmt"

// CustomType is the shape of a custom criterion.
type CustomType string

const (
	CustomBoolean   CustomType = "boolean"
	CustomScore     CustomType = "score"
	CustomText      CustomType = "text"
	CustomChecklist CustomType = "checklist"
)

// Criteria is the set of automated requirements a step checks.
type Criteria struct {
	BrandSafety          *BrandSafetyCriteria `json:"brandSafety,omitempty" yaml:"brandSafety,omitempty"`
	ContentQuality       *QualityCriteria     `json:"contentQuality,omitempty" yaml:"contentQuality,omitempty"`
	Compliance           *ComplianceCriteria  `json:"compliance,omitempty" yaml:"compliance,omitempty"`
	PlatformOptimization *PlatformCriteria    `json:"platformOptimization,omitempty" yaml:"platformOptimization,omitempty"`
	Custom               []CustomCriterion    `json:"custom,omitempty" yaml:"custom,omitempty"`
}

type BrandSafetyCriteria struct {
	Required   bool    `json:"required" yaml:"required"`
	Threshold  float64 `json:"threshold" yaml:"threshold"`
	AutoReject bool    `json:"autoReject" yaml:"autoReject"`
}

type QualityCriteria struct {
	Required   bool    `json:"required" yaml:"required"`
	MinScore   float64 `json:"minScore" yaml:"minScore"`
	AutoReject bool    `json:"autoReject" yaml:"autoReject"`
}

type ComplianceCriteria struct {
	Required   bool     `json:"required" yaml:"required"`
	Rules      []string `json:"rules,omitempty" yaml:"rules,omitempty"`
	AutoReject bool     `json:"autoReject" yaml:"autoReject"`
}

type PlatformCriteria struct {
	Required   bool     `json:"required" yaml:"required"`
	MinScore   float64  `json:"minScore" yaml:"minScore"`
	Platforms  []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	AutoReject bool     `json:"autoReject" yaml:"autoReject"`
}

// CustomCriterion is an adopter-defined check scored by the policy scorer
// under the dimension "custom:<id>".
type CustomCriterion struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Type       CustomType `json:"type" yaml:"type"`
	Required   bool       `json:"required" yaml:"required"`
	Threshold  float64    `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	AutoReject bool       `json:"autoReject,omitempty" yaml:"autoReject,omitempty"`
}

// AnyRequired reports whether any block gates step completion.
func (c Criteria) AnyRequired() bool {
	if c.BrandSafety != nil && c.BrandSafety.Required {
		return true
	}
	if c.ContentQuality != nil && c.ContentQuality.Required {
		return true
	}
	if c.Compliance != nil && c.Compliance.Required {
		return true
	}
	if c.PlatformOptimization != nil && c.PlatformOptimization.Required {
		return true
	}
	for _, cc := range c.Custom {
		if cc.Required {
			return true
		}
	}
	return false
}

func (c Criteria) validate(stepID string) error {
	if c.BrandSafety != nil && (c.BrandSafety.Threshold < 0 || c.BrandSafety.Threshold > 1) {
		return fmt.Errorf("%w: step %s brand safety threshold must be within [0,1]", ErrInvalidWorkflow, stepID)
	}
	if c.ContentQuality != nil && (c.ContentQuality.MinScore < 0 || c.ContentQuality.MinScore > 1) {
		return fmt.Errorf("%w: step %s quality minScore must be within [0,1]", ErrInvalidWorkflow, stepID)
	}
	if c.PlatformOptimization != nil && (c.PlatformOptimization.MinScore < 0 || c.PlatformOptimization.MinScore > 1) {
		return fmt.Errorf("%w: step %s platform minScore must be within [0,1]", ErrInvalidWorkflow, stepID)
	}
	ids := make(map[string]struct{}, len(c.Custom))
	for _, cc := range c.Custom {
		if cc.ID == "" {
			return fmt.Errorf("%w: step %s custom criterion id is required", ErrInvalidWorkflow, stepID)
		}
		if _, ok := ids[cc.ID]; ok {
			return fmt.Errorf("%w: step %s duplicate custom criterion %s", ErrInvalidWorkflow, stepID, cc.ID)
		}
		ids[cc.ID] = struct{}{}
		switch cc.Type {
		case CustomBoolean, CustomScore, CustomText, CustomChecklist:
		default:
			return fmt.Errorf("%w: step %s custom criterion %s has unknown type %q", ErrInvalidWorkflow, stepID, cc.ID, cc.Type)
		}
	}
	return nil
}
