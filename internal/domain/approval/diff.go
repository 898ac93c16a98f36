package approval

import (
	"github.com/pmezard/go-difflib/difflib"
)

// ChangeType classifies a field-level change between revisions.
type ChangeType string

const (
	ChangeAddition     ChangeType = "addition"
	ChangeDeletion     ChangeType = "deletion"
	ChangeModification ChangeType = "modification"
)

// Change is one entry of a structured revision diff.
type Change struct {
	Type     ChangeType  `json:"type"`
	Field    string      `json:"field"`
	OldValue interface{} `json:"oldValue,omitempty"`
	NewValue interface{} `json:"newValue,omitempty"`
	Patch    string      `json:"patch,omitempty"`
}

// DiffContent compares two snapshots field by field. Unchanged fields
// produce no entries; list fields report per-item additions and deletions.
func DiffContent(prev, next Content) []Change {
	var changes []Change
	changes = append(changes, diffText("title", prev.Title, next.Title, false)...)
	changes = append(changes, diffText("body", prev.Body, next.Body, true)...)
	changes = append(changes, diffList("hashtags", prev.Hashtags, next.Hashtags)...)
	changes = append(changes, diffList("mentions", prev.Mentions, next.Mentions)...)
	changes = append(changes, diffList("media", prev.MediaRefs, next.MediaRefs)...)
	return changes
}

func diffText(field, oldVal, newVal string, withPatch bool) []Change {
	switch {
	case oldVal == newVal:
		return nil
	case oldVal == "":
		return []Change{{Type: ChangeAddition, Field: field, NewValue: newVal}}
	case newVal == "":
		return []Change{{Type: ChangeDeletion, Field: field, OldValue: oldVal}}
	}
	c := Change{Type: ChangeModification, Field: field, OldValue: oldVal, NewValue: newVal}
	if withPatch {
		c.Patch = unifiedPatch(field, oldVal, newVal)
	}
	return []Change{c}
}

func unifiedPatch(field, oldVal, newVal string) string {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldVal),
		B:        difflib.SplitLines(newVal),
		FromFile: field + " (previous)",
		ToFile:   field + " (revised)",
		Context:  2,
	}
	patch, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return ""
	}
	return patch
}

func diffList(field string, oldVals, newVals []string) []Change {
	oldSet := make(map[string]struct{}, len(oldVals))
	for _, v := range oldVals {
		oldSet[v] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newVals))
	for _, v := range newVals {
		newSet[v] = struct{}{}
	}
	var changes []Change
	for _, v := range oldVals {
		if _, ok := newSet[v]; !ok {
			changes = append(changes, Change{Type: ChangeDeletion, Field: field, OldValue: v})
		}
	}
	for _, v := range newVals {
		if _, ok := oldSet[v]; !ok {
			changes = append(changes, Change{Type: ChangeAddition, Field: field, NewValue: v})
		}
	}
	return changes
}
