// Package rules defines the migration rule model and the inference engine
// deriving rules from tree diffs and extracted schemas.
package rules

// Confidence communicates inference certainty to a human reviewer.
// Confirmed outranks High, High outranks Medium, Medium outranks Low.
type Confidence string

const (
	ConfidenceConfirmed Confidence = "CONFIRMED"
	ConfidenceHigh      Confidence = "HIGH"
	ConfidenceMedium    Confidence = "MEDIUM"
	ConfidenceLow       Confidence = "LOW"
)

// Kind discriminates the rule union for persistence and application.
type Kind string

const (
	KindSectionRename Kind = "SECTION_RENAME"
	KindFieldMapping  Kind = "FIELD_MAPPING"
	KindDefaultValue  Kind = "DEFAULT_VALUE"
)

type (
	// SectionRename maps an old component type name to its replacement.
	// SourceConfirmed renames come from the tree differ (content identical
	// moves) and always carry Confirmed confidence with similarity 1.0.
	SectionRename struct {
		OldName         string     `json:"oldName"`
		NewName         string     `json:"newName"`
		Confidence      Confidence `json:"confidence"`
		Similarity      float64    `json:"similarity"`
		SourceConfirmed bool       `json:"sourceConfirmed"`
		Reason          string     `json:"reason,omitempty"`
	}

	// FieldMapping moves a setting value from an old field id to a new one
	// inside instances of Section. Section is the post rename component
	// name, matching what template instances carry after type remapping.
	FieldMapping struct {
		Section    string     `json:"section"`
		OldFieldID string     `json:"oldFieldId"`
		NewFieldID string     `json:"newFieldId"`
		Confidence Confidence `json:"confidence"`
		Similarity float64    `json:"similarity"`
		Reason     string     `json:"reason,omitempty"`
	}

	// DefaultValue injects a value for a field new in the target version
	// when a template instance lacks it. A nil Value with RequiresReview
	// set marks fields (select, radio) whose default cannot be inferred
	// without a human choice; the patcher never injects those.
	DefaultValue struct {
		Section        string      `json:"section"`
		FieldID        string      `json:"fieldId"`
		Value          interface{} `json:"value"`
		ValueType      string      `json:"valueType,omitempty"`
		Required       bool        `json:"required,omitempty"`
		RequiresReview bool        `json:"requiresReview,omitempty"`
		Reason         string      `json:"reason,omitempty"`
	}
)

// tier maps a similarity score to a confidence level using the supplied
// high and medium thresholds.
func tier(score, high, medium float64) Confidence {
	switch {
	case score >= high:
		return ConfidenceHigh
	case score >= medium:
		return ConfidenceMedium
	}
	return ConfidenceLow
}
