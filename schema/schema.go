// Package schema extracts the structured definition block embedded in
// component files into a typed model used by rule inference.
package schema

import "strings"

type (
	// ComponentSchema mirrors the JSON object embedded between the schema
	// markers of a component definition file.
	ComponentSchema struct {
		Name     string                   `json:"name"`
		Class    string                   `json:"class,omitempty"`
		Settings []Setting                `json:"settings,omitempty"`
		Blocks   []BlockType              `json:"blocks,omitempty"`
		Presets  []map[string]interface{} `json:"presets,omitempty"`
		Enabled  *bool                    `json:"enabled,omitempty"`
		Limit    int                      `json:"limit,omitempty"`
	}

	// Setting describes a single configurable field of a component.
	Setting struct {
		ID          string      `json:"id"`
		Type        string      `json:"type"`
		Label       string      `json:"label,omitempty"`
		Default     interface{} `json:"default,omitempty"`
		Placeholder string      `json:"placeholder,omitempty"`
		Info        string      `json:"info,omitempty"`
		Required    bool        `json:"required,omitempty"`
		Options     []Option    `json:"options,omitempty"`
		Min         *int        `json:"min,omitempty"`
		Max         *int        `json:"max,omitempty"`
		Step        *int        `json:"step,omitempty"`
		Unit        string      `json:"unit,omitempty"`
	}

	// Option is a selectable value of a select or radio setting.
	Option struct {
		Value string `json:"value"`
		Label string `json:"label,omitempty"`
	}

	// BlockType describes a repeatable block a component accepts.
	BlockType struct {
		Type     string    `json:"type"`
		Name     string    `json:"name,omitempty"`
		Settings []Setting `json:"settings,omitempty"`
		Limit    int       `json:"limit,omitempty"`
	}
)

// IsValid reports whether the schema carries the minimum required data,
// a non blank name. All other validation is advisory.
func (s *ComponentSchema) IsValid() bool {
	return s != nil && strings.TrimSpace(s.Name) != ""
}

// SettingIDs returns the set of field ids declared by the schema.
func (s *ComponentSchema) SettingIDs() map[string]bool {
	ret := make(map[string]bool, len(s.Settings))
	for i := range s.Settings {
		ret[s.Settings[i].ID] = true
	}
	return ret
}

// Setting returns the declared setting with the supplied id.
func (s *ComponentSchema) Setting(id string) *Setting {
	for i := range s.Settings {
		if s.Settings[i].ID == id {
			return &s.Settings[i]
		}
	}
	return nil
}
