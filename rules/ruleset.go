package rules

import (
	"fmt"
	"sort"
)

// Set aggregates every rule derived for one (theme, fromVersion,
// toVersion) triple. At most one rename per old name, one field mapping
// per (section, old field id) and one default per (section, field id) is
// held; a later add replaces the earlier entry.
type Set struct {
	Theme       string
	FromVersion string
	ToVersion   string

	renames  map[string]*SectionRename
	fields   map[string]map[string]*FieldMapping
	defaults map[string]map[string]*DefaultValue
}

// AddRename registers a section rename keyed by old name.
func (s *Set) AddRename(rule *SectionRename) {
	s.renames[rule.OldName] = rule
}

// AddFieldMapping registers a field mapping keyed by section and old id.
func (s *Set) AddFieldMapping(rule *FieldMapping) {
	bySection, ok := s.fields[rule.Section]
	if !ok {
		bySection = map[string]*FieldMapping{}
		s.fields[rule.Section] = bySection
	}
	bySection[rule.OldFieldID] = rule
}

// AddDefault registers a default value rule keyed by section and field id.
func (s *Set) AddDefault(rule *DefaultValue) {
	bySection, ok := s.defaults[rule.Section]
	if !ok {
		bySection = map[string]*DefaultValue{}
		s.defaults[rule.Section] = bySection
	}
	bySection[rule.FieldID] = rule
}

// MappedComponent returns the target name for a component type, falling
// back to the supplied name when no rename applies.
func (s *Set) MappedComponent(oldName string) string {
	if rule, ok := s.renames[oldName]; ok {
		return rule.NewName
	}
	return oldName
}

// MappedField returns the target field id inside the supplied section,
// falling back to the old id when no mapping applies.
func (s *Set) MappedField(section, oldFieldID string) string {
	if rule, ok := s.fields[section][oldFieldID]; ok {
		return rule.NewFieldID
	}
	return oldFieldID
}

// DefaultFor returns the default value rule for a section field, if any.
func (s *Set) DefaultFor(section, fieldID string) (*DefaultValue, bool) {
	rule, ok := s.defaults[section][fieldID]
	return rule, ok
}

// Renames returns all rename rules ordered by old name.
func (s *Set) Renames() []*SectionRename {
	ret := make([]*SectionRename, 0, len(s.renames))
	for _, rule := range s.renames {
		ret = append(ret, rule)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].OldName < ret[j].OldName })
	return ret
}

// FieldMappings returns all field mapping rules ordered by section then
// old field id.
func (s *Set) FieldMappings() []*FieldMapping {
	ret := make([]*FieldMapping, 0)
	for _, bySection := range s.fields {
		for _, rule := range bySection {
			ret = append(ret, rule)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Section != ret[j].Section {
			return ret[i].Section < ret[j].Section
		}
		return ret[i].OldFieldID < ret[j].OldFieldID
	})
	return ret
}

// Defaults returns all default value rules ordered by section then field.
func (s *Set) Defaults() []*DefaultValue {
	ret := make([]*DefaultValue, 0)
	for _, bySection := range s.defaults {
		for _, rule := range bySection {
			ret = append(ret, rule)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Section != ret[j].Section {
			return ret[i].Section < ret[j].Section
		}
		return ret[i].FieldID < ret[j].FieldID
	})
	return ret
}

// FieldMappingsFor returns the mappings applying to one section keyed by
// old field id.
func (s *Set) FieldMappingsFor(section string) map[string]*FieldMapping {
	return s.fields[section]
}

// DefaultsFor returns the default rules applying to one section keyed by
// field id.
func (s *Set) DefaultsFor(section string) map[string]*DefaultValue {
	return s.defaults[section]
}

// Merge folds rules from another set into this one; entries already
// present win, so confirmed diff derived renames survive a later merge of
// fuzzier schema derived candidates.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, rule := range other.Renames() {
		if _, ok := s.renames[rule.OldName]; !ok {
			s.AddRename(rule)
		}
	}
	for _, rule := range other.FieldMappings() {
		if _, ok := s.fields[rule.Section][rule.OldFieldID]; !ok {
			s.AddFieldMapping(rule)
		}
	}
	for _, rule := range other.Defaults() {
		if _, ok := s.defaults[rule.Section][rule.FieldID]; !ok {
			s.AddDefault(rule)
		}
	}
}

// Size returns the total rule count.
func (s *Set) Size() int {
	ret := len(s.renames)
	for _, bySection := range s.fields {
		ret += len(bySection)
	}
	for _, bySection := range s.defaults {
		ret += len(bySection)
	}
	return ret
}

// IsEmpty reports whether the set holds no rules at all.
func (s *Set) IsEmpty() bool {
	return s.Size() == 0
}

// Stats summarizes the set for logs and operator output.
func (s *Set) Stats() string {
	renames := len(s.renames)
	mappings := 0
	for _, bySection := range s.fields {
		mappings += len(bySection)
	}
	defaults := 0
	for _, bySection := range s.defaults {
		defaults += len(bySection)
	}
	return fmt.Sprintf("Total: %d (Renames: %d, Mappings: %d, Defaults: %d)",
		renames+mappings+defaults, renames, mappings, defaults)
}

// NewSet creates an empty rule set for a version triple
func NewSet(theme, fromVersion, toVersion string) *Set {
	return &Set{
		Theme:       theme,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		renames:     map[string]*SectionRename{},
		fields:      map[string]map[string]*FieldMapping{},
		defaults:    map[string]map[string]*DefaultValue{},
	}
}
