// Package patch rewrites template documents for a new theme version:
// component types are renamed, setting keys remapped and new-field defaults
// injected, all driven by a migration rule set.
package patch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	furl "github.com/viant/afs/url"

	"github.com/themeforge/migrator/rules"
)

const templatesFolder = "templates"

type (
	// Patcher applies a rule set to every template document of a theme tree.
	Patcher struct {
		fs  afs.Service
		log zerolog.Logger
	}

	// Result summarizes one patch run.
	Result struct {
		Updated      int
		Skipped      int
		RulesApplied int
	}
)

// Apply patches every template document under sourceURL/templates and writes
// the outcome under targetURL/templates. Customized content comes from the
// source tree while the target tree stays authoritative for everything
// outside templates. Documents with no structural change are still copied
// through so no template is ever lost.
func (p *Patcher) Apply(ctx context.Context, sourceURL, targetURL string, set *rules.Set) (*Result, error) {
	sourceURL = furl.Normalize(sourceURL, file.Scheme)
	targetURL = furl.Normalize(targetURL, file.Scheme)
	objects, err := p.fs.List(ctx, furl.Join(sourceURL, templatesFolder))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates in %v: %w", sourceURL, err)
	}
	result := &Result{}
	for _, object := range objects {
		if object.IsDir() || !includeTemplate(object.Name()) {
			continue
		}
		data, err := p.fs.DownloadWithURL(ctx, object.URL())
		if err != nil {
			return nil, fmt.Errorf("failed to read template %v: %w", object.URL(), err)
		}
		patched, applied := patchDocument(data, set)
		if patched == nil {
			patched = data
		}
		destURL := furl.Join(targetURL, templatesFolder, object.Name())
		if err = p.fs.Upload(ctx, destURL, file.DefaultFileOsMode, bytes.NewReader(patched)); err != nil {
			return nil, fmt.Errorf("failed to write template %v: %w", destURL, err)
		}
		if applied > 0 {
			result.Updated++
			result.RulesApplied += applied
			p.log.Debug().Str("template", object.Name()).Int("rules", applied).Msg("patched template")
		} else {
			result.Skipped++
		}
	}
	p.log.Info().Int("updated", result.Updated).Int("skipped", result.Skipped).
		Int("rules", result.RulesApplied).Msg("template patch completed")
	return result, nil
}

// includeTemplate filters out theme settings data and editor droppings.
func includeTemplate(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return name != "config.json"
}

// patchDocument rewrites one template document. It returns nil when the
// document is not a patchable sections document, and the number of rules
// that changed it.
func patchDocument(data []byte, set *rules.Set) ([]byte, int) {
	var document map[string]interface{}
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, 0
	}
	sections, ok := document["sections"].(map[string]interface{})
	if !ok || len(sections) == 0 {
		return nil, 0
	}
	applied := 0
	for _, instanceID := range sortedKeys(sections) {
		instance, ok := sections[instanceID].(map[string]interface{})
		if !ok {
			continue
		}
		applied += patchInstance(instance, set)
	}
	if applied == 0 {
		return nil, 0
	}
	patched, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, 0
	}
	return patched, applied
}

// patchInstance applies the three rule kinds to one component instance, in
// order: type rename, field remap, default injection.
func patchInstance(instance map[string]interface{}, set *rules.Set) int {
	applied := 0
	typeName, _ := instance["type"].(string)
	if typeName == "" {
		return 0
	}
	mapped := set.MappedComponent(typeName)
	if mapped != typeName {
		instance["type"] = mapped
		applied++
	}

	settings, _ := instance["settings"].(map[string]interface{})
	mappings := set.FieldMappingsFor(mapped)
	if settings != nil {
		for _, oldID := range sortedMappingKeys(mappings) {
			value, present := settings[oldID]
			if !present {
				continue
			}
			delete(settings, oldID)
			settings[mappings[oldID].NewFieldID] = value
			applied++
		}
	}

	defaults := set.DefaultsFor(mapped)
	for _, fieldID := range sortedDefaultKeys(defaults) {
		rule := defaults[fieldID]
		if rule.Value == nil {
			continue
		}
		if settings == nil {
			settings = map[string]interface{}{}
			instance["settings"] = settings
		}
		if _, present := settings[fieldID]; present {
			continue
		}
		settings[fieldID] = rule.Value
		applied++
	}
	return applied
}

func sortedKeys(aMap map[string]interface{}) []string {
	ret := make([]string, 0, len(aMap))
	for key := range aMap {
		ret = append(ret, key)
	}
	sort.Strings(ret)
	return ret
}

func sortedMappingKeys(aMap map[string]*rules.FieldMapping) []string {
	ret := make([]string, 0, len(aMap))
	for key := range aMap {
		ret = append(ret, key)
	}
	sort.Strings(ret)
	return ret
}

func sortedDefaultKeys(aMap map[string]*rules.DefaultValue) []string {
	ret := make([]string, 0, len(aMap))
	for key := range aMap {
		ret = append(ret, key)
	}
	sort.Strings(ret)
	return ret
}

// New creates a template patcher
func New(fs afs.Service, log zerolog.Logger) *Patcher {
	return &Patcher{fs: fs, log: log}
}
