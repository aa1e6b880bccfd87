package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/themeforge/migrator/diff"
	"github.com/themeforge/migrator/schema"
	"github.com/themeforge/migrator/similarity"
)

// Matching is greedy, first deleted first matched, with no global
// re-optimization: the earliest candidate wins a tie and an accepted match
// leaves the pool. Candidates are visited in lexicographic order so the
// output is deterministic for identical inputs.

const (
	// diff derived rename acceptance and tiers
	diffRenameThreshold = 0.5
	diffHighTier        = 0.9
	diffMediumTier      = 0.7

	// schema derived acceptance and tiers
	schemaThreshold  = 0.6
	schemaHighTier   = 0.9
	schemaMediumTier = 0.75
)

// InferFromDiff derives section rename rules from a tree diff: renames the
// differ confirmed are taken outright, remaining deleted components are
// greedily matched against added ones by name similarity.
func InferFromDiff(theme, fromVersion, toVersion string, result *diff.Result) *Set {
	ret := NewSet(theme, fromVersion, toVersion)
	if result == nil {
		return ret
	}

	confirmed := make([]string, 0, len(result.Renamed))
	for oldName := range result.Renamed {
		confirmed = append(confirmed, oldName)
	}
	sort.Strings(confirmed)
	for _, oldName := range confirmed {
		ret.AddRename(&SectionRename{
			OldName:         oldName,
			NewName:         result.Renamed[oldName],
			Confidence:      ConfidenceConfirmed,
			Similarity:      1.0,
			SourceConfirmed: true,
			Reason:          "Tree diff detected rename (100% content match)",
		})
	}

	pool := append([]string(nil), result.Added...)
	sort.Strings(pool)
	deleted := append([]string(nil), result.Deleted...)
	sort.Strings(deleted)

	for _, oldName := range deleted {
		bestIndex, bestScore := -1, 0.0
		for i, candidate := range pool {
			score := similarity.Score(oldName, candidate)
			if score > bestScore {
				bestScore = score
				bestIndex = i
			}
		}
		if bestIndex == -1 || bestScore <= diffRenameThreshold {
			continue
		}
		ret.AddRename(&SectionRename{
			OldName:    oldName,
			NewName:    pool[bestIndex],
			Confidence: tier(bestScore, diffHighTier, diffMediumTier),
			Similarity: bestScore,
			Reason:     fmt.Sprintf("Name similarity: %.0f%%", bestScore*100),
		})
		pool = append(pool[:bestIndex], pool[bestIndex+1:]...)
	}
	return ret
}

// InferFromSchemas derives the full rule set from extracted schemas:
// weighted section matching for components present only on one side, field
// mappings inside every matched or identically named pair, and default
// value rules for fields new in the target version.
func InferFromSchemas(theme, fromVersion, toVersion string, oldSchemas, newSchemas map[string]*schema.ComponentSchema) *Set {
	ret := NewSet(theme, fromVersion, toVersion)
	renameTo := matchSections(ret, oldSchemas, newSchemas)
	inferFieldMappings(ret, oldSchemas, newSchemas, renameTo)
	inferDefaults(ret, oldSchemas, newSchemas, renameTo)
	return ret
}

// matchSections pairs components present only in the old tree with
// components present only in the new tree and records the accepted pairs
// as rename rules. It returns the old to new name mapping.
func matchSections(ret *Set, oldSchemas, newSchemas map[string]*schema.ComponentSchema) map[string]string {
	renameTo := map[string]string{}
	pool := make([]string, 0)
	for _, key := range schema.SortedKeys(newSchemas) {
		if _, ok := oldSchemas[key]; !ok {
			pool = append(pool, key)
		}
	}
	for _, oldKey := range schema.SortedKeys(oldSchemas) {
		if _, ok := newSchemas[oldKey]; ok {
			continue
		}
		bestIndex, bestScore := -1, 0.0
		for i, newKey := range pool {
			score := sectionScore(oldKey, newKey, oldSchemas[oldKey], newSchemas[newKey])
			if score > bestScore {
				bestScore = score
				bestIndex = i
			}
		}
		if bestIndex == -1 || bestScore < schemaThreshold {
			continue
		}
		newKey := pool[bestIndex]
		ret.AddRename(&SectionRename{
			OldName:    oldKey,
			NewName:    newKey,
			Confidence: tier(bestScore, schemaHighTier, schemaMediumTier),
			Similarity: bestScore,
			Reason:     fmt.Sprintf("Name similarity: %.2f", bestScore),
		})
		renameTo[oldKey] = newKey
		pool = append(pool[:bestIndex], pool[bestIndex+1:]...)
	}
	return renameTo
}

// sectionScore is the weighted section similarity: component name 50%,
// schema display name 30%, setting count proximity 20%. A term contributes
// zero when its underlying values are missing.
func sectionScore(oldKey, newKey string, oldSchema, newSchema *schema.ComponentSchema) float64 {
	score := similarity.Score(oldKey, newKey) * 0.5
	if oldSchema.Name != "" && newSchema.Name != "" {
		score += similarity.Score(oldSchema.Name, newSchema.Name) * 0.3
	}
	oldCount, newCount := len(oldSchema.Settings), len(newSchema.Settings)
	if oldCount > 0 && newCount > 0 {
		maxCount := oldCount
		if newCount > maxCount {
			maxCount = newCount
		}
		diffCount := oldCount - newCount
		if diffCount < 0 {
			diffCount = -diffCount
		}
		score += (1.0 - float64(diffCount)/float64(maxCount)) * 0.2
	}
	return score
}

func inferFieldMappings(ret *Set, oldSchemas, newSchemas map[string]*schema.ComponentSchema, renameTo map[string]string) {
	for _, oldKey := range schema.SortedKeys(oldSchemas) {
		newKey := oldKey
		if mapped, ok := renameTo[oldKey]; ok {
			newKey = mapped
		}
		oldSchema := oldSchemas[oldKey]
		newSchema, ok := newSchemas[newKey]
		if !ok || len(oldSchema.Settings) == 0 || len(newSchema.Settings) == 0 {
			continue
		}
		newIDs := newSchema.SettingIDs()
		candidates := append([]schema.Setting(nil), newSchema.Settings...)
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

		for _, oldSetting := range oldSchema.Settings {
			// a field surviving with the same id needs no mapping
			if newIDs[oldSetting.ID] {
				continue
			}
			bestID, bestScore := "", 0.0
			for i := range candidates {
				score := fieldScore(&oldSetting, &candidates[i])
				if score > bestScore {
					bestScore = score
					bestID = candidates[i].ID
				}
			}
			if bestID == "" || bestScore < schemaThreshold {
				continue
			}
			ret.AddFieldMapping(&FieldMapping{
				Section:    newKey,
				OldFieldID: oldSetting.ID,
				NewFieldID: bestID,
				Confidence: tier(bestScore, schemaHighTier, schemaMediumTier),
				Similarity: bestScore,
				Reason:     fmt.Sprintf("Field similarity: %.2f", bestScore),
			})
		}
	}
}

// fieldScore is the weighted field similarity: id 40%, exact type match
// 30%, label 30%. The label term contributes zero when either is missing.
func fieldScore(oldSetting, newSetting *schema.Setting) float64 {
	score := similarity.Score(oldSetting.ID, newSetting.ID) * 0.4
	if oldSetting.Type == newSetting.Type {
		score += 0.3
	}
	if oldSetting.Label != "" && newSetting.Label != "" {
		score += similarity.Score(oldSetting.Label, newSetting.Label) * 0.3
	}
	return score
}

func inferDefaults(ret *Set, oldSchemas, newSchemas map[string]*schema.ComponentSchema, renameTo map[string]string) {
	renameFrom := map[string]string{}
	for oldKey, newKey := range renameTo {
		renameFrom[newKey] = oldKey
	}
	for _, newKey := range schema.SortedKeys(newSchemas) {
		newSchema := newSchemas[newKey]
		if len(newSchema.Settings) == 0 {
			continue
		}
		oldKey := newKey
		if mapped, ok := renameFrom[newKey]; ok {
			oldKey = mapped
		}
		oldIDs := map[string]bool{}
		if oldSchema, ok := oldSchemas[oldKey]; ok {
			oldIDs = oldSchema.SettingIDs()
		}
		for i := range newSchema.Settings {
			setting := &newSchema.Settings[i]
			if oldIDs[setting.ID] {
				continue
			}
			value := setting.Default
			review := false
			if value == nil {
				value, review = inferDefault(setting.Type)
			}
			ret.AddDefault(&DefaultValue{
				Section:        newKey,
				FieldID:        setting.ID,
				Value:          value,
				ValueType:      setting.Type,
				Required:       setting.Required,
				RequiresReview: review,
				Reason:         "New field in target version",
			})
		}
	}
}

// inferDefault derives a neutral default from a field type. Selection
// types have no unambiguous default among their options; they come back
// nil with the review flag set so a human picks one.
func inferDefault(fieldType string) (interface{}, bool) {
	switch strings.ToLower(fieldType) {
	case "text", "textarea", "richtext":
		return "", false
	case "number", "range":
		return 0, false
	case "checkbox":
		return false, false
	case "select", "radio":
		return nil, true
	case "color":
		return "#000000", false
	case "url", "image", "video":
		return "", false
	}
	return nil, false
}
