package patch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	furl "github.com/viant/afs/url"

	"github.com/themeforge/migrator/rules"
)

func testRules() *rules.Set {
	set := rules.NewSet("dawn", "1.0.0", "2.0.0")
	set.AddRename(&rules.SectionRename{
		OldName:    "hero",
		NewName:    "hero-banner",
		Confidence: rules.ConfidenceConfirmed,
		Similarity: 1.0,
	})
	set.AddFieldMapping(&rules.FieldMapping{
		Section:    "hero-banner",
		OldFieldID: "title",
		NewFieldID: "heading",
		Confidence: rules.ConfidenceHigh,
		Similarity: 0.9,
	})
	set.AddDefault(&rules.DefaultValue{
		Section:   "hero-banner",
		FieldID:   "subheading",
		Value:     "",
		ValueType: "text",
	})
	set.AddDefault(&rules.DefaultValue{
		Section:        "hero-banner",
		FieldID:        "layout",
		ValueType:      "select",
		RequiresReview: true,
	})
	return set
}

func TestPatcher_Apply(t *testing.T) {
	var testCases = []struct {
		description  string
		documents    map[string]string
		expectUpdate int
		expectSkip   int
		validate     func(t *testing.T, docs map[string][]byte)
	}{
		{
			description: "rename, remap and default injection",
			documents: map[string]string{
				"product.json": `{"sections":{"main":{"type":"hero","settings":{"title":"Welcome"}}}}`,
			},
			expectUpdate: 1,
			validate: func(t *testing.T, docs map[string][]byte) {
				instance := sectionOf(t, docs["product.json"], "main")
				assert.Equal(t, "hero-banner", instance["type"])
				settings := instance["settings"].(map[string]interface{})
				assert.Equal(t, "Welcome", settings["heading"])
				_, hadOld := settings["title"]
				assert.False(t, hadOld)
				assert.Equal(t, "", settings["subheading"])
				_, hadReview := settings["layout"]
				assert.False(t, hadReview, "review-only defaults are never injected")
			},
		},
		{
			description: "default never overwrites an existing value",
			documents: map[string]string{
				"index.json": `{"sections":{"top":{"type":"hero","settings":{"heading":"Kept","subheading":"Custom"}}}}`,
			},
			expectUpdate: 1,
			validate: func(t *testing.T, docs map[string][]byte) {
				settings := sectionOf(t, docs["index.json"], "top")["settings"].(map[string]interface{})
				assert.Equal(t, "Custom", settings["subheading"])
			},
		},
		{
			description: "remap overwrites a colliding new key",
			documents: map[string]string{
				"page.json": `{"sections":{"top":{"type":"hero","settings":{"title":"New","heading":"Stale"}}}}`,
			},
			expectUpdate: 1,
			validate: func(t *testing.T, docs map[string][]byte) {
				settings := sectionOf(t, docs["page.json"], "top")["settings"].(map[string]interface{})
				assert.Equal(t, "New", settings["heading"])
				assert.Equal(t, 2, len(settings))
			},
		},
		{
			description: "untouched and malformed documents copy through as skipped",
			documents: map[string]string{
				"cart.json":  `{"sections":{"main":{"type":"cart","settings":{"note":"x"}}}}`,
				"blob.json":  `not json at all`,
				"plain.json": `{"layout":"theme"}`,
			},
			expectSkip: 3,
			validate: func(t *testing.T, docs map[string][]byte) {
				assert.Equal(t, `not json at all`, string(docs["blob.json"]))
				assert.Equal(t, `{"layout":"theme"}`, string(docs["plain.json"]))
			},
		},
	}

	for _, testCase := range testCases {
		fs := afs.New()
		ctx := context.Background()
		sourceURL := "mem://localhost/patch/" + strings.ReplaceAll(testCase.description, " ", "-") + "/src"
		targetURL := "mem://localhost/patch/" + strings.ReplaceAll(testCase.description, " ", "-") + "/dst"
		for name, content := range testCase.documents {
			err := fs.Upload(ctx, furl.Join(sourceURL, "templates", name), file.DefaultFileOsMode, strings.NewReader(content))
			assert.Nil(t, err, testCase.description)
		}
		patcher := New(fs, zerolog.Nop())
		result, err := patcher.Apply(ctx, sourceURL, targetURL, testRules())
		if !assert.Nil(t, err, testCase.description) {
			continue
		}
		assert.Equal(t, testCase.expectUpdate, result.Updated, testCase.description)
		assert.Equal(t, testCase.expectSkip, result.Skipped, testCase.description)
		if testCase.validate != nil {
			docs := map[string][]byte{}
			for name := range testCase.documents {
				data, err := fs.DownloadWithURL(ctx, furl.Join(targetURL, "templates", name))
				if assert.Nil(t, err, testCase.description) {
					docs[name] = data
				}
			}
			testCase.validate(t, docs)
		}
	}
}

func TestPatcher_ApplyIsIdempotent(t *testing.T) {
	fs := afs.New()
	ctx := context.Background()
	sourceURL := "mem://localhost/idempotent/src"
	midURL := "mem://localhost/idempotent/mid"
	targetURL := "mem://localhost/idempotent/dst"
	document := `{"sections":{"main":{"type":"hero","settings":{"title":"Welcome"}}}}`
	err := fs.Upload(ctx, furl.Join(sourceURL, "templates", "product.json"), file.DefaultFileOsMode, strings.NewReader(document))
	assert.Nil(t, err)

	patcher := New(fs, zerolog.Nop())
	first, err := patcher.Apply(ctx, sourceURL, midURL, testRules())
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, 1, first.Updated)

	second, err := patcher.Apply(ctx, midURL, targetURL, testRules())
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 0, second.RulesApplied)

	patchedOnce, err := fs.DownloadWithURL(ctx, furl.Join(midURL, "templates", "product.json"))
	assert.Nil(t, err)
	patchedTwice, err := fs.DownloadWithURL(ctx, furl.Join(targetURL, "templates", "product.json"))
	assert.Nil(t, err)
	assert.Equal(t, string(patchedOnce), string(patchedTwice))
}

func TestPatcher_ApplySkipsSettingsData(t *testing.T) {
	fs := afs.New()
	ctx := context.Background()
	sourceURL := "mem://localhost/filtered/src"
	targetURL := "mem://localhost/filtered/dst"
	files := map[string]string{
		"config.json":  `{"current":{"colors_accent":"#ff0000"}}`,
		".DS_Store":    "junk",
		"product.json": `{"sections":{"main":{"type":"hero","settings":{"title":"Welcome"}}}}`,
	}
	for name, content := range files {
		err := fs.Upload(ctx, furl.Join(sourceURL, "templates", name), file.DefaultFileOsMode, strings.NewReader(content))
		assert.Nil(t, err)
	}

	result, err := New(fs, zerolog.Nop()).Apply(ctx, sourceURL, targetURL, testRules())
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Skipped)

	for _, excluded := range []string{"config.json", ".DS_Store"} {
		ok, _ := fs.Exists(ctx, furl.Join(targetURL, "templates", excluded))
		assert.False(t, ok, excluded)
	}
}

func sectionOf(t *testing.T, data []byte, instanceID string) map[string]interface{} {
	t.Helper()
	var document map[string]interface{}
	if err := json.Unmarshal(data, &document); err != nil {
		t.Fatal(err)
	}
	sections, ok := document["sections"].(map[string]interface{})
	if !ok {
		t.Fatalf("no sections in %s", data)
	}
	instance, ok := sections[instanceID].(map[string]interface{})
	if !ok {
		t.Fatalf("no instance %v in %s", instanceID, data)
	}
	return instance
}
