package store

import (
	"context"
	"database/sql"
	"path"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/themeforge/migrator/rules"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testSet() *rules.Set {
	set := rules.NewSet("dawn", "1.0.0", "2.0.0")
	set.AddRename(&rules.SectionRename{
		OldName:         "hero",
		NewName:         "hero-banner",
		Confidence:      rules.ConfidenceConfirmed,
		Similarity:      1.0,
		SourceConfirmed: true,
	})
	set.AddFieldMapping(&rules.FieldMapping{
		Section:    "hero-banner",
		OldFieldID: "title",
		NewFieldID: "heading",
		Confidence: rules.ConfidenceHigh,
		Similarity: 0.93,
	})
	set.AddDefault(&rules.DefaultValue{
		Section:   "hero-banner",
		FieldID:   "subtitle",
		Value:     "",
		ValueType: "text",
	})
	return set
}

func TestService_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	service := New(newTestDB(t))
	if !assert.Nil(t, service.EnsureSchema(ctx)) {
		return
	}

	ok, err := service.Exists(ctx, "dawn", "1.0.0", "2.0.0")
	assert.Nil(t, err)
	assert.False(t, ok)

	set := testSet()
	if !assert.Nil(t, service.Save(ctx, set, "tester")) {
		return
	}

	ok, err = service.Exists(ctx, "dawn", "1.0.0", "2.0.0")
	assert.Nil(t, err)
	assert.True(t, ok)

	loaded, err := service.Load(ctx, "dawn", "1.0.0", "2.0.0")
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, "hero-banner", loaded.MappedComponent("hero"))
	assert.Equal(t, "heading", loaded.MappedField("hero-banner", "title"))
	rule, ok := loaded.DefaultFor("hero-banner", "subtitle")
	if assert.True(t, ok) {
		assert.Equal(t, "", rule.Value)
	}
	renames := loaded.Renames()
	if assert.Equal(t, 1, len(renames)) {
		assert.Equal(t, rules.ConfidenceConfirmed, renames[0].Confidence)
		assert.True(t, renames[0].SourceConfirmed)
	}
}

func TestService_SaveReplacesTriple(t *testing.T) {
	ctx := context.Background()
	service := New(newTestDB(t))
	assert.Nil(t, service.EnsureSchema(ctx))

	assert.Nil(t, service.Save(ctx, testSet(), "tester"))

	replacement := rules.NewSet("dawn", "1.0.0", "2.0.0")
	replacement.AddRename(&rules.SectionRename{OldName: "footer", NewName: "footer-v2", Confidence: rules.ConfidenceMedium, Similarity: 0.8})
	assert.Nil(t, service.Save(ctx, replacement, "tester"))

	loaded, err := service.Load(ctx, "dawn", "1.0.0", "2.0.0")
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, 1, loaded.Size())
	assert.Equal(t, "footer-v2", loaded.MappedComponent("footer"))
	// the earlier set is gone
	assert.Equal(t, "hero", loaded.MappedComponent("hero"))
}

func TestService_LoadIsolatesTriples(t *testing.T) {
	ctx := context.Background()
	service := New(newTestDB(t))
	assert.Nil(t, service.EnsureSchema(ctx))
	assert.Nil(t, service.Save(ctx, testSet(), "tester"))

	other := rules.NewSet("dawn", "2.0.0", "3.0.0")
	other.AddRename(&rules.SectionRename{OldName: "gallery", NewName: "media-gallery", Confidence: rules.ConfidenceHigh, Similarity: 0.9})
	assert.Nil(t, service.Save(ctx, other, "tester"))

	loaded, err := service.Load(ctx, "dawn", "2.0.0", "3.0.0")
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, 1, loaded.Size())
	assert.Equal(t, "media-gallery", loaded.MappedComponent("gallery"))
}

func TestService_LoadRejectsUnknownRuleType(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	service := New(db)
	assert.Nil(t, service.EnsureSchema(ctx))

	_, err := db.ExecContext(ctx,
		"INSERT INTO THEME_MIGRATION_RULE (THEME_NAME, FROM_VERSION, TO_VERSION, RULE_TYPE, SECTION_NAME, RULE_JSON, CONFIDENCE, CREATED_BY, CREATED_AT) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		"dawn", "1.0.0", "2.0.0", "MYSTERY_RULE", "hero", "{}", "", "tester", time.Now())
	assert.Nil(t, err)

	_, err = service.Load(ctx, "dawn", "1.0.0", "2.0.0")
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "unknown rule type")
}
