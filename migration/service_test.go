package migration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	furl "github.com/viant/afs/url"

	"github.com/themeforge/migrator/archive"
	"github.com/themeforge/migrator/diff"
	"github.com/themeforge/migrator/patch"
	"github.com/themeforge/migrator/schema"
	"github.com/themeforge/migrator/store"
)

const heroV1 = `{% schema %}
{"name":"Hero","settings":[
  {"id":"title","type":"text","label":"Title"},
  {"id":"subtitle","type":"text","label":"Subtitle"}
]}
{% endschema %}`

const heroV2 = `{% schema %}
{"name":"Hero","settings":[
  {"id":"main_title","type":"text","label":"Title"},
  {"id":"subtitle","type":"text","label":"Subtitle"},
  {"id":"promo","type":"text","label":"Promo"}
]}
{% endschema %}`

const footerComponent = `{% schema %}{"name":"Footer","settings":[{"id":"text","type":"text","label":"Text"}]}{% endschema %}`

type testEnv struct {
	service  *Service
	versions *archive.Service
	sessions SessionStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	baseDir := t.TempDir()
	db, err := sql.Open("sqlite3", path.Join(baseDir, "migrator.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	fs := afs.New()
	versions := archive.New(db, fs, filepath.Join(baseDir, "packages"), zerolog.Nop())
	ruleStore := store.New(db)
	sessions := NewMemorySessionStore()
	service := New(db, versions, schema.New(fs, zerolog.Nop()), diff.NewHashDiffer(fs), ruleStore, patch.New(fs, zerolog.Nop()), sessions, zerolog.Nop())
	for _, ensure := range []func(context.Context) error{versions.EnsureSchema, ruleStore.EnsureSchema, service.EnsureSchema} {
		if err = ensure(ctx); err != nil {
			t.Fatal(err)
		}
	}
	return &testEnv{service: service, versions: versions, sessions: sessions}
}

func buildPackage(t *testing.T, files map[string]string) []byte {
	t.Helper()
	ctx := context.Background()
	treeDir := t.TempDir()
	for name, content := range files {
		target := filepath.Join(treeDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	zipPath := filepath.Join(t.TempDir(), "package.zip")
	zipURL := furl.Normalize(zipPath, file.Scheme)
	if err := afs.New().Copy(ctx, furl.Normalize(treeDir, file.Scheme), zipURL+"/zip://localhost/"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func oldPackage(t *testing.T) []byte {
	return buildPackage(t, map[string]string{
		"components/hero.liquid":   heroV1,
		"components/footer.liquid": footerComponent,
		"templates/product.json":   `{"sections":{"main":{"type":"hero","settings":{"title":"Welcome","subtitle":"Hi"}}}}`,
	})
}

func newPackage(t *testing.T) []byte {
	return buildPackage(t, map[string]string{
		"components/hero-banner.liquid": heroV2,
		"components/footer.liquid":      footerComponent,
		"templates/product.json":        `{"sections":{"main":{"type":"hero-banner","settings":{}}}}`,
	})
}

func (e *testEnv) seedCurrent(t *testing.T, data []byte, version string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.versions.Archive(ctx, bytes.NewReader(data), "dawn", version, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := e.versions.MarkCurrent(ctx, "dawn", version); err != nil {
		t.Fatal(err)
	}
}

func TestService_StartInfersRules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCurrent(t, oldPackage(t), "1.0.0")

	session, err := env.service.Start(ctx, bytes.NewReader(newPackage(t)), "dawn", "2.0.0", "tester")
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, StatusPending, session.Status)
	assert.Equal(t, "1.0.0", session.FromVersion)
	assert.Equal(t, "2.0.0", session.ToVersion)
	assert.True(t, session.Changes.HasChanges())

	suggested := session.SuggestedRules
	assert.Equal(t, "hero-banner", suggested.MappedComponent("hero"))
	assert.Equal(t, "main_title", suggested.MappedField("hero-banner", "title"))
	rule, ok := suggested.DefaultFor("hero-banner", "promo")
	if assert.True(t, ok) {
		assert.Equal(t, "", rule.Value)
	}

	held, err := env.service.GetSession(session.ID)
	assert.Nil(t, err)
	assert.Equal(t, session.ID, held.ID)

	_, err = env.service.GetSession("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_ExecuteMigratesTemplates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCurrent(t, oldPackage(t), "1.0.0")

	session, err := env.service.Start(ctx, bytes.NewReader(newPackage(t)), "dawn", "2.0.0", "tester")
	if !assert.Nil(t, err) {
		return
	}

	// nil rules fall back to the persisted suggestions
	result, err := env.service.Execute(ctx, session.ID, nil)
	if !assert.Nil(t, err) {
		return
	}
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.TemplatesUpdated)
	assert.Equal(t, StatusSuccess, session.Status)

	current, err := env.versions.Current(ctx, "dawn")
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, "2.0.0", current.Version)

	tree, err := env.versions.Extract(ctx, current.StorageURL)
	if !assert.Nil(t, err) {
		return
	}
	defer env.versions.Cleanup(tree)
	data, err := os.ReadFile(filepath.Join(tree, "templates", "product.json"))
	if !assert.Nil(t, err) {
		return
	}
	var document map[string]map[string]map[string]interface{}
	assert.Nil(t, json.Unmarshal(data, &document))
	instance := document["sections"]["main"]
	assert.Equal(t, "hero-banner", instance["type"])
	settings := instance["settings"].(map[string]interface{})
	assert.Equal(t, "Welcome", settings["main_title"])
	assert.Equal(t, "Hi", settings["subtitle"])
	assert.Equal(t, "", settings["promo"])
	_, hadOld := settings["title"]
	assert.False(t, hadOld)

	migrated, err := env.service.MigratedArchive(ctx, result.HistoryID)
	if assert.Nil(t, err) {
		stored, err := env.versions.Fetch(ctx, current.StorageURL)
		assert.Nil(t, err)
		assert.Equal(t, stored, migrated)
	}

	records, err := env.service.History(ctx, "dawn")
	if assert.Nil(t, err) && assert.Equal(t, 1, len(records)) {
		assert.Equal(t, string(StatusSuccess), records[0].Status)
		assert.Equal(t, 1, records[0].TemplatesUpdated)
		assert.NotNil(t, records[0].CompletedAt)
	}
}

func TestService_ExecuteFailureRestoresPackage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	// no templates folder in the current package makes the patch step fail
	// after backup and extraction
	env.seedCurrent(t, buildPackage(t, map[string]string{
		"components/hero.liquid":   heroV1,
		"components/footer.liquid": footerComponent,
	}), "1.0.0")

	session, err := env.service.Start(ctx, bytes.NewReader(newPackage(t)), "dawn", "2.0.0", "tester")
	if !assert.Nil(t, err) {
		return
	}
	target, err := env.versions.Lookup(ctx, "dawn", "2.0.0")
	if !assert.Nil(t, err) {
		return
	}
	before, err := env.versions.Fetch(ctx, target.StorageURL)
	if !assert.Nil(t, err) {
		return
	}

	_, err = env.service.Execute(ctx, session.ID, nil)
	assert.NotNil(t, err)
	assert.Equal(t, StatusFailed, session.Status)
	assert.NotEqual(t, "", session.Message)

	// stored bytes identical to the pre-migration state
	after, err := env.versions.Fetch(ctx, target.StorageURL)
	if assert.Nil(t, err) {
		assert.Equal(t, before, after)
	}
	current, err := env.versions.Current(ctx, "dawn")
	if assert.Nil(t, err) {
		assert.Equal(t, "1.0.0", current.Version)
	}

	records, err := env.service.History(ctx, "dawn")
	if assert.Nil(t, err) && assert.Equal(t, 1, len(records)) {
		assert.Equal(t, string(StatusFailed), records[0].Status)
		assert.NotEqual(t, "", records[0].ErrorMessage)
		_, err = env.service.MigratedArchive(ctx, records[0].ID)
		assert.NotNil(t, err)
	}
}

func TestService_ExecuteWithoutRules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.sessions.Put(&Session{
		ID:          "manual",
		ThemeName:   "dawn",
		FromVersion: "1.0.0",
		ToVersion:   "9.9.9",
		Status:      StatusPending,
	})

	_, err := env.service.Execute(ctx, "manual", nil)
	assert.ErrorIs(t, err, ErrNoRules)

	session, _ := env.sessions.Get("manual")
	assert.Equal(t, StatusPending, session.Status)
}

func TestService_StartWithoutCurrentVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.service.Start(ctx, bytes.NewReader(newPackage(t)), "dawn", "2.0.0", "tester")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}
