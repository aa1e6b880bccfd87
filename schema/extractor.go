package schema

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/viant/afs"
	"github.com/viant/afs/url"
)

// blockPattern matches a single embedded schema block; the body is plain
// JSON between the markers.
var blockPattern = regexp.MustCompile(`(?is)\{%\s*schema\s*%\}(.+?)\{%\s*endschema\s*%\}`)

type (
	// Extractor parses component definition files addressed by afs URLs.
	Extractor struct {
		fs  afs.Service
		log zerolog.Logger
	}

	// MalformedSchemaError indicates a schema block was present but failed
	// to deserialize. Tree scans log and skip it rather than abort.
	MalformedSchemaError struct {
		Location string
		Err      error
	}
)

func (e *MalformedSchemaError) Error() string {
	return fmt.Sprintf("malformed schema block in %v: %v", e.Location, e.Err)
}

func (e *MalformedSchemaError) Unwrap() error {
	return e.Err
}

// Parse locates the embedded schema block in raw component content and
// deserializes it. It returns nil without error when no block is present.
func (e *Extractor) Parse(content string) (*ComponentSchema, error) {
	return e.parse(content, "inline")
}

// ParseURL reads a component definition file and parses its schema block.
func (e *Extractor) ParseURL(ctx context.Context, URL string) (*ComponentSchema, error) {
	data, err := e.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read component %v: %w", URL, err)
	}
	return e.parse(string(data), URL)
}

func (e *Extractor) parse(content, location string) (*ComponentSchema, error) {
	match := blockPattern.FindStringSubmatch(content)
	if match == nil {
		return nil, nil
	}
	body := strings.TrimSpace(match[1])
	ret := &ComponentSchema{}
	if err := json.Unmarshal([]byte(body), ret); err != nil {
		return nil, &MalformedSchemaError{Location: location, Err: err}
	}
	return ret, nil
}

// ExtractAll scans every file directly under componentsURL and returns the
// valid schemas keyed by component name (file name without extension).
// Files without a schema block and files with a malformed block are
// skipped; the latter are logged so a single bad component never aborts a
// whole tree scan.
func (e *Extractor) ExtractAll(ctx context.Context, componentsURL string) (map[string]*ComponentSchema, error) {
	ret := map[string]*ComponentSchema{}
	if ok, _ := e.fs.Exists(ctx, componentsURL); !ok {
		e.log.Warn().Str("url", componentsURL).Msg("components directory not found")
		return ret, nil
	}
	objects, err := e.fs.List(ctx, componentsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list components %v: %w", componentsURL, err)
	}
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		aSchema, err := e.ParseURL(ctx, object.URL())
		if err != nil {
			e.log.Error().Err(err).Str("url", object.URL()).Msg("skipping component with malformed schema")
			continue
		}
		if !aSchema.IsValid() {
			continue
		}
		ret[ComponentName(object.Name())] = aSchema
	}
	return ret, nil
}

// ComponentName derives a component name from a file name or component
// tree relative path by stripping the extension.
func ComponentName(name string) string {
	if index := strings.LastIndex(name, "."); index != -1 {
		name = name[:index]
	}
	return name
}

// Fingerprint returns a stable content hash of the schema field list. It
// is a pure function of the semantic field data (ids, types and labels in
// declared order) and is independent of source formatting.
func Fingerprint(aSchema *ComponentSchema) string {
	if aSchema == nil || len(aSchema.Settings) == 0 {
		return ""
	}
	type entry struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Label string `json:"label"`
	}
	entries := make([]entry, 0, len(aSchema.Settings))
	for _, setting := range aSchema.Settings {
		entries = append(entries, entry{ID: setting.ID, Type: setting.Type, Label: setting.Label})
	}
	data, _ := json.Marshal(entries)
	digest := md5.Sum(data)
	return hex.EncodeToString(digest[:])
}

// SortedKeys returns schema map keys in lexicographic order; inference
// iterates schemas in this order to keep its output deterministic.
func SortedKeys(schemas map[string]*ComponentSchema) []string {
	keys := make([]string, 0, len(schemas))
	for key := range schemas {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ComponentsURL returns the components subtree location of a version tree.
func ComponentsURL(baseURL string) string {
	return url.Join(baseURL, "components")
}

// New creates a schema extractor
func New(fs afs.Service, log zerolog.Logger) *Extractor {
	return &Extractor{fs: fs, log: log}
}
