// Package diff classifies component definition changes between two
// extracted version trees. The git backed differ is the reference
// implementation; the content hash differ is a dependency lighter drop in
// with the identical contract.
package diff

import (
	"context"
	"sort"
	"strings"
)

// componentsPrefix restricts diffing to the component definition subtree.
const componentsPrefix = "components/"

type (
	// Result is the structural diff of the components subtree. Renames are
	// content confirmed only; fuzzy rename candidates are the rule
	// inference engine's job.
	Result struct {
		Added    []string          `json:"added,omitempty"`
		Deleted  []string          `json:"deleted,omitempty"`
		Renamed  map[string]string `json:"renamed,omitempty"`
		Modified []string          `json:"modified,omitempty"`
	}

	// Differ produces a Result for two version trees addressed by afs URLs.
	Differ interface {
		Diff(ctx context.Context, oldURL, newURL string) (*Result, error)
	}
)

// HasChanges reports whether any component level change was detected.
func (r *Result) HasChanges() bool {
	return len(r.Added)+len(r.Deleted)+len(r.Renamed)+len(r.Modified) > 0
}

func (r *Result) normalize() *Result {
	sort.Strings(r.Added)
	sort.Strings(r.Deleted)
	sort.Strings(r.Modified)
	if r.Renamed == nil {
		r.Renamed = map[string]string{}
	}
	return r
}

func newResult() *Result {
	return &Result{Renamed: map[string]string{}}
}

// componentName maps a tree relative path to a component name, stripping
// the components directory prefix and the file extension. The second
// result is false for paths outside the components subtree.
func componentName(path string) (string, bool) {
	if !strings.HasPrefix(path, componentsPrefix) {
		return "", false
	}
	name := path[len(componentsPrefix):]
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	if index := strings.LastIndex(name, "."); index != -1 {
		name = name[:index]
	}
	return name, true
}
