// Package store persists inferred migration rules per (theme, from, to)
// version triple.
package store

import (
	"context"

	"github.com/themeforge/migrator/rules"
)

// RuleStore is the persistence boundary the engine depends on; the core
// never assumes a particular technology behind it.
type RuleStore interface {
	// Exists reports whether any rule was saved for the triple.
	Exists(ctx context.Context, theme, fromVersion, toVersion string) (bool, error)

	// Load returns the rule set saved for the triple.
	Load(ctx context.Context, theme, fromVersion, toVersion string) (*rules.Set, error)

	// Save replaces the persisted rule set for the set's triple as one
	// atomic unit across all rule kinds.
	Save(ctx context.Context, set *rules.Set, author string) error
}
