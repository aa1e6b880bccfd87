// Package archive stores immutable theme version packages: a SQL registry
// of (theme, version) records plus the zip blobs behind afs URLs, so the
// physical storage (local disk, memory, object store) is an addressing
// concern, not a code path.
package archive

import (
	"errors"
	"time"
)

// ErrNotFound marks a requested version that does not exist; callers must
// surface it distinctly rather than substitute a fallback.
var ErrNotFound = errors.New("version not found")

const versionTable = "THEME_VERSION"

const versionTableDDL = `CREATE TABLE IF NOT EXISTS THEME_VERSION (
	ID INTEGER PRIMARY KEY AUTOINCREMENT,
	THEME_NAME TEXT NOT NULL,
	VERSION TEXT NOT NULL,
	STORAGE_URL TEXT NOT NULL,
	SIZE_BYTES INTEGER NOT NULL DEFAULT 0,
	IS_CURRENT INTEGER NOT NULL DEFAULT 0,
	UPLOADED_BY TEXT,
	UPLOADED_AT TIMESTAMP NOT NULL,
	UNIQUE (THEME_NAME, VERSION)
)`

// Version is one archived, immutable theme package.
type Version struct {
	ID         int64     `sqlx:"name=ID,autoincrement,primaryKey"`
	ThemeName  string    `sqlx:"name=THEME_NAME"`
	Version    string    `sqlx:"name=VERSION"`
	StorageURL string    `sqlx:"name=STORAGE_URL"`
	SizeBytes  int64     `sqlx:"name=SIZE_BYTES"`
	IsCurrent  bool      `sqlx:"name=IS_CURRENT"`
	UploadedBy string    `sqlx:"name=UPLOADED_BY"`
	UploadedAt time.Time `sqlx:"name=UPLOADED_AT"`
}
