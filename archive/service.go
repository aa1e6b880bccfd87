package archive

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	furl "github.com/viant/afs/url"
	"github.com/viant/sqlx/io/insert"
	"github.com/viant/sqlx/io/read"
)

// Service archives theme version packages and tracks which one is current.
type Service struct {
	db      *sql.DB
	fs      afs.Service
	baseURL string
	log     zerolog.Logger
}

// EnsureSchema creates the version table when absent.
func (s *Service) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, versionTableDDL)
	return err
}

// Archive stores a theme package zip and registers the version. The blob
// is written before the row, so a failed insert never leaves a dangling
// registry entry.
func (s *Service) Archive(ctx context.Context, reader io.Reader, theme, version, uploadedBy string) (*Version, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read package: %w", err)
	}
	storageURL := furl.Join(s.baseURL, packageFileName(theme, version))
	if err = s.fs.Upload(ctx, storageURL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to store package %v: %w", storageURL, err)
	}
	record := &Version{
		ThemeName:  theme,
		Version:    version,
		StorageURL: storageURL,
		SizeBytes:  int64(len(data)),
		UploadedBy: uploadedBy,
		UploadedAt: time.Now(),
	}
	inserter, err := insert.New(ctx, s.db, versionTable)
	if err != nil {
		return nil, err
	}
	if _, _, err = inserter.Exec(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to register version %v v%v: %w", theme, version, err)
	}
	s.log.Info().Str("theme", theme).Str("version", version).Str("url", storageURL).Msg("archived theme version")
	return record, nil
}

// Current returns the version currently marked current for a theme.
func (s *Service) Current(ctx context.Context, theme string) (*Version, error) {
	SQL := selectVersionSQL + " WHERE THEME_NAME = ? AND IS_CURRENT = 1"
	ret, err := s.queryOne(ctx, SQL, theme)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, fmt.Errorf("no current version for theme %v: %w", theme, ErrNotFound)
	}
	return ret, nil
}

// Lookup returns a specific archived version.
func (s *Service) Lookup(ctx context.Context, theme, version string) (*Version, error) {
	SQL := selectVersionSQL + " WHERE THEME_NAME = ? AND VERSION = ?"
	ret, err := s.queryOne(ctx, SQL, theme, version)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, fmt.Errorf("version %v v%v: %w", theme, version, ErrNotFound)
	}
	return ret, nil
}

// History lists all archived versions of a theme, newest first.
func (s *Service) History(ctx context.Context, theme string) ([]*Version, error) {
	SQL := selectVersionSQL + " WHERE THEME_NAME = ? ORDER BY UPLOADED_AT DESC, ID DESC"
	reader, err := read.New(ctx, s.db, SQL, func() interface{} {
		return &Version{}
	})
	if err != nil {
		return nil, err
	}
	ret := make([]*Version, 0)
	err = reader.QueryAll(ctx, func(row interface{}) error {
		ret = append(ret, row.(*Version))
		return nil
	}, theme)
	return ret, err
}

// MarkCurrent flips the current pointer to the supplied version; the clear
// and set run in one transaction so no moment exists with two or zero
// current versions.
func (s *Service) MarkCurrent(ctx context.Context, theme, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "UPDATE "+versionTable+" SET IS_CURRENT = 0 WHERE THEME_NAME = ?", theme); err != nil {
		_ = tx.Rollback()
		return err
	}
	result, err := tx.ExecContext(ctx, "UPDATE "+versionTable+" SET IS_CURRENT = 1 WHERE THEME_NAME = ? AND VERSION = ?", theme, version)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("version %v v%v: %w", theme, version, ErrNotFound)
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Info().Str("theme", theme).Str("version", version).Msg("marked current version")
	return nil
}

// Delete removes an archived version: blob first, then the registry row.
func (s *Service) Delete(ctx context.Context, theme, version string) error {
	record, err := s.Lookup(ctx, theme, version)
	if err != nil {
		return err
	}
	if err = s.fs.Delete(ctx, record.StorageURL); err != nil {
		return fmt.Errorf("failed to delete package %v: %w", record.StorageURL, err)
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM "+versionTable+" WHERE ID = ?", record.ID)
	return err
}

// Fetch downloads the stored package bytes.
func (s *Service) Fetch(ctx context.Context, storageURL string) ([]byte, error) {
	data, err := s.fs.DownloadWithURL(ctx, storageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch package %v: %w", storageURL, err)
	}
	return data, nil
}

const selectVersionSQL = "SELECT ID, THEME_NAME, VERSION, STORAGE_URL, SIZE_BYTES, IS_CURRENT, UPLOADED_BY, UPLOADED_AT FROM " + versionTable

func (s *Service) queryOne(ctx context.Context, SQL string, args ...interface{}) (*Version, error) {
	reader, err := read.New(ctx, s.db, SQL, func() interface{} {
		return &Version{}
	})
	if err != nil {
		return nil, err
	}
	var ret *Version
	if err = reader.QuerySingle(ctx, func(row interface{}) error {
		ret = row.(*Version)
		return nil
	}, args...); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil
		}
		return nil, err
	}
	return ret, nil
}

func packageFileName(theme, version string) string {
	return strings.ReplaceAll(theme, " ", "-") + "-v" + version + ".zip"
}

// New creates a version archive service
func New(db *sql.DB, fs afs.Service, baseURL string, log zerolog.Logger) *Service {
	return &Service{db: db, fs: fs, baseURL: furl.Normalize(baseURL, file.Scheme), log: log}
}
