package archive

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs/file"
	furl "github.com/viant/afs/url"
)

// zipRootURL addresses the content of a stored zip through the afs zip
// sub scheme, e.g. file:/tmp/dawn-v1.zip/zip://localhost/.
func zipRootURL(storageURL string) string {
	return furl.Normalize(storageURL, file.Scheme) + "/zip://localhost/"
}

// Extract unpacks a stored package into a fresh local working tree and
// returns the tree location. The caller owns the tree and removes it with
// Cleanup on every exit path.
func (s *Service) Extract(ctx context.Context, storageURL string) (string, error) {
	workingDir, err := os.MkdirTemp("", "theme-tree-")
	if err != nil {
		return "", err
	}
	if err = s.fs.Copy(ctx, zipRootURL(storageURL), furl.Normalize(workingDir, file.Scheme)); err != nil {
		_ = os.RemoveAll(workingDir)
		return "", fmt.Errorf("failed to extract %v: %w", storageURL, err)
	}
	return workingDir, nil
}

// Repack zips a working tree and swaps it over the stored package. The
// zip is staged at a scratch location first and only moved over the
// destination once fully written, so a failed repack never truncates the
// stored object.
func (s *Service) Repack(ctx context.Context, treeDir, storageURL string) error {
	stagingURL := furl.Join(s.baseURL, ".staging-"+uuid.New().String()+".zip")
	if err := s.fs.Copy(ctx, furl.Normalize(treeDir, file.Scheme), stagingURL+"/zip://localhost/"); err != nil {
		_ = s.fs.Delete(ctx, stagingURL)
		return fmt.Errorf("failed to repack %v: %w", treeDir, err)
	}
	if err := s.fs.Move(ctx, stagingURL, storageURL); err != nil {
		_ = s.fs.Delete(ctx, stagingURL)
		return fmt.Errorf("failed to swap package %v: %w", storageURL, err)
	}
	return nil
}

// Backup copies a stored package aside and returns the backup location.
func (s *Service) Backup(ctx context.Context, record *Version) (string, error) {
	parent, name := furl.Split(record.StorageURL, file.Scheme)
	backupURL := furl.Join(parent, "backups", fmt.Sprintf("%v-%v-%v", time.Now().UnixMilli(), uuid.New().String()[:8], name))
	if err := s.fs.Copy(ctx, record.StorageURL, backupURL); err != nil {
		return "", fmt.Errorf("failed to back up %v: %w", record.StorageURL, err)
	}
	s.log.Info().Str("backup", backupURL).Msg("created package backup")
	return backupURL, nil
}

// Restore copies a backup over a stored package location.
func (s *Service) Restore(ctx context.Context, backupURL, storageURL string) error {
	if ok, _ := s.fs.Exists(ctx, backupURL); !ok {
		return fmt.Errorf("backup %v: %w", backupURL, ErrNotFound)
	}
	if err := s.fs.Copy(ctx, backupURL, storageURL); err != nil {
		return fmt.Errorf("failed to restore %v: %w", storageURL, err)
	}
	s.log.Info().Str("backup", backupURL).Str("target", storageURL).Msg("restored package backup")
	return nil
}

// Cleanup removes a working tree; failures are logged, never escalated,
// so cleanup can never mask a primary outcome.
func (s *Service) Cleanup(workingDir string) {
	if workingDir == "" {
		return
	}
	if err := os.RemoveAll(workingDir); err != nil {
		s.log.Warn().Err(err).Str("dir", workingDir).Msg("failed to remove working tree")
	}
}
