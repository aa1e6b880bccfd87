package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/afs/file"
	furl "github.com/viant/afs/url"

	"github.com/themeforge/migrator/archive"
	"github.com/themeforge/migrator/diff"
	"github.com/themeforge/migrator/patch"
	"github.com/themeforge/migrator/rules"
	"github.com/themeforge/migrator/schema"
	"github.com/themeforge/migrator/store"
)

// ErrNoRules marks an execute attempt with no confirmed or persisted rules
// for the version transition; nothing has been mutated when it is returned.
var ErrNoRules = errors.New("no migration rules for version transition")

type (
	// Differ compares two extracted theme trees.
	Differ interface {
		Diff(ctx context.Context, oldURL, newURL string) (*diff.Result, error)
	}

	// Service drives the migration pipeline and owns failure recovery.
	Service struct {
		db        *sql.DB
		versions  *archive.Service
		extractor *schema.Extractor
		differ    Differ
		ruleStore store.RuleStore
		patcher   *patch.Patcher
		sessions  SessionStore
		log       zerolog.Logger
	}

	// Result summarizes one executed migration.
	Result struct {
		Success          bool
		HistoryID        int64
		TemplatesUpdated int
		Message          string
	}
)

// EnsureSchema creates the history table when absent.
func (s *Service) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, historyTableDDL)
	return err
}

// Start archives the incoming package when not yet known, diffs it against
// the current version, infers migration rules and holds them in a pending
// session for confirmation. Diff and inference complete before the session
// becomes visible.
func (s *Service) Start(ctx context.Context, reader io.Reader, theme, newVersion, uploadedBy string) (*Session, error) {
	current, err := s.versions.Current(ctx, theme)
	if err != nil {
		return nil, fmt.Errorf("cannot migrate theme %v: %w", theme, err)
	}
	target, err := s.versions.Lookup(ctx, theme, newVersion)
	if errors.Is(err, archive.ErrNotFound) {
		target, err = s.versions.Archive(ctx, reader, theme, newVersion, uploadedBy)
	}
	if err != nil {
		return nil, err
	}

	oldTree, err := s.versions.Extract(ctx, current.StorageURL)
	if err != nil {
		return nil, err
	}
	defer s.versions.Cleanup(oldTree)
	newTree, err := s.versions.Extract(ctx, target.StorageURL)
	if err != nil {
		return nil, err
	}
	defer s.versions.Cleanup(newTree)

	oldURL := furl.Normalize(oldTree, file.Scheme)
	newURL := furl.Normalize(newTree, file.Scheme)
	changes, err := s.differ.Diff(ctx, oldURL, newURL)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %v v%v against v%v: %w", theme, current.Version, newVersion, err)
	}
	oldSchemas, err := s.extractor.ExtractAll(ctx, schema.ComponentsURL(oldURL))
	if err != nil {
		return nil, err
	}
	newSchemas, err := s.extractor.ExtractAll(ctx, schema.ComponentsURL(newURL))
	if err != nil {
		return nil, err
	}

	suggested := rules.InferFromDiff(theme, current.Version, newVersion, changes)
	suggested.Merge(rules.InferFromSchemas(theme, current.Version, newVersion, oldSchemas, newSchemas))
	if err = s.ruleStore.Save(ctx, suggested, uploadedBy); err != nil {
		return nil, fmt.Errorf("failed to persist suggested rules: %w", err)
	}

	session := &Session{
		ID:             newSessionID(),
		ThemeName:      theme,
		FromVersion:    current.Version,
		ToVersion:      newVersion,
		Status:         StatusPending,
		Changes:        changes,
		SuggestedRules: suggested,
		RequestedBy:    uploadedBy,
		CreatedAt:      time.Now(),
	}
	s.sessions.Put(session)
	s.log.Info().Str("session", session.ID).Str("theme", theme).
		Str("from", current.Version).Str("to", newVersion).
		Str("rules", suggested.Stats()).Msg("migration session created")
	return session, nil
}

// Execute runs a confirmed migration. When confirmed is nil the previously
// persisted rule set for the transition is loaded; having no rules anywhere
// is a caller error raised before any filesystem mutation. On failure the
// target package is restored from its backup and the error re-raised.
func (s *Service) Execute(ctx context.Context, sessionID string, confirmed *rules.Set) (*Result, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	ruleSet := confirmed
	if ruleSet == nil || ruleSet.IsEmpty() {
		if ruleSet, err = s.loadPersisted(ctx, session); err != nil {
			return nil, err
		}
	}

	session.Status = StatusExecuting
	s.sessions.Put(session)

	history := &HistoryRecord{
		ThemeName:   session.ThemeName,
		FromVersion: session.FromVersion,
		ToVersion:   session.ToVersion,
		Status:      string(StatusExecuting),
		ExecutedBy:  session.RequestedBy,
		ExecutedAt:  time.Now(),
	}

	target, err := s.versions.Lookup(ctx, session.ThemeName, session.ToVersion)
	if err != nil {
		return nil, s.fail(ctx, session, history, "", nil, err)
	}
	current, err := s.versions.Lookup(ctx, session.ThemeName, session.FromVersion)
	if err != nil {
		return nil, s.fail(ctx, session, history, "", nil, err)
	}
	backupURL, err := s.versions.Backup(ctx, target)
	if err != nil {
		return nil, s.fail(ctx, session, history, "", nil, err)
	}

	oldTree, err := s.versions.Extract(ctx, current.StorageURL)
	if err != nil {
		return nil, s.fail(ctx, session, history, backupURL, target, err)
	}
	defer s.versions.Cleanup(oldTree)
	newTree, err := s.versions.Extract(ctx, target.StorageURL)
	if err != nil {
		return nil, s.fail(ctx, session, history, backupURL, target, err)
	}
	defer s.versions.Cleanup(newTree)

	// old tree documents carry the customizations, the new tree is the
	// authoritative shape and the write destination
	patched, err := s.patcher.Apply(ctx, furl.Normalize(oldTree, file.Scheme), furl.Normalize(newTree, file.Scheme), ruleSet)
	if err != nil {
		return nil, s.fail(ctx, session, history, backupURL, target, err)
	}
	if err = s.versions.Repack(ctx, newTree, target.StorageURL); err != nil {
		return nil, s.fail(ctx, session, history, backupURL, target, err)
	}
	if err = s.versions.MarkCurrent(ctx, session.ThemeName, session.ToVersion); err != nil {
		return nil, s.fail(ctx, session, history, backupURL, target, err)
	}

	completed := time.Now()
	history.Status = string(StatusSuccess)
	history.TemplatesUpdated = patched.Updated
	history.CompletedAt = &completed
	if err = s.appendHistory(ctx, history); err != nil {
		return nil, s.fail(ctx, session, history, backupURL, target, err)
	}

	session.Status = StatusSuccess
	s.sessions.Put(session)
	s.log.Info().Str("session", session.ID).Int64("history", history.ID).
		Int("updated", patched.Updated).Msg("migration succeeded")
	return &Result{
		Success:          true,
		HistoryID:        history.ID,
		TemplatesUpdated: patched.Updated,
		Message:          fmt.Sprintf("migrated %v from %v to %v", session.ThemeName, session.FromVersion, session.ToVersion),
	}, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(id string) (*Session, error) {
	return s.sessions.Get(id)
}

// MigratedArchive returns the stored package bytes for a successful
// migration; any other history status is an error.
func (s *Service) MigratedArchive(ctx context.Context, historyID int64) ([]byte, error) {
	record, err := s.historyByID(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if record.Status != string(StatusSuccess) {
		return nil, fmt.Errorf("migration history %v has status %v, archive only available on %v", historyID, record.Status, StatusSuccess)
	}
	version, err := s.versions.Lookup(ctx, record.ThemeName, record.ToVersion)
	if err != nil {
		return nil, err
	}
	return s.versions.Fetch(ctx, version.StorageURL)
}

func (s *Service) loadPersisted(ctx context.Context, session *Session) (*rules.Set, error) {
	ok, err := s.ruleStore.Exists(ctx, session.ThemeName, session.FromVersion, session.ToVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%v %v->%v: %w", session.ThemeName, session.FromVersion, session.ToVersion, ErrNoRules)
	}
	ruleSet, err := s.ruleStore.Load(ctx, session.ThemeName, session.FromVersion, session.ToVersion)
	if err != nil {
		return nil, err
	}
	if ruleSet.IsEmpty() {
		return nil, fmt.Errorf("%v %v->%v: %w", session.ThemeName, session.FromVersion, session.ToVersion, ErrNoRules)
	}
	return ruleSet, nil
}

// fail restores the backup when one was taken, records the failure and
// moves the session to FAILED; the original error is always returned.
func (s *Service) fail(ctx context.Context, session *Session, history *HistoryRecord, backupURL string, target *archive.Version, cause error) error {
	if backupURL != "" && target != nil {
		if err := s.versions.Restore(ctx, backupURL, target.StorageURL); err != nil {
			s.log.Error().Err(err).Str("backup", backupURL).Msg("backup restore failed")
		}
	}
	completed := time.Now()
	history.Status = string(StatusFailed)
	history.ErrorMessage = cause.Error()
	history.CompletedAt = &completed
	if err := s.appendHistory(ctx, history); err != nil {
		s.log.Error().Err(err).Msg("failed to record failed migration")
	}
	session.Status = StatusFailed
	session.Message = cause.Error()
	s.sessions.Put(session)
	s.log.Error().Err(cause).Str("session", session.ID).Msg("migration failed")
	return cause
}

// New creates a migration orchestrator
func New(db *sql.DB, versions *archive.Service, extractor *schema.Extractor, differ Differ, ruleStore store.RuleStore, patcher *patch.Patcher, sessions SessionStore, log zerolog.Logger) *Service {
	return &Service{
		db:        db,
		versions:  versions,
		extractor: extractor,
		differ:    differ,
		ruleStore: ruleStore,
		patcher:   patcher,
		sessions:  sessions,
		log:       log,
	}
}
