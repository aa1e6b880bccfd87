package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/viant/sqlx/io/insert"
	"github.com/viant/sqlx/io/read"

	"github.com/themeforge/migrator/rules"
)

// Service is the SQL backed RuleStore; one row per rule instance.
type Service struct {
	db *sql.DB
}

// EnsureSchema creates the rule table when absent.
func (s *Service) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, ruleTableDDL)
	return errors.Wrap(err, "failed to ensure rule table")
}

// Exists implements RuleStore.Exists.
func (s *Service) Exists(ctx context.Context, theme, fromVersion, toVersion string) (bool, error) {
	SQL := "SELECT COUNT(1) FROM " + ruleTable + " WHERE THEME_NAME = ? AND FROM_VERSION = ? AND TO_VERSION = ?"
	var count int
	if err := s.db.QueryRowContext(ctx, SQL, theme, fromVersion, toVersion).Scan(&count); err != nil {
		return false, errors.Wrapf(err, "failed to count rules for %v %v -> %v", theme, fromVersion, toVersion)
	}
	return count > 0, nil
}

// Load implements RuleStore.Load, rebuilding the rule set from persisted
// rows. The rule union is matched exhaustively; an unknown rule type is an
// error rather than a silent skip.
func (s *Service) Load(ctx context.Context, theme, fromVersion, toVersion string) (*rules.Set, error) {
	SQL := "SELECT ID, THEME_NAME, FROM_VERSION, TO_VERSION, RULE_TYPE, SECTION_NAME, RULE_JSON, CONFIDENCE, CREATED_BY, CREATED_AT FROM " +
		ruleTable + " WHERE THEME_NAME = ? AND FROM_VERSION = ? AND TO_VERSION = ? ORDER BY ID"
	reader, err := read.New(ctx, s.db, SQL, func() interface{} {
		return &Record{}
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create rule reader")
	}
	records := make([]*Record, 0)
	if err = reader.QueryAll(ctx, func(row interface{}) error {
		records = append(records, row.(*Record))
		return nil
	}, theme, fromVersion, toVersion); err != nil {
		return nil, errors.Wrapf(err, "failed to load rules for %v %v -> %v", theme, fromVersion, toVersion)
	}

	ret := rules.NewSet(theme, fromVersion, toVersion)
	for _, record := range records {
		switch rules.Kind(record.RuleType) {
		case rules.KindSectionRename:
			rule := &rules.SectionRename{}
			if err := json.Unmarshal([]byte(record.RuleJSON), rule); err != nil {
				return nil, errors.Wrapf(err, "failed to decode rename rule %v", record.ID)
			}
			ret.AddRename(rule)
		case rules.KindFieldMapping:
			rule := &rules.FieldMapping{}
			if err := json.Unmarshal([]byte(record.RuleJSON), rule); err != nil {
				return nil, errors.Wrapf(err, "failed to decode field mapping rule %v", record.ID)
			}
			ret.AddFieldMapping(rule)
		case rules.KindDefaultValue:
			rule := &rules.DefaultValue{}
			if err := json.Unmarshal([]byte(record.RuleJSON), rule); err != nil {
				return nil, errors.Wrapf(err, "failed to decode default value rule %v", record.ID)
			}
			ret.AddDefault(rule)
		default:
			return nil, errors.Errorf("unknown rule type: %v (rule %v)", record.RuleType, record.ID)
		}
	}
	return ret, nil
}

// Save implements RuleStore.Save. The previously saved triple is replaced
// and all three rule kinds are written in a single transaction, so a
// partially saved set is never observable.
func (s *Service) Save(ctx context.Context, set *rules.Set, author string) error {
	records, err := s.toRecords(set, author)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin rule save")
	}
	deleteSQL := "DELETE FROM " + ruleTable + " WHERE THEME_NAME = ? AND FROM_VERSION = ? AND TO_VERSION = ?"
	if _, err = tx.ExecContext(ctx, deleteSQL, set.Theme, set.FromVersion, set.ToVersion); err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "failed to clear previous rules")
	}
	if len(records) > 0 {
		inserter, err := insert.New(ctx, s.db, ruleTable)
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "failed to create rule inserter")
		}
		if _, _, err = inserter.Exec(ctx, records, tx); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "failed to save rules for %v %v -> %v", set.Theme, set.FromVersion, set.ToVersion)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit rule save")
}

func (s *Service) toRecords(set *rules.Set, author string) ([]*Record, error) {
	now := time.Now()
	base := func(kind rules.Kind, section, confidence string, rule interface{}) (*Record, error) {
		data, err := json.Marshal(rule)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode %v rule", kind)
		}
		return &Record{
			ThemeName:   set.Theme,
			FromVersion: set.FromVersion,
			ToVersion:   set.ToVersion,
			RuleType:    string(kind),
			SectionName: section,
			RuleJSON:    string(data),
			Confidence:  confidence,
			CreatedBy:   author,
			CreatedAt:   now,
		}, nil
	}

	records := make([]*Record, 0, set.Size())
	for _, rule := range set.Renames() {
		record, err := base(rules.KindSectionRename, rule.OldName, string(rule.Confidence), rule)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	for _, rule := range set.FieldMappings() {
		record, err := base(rules.KindFieldMapping, rule.Section, string(rule.Confidence), rule)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	for _, rule := range set.Defaults() {
		record, err := base(rules.KindDefaultValue, rule.Section, "", rule)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// New creates a SQL rule store
func New(db *sql.DB) *Service {
	return &Service{db: db}
}
