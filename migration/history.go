package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/viant/sqlx/io/insert"
	"github.com/viant/sqlx/io/read"
)

const historyTable = "THEME_MIGRATION_HISTORY"

const historyTableDDL = `CREATE TABLE IF NOT EXISTS THEME_MIGRATION_HISTORY (
	ID INTEGER PRIMARY KEY AUTOINCREMENT,
	THEME_NAME TEXT NOT NULL,
	FROM_VERSION TEXT NOT NULL,
	TO_VERSION TEXT NOT NULL,
	STATUS TEXT NOT NULL,
	TEMPLATES_UPDATED INTEGER NOT NULL DEFAULT 0,
	ERROR_MESSAGE TEXT,
	EXECUTED_BY TEXT,
	EXECUTED_AT TIMESTAMP NOT NULL,
	COMPLETED_AT TIMESTAMP
)`

// HistoryRecord is one append-only migration outcome row.
type HistoryRecord struct {
	ID               int64      `sqlx:"name=ID,autoincrement,primaryKey"`
	ThemeName        string     `sqlx:"name=THEME_NAME"`
	FromVersion      string     `sqlx:"name=FROM_VERSION"`
	ToVersion        string     `sqlx:"name=TO_VERSION"`
	Status           string     `sqlx:"name=STATUS"`
	TemplatesUpdated int        `sqlx:"name=TEMPLATES_UPDATED"`
	ErrorMessage     string     `sqlx:"name=ERROR_MESSAGE"`
	ExecutedBy       string     `sqlx:"name=EXECUTED_BY"`
	ExecutedAt       time.Time  `sqlx:"name=EXECUTED_AT"`
	CompletedAt      *time.Time `sqlx:"name=COMPLETED_AT"`
}

const selectHistorySQL = "SELECT ID, THEME_NAME, FROM_VERSION, TO_VERSION, STATUS, TEMPLATES_UPDATED, ERROR_MESSAGE, EXECUTED_BY, EXECUTED_AT, COMPLETED_AT FROM " + historyTable

func (s *Service) appendHistory(ctx context.Context, record *HistoryRecord) error {
	inserter, err := insert.New(ctx, s.db, historyTable)
	if err != nil {
		return err
	}
	_, lastID, err := inserter.Exec(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to record migration history: %w", err)
	}
	record.ID = lastID
	return nil
}

// History lists migration outcomes for a theme, newest first.
func (s *Service) History(ctx context.Context, theme string) ([]*HistoryRecord, error) {
	SQL := selectHistorySQL + " WHERE THEME_NAME = ? ORDER BY EXECUTED_AT DESC, ID DESC"
	reader, err := read.New(ctx, s.db, SQL, func() interface{} {
		return &HistoryRecord{}
	})
	if err != nil {
		return nil, err
	}
	ret := make([]*HistoryRecord, 0)
	err = reader.QueryAll(ctx, func(row interface{}) error {
		ret = append(ret, row.(*HistoryRecord))
		return nil
	}, theme)
	return ret, err
}

func (s *Service) historyByID(ctx context.Context, id int64) (*HistoryRecord, error) {
	SQL := selectHistorySQL + " WHERE ID = ?"
	reader, err := read.New(ctx, s.db, SQL, func() interface{} {
		return &HistoryRecord{}
	})
	if err != nil {
		return nil, err
	}
	var ret *HistoryRecord
	if err = reader.QuerySingle(ctx, func(row interface{}) error {
		ret = row.(*HistoryRecord)
		return nil
	}, id); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, fmt.Errorf("migration history %v not found", id)
		}
		return nil, err
	}
	if ret == nil {
		return nil, fmt.Errorf("migration history %v not found", id)
	}
	return ret, nil
}
