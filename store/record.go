package store

import "time"

const ruleTable = "THEME_MIGRATION_RULE"

const ruleTableDDL = `CREATE TABLE IF NOT EXISTS THEME_MIGRATION_RULE (
	ID INTEGER PRIMARY KEY AUTOINCREMENT,
	THEME_NAME TEXT NOT NULL,
	FROM_VERSION TEXT NOT NULL,
	TO_VERSION TEXT NOT NULL,
	RULE_TYPE TEXT NOT NULL,
	SECTION_NAME TEXT,
	RULE_JSON TEXT NOT NULL,
	CONFIDENCE TEXT,
	CREATED_BY TEXT,
	CREATED_AT TIMESTAMP NOT NULL
)`

// Record is one persisted rule row; RuleJSON holds the serialized rule
// union variant discriminated by RuleType.
type Record struct {
	ID          int64     `sqlx:"name=ID,autoincrement,primaryKey"`
	ThemeName   string    `sqlx:"name=THEME_NAME"`
	FromVersion string    `sqlx:"name=FROM_VERSION"`
	ToVersion   string    `sqlx:"name=TO_VERSION"`
	RuleType    string    `sqlx:"name=RULE_TYPE"`
	SectionName string    `sqlx:"name=SECTION_NAME"`
	RuleJSON    string    `sqlx:"name=RULE_JSON"`
	Confidence  string    `sqlx:"name=CONFIDENCE"`
	CreatedBy   string    `sqlx:"name=CREATED_BY"`
	CreatedAt   time.Time `sqlx:"name=CREATED_AT"`
}
