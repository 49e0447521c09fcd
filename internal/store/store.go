package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/autoreply/internal/rule"
)

//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// migrations[i] upgrades user_version i to i+1.
var migrations = []func(*sql.Tx) error{
	indexPosition,
	boundDelay,
}

// Store persists the rule set in a SQLite database. Implements rule.Store.
type Store struct {
	db *sql.DB
}

var _ rule.Store = (*Store)(nil)

// Open opens or creates the database at path and brings its schema up to
// date. Opening an existing database is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := setup(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func setup(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return migrate(db)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	if v > len(migrations) {
		return 0, fmt.Errorf("database schema version %d is newer than supported %d", v, len(migrations))
	}
	return v, nil
}

// migrate runs each outstanding migration in its own transaction.
func migrate(db *sql.DB) error {
	v, err := schemaVersion(db)
	if err != nil {
		return err
	}
	for ; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if err := migrations[v](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set user_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit v%d: %w", v+1, err)
		}
	}
	return nil
}

func indexPosition(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_rules_position ON rules(position)`)
	return err
}

// boundDelay rebuilds the rules table with an upper bound on delay_seconds.
// Fails if a stored rule already exceeds it.
func boundDelay(tx *sql.Tx) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE rules_v2 (
    id            TEXT    PRIMARY KEY,
    keyword       TEXT    NOT NULL,
    is_regex      INTEGER NOT NULL DEFAULT 0 CHECK (is_regex IN (0, 1)),
    reply_message TEXT    NOT NULL DEFAULT '',
    priority      INTEGER NOT NULL DEFAULT 0,
    delay_seconds INTEGER NOT NULL DEFAULT 0 CHECK (delay_seconds BETWEEN 0 AND %d),
    position      INTEGER NOT NULL
)`, rule.MaxDelaySeconds),
		`INSERT INTO rules_v2 (id, keyword, is_regex, reply_message, priority, delay_seconds, position)
    SELECT id, keyword, is_regex, reply_message, priority, delay_seconds, position FROM rules`,
		`DROP TABLE rules`,
		`ALTER TABLE rules_v2 RENAME TO rules`,
		`CREATE INDEX IF NOT EXISTS idx_rules_position ON rules(position)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
