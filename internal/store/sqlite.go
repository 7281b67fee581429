// ABOUTME: SQLite store using modernc.org/sqlite with automatic schema creation
// ABOUTME: Backs the durable topic log, cursor checkpoints, connection audit and event ledger

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultReadLimit caps how many messages one ReadSince returns.
const DefaultReadLimit = 500

// timeLayout is fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the topicmesh storage interfaces on one database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// ReadLimit caps ReadSince batches. Zero means DefaultReadLimit.
	ReadLimit int
}

// NewSQLiteStore opens (or creates) the database at path and its schema.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	memory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, memory))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// dsn attaches the connection pragmas to path. database/sql pools
// connections, so every new connection must get busy_timeout and
// foreign_keys, not only the first. Write transactions start IMMEDIATE
// so a read-then-write never fails on a stale WAL snapshot.
func dsn(path string, memory bool) string {
	params := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(1)",
	}
	if !memory {
		params = append(params, "_pragma=journal_mode(WAL)", "_txlock=immediate")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS topic_messages (
			topic        TEXT NOT NULL,
			sequence     INTEGER NOT NULL,
			contents     TEXT NOT NULL,
			published_at TEXT NOT NULL,
			PRIMARY KEY (topic, sequence)
		);

		CREATE TABLE IF NOT EXISTS cursors (
			consumer   TEXT NOT NULL,
			topic      TEXT NOT NULL,
			cursor     INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (consumer, topic)
		);

		CREATE TABLE IF NOT EXISTS connections (
			request_key         TEXT PRIMARY KEY,
			connection_topic_id TEXT,
			target_account_id   TEXT NOT NULL,
			status              TEXT NOT NULL,
			direction           TEXT NOT NULL,
			request_id          INTEGER NOT NULL,
			memo                TEXT,
			inbound_topic_id    TEXT,
			close_reason        TEXT,
			created_at          TEXT NOT NULL,
			last_activity       TEXT NOT NULL,

			CHECK (status IN ('pending', 'needs_confirmation', 'established', 'closed')),
			CHECK (direction IN ('inbound', 'outbound'))
		);

		CREATE INDEX IF NOT EXISTS idx_connections_target ON connections(target_account_id);
		CREATE INDEX IF NOT EXISTS idx_connections_status ON connections(status);

		CREATE TABLE IF NOT EXISTS connection_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			request_key TEXT NOT NULL,
			status      TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			FOREIGN KEY (request_key) REFERENCES connections(request_key)
		);

		CREATE INDEX IF NOT EXISTS idx_connection_history_key ON connection_history(request_key, id);

		CREATE TABLE IF NOT EXISTS emitted_events (
			event_id    TEXT PRIMARY KEY,
			topic       TEXT NOT NULL,
			sequence    INTEGER NOT NULL,
			type        TEXT NOT NULL,
			sender      TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			payload     TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_emitted_topic ON emitted_events(topic, sequence);
		CREATE INDEX IF NOT EXISTS idx_emitted_type ON emitted_events(type, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies idempotent column additions for older databases.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "connections",
			column: "close_reason",
			apply:  `ALTER TABLE connections ADD COLUMN close_reason TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
