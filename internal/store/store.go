// Package store persists the canonical tree, the id mapping table, the
// user settings and the sync journal in a single SQLite database.
//
// The database runs in embedded mode using WAL for concurrent reads: the
// daemon writes from its reconciliation goroutine while CLI commands read
// status and journal entries from separate processes.
//
// Layout:
//   - Database file: ~/.marksync/marksync.db (configurable)
//   - tree: one row holding the canonical tree as a JSON document
//   - mappings: one row per synced/native id pair
//   - settings: key/value rows for user preferences
//   - journal: one row per completed drain
//
// The canonical tree is deliberately stored as a document rather than
// relational rows: the engine always reads and replaces it whole, and the
// snapshot-and-replace discipline means partial tree updates never happen.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/marksync/marksync/internal/mapping"
	"github.com/marksync/marksync/internal/reconciler"
	"github.com/marksync/marksync/internal/tree"
)

// DefaultSettings are the preferences a fresh profile starts with. Sync is
// on, the toolbar is excluded until the user opts in, and metadata lookups
// stay off because they talk to the network.
var DefaultSettings = reconciler.Settings{
	SyncEnabled:     true,
	SyncToolbar:     false,
	MetadataEnabled: false,
}

// Store wraps the SQLite connection. It implements reconciler.Store.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if necessary) the database at path and prepares the
// schema. The caller must Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tree (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		doc TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mappings (
		synced_id INTEGER PRIMARY KEY,
		native_id TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		events INTEGER NOT NULL,
		applied INTEGER NOT NULL,
		dropped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		sync_error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_journal_started ON journal(started_at);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Tree returns the canonical tree. A database that has never been
// committed to yields a fresh empty tree with the reserved containers.
func (s *Store) Tree(ctx context.Context) (*tree.Tree, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, "SELECT doc FROM tree WHERE id = 1").Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return tree.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	var t tree.Tree
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("failed to decode tree document: %w", err)
	}
	if t.Root == nil {
		return nil, fmt.Errorf("tree document has no root")
	}
	return &t, nil
}

// CommitTree replaces the stored canonical tree.
func (s *Store) CommitTree(ctx context.Context, t *tree.Tree) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode tree: %w", err)
	}
	query := `
	INSERT INTO tree (id, doc, updated_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		doc = excluded.doc,
		updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, string(doc), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to commit tree: %w", err)
	}
	return nil
}

// Mappings returns the id mapping table.
func (s *Store) Mappings(ctx context.Context) (*mapping.Table, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT synced_id, native_id FROM mappings ORDER BY synced_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var records []mapping.Mapping
	for rows.Next() {
		var m mapping.Mapping
		if err := rows.Scan(&m.SyncedID, &m.NativeID); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		records = append(records, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}
	return mapping.Load(records)
}

// CommitMappings replaces the stored mapping table wholesale, in one
// transaction. Called strictly after CommitTree for the same pass.
func (s *Store) CommitMappings(ctx context.Context, tab *mapping.Table) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM mappings"); err != nil {
		return fmt.Errorf("failed to clear mappings: %w", err)
	}
	for _, m := range tab.All() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO mappings (synced_id, native_id) VALUES (?, ?)",
			m.SyncedID, m.NativeID); err != nil {
			return fmt.Errorf("failed to insert mapping %d: %w", m.SyncedID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mappings: %w", err)
	}
	return nil
}

const (
	keySyncEnabled     = "sync_enabled"
	keySyncToolbar     = "sync_toolbar"
	keyMetadataEnabled = "metadata_enabled"
)

// Settings returns the persisted preferences, falling back to
// DefaultSettings for keys that were never written.
func (s *Store) Settings(ctx context.Context) (reconciler.Settings, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return reconciler.Settings{}, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	out := DefaultSettings
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return reconciler.Settings{}, fmt.Errorf("failed to scan setting: %w", err)
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return reconciler.Settings{}, fmt.Errorf("setting %q has non-boolean value %q", key, value)
		}
		switch key {
		case keySyncEnabled:
			out.SyncEnabled = b
		case keySyncToolbar:
			out.SyncToolbar = b
		case keyMetadataEnabled:
			out.MetadataEnabled = b
		}
	}
	if err := rows.Err(); err != nil {
		return reconciler.Settings{}, fmt.Errorf("error iterating settings: %w", err)
	}
	return out, nil
}

// SetSettings persists all preferences.
func (s *Store) SetSettings(ctx context.Context, settings reconciler.Settings) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for key, value := range map[string]bool{
		keySyncEnabled:     settings.SyncEnabled,
		keySyncToolbar:     settings.SyncToolbar,
		keyMetadataEnabled: settings.MetadataEnabled,
	} {
		query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`
		if _, err := tx.ExecContext(ctx, query, key, strconv.FormatBool(value)); err != nil {
			return fmt.Errorf("failed to write setting %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}

// AppendJournal records one completed drain.
func (s *Store) AppendJournal(ctx context.Context, e reconciler.JournalEntry) error {
	query := `
	INSERT INTO journal (started_at, duration_ms, events, applied, dropped, failed, sync_error)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var syncErr sql.NullString
	if e.SyncError != "" {
		syncErr = sql.NullString{String: e.SyncError, Valid: true}
	}
	_, err := s.conn.ExecContext(ctx, query,
		e.StartedAt.UTC().Format(time.RFC3339),
		e.Duration.Milliseconds(),
		e.Events,
		e.Applied,
		e.Dropped,
		e.Failed,
		syncErr,
	)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// JournalFilter configures the Journal query.
type JournalFilter struct {
	// Since restricts results to drains started at or after this time.
	Since time.Time
	// Limit restricts the number of results, newest first (0 = no limit).
	Limit int
	// FailuresOnly keeps entries with failed events or a sync error.
	FailuresOnly bool
}

// Journal returns drain records, newest first.
func (s *Store) Journal(ctx context.Context, filter JournalFilter) ([]reconciler.JournalEntry, error) {
	query := `
	SELECT started_at, duration_ms, events, applied, dropped, failed, sync_error
	FROM journal
	`
	var conditions []string
	var args []interface{}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.FailuresOnly {
		conditions = append(conditions, "(failed > 0 OR sync_error IS NOT NULL)")
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []reconciler.JournalEntry
	for rows.Next() {
		var e reconciler.JournalEntry
		var startedAt string
		var durationMs int64
		var syncErr sql.NullString
		if err := rows.Scan(&startedAt, &durationMs, &e.Events, &e.Applied, &e.Dropped, &e.Failed, &syncErr); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			e.StartedAt = t
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		if syncErr.Valid {
			e.SyncError = syncErr.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal: %w", err)
	}
	return entries, nil
}
