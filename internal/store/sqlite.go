package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on records(collection, category)
const currentSchemaVersion = 1

var (
	_ strategy.Strategy = (*SQLite)(nil)
	_ strategy.Updater  = (*SQLite)(nil)
	_ strategy.Clearer  = (*SQLite)(nil)
)

// SQLite is the durable local strategy.
// Uses SQLite with WAL mode for concurrent read access.
type SQLite struct {
	db  *sql.DB
	ids record.IDGenerator
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db, ids: record.UUIDv7Generator{}}, nil
}

// OpenDSN opens a SQLite strategy from a "sqlite://" DSN.
//
//	sqlite:///var/lib/flocksync/data.db   absolute path
//	sqlite://data.db                      relative path
//	sqlite://:memory:                     private in-memory database
func OpenDSN(dsn string) (strategy.Strategy, error) {
	path, err := dsnPath(dsn, "sqlite")
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Name() string { return "sqlite" }

// List returns the collection's records in first-saved order.
// Returns an empty slice (not nil) when the collection has no records.
func (s *SQLite) List(ctx context.Context, collection string) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM records
		WHERE collection = ?
		ORDER BY position ASC, id COLLATE BINARY ASC
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	recs := []record.Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("list %s: scan: %w", collection, err)
		}
		var rec record.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: iterate: %w", collection, err)
	}
	return recs, nil
}

// Save upserts rec. New ids are appended after the collection's last position;
// existing ids keep theirs.
func (s *SQLite) Save(ctx context.Context, collection string, rec record.Record) (record.Record, error) {
	if strings.TrimSpace(collection) == "" {
		return record.Record{}, strategy.ErrInvalidInput
	}
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = s.ids.Generate()
	}
	if err := s.upsert(ctx, s.db, collection, rec); err != nil {
		return record.Record{}, fmt.Errorf("save %s/%s: %w", collection, rec.ID, err)
	}
	return rec, nil
}

// Update applies patch to an existing record inside a transaction.
// Returns strategy.ErrNotFound when id is unknown.
func (s *SQLite) Update(ctx context.Context, collection, id string, patch record.Patch) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("update %s/%s: begin tx: %w", collection, id, err)
	}
	defer tx.Rollback() // No-op if committed

	var payload string
	err = tx.QueryRowContext(ctx, `
		SELECT payload FROM records WHERE collection = ? AND id = ?
	`, collection, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("update %s/%s: %w", collection, id, strategy.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("update %s/%s: select: %w", collection, id, err)
	}

	var existing record.Record
	if err := json.Unmarshal([]byte(payload), &existing); err != nil {
		return false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := s.upsert(ctx, tx, collection, existing.Apply(patch)); err != nil {
		return false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("update %s/%s: commit: %w", collection, id, err)
	}
	return true, nil
}

// Delete removes the record. Deleting an unknown id succeeds.
func (s *SQLite) Delete(ctx context.Context, collection, id string) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE collection = ? AND id = ?
	`, collection, id)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// Clear removes every record of the collection.
func (s *SQLite) Clear(ctx context.Context, collection string) (bool, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return false, fmt.Errorf("clear %s: %w", collection, err)
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) upsert(ctx context.Context, ex execer, collection string, rec record.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var lastUpdated int64
	if !rec.LastUpdated.IsZero() {
		lastUpdated = rec.LastUpdated.UnixMilli()
	}

	// ON CONFLICT keeps the original position so re-saves never reorder.
	_, err = ex.ExecContext(ctx, `
		INSERT INTO records
		(collection, id, category, payload, last_updated, is_custom, position)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM records WHERE collection = ?))
		ON CONFLICT(collection, id) DO UPDATE SET
			category = excluded.category,
			payload = excluded.payload,
			last_updated = excluded.last_updated,
			is_custom = excluded.is_custom
	`,
		collection,
		rec.ID,
		rec.Category,
		string(payload),
		lastUpdated,
		rec.IsCustom,
		collection,
	)
	return err
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the category lookup index used by per-category listings.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_records_category
		ON records(collection, category)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// dsnPath extracts the filesystem path from scheme://path DSNs.
func dsnPath(dsn, scheme string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	prefix := scheme + "://"
	if !strings.HasPrefix(strings.ToLower(dsn), prefix) {
		return "", fmt.Errorf("%w: expected %s dsn, got %q", strategy.ErrInvalidInput, scheme, dsn)
	}
	raw := dsn[len(prefix):]
	if raw == "" {
		return "", fmt.Errorf("%w: %s dsn has no path", strategy.ErrInvalidInput, scheme)
	}
	if raw == ":memory:" {
		return raw, nil
	}
	path, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s dsn path: %v", strategy.ErrInvalidInput, scheme, err)
	}
	return path, nil
}
