package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
)

const (
	defaultTableName   = "flocksync_records"
	defaultOpTimeout   = 5 * time.Second
	postgresDriverName = "postgres"
)

var (
	_ strategy.Strategy = (*Postgres)(nil)
	_ strategy.Updater  = (*Postgres)(nil)
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Option configures a Postgres strategy.
type Option func(*Postgres)

// WithTable overrides the records table name.
func WithTable(name string) Option {
	return func(p *Postgres) {
		if strings.TrimSpace(name) != "" {
			p.tableName = name
		}
	}
}

// WithOperationTimeout overrides the per-operation timeout.
func WithOperationTimeout(d time.Duration) Option {
	return func(p *Postgres) {
		if d > 0 {
			p.opTimeout = d
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(ids record.IDGenerator) Option {
	return func(p *Postgres) {
		if ids != nil {
			p.ids = ids
		}
	}
}

// Postgres is the remote strategy.
//
// Thread-safety: All methods are safe for concurrent use.
type Postgres struct {
	dsn       string
	tableName string
	opTimeout time.Duration
	ids       record.IDGenerator
	openDB    sqlOpenFunc

	mu sync.Mutex
	db *sql.DB
}

// NewPostgres returns a Postgres strategy for dsn. No connection is made
// until the first operation.
func NewPostgres(dsn string, opts ...Option) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, strategy.ErrInvalidInput
	}
	p := &Postgres{
		dsn:       dsn,
		tableName: defaultTableName,
		opTimeout: defaultOpTimeout,
		ids:       record.UUIDv7Generator{},
		openDB:    sql.Open,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// OpenDSN is the registry factory for postgres:// and postgresql:// DSNs.
func OpenDSN(dsn string) (strategy.Strategy, error) {
	return NewPostgres(dsn)
}

func (p *Postgres) Name() string { return "postgres" }

// Close closes the connection pool if one was opened.
func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// ensureReady opens the pool and creates the table. Failures are not
// cached; the next call tries again.
func (p *Postgres) ensureReady(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}

	db, err := p.openDB(postgresDriverName, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			seq BIGSERIAL,
			payload TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)`, quoteIdentifier(p.tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		_ = db.Close()
		return nil, classify(fmt.Errorf("create table: %w", err))
	}
	p.db = db
	slog.Debug("remote store ready", "table", p.tableName)
	return db, nil
}

// List returns the collection's records in first-saved order.
func (p *Postgres) List(ctx context.Context, collection string) ([]record.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	db, err := p.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT payload FROM %s
		WHERE collection = $1
		ORDER BY seq ASC, id ASC`, quoteIdentifier(p.tableName))
	rows, err := db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, classify(fmt.Errorf("list %s: %w", collection, err))
	}
	defer rows.Close()

	recs := []record.Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, classify(fmt.Errorf("list %s: scan: %w", collection, err))
		}
		var rec record.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("list %s: %w", collection, err))
	}
	return recs, nil
}

// Save upserts rec; an existing id keeps its position.
func (p *Postgres) Save(ctx context.Context, collection string, rec record.Record) (record.Record, error) {
	if strings.TrimSpace(collection) == "" {
		return record.Record{}, strategy.ErrInvalidInput
	}
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = p.ids.Generate()
	}

	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	db, err := p.ensureReady(ctx)
	if err != nil {
		return record.Record{}, err
	}
	if err := p.upsert(ctx, db, collection, rec); err != nil {
		return record.Record{}, classify(fmt.Errorf("save %s/%s: %w", collection, rec.ID, err))
	}
	return rec, nil
}

// Update merges patch into an existing row under SELECT ... FOR UPDATE.
func (p *Postgres) Update(ctx context.Context, collection, id string, patch record.Patch) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	db, err := p.ensureReady(ctx)
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify(fmt.Errorf("update %s/%s: begin tx: %w", collection, id, err))
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`SELECT payload FROM %s WHERE collection = $1 AND id = $2 FOR UPDATE`, quoteIdentifier(p.tableName))
	var payload string
	err = tx.QueryRowContext(ctx, query, collection, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("update %s/%s: %w", collection, id, strategy.ErrNotFound)
	}
	if err != nil {
		return false, classify(fmt.Errorf("update %s/%s: %w", collection, id, err))
	}

	var existing record.Record
	if err := json.Unmarshal([]byte(payload), &existing); err != nil {
		return false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := p.upsert(ctx, tx, collection, existing.Apply(patch)); err != nil {
		return false, classify(fmt.Errorf("update %s/%s: %w", collection, id, err))
	}
	if err := tx.Commit(); err != nil {
		return false, classify(fmt.Errorf("update %s/%s: commit: %w", collection, id, err))
	}
	return true, nil
}

// Delete removes the row. Deleting an unknown id succeeds.
func (p *Postgres) Delete(ctx context.Context, collection, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	db, err := p.ensureReady(ctx)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND id = $2`, quoteIdentifier(p.tableName))
	if _, err := db.ExecContext(ctx, query, collection, id); err != nil {
		return false, classify(fmt.Errorf("delete %s/%s: %w", collection, id, err))
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Postgres) upsert(ctx context.Context, ex execer, collection string, rec record.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (collection, id, payload, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`, quoteIdentifier(p.tableName))
	_, err = ex.ExecContext(ctx, query, collection, rec.ID, string(payload))
	return err
}

// classify wraps connectivity failures with strategy.ErrUnavailable.
func classify(err error) error {
	if err == nil || !isConnectivityError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", strategy.ErrUnavailable, err)
}

func isConnectivityError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "57": // connection_exception, operator_intervention
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func init() {
	strategy.Register("postgres", OpenDSN)
	strategy.Register("postgresql", OpenDSN)
}
