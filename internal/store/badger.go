package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
)

var (
	_ strategy.Strategy = (*Badger)(nil)
	_ strategy.Updater  = (*Badger)(nil)
	_ strategy.Clearer  = (*Badger)(nil)
)

// BadgerConfig configures a Badger-backed local strategy.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// Badger is an embedded key-value local strategy.
//
// Key layout:
//
//	rec/<collection>\x00<id>   -> badgerEntry JSON
//	seq/position               -> badger.Sequence lease
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
	ids record.IDGenerator
}

type badgerEntry struct {
	Position uint64        `json:"position"`
	Record   record.Record `json:"record"`
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// OpenBadger opens (or creates) a Badger database.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	seq, err := db.GetSequence([]byte("seq/position"), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open position sequence: %w", err)
	}

	return &Badger{db: db, seq: seq, ids: record.UUIDv7Generator{}}, nil
}

// OpenBadgerDSN opens a Badger strategy from a "badger://" DSN.
// "badger://:memory:" opens an in-memory database.
func OpenBadgerDSN(dsn string) (strategy.Strategy, error) {
	path, err := dsnPath(dsn, "badger")
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		return OpenBadger(BadgerConfig{InMemory: true})
	}
	return OpenBadger(BadgerConfig{Path: path, SyncWrites: true})
}

func (b *Badger) Name() string { return "badger" }

// Close releases the sequence lease and closes the database.
func (b *Badger) Close() error {
	var errs []error
	if b.seq != nil {
		if err := b.seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence: %w", err))
		}
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close badger: %w", err))
	}
	return errors.Join(errs...)
}

func collectionPrefix(collection string) []byte {
	return []byte("rec/" + collection + "\x00")
}

func recordKey(collection, id string) []byte {
	return append(collectionPrefix(collection), id...)
}

// List returns the collection's records in first-saved order.
func (b *Badger) List(ctx context.Context, collection string) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []badgerEntry
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := collectionPrefix(collection)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e badgerEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Position != entries[j].Position {
			return entries[i].Position < entries[j].Position
		}
		return entries[i].Record.ID < entries[j].Record.ID
	})

	recs := make([]record.Record, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, e.Record)
	}
	return recs, nil
}

// Save upserts rec, keeping the original position of an existing id.
func (b *Badger) Save(ctx context.Context, collection string, rec record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	if strings.TrimSpace(collection) == "" {
		return record.Record{}, strategy.ErrInvalidInput
	}
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = b.ids.Generate()
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		key := recordKey(collection, rec.ID)
		entry, found, err := getEntry(txn, key)
		if err != nil {
			return err
		}
		if !found {
			pos, err := b.seq.Next()
			if err != nil {
				return fmt.Errorf("next position: %w", err)
			}
			entry.Position = pos
		}
		entry.Record = rec
		return putEntry(txn, key, entry)
	})
	if err != nil {
		return record.Record{}, fmt.Errorf("save %s/%s: %w", collection, rec.ID, err)
	}
	return rec, nil
}

// Update merges patch into an existing record.
// Returns strategy.ErrNotFound when id is unknown.
func (b *Badger) Update(ctx context.Context, collection, id string, patch record.Patch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		key := recordKey(collection, id)
		entry, found, err := getEntry(txn, key)
		if err != nil {
			return err
		}
		if !found {
			return strategy.ErrNotFound
		}
		entry.Record = entry.Record.Apply(patch)
		return putEntry(txn, key, entry)
	})
	if err != nil {
		return false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// Delete removes the record. Deleting an unknown id succeeds.
func (b *Badger) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(collection, id))
	})
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// Clear drops every record of the collection.
func (b *Badger) Clear(ctx context.Context, collection string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := b.db.DropPrefix(collectionPrefix(collection)); err != nil {
		return false, fmt.Errorf("clear %s: %w", collection, err)
	}
	return true, nil
}

func getEntry(txn *badger.Txn, key []byte) (badgerEntry, bool, error) {
	var e badgerEntry
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	return e, err == nil, err
}

func putEntry(txn *badger.Txn, key []byte, e badgerEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return txn.Set(key, data)
}
