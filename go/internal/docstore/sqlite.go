package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/mcdev12/tavern/go/internal/sqlutil"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite persists documents in a single-file database. Subscriptions are served in-process,
// so only writers sharing this Store observe each other's changes.
type SQLite struct {
	db    *sql.DB
	hub   *hub
	clock clockwork.Clock

	// held from transaction start to publish so subscribers see commits in order
	writeMu sync.Mutex
}

type sqliteQueries struct {
	tx *sql.Tx
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLite, error) {
	return OpenSQLiteWithClock(path, clockwork.NewRealClock())
}

func OpenSQLiteWithClock(path string, clock clockwork.Clock) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}

	return &SQLite{db: db, hub: newHub(), clock: clock}, nil
}

func (s *SQLite) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := validatePath(path); err != nil {
		return Snapshot{}, err
	}
	snap, err := s.read(ctx, s.db.QueryRowContext, path)
	if err != nil {
		return Snapshot{Path: path}, err
	}
	return snap, nil
}

func (s *SQLite) Set(ctx context.Context, path string, doc Document) error {
	return s.write(ctx, path, doc, false)
}

func (s *SQLite) Merge(ctx context.Context, path string, doc Document) error {
	return s.write(ctx, path, doc, true)
}

func (s *SQLite) write(ctx context.Context, path string, doc Document, merge bool) error {
	if err := validatePath(path); err != nil {
		return err
	}
	incoming, err := normalize(doc)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var written Snapshot
	err = sqlutil.Run(ctx, s.db,
		func(tx *sql.Tx) *sqliteQueries { return &sqliteQueries{tx: tx} },
		func(q *sqliteQueries) error {
			next := incoming
			if merge {
				current, err := s.read(ctx, q.tx.QueryRowContext, path)
				switch {
				case err == nil:
					next = MergeInto(current.Data, incoming)
				case !errors.Is(err, ErrNotFound):
					return err
				}
			}

			raw, err := marshalDocument(next)
			if err != nil {
				return fmt.Errorf("marshal document: %w", err)
			}
			now := s.clock.Now().UTC()
			if _, err := q.tx.ExecContext(ctx,
				`INSERT INTO documents (path, data, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
				path, string(raw), now.UnixMilli(),
			); err != nil {
				return fmt.Errorf("upsert document %s: %w", path, err)
			}
			written = Snapshot{Path: path, Exists: true, Data: next, UpdatedAt: now.Truncate(time.Millisecond)}
			return nil
		},
	)
	if err != nil {
		return err
	}

	s.hub.publish(written)
	return nil
}

func (s *SQLite) read(
	ctx context.Context,
	queryRow func(context.Context, string, ...any) *sql.Row,
	path string,
) (Snapshot, error) {
	var raw string
	var updatedAt int64
	err := queryRow(ctx, `SELECT data, updated_at FROM documents WHERE path = ?`, path).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{Path: path}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read document %s: %w", path, err)
	}
	doc, err := unmarshalDocument([]byte(raw))
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode document %s: %w", path, err)
	}
	return Snapshot{
		Path:      path,
		Exists:    true,
		Data:      doc,
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, nil
}

func (s *SQLite) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (CancelFunc, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	w := s.hub.add(path, fn)

	snap, err := s.Get(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.hub.remove(w)
		return nil, err
	}
	w.pushInitial(snap)

	return func() { s.hub.remove(w) }, nil
}

func (s *SQLite) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}
