package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		path       TEXT PRIMARY KEY,
		data       JSONB NOT NULL DEFAULT '{}'::jsonb,
		version    BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE documents ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1`,
}

type PostgresConfig struct {
	DSN              string        // Postgres DSN, used by both the pool and LISTEN
	NotifyChannel    string        // Channel written documents are announced on
	PingInterval     time.Duration // How often to ping the LISTEN connection
	FallbackInterval time.Duration // How often watched paths are re-read in case a notification was missed
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		NotifyChannel:    "tavern_documents",
		PingInterval:     90 * time.Second,
		FallbackInterval: 30 * time.Second,
	}
}

// Postgres stores documents as JSONB rows. Every committed write is announced with
// pg_notify, so subscribers on any process sharing the database see it once Start runs.
type Postgres struct {
	pool     *pgxpool.Pool
	listener *pq.Listener
	hub      *hub
	cfg      PostgresConfig

	gate *versionGate
}

// NewPostgres wraps pool and opens a LISTEN connection on cfg.NotifyChannel.
func NewPostgres(pool *pgxpool.Pool, cfg PostgresConfig) (*Postgres, error) {
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = DefaultPostgresConfig().NotifyChannel
	}
	l := pq.NewListener(
		cfg.DSN,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Int("event", int(ev)).Msg("document listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for document notifications")

	return &Postgres{
		pool:     pool,
		listener: l,
		hub:      newHub(),
		cfg:      cfg,
		gate:     newVersionGate(),
	}, nil
}

// EnsureSchema creates the documents table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create documents table: %w", err)
		}
	}
	return nil
}

// Start drains notifications until ctx is done.
func (p *Postgres) Start(ctx context.Context) error {
	log.Info().
		Str("channel", p.cfg.NotifyChannel).
		Dur("ping_interval", p.cfg.PingInterval).
		Dur("fallback_interval", p.cfg.FallbackInterval).
		Msg("document listener started")

	pingTicker := time.NewTicker(p.cfg.PingInterval)
	fallbackTicker := time.NewTicker(p.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("document listener shutting down")
			return nil
		case note := <-p.listener.Notify:
			if note == nil {
				// connection was re-established; anything may have changed meanwhile
				p.refreshWatched(ctx)
				continue
			}
			if err := p.refresh(ctx, note.Extra); err != nil {
				log.Error().Err(err).Str("path", note.Extra).Msg("failed to handle document notification")
			}
		case <-fallbackTicker.C:
			p.refreshWatched(ctx)
		case <-pingTicker.C:
			if err := p.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping document listener")
			}
		}
	}
}

func (p *Postgres) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := validatePath(path); err != nil {
		return Snapshot{}, err
	}
	snap, _, err := p.read(ctx, p.pool, path)
	return snap, err
}

func (p *Postgres) Set(ctx context.Context, path string, doc Document) error {
	return p.write(ctx, path, doc, false)
}

func (p *Postgres) Merge(ctx context.Context, path string, doc Document) error {
	return p.write(ctx, path, doc, true)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// read returns the document and its row version.
func (p *Postgres) read(ctx context.Context, q rowQuerier, path string) (Snapshot, int64, error) {
	var raw []byte
	var version int64
	var updatedAt time.Time
	err := q.QueryRow(ctx,
		`SELECT data, version, updated_at FROM documents WHERE path = $1`, path,
	).Scan(&raw, &version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{Path: path}, 0, ErrNotFound
	}
	if err != nil {
		return Snapshot{Path: path}, 0, fmt.Errorf("read document %s: %w", path, err)
	}
	doc, err := unmarshalDocument(raw)
	if err != nil {
		return Snapshot{Path: path}, 0, fmt.Errorf("decode document %s: %w", path, err)
	}
	return Snapshot{Path: path, Exists: true, Data: doc, UpdatedAt: updatedAt.UTC()}, version, nil
}

func (p *Postgres) write(ctx context.Context, path string, doc Document, merge bool) error {
	if err := validatePath(path); err != nil {
		return err
	}
	incoming, err := normalize(doc)
	if err != nil {
		return err
	}

	var written Snapshot
	var version int64
	err = pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// serializes writers of one path, including the first write that creates the row
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, path); err != nil {
			return fmt.Errorf("lock document %s: %w", path, err)
		}

		next := incoming
		if merge {
			current, _, err := p.read(ctx, tx, path)
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
		// now() is the transaction start, which can predate the lock wait
		var updatedAt time.Time
		err = tx.QueryRow(ctx,
			`INSERT INTO documents (path, data, version, updated_at) VALUES ($1, $2::jsonb, 1, clock_timestamp())
			 ON CONFLICT (path) DO UPDATE SET
				data = excluded.data,
				version = documents.version + 1,
				updated_at = excluded.updated_at
			 RETURNING version, updated_at`,
			path, string(raw),
		).Scan(&version, &updatedAt)
		if err != nil {
			return fmt.Errorf("upsert document %s: %w", path, err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, p.cfg.NotifyChannel, path); err != nil {
			return fmt.Errorf("notify document %s: %w", path, err)
		}
		written = Snapshot{Path: path, Exists: true, Data: next, UpdatedAt: updatedAt.UTC()}
		return nil
	})
	if err != nil {
		return err
	}

	p.publishIfNewer(written, version)
	return nil
}

func (p *Postgres) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (CancelFunc, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	w := p.hub.add(path, fn)

	snap, err := p.Get(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		p.hub.remove(w)
		return nil, err
	}
	w.pushInitial(snap)

	return func() { p.hub.remove(w) }, nil
}

// Close stops the listener and every subscription. The pool belongs to the caller.
func (p *Postgres) Close() error {
	p.hub.closeAll()
	return p.listener.Close()
}

func (p *Postgres) refresh(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	snap, version, err := p.read(ctx, p.pool, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if snap.Exists {
		p.publishIfNewer(snap, version)
	}
	return nil
}

func (p *Postgres) refreshWatched(ctx context.Context) {
	for _, path := range p.hub.paths() {
		if err := p.refresh(ctx, path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to refresh watched document")
		}
	}
}

// publishIfNewer drops snapshots whose row version was already fanned out for the path,
// which happens when a local write and its own notification both arrive.
func (p *Postgres) publishIfNewer(snap Snapshot, version int64) {
	if !p.gate.advance(snap.Path, version) {
		return
	}
	p.hub.publish(snap)
}

// versionGate remembers the highest row version seen per path.
type versionGate struct {
	mu   sync.Mutex
	seen map[string]int64
}

func newVersionGate() *versionGate {
	return &versionGate{seen: make(map[string]int64)}
}

// advance reports whether version is newer than anything seen for path and records it.
func (g *versionGate) advance(path string, version int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if version <= g.seen[path] {
		return false
	}
	g.seen[path] = version
	return true
}
