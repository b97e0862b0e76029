package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	chatdb "github.com/mcdev12/tavern/go/internal/chat/db"
	"github.com/mcdev12/tavern/go/internal/config"
	"github.com/mcdev12/tavern/go/internal/docstore"
	"github.com/mcdev12/tavern/go/internal/relay"
)

// Infra holds the external resources the services are wired to
type Infra struct {
	Store  docstore.Store
	ChatDB *sql.DB    // nil with the memory chat backend
	Bus    relay.Bus
	Listen func(ctx context.Context) error // document notification loop, postgres only

	closers []func() error
}

func setupInfra(ctx context.Context, cfg *config.Config) (*Infra, error) {
	infra := &Infra{}

	if err := infra.openStore(ctx, cfg); err != nil {
		infra.Close()
		return nil, err
	}

	if cfg.Chat.Backend == config.StorePostgres {
		db, err := setupDatabase(ctx, cfg.Database)
		if err != nil {
			infra.Close()
			return nil, err
		}
		if err := chatdb.New(db).EnsureSchema(ctx); err != nil {
			_ = db.Close()
			infra.Close()
			return nil, fmt.Errorf("failed to create chat schema: %w", err)
		}
		infra.ChatDB = db
		infra.closers = append(infra.closers, db.Close)
	}

	if cfg.NATS.URL != "" {
		natsCfg := relay.DefaultNATSBusConfig()
		natsCfg.URL = cfg.NATS.URL
		bus, err := relay.NewNATSBus(natsCfg)
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.Bus = bus
		log.Info().Str("url", natsCfg.URL).Str("prefix", natsCfg.SubjectPrefix).Msg("relay bus on NATS")
	} else {
		infra.Bus = relay.NewLocalBus()
	}
	infra.closers = append(infra.closers, infra.Bus.Close)

	return infra, nil
}

func (i *Infra) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		store, err := docstore.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		i.Store = store
		log.Info().Str("path", cfg.Store.SQLitePath).Msg("document store on sqlite")

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}
		pgCfg := docstore.DefaultPostgresConfig()
		pgCfg.DSN = cfg.Database.DSN()
		store, err := docstore.NewPostgres(pool, pgCfg)
		if err != nil {
			pool.Close()
			return err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			pool.Close()
			return err
		}
		i.closers = append(i.closers, func() error { pool.Close(); return nil })
		i.Store = store
		i.Listen = store.Start
		log.Info().
			Str("host", cfg.Database.Host).
			Str("database", cfg.Database.Database).
			Msg("document store on postgres")

	default:
		i.Store = docstore.NewMemory()
		log.Info().Msg("document store in memory")
	}
	return nil
}

// Close releases everything in reverse order of opening.
func (i *Infra) Close() {
	if i.Store != nil {
		if err := i.Store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close document store")
		}
	}
	for j := len(i.closers) - 1; j >= 0; j-- {
		if err := i.closers[j](); err != nil {
			log.Error().Err(err).Msg("failed to close resource")
		}
	}
}

func setupDatabase(ctx context.Context, dbCfg config.DatabaseConfig) (*sql.DB, error) {
	database, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("user", dbCfg.User).
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")
	return database, nil
}
