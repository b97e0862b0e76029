package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/tavern/go/internal/config"
	"github.com/mcdev12/tavern/go/internal/docstore"
	"github.com/mcdev12/tavern/go/internal/sheets"
)

// Sheet mirrors the JSON seed file
type Sheet struct {
	ID    string            `json:"id"`
	Sheet docstore.Document `json:"sheet"`
}

func main() {
	path := flag.String("file", "go/internal/assets/sheets.json", "JSON file with [{id, sheet}] entries")
	overwrite := flag.Bool("overwrite", false, "replace sheets that already exist")
	flag.Parse()

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var entries []Sheet
	if err := json.Unmarshal(data, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Open the configured store
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()
	repo := sheets.NewRepository(store)

	// 3) Write and count
	var (
		total   = len(entries)
		written int
		skipped int
		errs    int
	)

	for _, e := range entries {
		if !*overwrite {
			exists, err := repo.Exists(ctx, e.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error checking sheet %s: %v\n", e.ID, err)
				errs++
				continue
			}
			if exists {
				skipped++
				continue
			}
		}
		if err := repo.Put(ctx, e.ID, e.Sheet); err != nil {
			fmt.Fprintf(os.Stderr, "error writing sheet %s: %v\n", e.ID, err)
			errs++
			continue
		}
		written++
	}

	// 4) Print summary
	fmt.Printf(
		"Sheets seed complete: %d total, %d written, %d skipped, %d errors\n",
		total, written, skipped, errs,
	)
}

func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		store, err := docstore.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect: %w", err)
		}
		pgCfg := docstore.DefaultPostgresConfig()
		pgCfg.DSN = cfg.Database.DSN()
		store, err := docstore.NewPostgres(pool, pgCfg)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			pool.Close()
			return nil, nil, err
		}
		return store, func() { store.Close(); pool.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("store backend %q does not persist, set STORE_BACKEND", cfg.Store.Backend)
	}
}
