package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/FranksOps/serpent/internal/config"
	"github.com/FranksOps/serpent/internal/storage"
	"github.com/FranksOps/serpent/internal/storage/csvbackend"
	"github.com/FranksOps/serpent/internal/storage/jsonbackend"
	"github.com/FranksOps/serpent/internal/storage/postgres"
	"github.com/FranksOps/serpent/internal/storage/sqlite"
)

// openStore opens the configured backend. It returns nil when storage is
// disabled.
func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Backend, error) {
	dsn := cfg.DSN
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "sqlite":
		if dsn == "" {
			dsn = "serpent.db"
		}
		return sqlite.New(dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("store: postgres requires a dsn")
		}
		return postgres.New(ctx, dsn)
	case "json":
		if dsn == "" {
			dsn = "serpent.ndjson"
		}
		return jsonbackend.New(dsn)
	case "csv":
		if dsn == "" {
			dsn = "serpent.csv"
		}
		return csvbackend.New(dsn)
	}
	return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
}
