package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/adapters/relica"
	"github.com/coregx/wsrm/cmd/wsrm-server/internal/config"
	"github.com/coregx/wsrm/storage"
	"github.com/coregx/wsrm/storage/badger"
)

// openBackend opens the configured storage. The memory driver returns a nil backend,
// leaving the engine on its built-in in-memory store. The returned cleanup closes
// resources the backend does not own.
func openBackend(ctx context.Context, cfg *config.DatabaseConfig, logger wsrm.Logger) (storage.Backend, func(), error) {
	switch {
	case cfg.Driver == config.DriverMemory:
		logger.Info("Using in-memory storage")
		return nil, func() {}, nil

	case cfg.Driver == config.DriverBadger:
		store, err := badger.New(badger.Config{Dir: cfg.Dir, SyncWrites: true})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		logger.Infof("Using badger storage at %s", cfg.Dir)
		return store, func() {}, nil

	case cfg.IsSQL():
		db, err := openDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warnf("Failed to close database: %v", closeErr)
			}
		}
		logger.Infof("Using %s storage (%s:%d, prefix=%q)", cfg.Driver, cfg.Host, cfg.Port, cfg.Prefix)
		return relica.NewBackendWithPrefix(db, cfg.Driver, cfg.Prefix), cleanup, nil
	}
	return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}

func openDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
