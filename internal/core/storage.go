package core

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"graphsync/internal/infra/persistence/memory"
	"graphsync/internal/infra/persistence/postgres"
	"graphsync/internal/infra/persistence/sqldb"
	"graphsync/internal/infra/persistence/sqlite"
	"graphsync/internal/metadata"
	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

// StorageDriver identifies a concrete data node implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures the data node.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	// ApplyDDL creates the mapped tables on open.
	ApplyDDL bool `yaml:"apply_ddl"`
}

// StorageConfigFromEnv reads the storage settings from the environment.
// Defaults to sqlite when unset.
//
//	GRAPHSYNC_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	GRAPHSYNC_SQLITE_PATH: path to sqlite file (default graphsync.db)
//	GRAPHSYNC_POSTGRES_DSN: postgres DSN when driver=postgres
//	GRAPHSYNC_APPLY_DDL: create mapped tables on open (default false)
func StorageConfigFromEnv() StorageConfig {
	cfg := StorageConfig{
		Driver:      StorageDriver(os.Getenv("GRAPHSYNC_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("GRAPHSYNC_SQLITE_PATH"),
		PostgresDSN: os.Getenv("GRAPHSYNC_POSTGRES_DSN"),
	}
	if v, err := strconv.ParseBool(os.Getenv("GRAPHSYNC_APPLY_DDL")); err == nil {
		cfg.ApplyDDL = v
	}
	return cfg
}

// OpenDataNode opens the data node described by cfg for the entities of
// resolver.
func OpenDataNode(ctx context.Context, resolver *metadata.Resolver, cfg StorageConfig, log *zap.Logger, metrics observability.MetricsRecorder) (domain.DataNode, error) {
	if log == nil {
		log = zap.NewNop()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	var node *sqldb.Node
	var err error
	switch driver {
	case StorageMemory:
		return memory.New("memory", memory.WithSchema(resolver), memory.WithLogger(log), memory.WithMetrics(metrics)), nil
	case StorageSQLite:
		node, err = sqlite.Open(ctx, cfg.SQLitePath, sqldb.WithLogger(log), sqldb.WithMetrics(metrics))
	case StoragePostgres:
		if cfg.PostgresDSN == "" {
			return nil, domain.ErrProgrammer.New("postgres storage needs a DSN")
		}
		node, err = postgres.Open(ctx, cfg.PostgresDSN, sqldb.WithLogger(log), sqldb.WithMetrics(metrics))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.ApplyDDL {
		if err := node.ApplyDDL(ctx, resolver); err != nil {
			_ = node.Close()
			return nil, err
		}
	}
	log.Info("data node opened", zap.String("driver", string(driver)), zap.String("node", node.Name()))
	return node, nil
}
