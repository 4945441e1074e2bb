// Package archive opens the configured archive backend.
package archive

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/user/replay-service/internal/adapter/postgres"
	"github.com/user/replay-service/internal/adapter/sqlite"
	"github.com/user/replay-service/internal/repository"
	"github.com/user/replay-service/pkg/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Backend hands out per-collection stores over one database connection.
type Backend struct {
	Driver string

	pool *pgxpool.Pool
	db   *sql.DB
}

// Open connects to the database selected by cfg.StoreDriver and ensures
// the archive schema exists.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.StoreDriver {
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("PostgreSQL connection pool established")
		return &Backend{Driver: DriverPostgres, pool: pool}, nil

	case DriverSQLite, "":
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("SQLite database opened", zap.String("path", cfg.SQLitePath))
		return &Backend{Driver: DriverSQLite, db: db}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// Store returns the archive of collection coll.
func (b *Backend) Store(coll string) repository.ArchiveStore {
	if b.pool != nil {
		return postgres.NewArchiveRepo(b.pool, coll)
	}
	return sqlite.NewArchiveRepo(b.db, coll)
}

func (b *Backend) Ping(ctx context.Context) error {
	if b.pool != nil {
		return b.pool.Ping(ctx)
	}
	return b.db.PingContext(ctx)
}

func (b *Backend) Close() error {
	if b.pool != nil {
		b.pool.Close()
		return nil
	}
	return b.db.Close()
}
