package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/productlens/internal/config"
)

const (
	sqliteScheme = "sqlite://"
	memoryScheme = "memory://"
)

func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations applies every pending migration in dir to the Postgres
// database at databaseURL.
func RunMigrations(databaseURL, dir string) error {
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Open selects a Store backend from the DATABASE_URL scheme:
// sqlite:// uses GormStore, memory:// uses MemoryStore, anything else is
// treated as Postgres and migrated from migrationsDir before use.
func Open(ctx context.Context, cfg config.DatabaseConfig, migrationsDir string) (Store, error) {
	switch {
	case strings.HasPrefix(cfg.URL, memoryScheme):
		return NewMemoryStore(), nil
	case strings.HasPrefix(cfg.URL, sqliteScheme):
		s, err := OpenSQLite(strings.TrimPrefix(cfg.URL, sqliteScheme))
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := RunMigrations(cfg.URL, migrationsDir); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewPostgresStore(pool), nil
}
