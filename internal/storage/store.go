package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vesrates/internal/config"
)

const (
	defaultMaxConns = 8
	defaultMinConns = 2
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
// Statements always travel over the simple protocol with statement and
// description caches disabled, so no server-side prepared statement is
// ever created.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := poolConfigFor(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

func poolConfigFor(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	poolConfig.MaxConns = defaultMaxConns
	poolConfig.MinConns = defaultMinConns
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if poolConfig.MinConns > poolConfig.MaxConns {
		poolConfig.MinConns = poolConfig.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	conn := poolConfig.ConnConfig
	conn.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	conn.StatementCacheCapacity = 0
	conn.DescriptionCacheCapacity = 0
	if cfg.StatementTimeout > 0 {
		if conn.RuntimeParams == nil {
			conn.RuntimeParams = map[string]string{}
		}
		conn.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	return poolConfig, nil
}
