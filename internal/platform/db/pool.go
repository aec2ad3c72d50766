package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens and pings a pgx pool. Connections default to read-only
// transactions; the engine never writes to the CDM.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	cfg.ConnConfig.RuntimeParams["application_name"] = "cdm-feasibility"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Connection bundles an executor with its resources.
type Connection struct {
	Executor Executor
	// Pool is set for postgresql connections and backs the health endpoint.
	Pool  *pgxpool.Pool
	close func()
}

// Close releases the connection.
func (c *Connection) Close() {
	if c.close != nil {
		c.close()
	}
}

// Open connects to the CDM database for the given dialect. For sqlite the URL
// is a file path, optionally prefixed with "sqlite://".
func Open(ctx context.Context, dialect Dialect, databaseURL string, maxConns, minConns int32) (*Connection, error) {
	switch dialect {
	case Postgres:
		pool, err := NewPool(ctx, databaseURL, maxConns, minConns)
		if err != nil {
			return nil, err
		}
		return &Connection{Executor: NewPoolExecutor(pool), Pool: pool, close: pool.Close}, nil
	case SQLite:
		exec, err := OpenSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return &Connection{Executor: exec, close: func() { _ = exec.Close() }}, nil
	}
	return nil, fmt.Errorf("unsupported dialect %q", dialect)
}
