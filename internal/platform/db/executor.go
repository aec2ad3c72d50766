package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cdm/feasibility/internal/table"
)

// Executor runs a query and returns its rows as a table. It is the only
// piece that talks to the database.
type Executor interface {
	Dialect() Dialect
	Query(ctx context.Context, sql string, args ...interface{}) (*table.Table, error)
}

// PoolExecutor runs queries on a pgx connection pool.
type PoolExecutor struct {
	pool *pgxpool.Pool
}

// NewPoolExecutor wraps a pool.
func NewPoolExecutor(pool *pgxpool.Pool) *PoolExecutor {
	return &PoolExecutor{pool: pool}
}

func (e *PoolExecutor) Dialect() Dialect { return Postgres }

// Query executes sql and converts each row using the field descriptions.
func (e *PoolExecutor) Query(ctx context.Context, sql string, args ...interface{}) (*table.Table, error) {
	rows, err := e.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	cols := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		cols[i] = strings.ToLower(fd.Name)
	}
	out := table.New(cols...)

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i := range values {
			values[i] = table.Normalize(values[i])
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return out, nil
}
