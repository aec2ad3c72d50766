package db

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cdm/feasibility/internal/table"
)

// GormExecutor runs queries against a SQLite CDM file (e.g. an Eunomia
// extract) through gorm's raw SQL interface.
type GormExecutor struct {
	db *gorm.DB
}

// OpenSQLite opens the database file at path.
func OpenSQLite(path string) (*GormExecutor, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &GormExecutor{db: gdb}, nil
}

// NewGormExecutor wraps an existing gorm handle.
func NewGormExecutor(gdb *gorm.DB) *GormExecutor {
	return &GormExecutor{db: gdb}
}

func (e *GormExecutor) Dialect() Dialect { return SQLite }

// Query executes sql and scans every column into a normalized cell.
func (e *GormExecutor) Query(ctx context.Context, sql string, args ...interface{}) (*table.Table, error) {
	rows, err := e.db.WithContext(ctx).Raw(sql, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	for i := range cols {
		cols[i] = strings.ToLower(cols[i])
	}
	out := table.New(cols...)

	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
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

// Close releases the underlying connection.
func (e *GormExecutor) Close() error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
