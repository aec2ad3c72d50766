package db

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const SchemaKey contextKey = "cdm_schema"

// SchemaHeader lets API callers pick the CDM schema per request.
const SchemaHeader = "X-CDM-Schema"

// SchemaMiddleware resolves the CDM schema for a request and stores it on the
// request context. Invalid identifiers are rejected before any query runs.
func SchemaMiddleware(defaultSchema string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			schema := extractSchema(c, defaultSchema)

			if !ValidIdentifier(schema) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid schema identifier")
			}

			ctx := context.WithValue(c.Request().Context(), SchemaKey, schema)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("cdm_schema", schema)

			return next(c)
		}
	}
}

func extractSchema(c echo.Context, defaultSchema string) string {
	// 1. Check JWT claim (set by auth middleware)
	if s, ok := c.Get("jwt_cdm_schema").(string); ok && s != "" {
		return s
	}

	// 2. Check header
	if s := c.Request().Header.Get(SchemaHeader); s != "" {
		return s
	}

	// 3. Check query parameter
	if s := c.QueryParam("schema"); s != "" {
		return s
	}

	return defaultSchema
}

// SchemaFromContext retrieves the request's CDM schema, or "".
func SchemaFromContext(ctx context.Context) string {
	s, _ := ctx.Value(SchemaKey).(string)
	return s
}

// ReflectTables returns the lower-cased names of the tables present in schema.
func ReflectTables(ctx context.Context, exec Executor, schema string) (map[string]bool, error) {
	if !ValidIdentifier(schema) {
		return nil, fmt.Errorf("invalid schema identifier: %s", schema)
	}

	sql, args := exec.Dialect().TablesQuery(schema)
	t, err := exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("reflect schema %s: %w", schema, err)
	}

	names, err := t.Column("table_name")
	if err != nil {
		return nil, fmt.Errorf("reflect schema %s: %w", schema, err)
	}
	tables := make(map[string]bool, len(names))
	for _, n := range names {
		if s, ok := n.(string); ok {
			tables[strings.ToLower(s)] = true
		}
	}
	return tables, nil
}
