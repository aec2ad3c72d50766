package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/cdm/feasibility/internal/table"
)

func TestExtractSchema_FromHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SchemaHeader, "cdm_synpuf")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	s := extractSchema(c, "main")
	if s != "cdm_synpuf" {
		t.Errorf("expected cdm_synpuf, got %s", s)
	}
}

func TestExtractSchema_FromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?schema=cdm54", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	s := extractSchema(c, "main")
	if s != "cdm54" {
		t.Errorf("expected cdm54, got %s", s)
	}
}

func TestExtractSchema_FromJWT(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_cdm_schema", "jwt_schema")

	s := extractSchema(c, "main")
	if s != "jwt_schema" {
		t.Errorf("expected jwt_schema, got %s", s)
	}
}

func TestExtractSchema_Default(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	s := extractSchema(c, "main")
	if s != "main" {
		t.Errorf("expected main, got %s", s)
	}
}

func TestSchemaMiddleware_RejectsInvalid(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SchemaHeader, "main; DROP TABLE person")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := SchemaMiddleware("main")(func(c echo.Context) error {
		t.Error("handler should not run")
		return nil
	})
	err := h(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSchemaMiddleware_SetsContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?schema=cdm", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := SchemaMiddleware("main")(func(c echo.Context) error {
		if got := SchemaFromContext(c.Request().Context()); got != "cdm" {
			t.Errorf("expected cdm, got %q", got)
		}
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSchemaFromContext_Empty(t *testing.T) {
	if s := SchemaFromContext(context.Background()); s != "" {
		t.Errorf("expected empty schema, got %q", s)
	}
}

type stubExecutor struct {
	dialect Dialect
	sql     string
	args    []interface{}
	result  *table.Table
}

func (s *stubExecutor) Dialect() Dialect { return s.dialect }

func (s *stubExecutor) Query(_ context.Context, sql string, args ...interface{}) (*table.Table, error) {
	s.sql = sql
	s.args = args
	return s.result, nil
}

func TestReflectTables_LowerCases(t *testing.T) {
	res := table.New("table_name")
	res.Append("PERSON")
	res.Append("Condition_Occurrence")
	exec := &stubExecutor{dialect: Postgres, result: res}

	tables, err := ReflectTables(context.Background(), exec, "cdm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tables["person"] || !tables["condition_occurrence"] {
		t.Errorf("expected lower-cased tables, got %v", tables)
	}
	if len(exec.args) != 1 || exec.args[0] != "cdm" {
		t.Errorf("expected schema bind arg, got %v", exec.args)
	}
}

func TestReflectTables_FoldsPostgresSchema(t *testing.T) {
	exec := &stubExecutor{dialect: Postgres, result: table.New("table_name")}

	if _, err := ReflectTables(context.Background(), exec, "CDM_Synthea"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exec.args) != 1 || exec.args[0] != "cdm_synthea" {
		t.Errorf("expected lower-cased schema bind arg, got %v", exec.args)
	}
}

func TestReflectTables_InvalidSchema(t *testing.T) {
	exec := &stubExecutor{dialect: SQLite, result: table.New("table_name")}
	if _, err := ReflectTables(context.Background(), exec, "bad schema"); err == nil {
		t.Error("expected error for invalid schema identifier")
	}
}

func TestDialect_Placeholders(t *testing.T) {
	if got := Postgres.Placeholders(2, 3); got != "$2, $3, $4" {
		t.Errorf("unexpected postgres placeholders: %s", got)
	}
	if got := SQLite.Placeholders(1, 2); got != "?, ?" {
		t.Errorf("unexpected sqlite placeholders: %s", got)
	}
}

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{"": Postgres, "postgresql": Postgres, "POSTGRES": Postgres, "sqlite": SQLite}
	for in, want := range cases {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Errorf("ParseDialect(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Error("expected error for unsupported dialect")
	}
}
