package cdm

import (
	"context"
	"fmt"

	"github.com/cdm/feasibility/internal/platform/db"
	"github.com/cdm/feasibility/internal/table"
)

// maxBindParams keeps IN lists under the SQLite host parameter limit.
const maxBindParams = 500

type sqlRepo struct {
	exec   db.Executor
	schema string
}

// NewSQLRepository binds an executor to a CDM schema.
func NewSQLRepository(exec db.Executor, schema string) (Repository, error) {
	if !db.ValidIdentifier(schema) {
		return nil, InvalidArgument("invalid schema identifier %q", schema)
	}
	return &sqlRepo{exec: exec, schema: schema}, nil
}

// SQLRepositoryFactory returns a factory that binds exec to each schema.
func SQLRepositoryFactory(exec db.Executor) RepositoryFactory {
	return func(schema string) (Repository, error) {
		return NewSQLRepository(exec, schema)
	}
}

func (r *sqlRepo) Schema() string { return r.schema }

func (r *sqlRepo) qualify(t string) string {
	return r.exec.Dialect().Qualify(r.schema, t)
}

func (r *sqlRepo) Tables(ctx context.Context) (map[string]bool, error) {
	return db.ReflectTables(ctx, r.exec, r.schema)
}

// inChunks runs fn over ids in slices small enough for one IN list.
func inChunks(ids []int64, fn func(chunk []int64) error) error {
	for start := 0; start < len(ids); start += maxBindParams {
		end := start + maxBindParams
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func bindArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (r *sqlRepo) Concepts(ctx context.Context, ids []int64) ([]Concept, error) {
	var out []Concept
	err := inChunks(ids, func(chunk []int64) error {
		q := fmt.Sprintf(`SELECT concept_id, concept_name, domain_id FROM %s WHERE concept_id IN (%s)`,
			r.qualify("concept"), r.exec.Dialect().Placeholders(1, len(chunk)))
		t, err := r.exec.Query(ctx, q, bindArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("concept lookup: %w", err)
		}
		for i := range t.Rows {
			id, _ := table.AsInt64(t.Value(i, "concept_id"))
			out = append(out, Concept{
				ID:       id,
				Name:     table.String(t.Value(i, "concept_name")),
				DomainID: table.String(t.Value(i, "domain_id")),
			})
		}
		return nil
	})
	return out, err
}

func (r *sqlRepo) ConceptNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	concepts, err := r.Concepts(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(concepts))
	for _, c := range concepts {
		names[c.ID] = c.Name
	}
	return names, nil
}

func (r *sqlRepo) checkContext(dc DomainContext) error {
	for _, id := range []string{dc.Table, dc.ConceptColumn, dc.ConceptTable} {
		if !db.ValidIdentifier(id) {
			return InvalidArgument("invalid identifier %q in domain %s", id, dc.Domain)
		}
	}
	return nil
}

func (r *sqlRepo) DomainRecords(ctx context.Context, dc DomainContext, conceptIDs []int64) (*table.Table, error) {
	if err := r.checkContext(dc); err != nil {
		return nil, err
	}
	out := table.New(table.PersonID, "concept_id", "concept_name")
	err := inChunks(conceptIDs, func(chunk []int64) error {
		q := fmt.Sprintf(`SELECT f.person_id AS person_id, f.%[1]s AS concept_id, c.concept_name AS concept_name
FROM %[2]s f
JOIN %[3]s c ON c.concept_id = f.%[1]s
WHERE f.%[1]s IN (%[4]s)`,
			dc.ConceptColumn, r.qualify(dc.Table), r.qualify(dc.ConceptTable),
			r.exec.Dialect().Placeholders(1, len(chunk)))
		t, err := r.exec.Query(ctx, q, bindArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("%s records: %w", dc.Table, err)
		}
		sel, err := t.Select(out.Columns...)
		if err != nil {
			return err
		}
		out.Rows = append(out.Rows, sel.Rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sqlRepo) DomainCounts(ctx context.Context, dc DomainContext, conceptIDs []int64) (int64, []int64, error) {
	if err := r.checkContext(dc); err != nil {
		return 0, nil, err
	}
	var records int64
	seen := make(map[int64]bool)
	var persons []int64
	err := inChunks(conceptIDs, func(chunk []int64) error {
		in := r.exec.Dialect().Placeholders(1, len(chunk))
		q := fmt.Sprintf(`SELECT COUNT(*) AS records FROM %s WHERE %s IN (%s)`,
			r.qualify(dc.Table), dc.ConceptColumn, in)
		t, err := r.exec.Query(ctx, q, bindArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("%s record count: %w", dc.Table, err)
		}
		n, _ := table.AsInt64(t.Value(0, "records"))
		records += n

		q = fmt.Sprintf(`SELECT DISTINCT person_id FROM %s WHERE %s IN (%s)`,
			r.qualify(dc.Table), dc.ConceptColumn, in)
		t, err = r.exec.Query(ctx, q, bindArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("%s persons: %w", dc.Table, err)
		}
		ids, err := t.DistinctInt64(table.PersonID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				persons = append(persons, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return records, persons, nil
}

func (r *sqlRepo) CountPersons(ctx context.Context) (int64, error) {
	t, err := r.exec.Query(ctx, fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s`, r.qualify(PersonTable)))
	if err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	n, _ := table.AsInt64(t.Value(0, "n"))
	return n, nil
}

func (r *sqlRepo) CohortPersons(ctx context.Context, cohortDefinitionID int64) ([]int64, error) {
	q := fmt.Sprintf(`SELECT DISTINCT subject_id AS person_id FROM %s WHERE cohort_definition_id = %s`,
		r.qualify("cohort"), r.exec.Dialect().Placeholder(1))
	t, err := r.exec.Query(ctx, q, cohortDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("cohort %d: %w", cohortDefinitionID, err)
	}
	return t.DistinctInt64(table.PersonID)
}

func (r *sqlRepo) PersonAttribute(ctx context.Context, column string, personIDs []int64) (map[int64]interface{}, error) {
	if !db.ValidIdentifier(column) {
		return nil, InvalidArgument("invalid person column %q", column)
	}
	out := make(map[int64]interface{}, len(personIDs))
	err := inChunks(personIDs, func(chunk []int64) error {
		q := fmt.Sprintf(`SELECT person_id, %s AS value FROM %s WHERE person_id IN (%s)`,
			column, r.qualify(PersonTable), r.exec.Dialect().Placeholders(1, len(chunk)))
		t, err := r.exec.Query(ctx, q, bindArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("person %s: %w", column, err)
		}
		for i := range t.Rows {
			id, ok := table.AsInt64(t.Value(i, table.PersonID))
			if ok {
				out[id] = t.Value(i, "value")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
