// Package covariate augments person-ID tables with demographic columns and
// chains those augmentations into a covariate table.
package covariate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/table"
)

// PersonReader reads one person-table attribute for a set of person IDs.
// Persons without a row are absent from the result.
type PersonReader interface {
	PersonAttribute(ctx context.Context, column string, personIDs []int64) (map[int64]interface{}, error)
}

// Func augments a table carrying a person_id column with exactly one new
// column named Column().
type Func interface {
	Column() string
	Apply(ctx context.Context, in *table.Table, r PersonReader) (*table.Table, error)
}

// Apply folds funcs over the person IDs in order, each consuming the
// previous output. With no funcs the result is the bare person_id table.
func Apply(ctx context.Context, personIDs []int64, funcs []Func, r PersonReader) (*table.Table, error) {
	acc := table.FromPersonIDs(personIDs)
	for _, f := range funcs {
		next, err := f.Apply(ctx, acc, r)
		if err != nil {
			return nil, fmt.Errorf("covariate %s: %w", f.Column(), err)
		}
		acc = next
	}
	return acc, nil
}

// Columns returns the output column names of funcs in order.
func Columns(funcs []Func) []string {
	out := make([]string, len(funcs))
	for i, f := range funcs {
		out[i] = f.Column()
	}
	return out
}

// Validate rejects a covariate list that would produce the same output
// column twice or shadow person_id.
func Validate(funcs []Func) error {
	seen := make(map[string]bool, len(funcs))
	for _, f := range funcs {
		if f == nil {
			return cdm.InvalidArgument("nil covariate")
		}
		col := f.Column()
		if col == table.PersonID {
			return cdm.InvalidArgument("covariate column %q collides with %s", col, table.PersonID)
		}
		if seen[col] {
			return cdm.InvalidArgument("duplicate covariate %q", col)
		}
		seen[col] = true
	}
	return nil
}

// joinAttribute left-joins a person -> value map onto in as column.
func joinAttribute(in *table.Table, column string, values map[int64]interface{}) (*table.Table, error) {
	ids, err := in.DistinctInt64(table.PersonID)
	if err != nil {
		return nil, err
	}
	attr := table.New(table.PersonID, column)
	for _, id := range ids {
		attr.Append(id, values[id])
	}
	return in.LeftJoin(attr, table.PersonID)
}

// PersonColumn copies a person table column, e.g. gender_concept_id.
type PersonColumn struct {
	Name string
}

// Gender, Race and Ethnicity read the person table concept columns.
var (
	Gender    Func = PersonColumn{Name: "gender_concept_id"}
	Race      Func = PersonColumn{Name: "race_concept_id"}
	Ethnicity Func = PersonColumn{Name: "ethnicity_concept_id"}
)

func (p PersonColumn) Column() string { return p.Name }

func (p PersonColumn) Apply(ctx context.Context, in *table.Table, r PersonReader) (*table.Table, error) {
	ids, err := in.DistinctInt64(table.PersonID)
	if err != nil {
		return nil, err
	}
	values, err := r.PersonAttribute(ctx, p.Name, ids)
	if err != nil {
		return nil, err
	}
	return joinAttribute(in, p.Name, values)
}

var registry = map[string]func() Func{
	"gender":    func() Func { return Gender },
	"race":      func() Func { return Race },
	"ethnicity": func() Func { return Ethnicity },
	"age_group": func() Func { return NewAgeGroup() },
}

// Lookup resolves a covariate by name. Names are matched case-insensitively
// and may carry the "_concept_id" suffix.
func Lookup(name string) (Func, error) {
	key := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "_concept_id")
	ctor, ok := registry[key]
	if !ok {
		return nil, cdm.InvalidArgument("unknown covariate %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// LookupAll resolves a list of names, keeping their order.
func LookupAll(names []string) ([]Func, error) {
	out := make([]Func, 0, len(names))
	for _, n := range names {
		f, err := Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Names lists the registered covariate names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
