// Package table holds the in-memory tabular result sets that flow between the
// query executor, the covariate pipeline and the aggregators.
package table

import (
	"fmt"
	"sort"
	"strings"
)

// PersonID is the join key used by covariate tables.
const PersonID = "person_id"

// Table is a column-named result set. Cell values are normalized to int64,
// float64, string, bool or nil by the executors.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// FromPersonIDs builds a single-column person_id table.
func FromPersonIDs(ids []int64) *Table {
	t := New(PersonID)
	for _, id := range ids {
		t.Append(id)
	}
	return t
}

// Append adds a row. It panics when the value count does not match the
// column count since that is always a programming error.
func (t *Table) Append(values ...interface{}) {
	if len(values) != len(t.Columns) {
		panic(fmt.Sprintf("table: row has %d values, want %d", len(values), len(t.Columns)))
	}
	row := make([]interface{}, len(values))
	copy(row, values)
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of a column, or -1.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(column string) bool {
	return t.Index(column) >= 0
}

// Column returns every value of the named column.
func (t *Table) Column(column string) ([]interface{}, error) {
	idx := t.Index(column)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found", column)
	}
	out := make([]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Value returns the cell at row i of the named column.
func (t *Table) Value(i int, column string) interface{} {
	idx := t.Index(column)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return nil
	}
	return t.Rows[i][idx]
}

// DistinctInt64 returns the distinct non-nil integer values of a column in
// first-seen order.
func (t *Table) DistinctInt64(column string) ([]int64, error) {
	values, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(values))
	var out []int64
	for _, v := range values {
		id, ok := AsInt64(v)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// WithColumn returns a copy of the table with a constant column appended.
func (t *Table) WithColumn(column string, value interface{}) *Table {
	out := New(append(append([]string{}, t.Columns...), column)...)
	for _, row := range t.Rows {
		out.Rows = append(out.Rows, append(append([]interface{}{}, row...), value))
	}
	return out
}

// Select returns a copy containing only the given columns, in that order.
func (t *Table) Select(columns ...string) (*Table, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.Index(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("column %q not found", c)
		}
	}
	out := New(columns...)
	for _, row := range t.Rows {
		vals := make([]interface{}, len(idx))
		for i, j := range idx {
			vals[i] = row[j]
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, nil
}

// LeftJoin keeps every row of t and appends the non-key columns of right,
// matched on key. Right-side rows are expected to be unique per key; the
// first match wins. Unmatched rows get nil in the appended columns.
func (t *Table) LeftJoin(right *Table, key string) (*Table, error) {
	li := t.Index(key)
	if li < 0 {
		return nil, fmt.Errorf("left join: left table has no %q column", key)
	}
	ri := right.Index(key)
	if ri < 0 {
		return nil, fmt.Errorf("left join: right table has no %q column", key)
	}

	var extra []int
	cols := append([]string{}, t.Columns...)
	for i, c := range right.Columns {
		if i == ri {
			continue
		}
		if t.HasColumn(c) {
			return nil, fmt.Errorf("left join: duplicate column %q", c)
		}
		extra = append(extra, i)
		cols = append(cols, c)
	}

	lookup := make(map[string][]interface{}, len(right.Rows))
	for _, row := range right.Rows {
		k := keyOf(row[ri])
		if _, ok := lookup[k]; !ok {
			lookup[k] = row
		}
	}

	out := New(cols...)
	for _, row := range t.Rows {
		vals := append([]interface{}{}, row...)
		match := lookup[keyOf(row[li])]
		for _, i := range extra {
			if match == nil {
				vals = append(vals, nil)
			} else {
				vals = append(vals, match[i])
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, nil
}

// GroupCount groups by the given columns and appends a count column. Groups
// appear in first-seen order.
func (t *Table) GroupCount(by []string, countColumn string) (*Table, error) {
	idx := make([]int, len(by))
	for i, c := range by {
		idx[i] = t.Index(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("group by: column %q not found", c)
		}
	}

	type group struct {
		values []interface{}
		count  int64
	}
	var order []string
	groups := make(map[string]*group)
	for _, row := range t.Rows {
		vals := make([]interface{}, len(idx))
		parts := make([]string, len(idx))
		for i, j := range idx {
			vals[i] = row[j]
			parts[i] = keyOf(row[j])
		}
		k := strings.Join(parts, "\x1f")
		g, ok := groups[k]
		if !ok {
			g = &group{values: vals}
			groups[k] = g
			order = append(order, k)
		}
		g.count++
	}

	out := New(append(append([]string{}, by...), countColumn)...)
	for _, k := range order {
		g := groups[k]
		out.Rows = append(out.Rows, append(g.values, g.count))
	}
	return out, nil
}

// Concat appends the rows of other tables that share t's column layout.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return New(), nil
	}
	out := New(tables[0].Columns...)
	for _, tb := range tables {
		if strings.Join(tb.Columns, ",") != strings.Join(out.Columns, ",") {
			return nil, fmt.Errorf("concat: column mismatch %v vs %v", tb.Columns, out.Columns)
		}
		out.Rows = append(out.Rows, tb.Rows...)
	}
	return out, nil
}

// SortStable sorts rows in place with the given less function over rows.
func (t *Table) SortStable(less func(a, b []interface{}) bool) {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return less(t.Rows[i], t.Rows[j])
	})
}

// Records converts the table to a slice of column-keyed maps, the JSON shape
// returned by the API.
func (t *Table) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]interface{}, len(t.Columns))
		for i, c := range t.Columns {
			rec[c] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

func keyOf(v interface{}) string {
	if v == nil {
		return "\x00nil"
	}
	if n, ok := AsInt64(v); ok {
		return fmt.Sprintf("i:%d", n)
	}
	return fmt.Sprintf("%T:%v", v, v)
}
