// Package cdmtest provides an in-memory cdm.Repository for tests.
package cdmtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/table"
)

// Fact is one row of a domain fact table.
type Fact struct {
	PersonID  int64
	ConceptID int64
}

// Repository is a map-backed CDM schema. Tables lists what reflection
// reports; fact tables without an entry in Tables behave as missing.
type Repository struct {
	mu sync.Mutex

	SchemaName string
	TableNames map[string]bool
	ConceptMap map[int64]cdm.Concept
	Facts      map[string][]Fact
	// Persons maps person_id to person-table columns such as
	// gender_concept_id or year_of_birth.
	Persons map[int64]map[string]interface{}
	Cohorts map[int64][]int64
	// Fail makes the named method return an error for the named table, e.g.
	// Fail["DomainCounts"] = "drug_exposure". An empty table fails all calls.
	Fail map[string]string

	Calls map[string]int
}

// New returns an empty repository bound to schema with the person and
// concept tables present.
func New(schema string) *Repository {
	return &Repository{
		SchemaName: schema,
		TableNames: map[string]bool{"person": true, "concept": true},
		ConceptMap: map[int64]cdm.Concept{},
		Facts:      map[string][]Fact{},
		Persons:    map[int64]map[string]interface{}{},
		Cohorts:    map[int64][]int64{},
		Fail:       map[string]string{},
		Calls:      map[string]int{},
	}
}

// Factory returns a RepositoryFactory that binds r to any schema name.
func (r *Repository) Factory() cdm.RepositoryFactory {
	return func(schema string) (cdm.Repository, error) {
		r.mu.Lock()
		r.SchemaName = schema
		r.mu.Unlock()
		return r, nil
	}
}

// AddConcept registers a concept.
func (r *Repository) AddConcept(id int64, name, domain string) {
	r.ConceptMap[id] = cdm.Concept{ID: id, Name: name, DomainID: domain}
}

// AddFacts appends fact rows to tbl and marks it present.
func (r *Repository) AddFacts(tbl string, facts ...Fact) {
	r.TableNames[tbl] = true
	r.Facts[tbl] = append(r.Facts[tbl], facts...)
}

// AddPerson registers a person with optional attributes.
func (r *Repository) AddPerson(id int64, attrs map[string]interface{}) {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	r.Persons[id] = attrs
}

func (r *Repository) called(method, tbl string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls[method]++
	if t, ok := r.Fail[method]; ok && (t == "" || t == tbl) {
		return fmt.Errorf("%s: injected failure for %q", method, tbl)
	}
	return nil
}

// CallCount returns how many times method was invoked.
func (r *Repository) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Calls[method]
}

func (r *Repository) Schema() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.SchemaName
}

func (r *Repository) Tables(ctx context.Context) (map[string]bool, error) {
	if err := r.called("Tables", ""); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(r.TableNames))
	for k, v := range r.TableNames {
		out[strings.ToLower(k)] = v
	}
	return out, nil
}

func (r *Repository) Concepts(ctx context.Context, ids []int64) ([]cdm.Concept, error) {
	if err := r.called("Concepts", "concept"); err != nil {
		return nil, err
	}
	var out []cdm.Concept
	for _, id := range ids {
		if c, ok := r.ConceptMap[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Repository) ConceptNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	if err := r.called("ConceptNames", "concept"); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if c, ok := r.ConceptMap[id]; ok {
			out[id] = c.Name
		}
	}
	return out, nil
}

func (r *Repository) matching(dc cdm.DomainContext, ids []int64) []Fact {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Fact
	for _, f := range r.Facts[dc.Table] {
		if want[f.ConceptID] {
			out = append(out, f)
		}
	}
	return out
}

func (r *Repository) DomainRecords(ctx context.Context, dc cdm.DomainContext, conceptIDs []int64) (*table.Table, error) {
	if err := r.called("DomainRecords", dc.Table); err != nil {
		return nil, err
	}
	out := table.New(table.PersonID, "concept_id", "concept_name")
	for _, f := range r.matching(dc, conceptIDs) {
		out.Append(f.PersonID, f.ConceptID, r.ConceptMap[f.ConceptID].Name)
	}
	return out, nil
}

func (r *Repository) DomainCounts(ctx context.Context, dc cdm.DomainContext, conceptIDs []int64) (int64, []int64, error) {
	if err := r.called("DomainCounts", dc.Table); err != nil {
		return 0, nil, err
	}
	facts := r.matching(dc, conceptIDs)
	seen := map[int64]bool{}
	var persons []int64
	for _, f := range facts {
		if !seen[f.PersonID] {
			seen[f.PersonID] = true
			persons = append(persons, f.PersonID)
		}
	}
	return int64(len(facts)), persons, nil
}

func (r *Repository) CountPersons(ctx context.Context) (int64, error) {
	if err := r.called("CountPersons", "person"); err != nil {
		return 0, err
	}
	return int64(len(r.Persons)), nil
}

func (r *Repository) CohortPersons(ctx context.Context, id int64) ([]int64, error) {
	if err := r.called("CohortPersons", "cohort"); err != nil {
		return nil, err
	}
	ids := append([]int64{}, r.Cohorts[id]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *Repository) PersonAttribute(ctx context.Context, column string, personIDs []int64) (map[int64]interface{}, error) {
	if err := r.called("PersonAttribute", "person"); err != nil {
		return nil, err
	}
	out := make(map[int64]interface{}, len(personIDs))
	for _, id := range personIDs {
		attrs, ok := r.Persons[id]
		if !ok {
			continue
		}
		out[id] = attrs[column]
	}
	return out, nil
}
