package cdm

import (
	"context"

	"github.com/cdm/feasibility/internal/table"
)

// Concept is one row of the concept table.
type Concept struct {
	ID       int64  `json:"concept_id"`
	Name     string `json:"concept_name"`
	DomainID string `json:"domain_id"`
}

// DomainContext is everything needed to query one domain's fact table.
type DomainContext struct {
	Domain        string `json:"domain"`
	Table         string `json:"table"`
	ConceptColumn string `json:"concept_column"`
	ConceptTable  string `json:"concept_table"`
}

// Repository reads a CDM schema. Every method is a read; implementations are
// bound to one schema.
type Repository interface {
	Schema() string
	// Tables returns the lower-cased table names present in the schema.
	Tables(ctx context.Context) (map[string]bool, error)
	// Concepts returns metadata for the IDs that exist; unknown IDs are omitted.
	Concepts(ctx context.Context, ids []int64) ([]Concept, error)
	ConceptNames(ctx context.Context, ids []int64) (map[int64]string, error)
	// DomainRecords returns person_id, concept_id, concept_name for every fact
	// row whose concept column is in conceptIDs.
	DomainRecords(ctx context.Context, dc DomainContext, conceptIDs []int64) (*table.Table, error)
	// DomainCounts returns the matching row count and the distinct person IDs.
	DomainCounts(ctx context.Context, dc DomainContext, conceptIDs []int64) (int64, []int64, error)
	CountPersons(ctx context.Context) (int64, error)
	CohortPersons(ctx context.Context, cohortDefinitionID int64) ([]int64, error)
	PersonAttribute(ctx context.Context, column string, personIDs []int64) (map[int64]interface{}, error)
}

// RepositoryFactory binds a repository to a schema.
type RepositoryFactory func(schema string) (Repository, error)
