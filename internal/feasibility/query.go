package feasibility

import (
	"fmt"
	"strings"

	"github.com/cdm/feasibility/internal/cdm"
)

const conceptTable = "concept"

// QueryBuilder resolves the fact table and concept column for a domain.
type QueryBuilder struct {
	catalog *cdm.Catalog
}

// NewQueryBuilder creates a builder over a loaded catalog.
func NewQueryBuilder(catalog *cdm.Catalog) *QueryBuilder {
	return &QueryBuilder{catalog: catalog}
}

// BuildContext resolves a domain against the catalog and the reflected schema
// tables (lower-cased names). Every failure is recoverable per domain: an
// *cdm.UnknownDomainError when the catalog lacks the table, an ErrNotFound
// when the catalog table lacks its concept column, and a
// *cdm.TableNotFoundError when the schema lacks the table.
func (b *QueryBuilder) BuildContext(domainID, schema string, tables map[string]bool) (cdm.DomainContext, error) {
	ref, err := b.catalog.ResolveTable(cdm.DomainIDToTable(domainID))
	if err != nil {
		return cdm.DomainContext{}, err
	}

	for _, name := range []string{ref.Name, conceptTable} {
		if !tables[strings.ToLower(name)] {
			return cdm.DomainContext{}, &cdm.TableNotFoundError{Schema: schema, Table: name}
		}
	}

	column := cdm.ConceptColumnFor(ref.Name)
	if !ref.HasColumn(column) {
		return cdm.DomainContext{}, fmt.Errorf("%w: table %s has no %s column in CDM %s",
			cdm.ErrNotFound, ref.Name, column, b.catalog.Version())
	}

	return cdm.DomainContext{
		Domain:        domainID,
		Table:         ref.Name,
		ConceptColumn: column,
		ConceptTable:  conceptTable,
	}, nil
}
