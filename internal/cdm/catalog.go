// Package cdm describes the OMOP Common Data Model tables the feasibility
// engine routes queries to.
package cdm

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed metadata/*.yaml
var metadataFS embed.FS

// DefaultVersion is the CDM version loaded when none is configured.
const DefaultVersion = "5.4"

// TableRef identifies a CDM table and the columns the version defines for it.
type TableRef struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
}

// HasColumn reports whether the table defines the column.
func (t TableRef) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

type metadataFile struct {
	Version string     `yaml:"version"`
	Tables  []TableRef `yaml:"tables"`
}

// Catalog is the table lookup for one CDM version. It is built once at
// startup and is read-only afterwards.
type Catalog struct {
	version string
	tables  map[string]TableRef
}

// LoadCatalog parses the embedded metadata for a CDM version ("5.3", "5.4").
func LoadCatalog(version string) (*Catalog, error) {
	if version == "" {
		version = DefaultVersion
	}
	name := fmt.Sprintf("metadata/cdm_v%s.yaml", version)
	raw, err := metadataFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported CDM version %q: %w", version, err)
	}
	return ParseCatalog(raw)
}

// MustLoadCatalog is LoadCatalog for package-level initialisation and tests.
func MustLoadCatalog(version string) *Catalog {
	c, err := LoadCatalog(version)
	if err != nil {
		panic(err)
	}
	return c
}

// SupportedVersions lists the CDM versions with embedded metadata.
func SupportedVersions() []string {
	entries, err := metadataFS.ReadDir("metadata")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		v := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "cdm_v"), ".yaml")
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ParseCatalog builds a catalog from metadata YAML in the embedded format.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var f metadataFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse CDM metadata: %w", err)
	}
	if len(f.Tables) == 0 {
		return nil, fmt.Errorf("CDM metadata %s defines no tables", f.Version)
	}
	c := &Catalog{version: f.Version, tables: make(map[string]TableRef, len(f.Tables))}
	for _, t := range f.Tables {
		c.tables[strings.ToLower(t.Name)] = t
	}
	return c, nil
}

// Version returns the CDM version of the catalog.
func (c *Catalog) Version() string { return c.version }

// ResolveTable looks up a table by name, case-insensitively.
func (c *Catalog) ResolveTable(name string) (TableRef, error) {
	t, ok := c.tables[strings.ToLower(name)]
	if !ok {
		return TableRef{}, &UnknownDomainError{Name: name, Version: c.version}
	}
	return t, nil
}

// ResolveDomainID maps a domain_id to its table reference. Tables outside the
// catalog (the "_occurrence" fallback) come back with no columns.
func (c *Catalog) ResolveDomainID(domainID string) TableRef {
	name := DomainIDToTable(domainID)
	if t, err := c.ResolveTable(name); err == nil {
		return t
	}
	return TableRef{Name: name}
}

// Tables returns every table in the catalog sorted by name.
func (c *Catalog) Tables() []TableRef {
	out := make([]TableRef, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DomainRoute describes how one domain_id is routed.
type DomainRoute struct {
	DomainID      string `json:"domain_id"`
	Table         string `json:"table"`
	ConceptColumn string `json:"concept_column"`
	InCatalog     bool   `json:"in_catalog"`
}

// Routes lists the routing for every known domain.
func (c *Catalog) Routes() []DomainRoute {
	var out []DomainRoute
	for _, d := range KnownDomains() {
		table := DomainIDToTable(d)
		_, err := c.ResolveTable(table)
		out = append(out, DomainRoute{
			DomainID:      d,
			Table:         table,
			ConceptColumn: ConceptColumnFor(table),
			InCatalog:     err == nil,
		})
	}
	return out
}
