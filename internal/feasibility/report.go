package feasibility

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cdm/feasibility/internal/cdm"
)

// SummaryDomain tags the population-level metric rows.
const SummaryDomain = "Summary"

// Summary metric names.
const (
	MetricTotalPatients    = "Total Patients"
	MetricEligiblePatients = "Eligible Patients"
	MetricTotalRecords     = "Total Target Records"
	MetricRecordsPerPerson = "Records per Patient"
	MetricCoverage         = "Population Coverage (%)"
	MetricDomainsAnalyzed  = "Domains Analyzed"
)

// Per-domain metric names.
const (
	MetricConcepts       = "Concepts"
	MetricPatients       = "Patients"
	MetricRecords        = "Records"
	MetricDomainCoverage = "Coverage (%)"
)

// NoValidConcepts is reported when no input concept exists in the vocabulary.
const NoValidConcepts = "No Valid Concepts"

// MetricRow is one line of a feasibility report. Value is an int64 or float64
// for raw output and a string otherwise.
type MetricRow struct {
	Metric         string      `json:"metric"`
	Value          interface{} `json:"value"`
	Interpretation string      `json:"interpretation"`
	Domain         string      `json:"domain"`
}

// Report is the summary block followed by the per-domain breakdown.
type Report struct {
	Summary   []MetricRow `json:"summary"`
	Breakdown []MetricRow `json:"breakdown"`
}

// DomainMetrics is the per-domain snapshot the report rows are built from.
type DomainMetrics struct {
	Domain       string
	Table        string
	ConceptCount int
	ConceptIDs   []int64
	Records      int64
	Patients     map[int64]struct{}
}

// feasibility holds the population-level aggregates of one call.
type feasibility struct {
	totalPatients int64
	classified    int
	domains       []DomainMetrics
	totalRecords  int64
	eligible      map[int64]struct{}
}

func (f *feasibility) uniquePatients() int64 { return int64(len(f.eligible)) }

func (f *feasibility) recordsPerPatient() float64 {
	if f.uniquePatients() == 0 {
		return 0
	}
	return float64(f.totalRecords) / float64(f.uniquePatients())
}

func (f *feasibility) coverage() float64 {
	return percent(f.uniquePatients(), f.totalPatients, 3)
}

// compute classifies the concept set and gathers per-domain record counts and
// patient sets. It returns nil when no concept is valid.
func (s *Service) compute(ctx context.Context, req Request) (*feasibility, error) {
	repo, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	byDomain, err := Classify(ctx, repo, req.ConceptIDs)
	if err != nil {
		return nil, err
	}
	if len(byDomain) == 0 {
		return nil, nil
	}

	total, err := repo.CountPersons(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*DomainMetrics, len(byDomain))
	err = s.eachDomain(ctx, repo, byDomain, func(ctx context.Context, i int, dc cdm.DomainContext, ids []int64) error {
		records, persons, err := repo.DomainCounts(ctx, dc, ids)
		if err != nil {
			return err
		}
		set := make(map[int64]struct{}, len(persons))
		for _, p := range persons {
			set[p] = struct{}{}
		}
		results[i] = &DomainMetrics{
			Domain:       dc.Domain,
			Table:        dc.Table,
			ConceptCount: len(ids),
			ConceptIDs:   ids,
			Records:      records,
			Patients:     set,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f := &feasibility{
		totalPatients: total,
		classified:    len(byDomain),
		eligible:      make(map[int64]struct{}),
	}
	for _, m := range results {
		if m == nil {
			continue
		}
		// Records add up across domains; patients are a set union so a
		// patient present in several domains counts once.
		f.totalRecords += m.Records
		for p := range m.Patients {
			f.eligible[p] = struct{}{}
		}
		f.domains = append(f.domains, *m)
	}
	return f, nil
}

// GenerateSummary returns the six population-level metrics.
func (s *Service) GenerateSummary(ctx context.Context, req Request) ([]MetricRow, error) {
	f, err := s.compute(ctx, req)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return noValidConcepts(SummaryDomain), nil
	}
	return summaryRows(f, req.RawValues), nil
}

// GenerateDomainBreakdown returns four metrics per analysed domain.
func (s *Service) GenerateDomainBreakdown(ctx context.Context, req Request) ([]MetricRow, error) {
	f, err := s.compute(ctx, req)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return noValidConcepts(SummaryDomain), nil
	}
	return breakdownRows(f, req.RawValues), nil
}

// GenerateFeasibilityReport returns the summary and the breakdown from a
// single pass over the domains.
func (s *Service) GenerateFeasibilityReport(ctx context.Context, req Request) (*Report, error) {
	f, err := s.compute(ctx, req)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return &Report{Summary: noValidConcepts(SummaryDomain), Breakdown: []MetricRow{}}, nil
	}
	return &Report{Summary: summaryRows(f, req.RawValues), Breakdown: breakdownRows(f, req.RawValues)}, nil
}

func noValidConcepts(domain string) []MetricRow {
	return []MetricRow{{
		Metric:         "Status",
		Value:          NoValidConcepts,
		Interpretation: "None of the provided concept IDs exist in the concept table",
		Domain:         domain,
	}}
}

func count(n int64, raw bool) interface{} {
	if raw {
		return n
	}
	return FormatNumber(float64(n))
}

func pct(p float64, raw bool) interface{} {
	if raw {
		return p
	}
	return FormatPercent(p)
}

func summaryRows(f *feasibility, raw bool) []MetricRow {
	avg := round(f.recordsPerPatient(), 2)
	var avgValue interface{} = avg
	if !raw {
		avgValue = strconv.FormatFloat(avg, 'f', 2, 64)
	}

	return []MetricRow{
		{MetricTotalPatients, count(f.totalPatients, raw), "Patients in the database", SummaryDomain},
		{MetricEligiblePatients, count(f.uniquePatients(), raw), "Patients with at least one target concept in any domain", SummaryDomain},
		{MetricTotalRecords, count(f.totalRecords, raw), "Records matching the target concepts across all domains", SummaryDomain},
		{MetricRecordsPerPerson, avgValue, "Average target records per eligible patient", SummaryDomain},
		{MetricCoverage, pct(f.coverage(), raw), "Share of the database population that is eligible", SummaryDomain},
		{MetricDomainsAnalyzed, count(int64(f.classified), raw), "OMOP domains the target concepts belong to", SummaryDomain},
	}
}

func breakdownRows(f *feasibility, raw bool) []MetricRow {
	rows := make([]MetricRow, 0, 4*len(f.domains))
	for _, m := range f.domains {
		patients := int64(len(m.Patients))
		rows = append(rows,
			MetricRow{MetricConcepts, count(int64(m.ConceptCount), raw), fmt.Sprintf("Target concepts in the %s domain", m.Domain), m.Domain},
			MetricRow{MetricPatients, count(patients, raw), fmt.Sprintf("Distinct patients with a matching %s record", m.Domain), m.Domain},
			MetricRow{MetricRecords, count(m.Records, raw), fmt.Sprintf("Matching rows in %s", m.Table), m.Domain},
			MetricRow{MetricDomainCoverage, pct(percent(patients, f.totalPatients, 3), raw), fmt.Sprintf("Share of the database population with a matching %s record", m.Domain), m.Domain},
		)
	}
	return rows
}
