package feasibility

import (
	"context"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/covariate"
	"github.com/cdm/feasibility/internal/table"
)

const countColumn = "count"

var distributionKeys = []string{"concept_id", "concept_name", "domain"}

// DistributionColumns is the column layout of AnalyzeConceptDistribution for
// the given covariates.
func DistributionColumns(covs []covariate.Func) []string {
	cols := append([]string{}, distributionKeys...)
	cols = append(cols, countColumn)
	return append(cols, covariate.Columns(covs)...)
}

// AnalyzeConceptDistribution counts fact rows per concept and domain,
// stratified by the covariates when any are given. Concepts without matching
// rows do not appear. Rows are sorted by count, descending.
func (s *Service) AnalyzeConceptDistribution(ctx context.Context, req Request) (*table.Table, error) {
	repo, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	byDomain, err := Classify(ctx, repo, req.ConceptIDs)
	if err != nil {
		return nil, err
	}
	out := table.New(DistributionColumns(req.Covariates)...)
	if len(byDomain) == 0 {
		return out, nil
	}

	parts := make([]*table.Table, len(byDomain))
	err = s.eachDomain(ctx, repo, byDomain, func(ctx context.Context, i int, dc cdm.DomainContext, ids []int64) error {
		summary, err := s.summarizeDomain(ctx, repo, dc, ids, req.Covariates)
		if err != nil {
			return err
		}
		parts[i] = summary
		return nil
	})
	if err != nil {
		return nil, err
	}

	found := []*table.Table{out}
	for _, p := range parts {
		if p != nil {
			found = append(found, p)
		}
	}
	out, err = table.Concat(found...)
	if err != nil {
		return nil, err
	}
	sortByCount(out)
	return out, nil
}

// sortByCount orders rows by count, descending. Ties fall back to domain,
// concept_id and then the covariate values so the order does not depend on
// the order the database returned rows in.
func sortByCount(t *table.Table) {
	countIdx := t.Index(countColumn)
	tie := []int{t.Index("domain"), t.Index("concept_id")}
	for i := countIdx + 1; i < len(t.Columns); i++ {
		tie = append(tie, i)
	}
	t.SortStable(func(a, b []interface{}) bool {
		ca, _ := table.AsInt64(a[countIdx])
		cb, _ := table.AsInt64(b[countIdx])
		if ca != cb {
			return ca > cb
		}
		for _, i := range tie {
			if c := table.Compare(a[i], b[i]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func (s *Service) summarizeDomain(ctx context.Context, repo cdm.Repository, dc cdm.DomainContext, ids []int64, covs []covariate.Func) (*table.Table, error) {
	records, err := repo.DomainRecords(ctx, dc, ids)
	if err != nil {
		return nil, err
	}
	records = records.WithColumn("domain", dc.Domain)

	by := distributionKeys
	if len(covs) > 0 {
		persons, err := records.DistinctInt64(table.PersonID)
		if err != nil {
			return nil, err
		}
		covTable, err := covariate.Apply(ctx, persons, covs, repo)
		if err != nil {
			return nil, err
		}
		records, err = records.LeftJoin(covTable, table.PersonID)
		if err != nil {
			return nil, err
		}
		by = append(append([]string{}, distributionKeys...), covariate.Columns(covs)...)
	}

	grouped, err := records.GroupCount(by, countColumn)
	if err != nil {
		return nil, err
	}
	return grouped.Select(DistributionColumns(covs)...)
}
