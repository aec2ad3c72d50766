// Package profile builds demographic profiles of a cohort against the whole
// CDM population.
package profile

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/covariate"
	"github.com/cdm/feasibility/internal/table"
)

// Statistic columns shared by both profile shapes.
const (
	ColCategory            = "category"
	ColCohortNumerator     = "cohort_numerator"
	ColCohortDenominator   = "cohort_denominator"
	ColDatabaseDenominator = "database_denominator"
	ColPercentCohort       = "percent_cohort"
	ColPercentDatabase     = "percent_database"
)

// UnknownCategory labels missing covariate values. Concept IDs absent from
// the concept table keep their numeric form.
const UnknownCategory = "Unknown"

var statColumns = []string{
	ColCohortNumerator, ColCohortDenominator, ColDatabaseDenominator,
	ColPercentCohort, ColPercentDatabase,
}

// Request identifies a cohort and the covariates to profile it by. Exactly
// one of CohortDefinitionID and Cohort must be set.
type Request struct {
	CohortDefinitionID *int64
	// Cohort must carry a person_id column.
	Cohort     *table.Table
	Covariates []covariate.Func
	Schema     string
}

type Service struct {
	repos  cdm.RepositoryFactory
	logger zerolog.Logger
	schema string
}

func NewService(repos cdm.RepositoryFactory, logger zerolog.Logger, defaultSchema string) *Service {
	if defaultSchema == "" {
		defaultSchema = "main"
	}
	return &Service{
		repos:  repos,
		logger: logger.With().Str("component", "profile").Logger(),
		schema: defaultSchema,
	}
}

// prepared is the shared prefix of both profile shapes.
type prepared struct {
	repo         cdm.Repository
	cohortSize   int64
	databaseSize int64
	covariates   *table.Table
}

func (s *Service) prepare(ctx context.Context, req Request) (*prepared, error) {
	if (req.CohortDefinitionID == nil) == (req.Cohort == nil) {
		return nil, cdm.InvalidArgument("must provide either cohort_definition_id or a cohort table, not both")
	}
	if err := covariate.Validate(req.Covariates); err != nil {
		return nil, err
	}

	schema := req.Schema
	if schema == "" {
		schema = s.schema
	}
	repo, err := s.repos(schema)
	if err != nil {
		return nil, err
	}

	persons, err := resolvePersons(ctx, repo, req)
	if err != nil {
		return nil, err
	}

	total, err := repo.CountPersons(ctx)
	if err != nil {
		return nil, err
	}

	covs, err := covariate.Apply(ctx, persons, req.Covariates, repo)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("schema", schema).
		Int("cohort_size", len(persons)).
		Int64("database_size", total).
		Strs("covariates", covariate.Columns(req.Covariates)).
		Msg("cohort resolved")

	return &prepared{
		repo:         repo,
		cohortSize:   int64(len(persons)),
		databaseSize: total,
		covariates:   covs,
	}, nil
}

// resolvePersons returns the distinct person IDs of the cohort. An empty
// cohort is an error.
func resolvePersons(ctx context.Context, repo cdm.Repository, req Request) ([]int64, error) {
	if req.CohortDefinitionID != nil {
		id := *req.CohortDefinitionID
		if id <= 0 {
			return nil, cdm.InvalidArgument("cohort_definition_id must be a positive integer, got %d", id)
		}
		persons, err := repo.CohortPersons(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(persons) == 0 {
			return nil, cdm.InvalidArgument("cohort_definition_id %d matched no persons", id)
		}
		return persons, nil
	}

	if !req.Cohort.HasColumn(table.PersonID) {
		return nil, cdm.InvalidArgument("cohort table must have a %s column", table.PersonID)
	}
	persons, err := req.Cohort.DistinctInt64(table.PersonID)
	if err != nil {
		return nil, err
	}
	if len(persons) == 0 {
		return nil, cdm.InvalidArgument("cohort table has no person IDs")
	}
	return persons, nil
}

// CreateIndividualProfiles profiles the cohort by each covariate on its own.
// The result is keyed by covariate name without the "_concept_id" suffix.
func (s *Service) CreateIndividualProfiles(ctx context.Context, req Request) (map[string]*table.Table, error) {
	if len(req.Covariates) == 0 {
		return nil, cdm.InvalidArgument("individual profiles need at least one covariate")
	}
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*table.Table, len(req.Covariates))
	for _, col := range covariate.Columns(req.Covariates) {
		grouped, err := p.covariates.GroupCount([]string{col}, ColCohortNumerator)
		if err != nil {
			return nil, err
		}
		names, err := categoryNames(ctx, p.repo, grouped, col)
		if err != nil {
			return nil, err
		}

		prof := table.New(append([]string{ColCategory}, statColumns...)...)
		for _, row := range grouped.Rows {
			n, _ := table.AsInt64(row[1])
			prof.Append(append([]interface{}{categoryOf(row[0], names)}, p.stats(n)...)...)
		}
		catIdx := prof.Index(ColCategory)
		prof.SortStable(func(a, b []interface{}) bool {
			return a[catIdx].(string) < b[catIdx].(string)
		})
		out[CovariateName(col)] = prof
	}
	return out, nil
}

// CreateCartesianProfiles profiles the cohort by every observed combination
// of the covariates. Category columns come in reverse covariate order and
// rows are sorted by the untranslated values.
func (s *Service) CreateCartesianProfiles(ctx context.Context, req Request) (*table.Table, error) {
	if len(req.Covariates) < 2 {
		return nil, cdm.InvalidArgument("cartesian profiles need at least two covariates, got %d", len(req.Covariates))
	}
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	cols := covariate.Columns(req.Covariates)
	for i, j := 0, len(cols)-1; i < j; i, j = i+1, j-1 {
		cols[i], cols[j] = cols[j], cols[i]
	}

	grouped, err := p.covariates.GroupCount(cols, ColCohortNumerator)
	if err != nil {
		return nil, err
	}
	grouped.SortStable(func(a, b []interface{}) bool {
		for i := range cols {
			if c := table.Compare(a[i], b[i]); c != 0 {
				return c < 0
			}
		}
		return false
	})

	names := make([]map[int64]string, len(cols))
	header := make([]string, 0, len(cols)+len(statColumns))
	for i, col := range cols {
		names[i], err = categoryNames(ctx, p.repo, grouped, col)
		if err != nil {
			return nil, err
		}
		header = append(header, CovariateName(col))
	}

	out := table.New(append(header, statColumns...)...)
	for _, row := range grouped.Rows {
		vals := make([]interface{}, 0, len(out.Columns))
		for i := range cols {
			vals = append(vals, categoryOf(row[i], names[i]))
		}
		n, _ := table.AsInt64(row[len(cols)])
		out.Append(append(vals, p.stats(n)...)...)
	}
	return out, nil
}

// CovariateName strips the "_concept_id" suffix from a covariate column.
func CovariateName(column string) string {
	return strings.TrimSuffix(column, "_concept_id")
}

func (p *prepared) stats(numerator int64) []interface{} {
	return []interface{}{
		numerator,
		p.cohortSize,
		p.databaseSize,
		percent(numerator, p.cohortSize),
		percent(numerator, p.databaseSize),
	}
}

// categoryNames looks up concept names for the integer values of column.
func categoryNames(ctx context.Context, repo cdm.Repository, t *table.Table, column string) (map[int64]string, error) {
	if column == table.PersonID {
		return nil, nil
	}
	values, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	seen := map[int64]bool{}
	var ids []int64
	for _, v := range values {
		if !table.IsInteger(v) {
			continue
		}
		id, _ := table.AsInt64(v)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return repo.ConceptNames(ctx, ids)
}

func categoryOf(v interface{}, names map[int64]string) string {
	if v == nil {
		return UnknownCategory
	}
	if table.IsInteger(v) {
		id, _ := table.AsInt64(v)
		if name, ok := names[id]; ok {
			return name
		}
		return strconv.FormatInt(id, 10)
	}
	return table.String(v)
}

func percent(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	r, err := stats.Round(100*float64(num)/float64(den), 2)
	if err != nil {
		return 0
	}
	return r
}
