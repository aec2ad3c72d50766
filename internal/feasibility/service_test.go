package feasibility

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/cdm/cdmtest"
	"github.com/cdm/feasibility/internal/covariate"
	"github.com/cdm/feasibility/internal/table"
)

const (
	t2dm         int64 = 201826
	hypertension int64 = 320128
	metformin    int64 = 1503297
	hba1c        int64 = 3004410
	unknownID    int64 = 999999999
)

// newFixture builds a ten-person schema. Condition and Drug facts exist;
// the measurement table is absent so Measurement concepts classify but
// their domain is skipped.
func newFixture() *cdmtest.Repository {
	repo := cdmtest.New("main")
	for id := int64(1); id <= 10; id++ {
		gender := int64(8507)
		if id%2 == 0 {
			gender = 8532
		}
		repo.AddPerson(id, map[string]interface{}{
			"gender_concept_id": gender,
			"year_of_birth":     int64(1950 + id),
		})
	}
	repo.AddConcept(t2dm, "Type 2 diabetes mellitus", "Condition")
	repo.AddConcept(hypertension, "Essential hypertension", "Condition")
	repo.AddConcept(metformin, "metformin", "Drug")
	repo.AddConcept(hba1c, "Hemoglobin A1c", "Measurement")
	repo.AddConcept(8507, "MALE", "Gender")
	repo.AddConcept(8532, "FEMALE", "Gender")

	repo.AddFacts("condition_occurrence",
		cdmtest.Fact{PersonID: 1, ConceptID: t2dm},
		cdmtest.Fact{PersonID: 1, ConceptID: t2dm},
		cdmtest.Fact{PersonID: 2, ConceptID: t2dm},
		cdmtest.Fact{PersonID: 3, ConceptID: hypertension},
	)
	repo.AddFacts("drug_exposure",
		cdmtest.Fact{PersonID: 1, ConceptID: metformin},
		cdmtest.Fact{PersonID: 4, ConceptID: metformin},
	)
	return repo
}

func newTestService(repo *cdmtest.Repository) *Service {
	catalog := cdm.MustLoadCatalog(cdm.DefaultVersion)
	return NewService(repo.Factory(), catalog, zerolog.Nop(), Options{Workers: 2})
}

func allConcepts() []int64 {
	return []int64{t2dm, hypertension, metformin, hba1c, unknownID}
}

func TestClassify(t *testing.T) {
	repo := newFixture()

	got, err := Classify(context.Background(), repo, []int64{metformin, t2dm, unknownID, hypertension, t2dm})
	require.NoError(t, err)
	assert.Equal(t, ConceptsByDomain{
		"Condition": {t2dm, hypertension},
		"Drug":      {metformin},
	}, got)
	assert.Equal(t, []string{"Condition", "Drug"}, got.Domains())
}

func TestClassify_EmptyInputSkipsLookup(t *testing.T) {
	repo := newFixture()

	got, err := Classify(context.Background(), repo, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, repo.CallCount("Concepts"))
}

func TestClassify_AllUnknown(t *testing.T) {
	got, err := Classify(context.Background(), newFixture(), []int64{unknownID, unknownID + 1})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryBuilder_BuildContext(t *testing.T) {
	b := NewQueryBuilder(cdm.MustLoadCatalog(cdm.DefaultVersion))
	tables := map[string]bool{"condition_occurrence": true, "concept": true, "person": true}

	dc, err := b.BuildContext("Condition", "main", tables)
	require.NoError(t, err)
	assert.Equal(t, cdm.DomainContext{
		Domain:        "Condition",
		Table:         "condition_occurrence",
		ConceptColumn: "condition_concept_id",
		ConceptTable:  "concept",
	}, dc)

	dc, err = b.BuildContext("Gender", "main", tables)
	require.NoError(t, err)
	assert.Equal(t, "person", dc.Table)
	assert.Equal(t, "gender_concept_id", dc.ConceptColumn)
}

func TestQueryBuilder_MissingTable(t *testing.T) {
	b := NewQueryBuilder(cdm.MustLoadCatalog(cdm.DefaultVersion))

	_, err := b.BuildContext("Measurement", "main", map[string]bool{"concept": true})
	var notFound *cdm.TableNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "measurement", notFound.Table)
	assert.Equal(t, "main", notFound.Schema)

	_, err = b.BuildContext("Drug", "main", map[string]bool{"drug_exposure": true})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "concept", notFound.Table)
}

func TestQueryBuilder_MissingConceptColumn(t *testing.T) {
	catalog, err := cdm.ParseCatalog([]byte(`version: "test"
tables:
  - name: condition_occurrence
    columns: [condition_occurrence_id, person_id, condition_source_value]
`))
	require.NoError(t, err)
	b := NewQueryBuilder(catalog)

	_, err = b.BuildContext("Condition", "main", map[string]bool{"condition_occurrence": true, "concept": true})
	require.ErrorIs(t, err, cdm.ErrNotFound)
	assert.Contains(t, err.Error(), "condition_concept_id")
}

func TestQueryBuilder_UnknownDomain(t *testing.T) {
	b := NewQueryBuilder(cdm.MustLoadCatalog(cdm.DefaultVersion))

	_, err := b.BuildContext("Metadata", "main", map[string]bool{"metadata_occurrence": true, "concept": true})
	var unknown *cdm.UnknownDomainError
	require.ErrorAs(t, err, &unknown)
	assert.True(t, errors.Is(err, cdm.ErrNotFound))
}

func TestAnalyzeConceptDistribution_EmptyConceptSet(t *testing.T) {
	svc := newTestService(newFixture())

	_, err := svc.AnalyzeConceptDistribution(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cdm.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "concept_set cannot be empty")
}

func TestAnalyzeConceptDistribution_UnknownConcepts(t *testing.T) {
	svc := newTestService(newFixture())

	out, err := svc.AnalyzeConceptDistribution(context.Background(), Request{ConceptIDs: []int64{unknownID}})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, []string{"concept_id", "concept_name", "domain", "count"}, out.Columns)
}

func TestAnalyzeConceptDistribution_SortedByCount(t *testing.T) {
	svc := newTestService(newFixture())

	out, err := svc.AnalyzeConceptDistribution(context.Background(), Request{ConceptIDs: allConcepts()})
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())

	assert.Equal(t, []interface{}{t2dm, "Type 2 diabetes mellitus", "Condition", int64(3)}, out.Rows[0])
	assert.Equal(t, []interface{}{metformin, "metformin", "Drug", int64(2)}, out.Rows[1])
	assert.Equal(t, []interface{}{hypertension, "Essential hypertension", "Condition", int64(1)}, out.Rows[2])
}

func TestAnalyzeConceptDistribution_Covariates(t *testing.T) {
	svc := newTestService(newFixture())

	out, err := svc.AnalyzeConceptDistribution(context.Background(), Request{
		ConceptIDs: []int64{t2dm, metformin},
		Covariates: []covariate.Func{covariate.Gender},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"concept_id", "concept_name", "domain", "count", "gender_concept_id"}, out.Columns)
	require.Equal(t, 4, out.Len())

	// Person 1 holds two t2dm rows and is male.
	assert.Equal(t, []interface{}{t2dm, "Type 2 diabetes mellitus", "Condition", int64(2), int64(8507)}, out.Rows[0])

	var total int64
	for i := range out.Rows {
		n, ok := table.AsInt64(out.Value(i, "count"))
		require.True(t, ok)
		assert.GreaterOrEqual(t, n, int64(1))
		total += n
	}
	assert.Equal(t, int64(5), total)
}

func TestAnalyzeConceptDistribution_TiesOrderedByDomainAndConcept(t *testing.T) {
	repo := cdmtest.New("main")
	for id := int64(1); id <= 3; id++ {
		repo.AddPerson(id, nil)
	}
	repo.AddConcept(t2dm, "Type 2 diabetes mellitus", "Condition")
	repo.AddConcept(hypertension, "Essential hypertension", "Condition")
	repo.AddConcept(metformin, "metformin", "Drug")
	repo.AddFacts("drug_exposure", cdmtest.Fact{PersonID: 1, ConceptID: metformin})
	repo.AddFacts("condition_occurrence",
		cdmtest.Fact{PersonID: 2, ConceptID: hypertension},
		cdmtest.Fact{PersonID: 3, ConceptID: t2dm},
	)
	svc := newTestService(repo)

	out, err := svc.AnalyzeConceptDistribution(context.Background(), Request{ConceptIDs: []int64{metformin, hypertension, t2dm}})
	require.NoError(t, err)
	ids, err := out.Column("concept_id")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{t2dm, hypertension, metformin}, ids)
}

func TestAnalyzeConceptDistribution_RejectsDuplicateCovariates(t *testing.T) {
	repo := newFixture()
	svc := newTestService(repo)

	_, err := svc.AnalyzeConceptDistribution(context.Background(), Request{
		ConceptIDs: []int64{t2dm, metformin},
		Covariates: []covariate.Func{covariate.Gender, covariate.Gender},
	})
	require.ErrorIs(t, err, cdm.ErrInvalidArgument)
	assert.Contains(t, err.Error(), `duplicate covariate "gender_concept_id"`)
	assert.Zero(t, repo.CallCount("Concepts"))

	_, err = svc.GenerateSummary(context.Background(), Request{
		ConceptIDs: []int64{t2dm},
		Covariates: []covariate.Func{covariate.Race, covariate.Race},
	})
	assert.ErrorIs(t, err, cdm.ErrInvalidArgument)
}

func TestAnalyzeConceptDistribution_SkipsFailingDomain(t *testing.T) {
	repo := newFixture()
	repo.Fail["DomainRecords"] = "drug_exposure"
	svc := newTestService(repo)

	out, err := svc.AnalyzeConceptDistribution(context.Background(), Request{ConceptIDs: allConcepts()})
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	for i := range out.Rows {
		assert.Equal(t, "Condition", out.Value(i, "domain"))
	}
}

func TestAnalyzeConceptDistribution_Idempotent(t *testing.T) {
	svc := newTestService(newFixture())
	req := Request{ConceptIDs: allConcepts(), Covariates: []covariate.Func{covariate.Gender}}

	first, err := svc.AnalyzeConceptDistribution(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.AnalyzeConceptDistribution(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnalyzeConceptDistribution_UsesRequestSchema(t *testing.T) {
	repo := newFixture()
	svc := newTestService(repo)

	_, err := svc.AnalyzeConceptDistribution(context.Background(), Request{ConceptIDs: []int64{t2dm}, Schema: "cdm_synpuf"})
	require.NoError(t, err)
	assert.Equal(t, "cdm_synpuf", repo.Schema())

	_, err = svc.AnalyzeConceptDistribution(context.Background(), Request{ConceptIDs: []int64{t2dm}})
	require.NoError(t, err)
	assert.Equal(t, DefaultSchema, repo.Schema())
}

func TestEachDomain_CancelledContextAborts(t *testing.T) {
	repo := newFixture()
	repo.Fail["DomainCounts"] = ""
	svc := newTestService(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GenerateSummary(ctx, Request{ConceptIDs: allConcepts()})
	assert.ErrorIs(t, err, context.Canceled)
}
