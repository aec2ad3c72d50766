package covariate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/table"
)

type mockPersonReader struct {
	persons map[int64]map[string]interface{}
	calls   []string
	err     error
}

func newMockPersonReader() *mockPersonReader {
	return &mockPersonReader{persons: map[int64]map[string]interface{}{
		1: {"gender_concept_id": int64(8507), "race_concept_id": int64(8527), "ethnicity_concept_id": int64(38003564), "year_of_birth": int64(1950)},
		2: {"gender_concept_id": int64(8532), "race_concept_id": int64(8516), "ethnicity_concept_id": int64(38003564), "year_of_birth": int64(1985)},
		3: {"gender_concept_id": int64(8532), "race_concept_id": int64(8527), "ethnicity_concept_id": int64(38003563), "year_of_birth": int64(1900)},
	}}
}

func (m *mockPersonReader) PersonAttribute(_ context.Context, column string, ids []int64) (map[int64]interface{}, error) {
	m.calls = append(m.calls, column)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[int64]interface{})
	for _, id := range ids {
		if p, ok := m.persons[id]; ok {
			out[id] = p[column]
		}
	}
	return out, nil
}

func TestApply_NoFuncsIsIdentity(t *testing.T) {
	got, err := Apply(context.Background(), []int64{1, 2}, nil, newMockPersonReader())
	require.NoError(t, err)
	assert.Equal(t, []string{"person_id"}, got.Columns)
	assert.Equal(t, 2, got.Len())
}

func TestApply_FoldsInOrder(t *testing.T) {
	r := newMockPersonReader()
	got, err := Apply(context.Background(), []int64{1, 2, 3}, []Func{Race, Gender}, r)
	require.NoError(t, err)

	assert.Equal(t, []string{"person_id", "race_concept_id", "gender_concept_id"}, got.Columns)
	assert.Equal(t, []string{"race_concept_id", "gender_concept_id"}, r.calls)
	assert.Equal(t, int64(8516), got.Value(1, "race_concept_id"))
	assert.Equal(t, int64(8532), got.Value(1, "gender_concept_id"))
}

func TestApply_UnknownPersonGetsNil(t *testing.T) {
	got, err := Apply(context.Background(), []int64{1, 99}, []Func{Gender}, newMockPersonReader())
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.Nil(t, got.Value(1, "gender_concept_id"))
}

func TestApply_PropagatesReaderError(t *testing.T) {
	r := newMockPersonReader()
	r.err = errors.New("connection reset")
	_, err := Apply(context.Background(), []int64{1}, []Func{Ethnicity}, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ethnicity_concept_id")
}

func TestAgeGroup_Buckets(t *testing.T) {
	ag := &AgeGroup{Bands: DefaultBands(), ReferenceYear: 2020}
	got, err := Apply(context.Background(), []int64{1, 2, 3}, []Func{ag}, newMockPersonReader())
	require.NoError(t, err)

	assert.Equal(t, "70 - 79", got.Value(0, "age_group"))
	assert.Equal(t, "30 - 39", got.Value(1, "age_group"))
	assert.Nil(t, got.Value(2, "age_group"), "age 120 falls outside every band")
}

func TestDefaultBands(t *testing.T) {
	bands := DefaultBands()
	require.Len(t, bands, 9)
	assert.Equal(t, "0 - 9", bands[0].Label())
	assert.Equal(t, "80 - 89", bands[8].Label())
}

func TestLookup(t *testing.T) {
	f, err := Lookup("Gender")
	require.NoError(t, err)
	assert.Equal(t, "gender_concept_id", f.Column())

	f, err = Lookup("race_concept_id")
	require.NoError(t, err)
	assert.Equal(t, "race_concept_id", f.Column())

	f, err = Lookup("age_group")
	require.NoError(t, err)
	assert.Equal(t, "age_group", f.Column())

	_, err = Lookup("income")
	assert.ErrorIs(t, err, cdm.ErrInvalidArgument)
}

func TestLookupAll_KeepsOrder(t *testing.T) {
	funcs, err := LookupAll([]string{"race", "gender"})
	require.NoError(t, err)
	assert.Equal(t, []string{"race_concept_id", "gender_concept_id"}, Columns(funcs))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"age_group", "ethnicity", "gender", "race"}, Names())
}

func TestPersonColumn_RequiresPersonID(t *testing.T) {
	in := table.New("subject_id")
	in.Append(int64(1))
	_, err := Gender.Apply(context.Background(), in, newMockPersonReader())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate([]Func{Gender, Race, NewAgeGroup()}))

	err := Validate([]Func{Gender, Race, Gender})
	require.ErrorIs(t, err, cdm.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "gender_concept_id")

	assert.ErrorIs(t, Validate([]Func{PersonColumn{Name: table.PersonID}}), cdm.ErrInvalidArgument)
}
