package covariate

import (
	"context"
	"fmt"
	"time"

	"github.com/cdm/feasibility/internal/table"
)

// Band is an inclusive age range.
type Band struct {
	Min int
	Max int
}

// Label renders the band as "min - max".
func (b Band) Label() string {
	return fmt.Sprintf("%d - %d", b.Min, b.Max)
}

// DefaultBands are the decade bands 0 - 9 through 80 - 89.
func DefaultBands() []Band {
	bands := make([]Band, 0, 9)
	for lo := 0; lo <= 80; lo += 10 {
		bands = append(bands, Band{Min: lo, Max: lo + 9})
	}
	return bands
}

// AgeGroup buckets year_of_birth into age bands relative to ReferenceYear.
// Persons outside every band, or without a birth year, get nil.
type AgeGroup struct {
	Bands         []Band
	ReferenceYear int
}

// NewAgeGroup uses the default bands and the current year.
func NewAgeGroup() *AgeGroup {
	return &AgeGroup{Bands: DefaultBands(), ReferenceYear: time.Now().Year()}
}

func (a *AgeGroup) Column() string { return "age_group" }

func (a *AgeGroup) Apply(ctx context.Context, in *table.Table, r PersonReader) (*table.Table, error) {
	ids, err := in.DistinctInt64(table.PersonID)
	if err != nil {
		return nil, err
	}
	births, err := r.PersonAttribute(ctx, "year_of_birth", ids)
	if err != nil {
		return nil, err
	}

	groups := make(map[int64]interface{}, len(births))
	for id, v := range births {
		yob, ok := table.AsInt64(v)
		if !ok {
			continue
		}
		if label, ok := a.bucket(a.ReferenceYear - int(yob)); ok {
			groups[id] = label
		}
	}
	return joinAttribute(in, a.Column(), groups)
}

func (a *AgeGroup) bucket(age int) (string, bool) {
	for _, b := range a.Bands {
		if age >= b.Min && age <= b.Max {
			return b.Label(), true
		}
	}
	return "", false
}
