package feasibility

import (
	"context"
	"sort"

	"github.com/cdm/feasibility/internal/cdm"
)

// ConceptReader is the slice of the repository the classifier needs.
type ConceptReader interface {
	Concepts(ctx context.Context, ids []int64) ([]cdm.Concept, error)
}

// ConceptsByDomain maps a domain_id to the sorted concept IDs it holds.
type ConceptsByDomain map[string][]int64

// Domains returns the domain keys in sorted order.
func (c ConceptsByDomain) Domains() []string {
	out := make([]string, 0, len(c))
	for d := range c {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Classify partitions ids by domain with a single metadata lookup. IDs absent
// from the concept table are dropped. An empty input yields an empty mapping
// without touching the database.
func Classify(ctx context.Context, r ConceptReader, ids []int64) (ConceptsByDomain, error) {
	out := ConceptsByDomain{}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return out, nil
	}

	concepts, err := r.Concepts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range concepts {
		out[c.DomainID] = append(out[c.DomainID], c.ID)
	}
	for d := range out {
		sort.Slice(out[d], func(i, j int) bool { return out[d][i] < out[d][j] })
	}
	return out, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
