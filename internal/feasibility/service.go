// Package feasibility routes concept sets to their OMOP domains and reports
// how many patients and records match them.
package feasibility

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/covariate"
)

// DefaultSchema is used when neither the request nor the options name one.
const DefaultSchema = "main"

// Request carries the inputs shared by every analysis entry point.
type Request struct {
	ConceptIDs []int64
	Covariates []covariate.Func
	// Schema overrides the service default when set.
	Schema string
	// RawValues returns numbers instead of formatted strings in report rows.
	RawValues bool
}

// Options configures a Service.
type Options struct {
	DefaultSchema string
	// Workers bounds how many domains are queried concurrently.
	Workers int
}

// Service runs the concept distribution and feasibility analyses.
type Service struct {
	repos   cdm.RepositoryFactory
	builder *QueryBuilder
	logger  zerolog.Logger
	schema  string
	workers int
}

// NewService creates a feasibility service.
func NewService(repos cdm.RepositoryFactory, catalog *cdm.Catalog, logger zerolog.Logger, opts Options) *Service {
	if opts.DefaultSchema == "" {
		opts.DefaultSchema = DefaultSchema
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Service{
		repos:   repos,
		builder: NewQueryBuilder(catalog),
		logger:  logger.With().Str("component", "feasibility").Logger(),
		schema:  opts.DefaultSchema,
		workers: opts.Workers,
	}
}

// prepare validates the request and binds a repository to its schema.
func (s *Service) prepare(req Request) (cdm.Repository, error) {
	if len(req.ConceptIDs) == 0 {
		return nil, cdm.InvalidArgument("concept_set cannot be empty")
	}
	if err := covariate.Validate(req.Covariates); err != nil {
		return nil, err
	}
	schema := req.Schema
	if schema == "" {
		schema = s.schema
	}
	return s.repos(schema)
}

// domainTask is the per-domain unit of work. Its error skips the domain.
type domainTask func(ctx context.Context, i int, dc cdm.DomainContext, conceptIDs []int64) error

// eachDomain resolves every classified domain and runs task on it with at
// most s.workers in flight. A failing domain is logged and skipped; only
// cancellation of ctx aborts the batch. Results are expected to be written
// by index so the caller can reduce them in domain order.
func (s *Service) eachDomain(ctx context.Context, repo cdm.Repository, byDomain ConceptsByDomain, task domainTask) error {
	tables, err := repo.Tables(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, domain := range byDomain.Domains() {
		i, domain := i, domain
		ids := byDomain[domain]
		g.Go(func() error {
			err := func() error {
				dc, err := s.builder.BuildContext(domain, repo.Schema(), tables)
				if err != nil {
					return err
				}
				return task(gctx, i, dc, ids)
			}()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn().
					Str("domain", domain).
					Str("schema", repo.Schema()).
					Err(err).
					Msg("skipping domain")
			}
			return nil
		})
	}

	return g.Wait()
}
