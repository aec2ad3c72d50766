package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/covariate"
	"github.com/cdm/feasibility/internal/feasibility"
	"github.com/cdm/feasibility/internal/profile"
	"github.com/cdm/feasibility/internal/table"
)

type appOpener func(ctx context.Context) (*app, error)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func tableJSON(t *table.Table) profile.TableResponse {
	return profile.TableResponse{Columns: t.Columns, Rows: t.Records()}
}

// analysisCmds returns the concept-set commands: distribution, summary,
// breakdown and report.
func analysisCmds(open appOpener) []*cobra.Command {
	type run func(ctx context.Context, svc *feasibility.Service, req feasibility.Request) (interface{}, error)

	defs := []struct {
		use, short string
		run        run
	}{
		{"distribution", "Per-domain concept distribution, optionally stratified by covariates",
			func(ctx context.Context, svc *feasibility.Service, req feasibility.Request) (interface{}, error) {
				t, err := svc.AnalyzeConceptDistribution(ctx, req)
				if err != nil {
					return nil, err
				}
				return feasibility.DistributionResponse{Columns: t.Columns, Rows: t.Records()}, nil
			}},
		{"summary", "Population-level feasibility metrics for a concept set",
			func(ctx context.Context, svc *feasibility.Service, req feasibility.Request) (interface{}, error) {
				return svc.GenerateSummary(ctx, req)
			}},
		{"breakdown", "Per-domain feasibility metrics for a concept set",
			func(ctx context.Context, svc *feasibility.Service, req feasibility.Request) (interface{}, error) {
				return svc.GenerateDomainBreakdown(ctx, req)
			}},
		{"report", "Summary and per-domain breakdown in one document",
			func(ctx context.Context, svc *feasibility.Service, req feasibility.Request) (interface{}, error) {
				return svc.GenerateFeasibilityReport(ctx, req)
			}},
	}

	cmds := make([]*cobra.Command, 0, len(defs))
	for _, def := range defs {
		var (
			concepts   []int64
			covariates []string
			schema     string
			raw        bool
		)
		cmd := &cobra.Command{
			Use:   def.use,
			Short: def.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				covs, err := covariate.LookupAll(covariates)
				if err != nil {
					return err
				}
				a, err := open(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				out, err := def.run(cmd.Context(), a.feasibility, feasibility.Request{
					ConceptIDs: concepts,
					Covariates: covs,
					Schema:     schema,
					RawValues:  raw,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), out)
			},
		}
		cmd.Flags().Int64SliceVar(&concepts, "concepts", nil, "Concept IDs to analyze (comma separated)")
		cmd.Flags().StringSliceVar(&covariates, "covariates", nil, "Covariates: "+fmt.Sprint(covariate.Names()))
		cmd.Flags().StringVar(&schema, "schema", "", "CDM schema (defaults to CDM_SCHEMA)")
		cmd.Flags().BoolVar(&raw, "raw", false, "Emit numeric values instead of formatted strings")
		cmds = append(cmds, cmd)
	}
	return cmds
}

func profileCmd(open appOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Demographic profiles of a cohort",
	}

	var (
		cohortID   int64
		personIDs  []int64
		covariates []string
		schema     string
	)
	request := func(cmd *cobra.Command) (profile.Request, error) {
		covs, err := covariate.LookupAll(covariates)
		if err != nil {
			return profile.Request{}, err
		}
		req := profile.Request{Covariates: covs, Schema: schema}
		if cmd.Flags().Changed("cohort-id") {
			id := cohortID
			req.CohortDefinitionID = &id
		}
		if cmd.Flags().Changed("person-ids") {
			req.Cohort = table.FromPersonIDs(personIDs)
		}
		return req, nil
	}

	individual := &cobra.Command{
		Use:   "individual",
		Short: "One frequency table per covariate",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := request(cmd)
			if err != nil {
				return err
			}
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			profiles, err := a.profiles.CreateIndividualProfiles(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := make(map[string]profile.TableResponse, len(profiles))
			for name, t := range profiles {
				out[name] = tableJSON(t)
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cartesian := &cobra.Command{
		Use:   "cartesian",
		Short: "Joint frequency table over all covariates",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := request(cmd)
			if err != nil {
				return err
			}
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.profiles.CreateCartesianProfiles(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tableJSON(t))
		},
	}

	for _, sub := range []*cobra.Command{individual, cartesian} {
		sub.Flags().Int64Var(&cohortID, "cohort-id", 0, "cohort_definition_id in the cohort table")
		sub.Flags().Int64SliceVar(&personIDs, "person-ids", nil, "Explicit cohort members (comma separated)")
		sub.Flags().StringSliceVar(&covariates, "covariates", nil, "Covariates: "+fmt.Sprint(covariate.Names()))
		sub.Flags().StringVar(&schema, "schema", "", "CDM schema (defaults to CDM_SCHEMA)")
		cmd.AddCommand(sub)
	}
	return cmd
}

func catalogCmd() *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the domain to table routing of a CDM version",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := cdm.LoadCatalog(version)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"cdm_version": catalog.Version(),
				"domains":     catalog.Routes(),
				"tables":      catalog.Tables(),
			})
		},
	}
	cmd.Flags().StringVar(&version, "cdm-version", cdm.DefaultVersion, "CDM version: "+fmt.Sprint(cdm.SupportedVersions()))
	return cmd
}
