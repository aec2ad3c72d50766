package feasibility

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/covariate"
	"github.com/cdm/feasibility/internal/platform/auth"
	"github.com/cdm/feasibility/internal/platform/db"
)

// AnalysisRequest is the JSON body accepted by every analysis endpoint.
type AnalysisRequest struct {
	ConceptSet []int64  `json:"concept_set"`
	Covariates []string `json:"covariates,omitempty"`
	RawValues  bool     `json:"raw_values,omitempty"`
}

// DistributionResponse wraps the distribution table.
type DistributionResponse struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}

type Handler struct {
	svc     *Service
	catalog *cdm.Catalog
}

func NewHandler(svc *Service, catalog *cdm.Catalog) *Handler {
	return &Handler{svc: svc, catalog: catalog}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "analyst")

	analyses := api.Group("/feasibility", role)
	analyses.POST("/distribution", h.Distribution)
	analyses.POST("/summary", h.Summary)
	analyses.POST("/breakdown", h.Breakdown)
	analyses.POST("/report", h.Report)

	api.GET("/catalog/domains", h.Domains, role)
}

func (h *Handler) bind(c echo.Context) (Request, error) {
	var body AnalysisRequest
	if err := c.Bind(&body); err != nil {
		return Request{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	covs, err := covariate.LookupAll(body.Covariates)
	if err != nil {
		return Request{}, HTTPError(err)
	}
	return Request{
		ConceptIDs: body.ConceptSet,
		Covariates: covs,
		Schema:     db.SchemaFromContext(c.Request().Context()),
		RawValues:  body.RawValues,
	}, nil
}

func (h *Handler) Distribution(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	out, err := h.svc.AnalyzeConceptDistribution(c.Request().Context(), req)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, DistributionResponse{Columns: out.Columns, Rows: out.Records()})
}

func (h *Handler) Summary(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.GenerateSummary(c.Request().Context(), req)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) Breakdown(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.GenerateDomainBreakdown(c.Request().Context(), req)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) Report(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	report, err := h.svc.GenerateFeasibilityReport(c.Request().Context(), req)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// Domains lists the domain to table routing of the loaded CDM version.
func (h *Handler) Domains(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cdm_version": h.catalog.Version(),
		"domains":     h.catalog.Routes(),
	})
}

// HTTPError maps analysis errors onto HTTP statuses. Errors that are already
// *echo.HTTPError pass through.
func HTTPError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, cdm.ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, cdm.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "analysis failed").SetInternal(err)
}
