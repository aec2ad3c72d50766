package profile

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cdm/feasibility/internal/covariate"
	"github.com/cdm/feasibility/internal/feasibility"
	"github.com/cdm/feasibility/internal/platform/auth"
	"github.com/cdm/feasibility/internal/platform/db"
	"github.com/cdm/feasibility/internal/table"
)

// ProfileRequest is the JSON body of the profile endpoints. Set either
// cohort_definition_id or person_ids.
type ProfileRequest struct {
	CohortDefinitionID *int64   `json:"cohort_definition_id,omitempty"`
	PersonIDs          []int64  `json:"person_ids,omitempty"`
	Covariates         []string `json:"covariates"`
}

// TableResponse is the JSON shape of one profile table.
type TableResponse struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}

func toResponse(t *table.Table) TableResponse {
	return TableResponse{Columns: t.Columns, Rows: t.Records()}
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/profiles", auth.RequireRole("admin", "analyst"))
	g.POST("/individual", h.Individual)
	g.POST("/cartesian", h.Cartesian)
}

func (h *Handler) bind(c echo.Context) (Request, error) {
	var body ProfileRequest
	if err := c.Bind(&body); err != nil {
		return Request{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	covs, err := covariate.LookupAll(body.Covariates)
	if err != nil {
		return Request{}, feasibility.HTTPError(err)
	}
	req := Request{
		CohortDefinitionID: body.CohortDefinitionID,
		Covariates:         covs,
		Schema:             db.SchemaFromContext(c.Request().Context()),
	}
	if body.PersonIDs != nil {
		req.Cohort = table.FromPersonIDs(body.PersonIDs)
	}
	return req, nil
}

func (h *Handler) Individual(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	profiles, err := h.svc.CreateIndividualProfiles(c.Request().Context(), req)
	if err != nil {
		return feasibility.HTTPError(err)
	}
	out := make(map[string]TableResponse, len(profiles))
	for name, t := range profiles {
		out[name] = toResponse(t)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Cartesian(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	t, err := h.svc.CreateCartesianProfiles(c.Request().Context(), req)
	if err != nil {
		return feasibility.HTTPError(err)
	}
	return c.JSON(http.StatusOK, toResponse(t))
}
