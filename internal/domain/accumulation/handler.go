package accumulation

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memberhealth/benefits/internal/platform/auth"
	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/internal/platform/filestore"
	"github.com/memberhealth/benefits/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/accumulation", auth.RequireRole(auth.RoleOps))
	g.GET("/payers", h.ListPayers)
	g.GET("/reports", h.ListReports)
	g.POST("/reports", h.GenerateReport)
	g.GET("/reports/:id", h.GetReport)
	g.GET("/reports/:id/file", h.DownloadReport)
	g.GET("/mappings", h.ListMappings)
	g.GET("/mappings/:id", h.GetMapping)
	g.POST("/mappings/:id/skip", h.SkipMapping)
	g.POST("/mappings/:id/retry", h.RetryMapping)
	g.POST("/mappings/:id/reverse", h.ReverseMapping)
	g.POST("/responses", h.IngestResponse)
	g.POST("/ytd-files", h.IngestAccumulations)
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, filestore.ErrObjectNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownPayer):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidMappingState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) ListPayers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"payers": Payers()})
}

// -- Reports --

func (h *Handler) ListReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReports(c.Request().Context(), c.QueryParam("payer"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetReport(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DownloadReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rc, report, err := h.svc.ReportFile(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename))
	return c.Stream(http.StatusOK, "text/plain", rc)
}

type generateRequest struct {
	Payer      string `json:"payer"`
	ReportDate string `json:"report_date"`
}

// GenerateReport handles POST /accumulation/reports. report_date defaults to
// today (YYYY-MM-DD).
func (h *Handler) GenerateReport(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Payer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "payer is required")
	}
	date := h.svc.now()
	if req.ReportDate != "" {
		d, err := time.Parse("2006-01-02", req.ReportDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "report_date must be YYYY-MM-DD")
		}
		date = d
	}
	report, err := h.svc.Generate(c.Request().Context(), req.Payer, date)
	if err != nil {
		if report != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return httpError(err)
	}
	if report == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusCreated, report)
}

// -- Mappings --

func (h *Handler) ListMappings(c echo.Context) error {
	f := MappingFilter{Payer: c.QueryParam("payer"), Status: c.QueryParam("status")}
	for param, dst := range map[string]*uuid.UUID{"member_id": &f.MemberID, "report_id": &f.ReportID} {
		raw := c.QueryParam(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
		}
		*dst = id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMappings(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetMapping(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMapping(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) SkipMapping(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.SkipMapping(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) RetryMapping(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.RetryMapping(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ReverseMapping(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.ReverseMapping(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

// -- Payer files --

// IngestResponse handles POST /accumulation/responses?payer=...; the body is
// the payer's fixed-width response file.
func (h *Handler) IngestResponse(c echo.Context) error {
	payer := c.QueryParam("payer")
	if payer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "payer is required")
	}
	res, err := h.svc.IngestResponse(c.Request().Context(), payer, c.Request().Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) IngestAccumulations(c echo.Context) error {
	payer := c.QueryParam("payer")
	if payer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "payer is required")
	}
	res, err := h.svc.IngestAccumulations(c.Request().Context(), payer, c.Request().Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
