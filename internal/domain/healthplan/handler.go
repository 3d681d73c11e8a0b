package healthplan

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memberhealth/benefits/internal/domain/costbreakdown"
	"github.com/memberhealth/benefits/internal/platform/auth"
	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	ops := api.Group("", auth.RequireRole(auth.RoleOps))
	ops.GET("/employer-health-plans", h.ListEmployerPlans)
	ops.POST("/employer-health-plans", h.CreateEmployerPlan)
	ops.GET("/employer-health-plans/:id", h.GetEmployerPlan)
	ops.PUT("/employer-health-plans/:id", h.UpdateEmployerPlan)
	ops.DELETE("/employer-health-plans/:id", h.DeleteEmployerPlan)
	ops.POST("/member-health-plans", h.CreateMemberPlan)
	ops.PUT("/member-health-plans/:id", h.UpdateMemberPlan)
	ops.DELETE("/member-health-plans/:id", h.DeleteMemberPlan)
	ops.POST("/member-health-plans/:id/ytd-spend", h.UpsertYTDSpend)

	read := api.Group("", auth.RequireRole(auth.RoleOps, auth.RoleMember))
	read.GET("/member-health-plans", h.ListMemberPlans)
	read.GET("/member-health-plans/:id", h.GetMemberPlan)
	read.GET("/member-health-plans/:id/ytd-spend", h.GetYTDSpend)
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrInvalidPlan), errors.Is(err, costbreakdown.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrOverlappingPlan):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrNotFound), errors.Is(err, costbreakdown.ErrNoHealthPlan):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
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

// -- Employer plans --

func (h *Handler) CreateEmployerPlan(c echo.Context) error {
	var p EmployerHealthPlan
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateEmployerPlan(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetEmployerPlan(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetEmployerPlan(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "employer health plan not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateEmployerPlan(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p EmployerHealthPlan
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdateEmployerPlan(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteEmployerPlan(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteEmployerPlan(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListEmployerPlans(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEmployerPlans(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Member plans --

func (h *Handler) CreateMemberPlan(c echo.Context) error {
	var p MemberHealthPlan
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateMemberPlan(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetMemberPlan(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetMemberPlan(c.Request().Context(), id)
	if err != nil || !auth.CanAccessMember(c.Request().Context(), p.MemberID.String()) {
		return echo.NewHTTPError(http.StatusNotFound, "member health plan not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateMemberPlan(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p MemberHealthPlan
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdateMemberPlan(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteMemberPlan(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteMemberPlan(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ListMemberPlans handles GET /member-health-plans?member_id=...&active_at=RFC3339.
func (h *Handler) ListMemberPlans(c echo.Context) error {
	memberID, err := uuid.Parse(c.QueryParam("member_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "member_id is required")
	}
	ctx := c.Request().Context()
	if !auth.CanAccessMember(ctx, memberID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to view this member")
	}
	if raw := c.QueryParam("active_at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active_at")
		}
		p, err := h.svc.GetActivePlan(ctx, memberID, at)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, []*MemberHealthPlan{p})
	}
	items, err := h.svc.ListMemberPlans(ctx, memberID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// -- YTD spend --

type ytdResponse struct {
	Year    int                           `json:"year"`
	Records []*YTDSpend                   `json:"records"`
	Totals  costbreakdown.YearToDateSpend `json:"totals"`
}

func (h *Handler) GetYTDSpend(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	year := time.Now().Year()
	if raw := c.QueryParam("year"); raw != "" {
		if year, err = strconv.Atoi(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid year")
		}
	}
	spendType := c.QueryParam("type")
	if spendType != "" && !validSpendTypes[spendType] {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid type")
	}

	ctx := c.Request().Context()
	plan, err := h.svc.GetMemberPlan(ctx, id)
	if err != nil || !auth.CanAccessMember(ctx, plan.MemberID.String()) {
		return echo.NewHTTPError(http.StatusNotFound, "member health plan not found")
	}
	records, totals, err := h.svc.MemberYTD(ctx, id, year, spendType)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ytdResponse{Year: year, Records: records, Totals: totals})
}

func (h *Handler) UpsertYTDSpend(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	plan, err := h.svc.GetMemberPlan(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "member health plan not found")
	}
	var rec YTDSpend
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec.PolicyID = plan.SubscriberInsuranceID
	rec.MemberID = plan.MemberID
	if rec.Source == "" {
		rec.Source = SourcePayerFile
	}
	if err := h.svc.UpsertYTDSpend(ctx, &rec); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
