package appointments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	staff := api.Group("", auth.RequireRole(auth.RoleOps, auth.RolePractitioner))
	staff.POST("/products", h.CreateProduct)
	staff.POST("/products/:id/deactivate", h.DeactivateProduct)

	ops := api.Group("", auth.RequireRole(auth.RoleOps))
	ops.POST("/appointments/:id/dispute", h.Dispute)

	all := api.Group("", auth.RequireRole(auth.RoleOps, auth.RolePractitioner, auth.RoleMember))
	all.GET("/products", h.ListProducts)
	all.GET("/products/:id", h.GetProduct)
	all.POST("/appointments", h.Book)
	all.GET("/appointments", h.List)
	all.GET("/appointments/:id", h.Get)
	all.POST("/appointments/:id/cancel", h.Cancel)
	all.POST("/appointments/:id/connect", h.Connect)
	all.POST("/appointments/:id/complete", h.Complete)
}

// RegisterV2Routes mounts the read endpoints that return derived state.
func (h *Handler) RegisterV2Routes(api *echo.Group) {
	all := api.Group("", auth.RequireRole(auth.RoleOps, auth.RolePractitioner, auth.RoleMember))
	all.GET("/appointments", h.ListV2)
	all.GET("/appointments/:id", h.GetV2)
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState), errors.Is(err, ErrProductInactive):
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

// participant is who the caller acts as on an appointment. Practitioners act
// as the practitioner, everyone else as the member.
func participant(ctx context.Context) string {
	if auth.HasRole(ctx, auth.RolePractitioner) {
		return ByPractitioner
	}
	return ByMember
}

// accessible loads an appointment the caller may see. Other members'
// appointments look missing.
func (h *Handler) accessible(c echo.Context) (*Appointment, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	ctx := c.Request().Context()
	a, err := h.svc.GetAppointment(ctx, id)
	if err != nil || !auth.CanAccessMember(ctx, a.MemberID.String()) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return a, nil
}

// -- Products --

func (h *Handler) CreateProduct(c echo.Context) error {
	var p Product
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if !auth.HasRole(ctx, auth.RoleOps) {
		caller, err := uuid.Parse(auth.UserIDFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "practitioner identity required")
		}
		p.PractitionerID = caller
	}
	if err := h.svc.CreateProduct(ctx, &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProduct(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProduct(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// ListProducts handles GET /products?practitioner_id=...
func (h *Handler) ListProducts(c echo.Context) error {
	var practitionerID uuid.UUID
	if v := c.QueryParam("practitioner_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid practitioner_id")
		}
		practitionerID = id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListProducts(c.Request().Context(), practitionerID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeactivateProduct(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.DeactivateProduct(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Appointments --

type bookRequest struct {
	MemberID           uuid.UUID `json:"member_id"`
	ProductID          uuid.UUID `json:"product_id"`
	ScheduledStart     time.Time `json:"scheduled_start"`
	CancellationPolicy string    `json:"cancellation_policy"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if !auth.CanAccessMember(ctx, req.MemberID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to book for this member")
	}
	a, err := h.svc.Book(ctx, req.MemberID, req.ProductID, req.ScheduledStart, req.CancellationPolicy)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	a, err := h.accessible(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) listForMember(c echo.Context) ([]*Appointment, int, pagination.Params, error) {
	pg := pagination.FromContext(c)
	memberID, err := uuid.Parse(c.QueryParam("member_id"))
	if err != nil {
		return nil, 0, pg, echo.NewHTTPError(http.StatusBadRequest, "member_id is required")
	}
	ctx := c.Request().Context()
	if !auth.CanAccessMember(ctx, memberID.String()) {
		return nil, 0, pg, echo.NewHTTPError(http.StatusForbidden, "not allowed to view this member")
	}
	items, total, err := h.svc.ListByMember(ctx, memberID, pg.Limit, pg.Offset)
	if err != nil {
		return nil, 0, pg, httpError(err)
	}
	return items, total, pg, nil
}

// List handles GET /appointments?member_id=...
func (h *Handler) List(c echo.Context) error {
	items, total, pg, err := h.listForMember(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.act(c, h.svc.Cancel)
}

func (h *Handler) Connect(c echo.Context) error {
	return h.act(c, h.svc.Connect)
}

func (h *Handler) Complete(c echo.Context) error {
	return h.act(c, h.svc.Complete)
}

func (h *Handler) act(c echo.Context, fn func(context.Context, uuid.UUID, string) (*Appointment, error)) error {
	a, err := h.accessible(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	a, err = fn(ctx, a.ID, participant(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Dispute(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Dispute(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- v2 --

func (h *Handler) GetV2(c echo.Context) error {
	a, err := h.accessible(c)
	if err != nil {
		return err
	}
	v, err := h.svc.View(c.Request().Context(), a)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListV2(c echo.Context) error {
	items, total, pg, err := h.listForMember(c)
	if err != nil {
		return err
	}
	views := make([]*AppointmentView, 0, len(items))
	for _, a := range items {
		v, err := h.svc.View(c.Request().Context(), a)
		if err != nil {
			return httpError(err)
		}
		views = append(views, v)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}
