package notification

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memberhealth/benefits/internal/platform/auth"
	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/pkg/pagination"
)

// Handler exposes notification history and manual retries over HTTP.
type Handler struct {
	notifier *Notifier
}

func NewHandler(n *Notifier) *Handler {
	return &Handler{notifier: n}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleOps, auth.RoleMember))
	read.GET("/notifications", h.HandleList)

	ops := api.Group("", auth.RequireRole(auth.RoleOps))
	ops.POST("/notifications/:id/retry", h.HandleRetry)
}

// HandleList handles GET /notifications?member_id=...
func (h *Handler) HandleList(c echo.Context) error {
	memberID, err := uuid.Parse(c.QueryParam("member_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "member_id query parameter is required")
	}
	ctx := c.Request().Context()
	if !auth.CanAccessMember(ctx, memberID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to view this member")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.notifier.ListByMember(ctx, memberID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// HandleRetry handles POST /notifications/:id/retry.
func (h *Handler) HandleRetry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.notifier.Retry(c.Request().Context(), id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case errors.Is(err, ErrNotRetryable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}
