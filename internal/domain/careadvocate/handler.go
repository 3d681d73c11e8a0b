package careadvocate

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memberhealth/benefits/internal/platform/auth"
	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/pkg/pagination"
)

// maxUploadSize bounds transition log CSV uploads.
const maxUploadSize = 5 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the care advocate routes. uploadLimit wraps the
// transition log upload only.
func (h *Handler) RegisterRoutes(api *echo.Group, uploadLimit ...echo.MiddlewareFunc) {
	g := api.Group("/care-advocates", auth.RequireRole(auth.RoleOps, auth.RoleCareCoordinator))
	g.GET("", h.ListAdvocates)
	g.POST("", h.CreateAdvocate)
	g.POST("/match", h.Match)
	g.POST("/assign", h.Assign)
	g.GET("/assignments/:member_id", h.GetAssignment)
	g.GET("/transition-logs", h.ListTransitionLogs)
	g.POST("/transition-logs", h.UploadTransitionLog, uploadLimit...)
	g.GET("/transition-logs/:id", h.GetTransitionLog)
	g.DELETE("/transition-logs/:id", h.DeleteTransitionLog)
	g.GET("/:id", h.GetAdvocate)
	g.PUT("/:id", h.UpdateAdvocate)
	g.POST("/:id/rule-sets", h.AddRuleSet)
	g.DELETE("/:id/rule-sets/:rule_set_id", h.DeleteRuleSet)
}

func httpError(err error) *echo.HTTPError {
	var logErr *TransitionLogError
	switch {
	case errors.As(err, &logErr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": "invalid transition log",
			"errors":  logErr.Errors,
		})
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidRuleSet):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoAdvocateAvailable), errors.Is(err, ErrLogCompleted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Advocates --

func (h *Handler) CreateAdvocate(c echo.Context) error {
	var a Advocate
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.RuleSets = nil
	if err := h.svc.CreateAdvocate(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAdvocate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAdvocate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAdvocate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	existing, err := h.svc.GetAdvocate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if err := c.Bind(existing); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	existing.ID = id
	if err := h.svc.UpdateAdvocate(c.Request().Context(), existing); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, existing)
}

func (h *Handler) ListAdvocates(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAdvocates(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddRuleSet(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var rs RuleSet
	if err := c.Bind(&rs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddRuleSet(c.Request().Context(), id, &rs); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rs)
}

func (h *Handler) DeleteRuleSet(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	setID, err := parseID(c, "rule_set_id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRuleSet(c.Request().Context(), id, setID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Matching --

func (h *Handler) Match(c echo.Context) error {
	var p MemberProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.Match(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Advocate{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"advocates": items})
}

func (h *Handler) Assign(c echo.Context) error {
	var p MemberProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.AssignAdvocate(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAssignment(c echo.Context) error {
	memberID, err := parseID(c, "member_id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAssignment(c.Request().Context(), memberID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Transition logs --

// UploadTransitionLog accepts a multipart upload: the CSV in "file" and an
// optional RFC 3339 "scheduled_at".
func (h *Handler) UploadTransitionLog(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > maxUploadSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file is too large")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, maxUploadSize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var scheduled *time.Time
	if raw := c.FormValue("scheduled_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "scheduled_at must be RFC 3339")
		}
		t = t.UTC()
		scheduled = &t
	}
	userID, _ := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))

	l, err := h.svc.CreateTransitionLog(c.Request().Context(), userID, fh.Filename, string(content), scheduled)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListTransitionLogs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTransitionLogs(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetTransitionLog(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	l, err := h.svc.GetTransitionLog(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) DeleteTransitionLog(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTransitionLog(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
