package wallet

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
	ops := api.Group("", auth.RequireRole(auth.RoleOps))
	ops.POST("/wallets", h.CreateWallet)
	ops.PUT("/wallets/:id/state", h.UpdateWalletState)
	ops.POST("/treatment-procedures", h.CreateProcedure)
	ops.POST("/treatment-procedures/:id/complete", h.CompleteProcedure)
	ops.POST("/treatment-procedures/:id/cancel", h.CancelProcedure)
	ops.GET("/treatment-procedures/:id/bills", h.ListBills)
	ops.POST("/bills", h.CreateBill)
	ops.GET("/bills/:id", h.GetBill)
	ops.POST("/bills/:id/transition", h.TransitionBill)

	read := api.Group("", auth.RequireRole(auth.RoleOps, auth.RoleMember))
	read.GET("/wallets", h.ListWallets)
	read.GET("/wallets/:id", h.GetWallet)
	read.GET("/wallets/:id/balance", h.GetBalance)
	read.GET("/wallets/:id/reimbursement-requests", h.ListRequests)
	read.POST("/wallets/:id/reimbursement-requests", h.SubmitRequest)
	read.GET("/reimbursement-requests/:id", h.GetRequest)
	read.POST("/reimbursement-requests/:id/transition", h.TransitionRequest)
	read.GET("/treatment-procedures", h.ListProcedures)
	read.GET("/treatment-procedures/:id", h.GetProcedure)
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBillValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrWalletNotQualified),
		errors.Is(err, ErrInsufficientBalance):
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

// accessibleWallet loads a wallet the caller may see. Other members' wallets
// look missing.
func (h *Handler) accessibleWallet(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	w, err := h.svc.GetWallet(ctx, id)
	if err != nil || !auth.CanAccessMember(ctx, w.MemberID.String()) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "wallet not found")
	}
	return w, nil
}

// -- Wallets --

func (h *Handler) CreateWallet(c echo.Context) error {
	var w Wallet
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateWallet(c.Request().Context(), &w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWallet(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	w, err := h.accessibleWallet(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

// ListWallets handles GET /wallets?member_id=...
func (h *Handler) ListWallets(c echo.Context) error {
	memberID, err := uuid.Parse(c.QueryParam("member_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "member_id is required")
	}
	ctx := c.Request().Context()
	if !auth.CanAccessMember(ctx, memberID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to view this member")
	}
	items, err := h.svc.ListWallets(ctx, memberID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

type stateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

func (h *Handler) UpdateWalletState(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req stateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err := h.svc.UpdateWalletState(c.Request().Context(), id, req.State)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) GetBalance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.accessibleWallet(ctx, id); err != nil {
		return err
	}
	b, err := h.svc.GetBalance(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// -- Reimbursement requests --

func (h *Handler) SubmitRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.accessibleWallet(ctx, id); err != nil {
		return err
	}
	var rr ReimbursementRequest
	if err := c.Bind(&rr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rr.WalletID = id
	if err := h.svc.SubmitRequest(ctx, &rr); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rr)
}

func (h *Handler) ListRequests(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.accessibleWallet(ctx, id); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRequests(ctx, id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rr, err := h.svc.GetRequest(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "reimbursement request not found")
	}
	if _, err := h.accessibleWallet(ctx, rr.WalletID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "reimbursement request not found")
	}
	return c.JSON(http.StatusOK, rr)
}

// TransitionRequest handles POST /reimbursement-requests/:id/transition.
// Members may only submit their own requests for review.
func (h *Handler) TransitionRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req stateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if !auth.HasRole(ctx, auth.RoleOps) {
		rr, err := h.svc.GetRequest(ctx, id)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "reimbursement request not found")
		}
		if _, err := h.accessibleWallet(ctx, rr.WalletID); err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "reimbursement request not found")
		}
		if req.State != RequestPending {
			return echo.NewHTTPError(http.StatusForbidden, "members may only submit requests for review")
		}
	}
	rr, err := h.svc.TransitionRequest(ctx, id, req.State, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rr)
}

// -- Treatment procedures --

func (h *Handler) CreateProcedure(c echo.Context) error {
	var p TreatmentProcedure
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateProcedure(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProcedure(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetProcedure(ctx, id)
	if err != nil || !auth.CanAccessMember(ctx, p.MemberID.String()) {
		return echo.NewHTTPError(http.StatusNotFound, "treatment procedure not found")
	}
	return c.JSON(http.StatusOK, p)
}

// ListProcedures handles GET /treatment-procedures?member_id=...
func (h *Handler) ListProcedures(c echo.Context) error {
	memberID, err := uuid.Parse(c.QueryParam("member_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "member_id is required")
	}
	ctx := c.Request().Context()
	if !auth.CanAccessMember(ctx, memberID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to view this member")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListProcedures(ctx, memberID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type completeRequest struct {
	Partial bool       `json:"partial"`
	EndDate *time.Time `json:"end_date"`
}

func (h *Handler) CompleteProcedure(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.CompleteProcedure(c.Request().Context(), id, req.Partial, req.EndDate)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CancelProcedure(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.CancelProcedure(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Bills --

func (h *Handler) CreateBill(c echo.Context) error {
	var b Bill
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBill(c.Request().Context(), &b); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBills(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListBills(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) TransitionBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req stateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.TransitionBill(c.Request().Context(), id, req.State, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}
