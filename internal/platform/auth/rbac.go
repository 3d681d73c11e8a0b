package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin           = "admin"
	RoleMember          = "member"
	RolePractitioner    = "practitioner"
	RoleOps             = "ops"
	RoleCareCoordinator = "care_coordinator"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether the caller holds one of roles. Admin holds every role.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// CanAccessMember reports whether the caller may read or act on memberID's
// data: staff always can, members only on their own records.
func CanAccessMember(ctx context.Context, memberID string) bool {
	if HasRole(ctx, RoleOps, RolePractitioner, RoleCareCoordinator) {
		return true
	}
	return HasRole(ctx, RoleMember) && UserIDFromContext(ctx) == memberID
}
