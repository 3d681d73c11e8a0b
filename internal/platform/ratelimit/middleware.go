package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/memberhealth/benefits/internal/platform/auth"
)

// Middleware limits requests in scope per caller. Authenticated callers are
// keyed by user id, anonymous ones by client IP. Store failures let the
// request through.
func Middleware(l *Limiter, scope string, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := auth.UserIDFromContext(ctx)
			if key == "" {
				key = "ip:" + c.RealIP()
			}

			res, err := l.Allow(ctx, scope, key)
			if err != nil {
				logger.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable, allowing request")
				return next(c)
			}
			if res.Limit == 0 {
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				wait := int(math.Ceil(res.RetryAfter(l.now()).Seconds()))
				h.Set("Retry-After", strconv.Itoa(max(wait, 1)))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
