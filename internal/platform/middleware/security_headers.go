package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityConfig controls the response header policy.
type SecurityConfig struct {
	// HSTS is left off in development, where the server speaks plain HTTP.
	HSTS bool
	// PrivatePrefixes are paths whose responses carry member data and must
	// never be stored by a browser or proxy.
	PrivatePrefixes []string
}

// DefaultSecurityConfig treats every versioned API route as private.
func DefaultSecurityConfig(dev bool) SecurityConfig {
	return SecurityConfig{HSTS: !dev, PrivatePrefixes: []string{"/api/"}}
}

// SecurityHeaders sets hardening headers on every response. Responses under
// a private prefix are marked uncacheable; health checks stay cacheable by
// load balancers.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			if isPrivate(c.Request().URL.Path, cfg.PrivatePrefixes) {
				h.Set("Cache-Control", "no-store")
				h.Set("Pragma", "no-cache")
			}
			return next(c)
		}
	}
}

func isPrivate(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
