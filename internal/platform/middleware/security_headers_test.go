package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func serveSecured(t *testing.T, cfg SecurityConfig, method, path string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(method, path, nil), rec)
	return rec, SecurityHeaders(cfg)(handler)(c)
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestSecurityHeaders_Policy(t *testing.T) {
	tests := []struct {
		name      string
		dev       bool
		path      string
		wantCache string
		wantHSTS  bool
	}{
		{"wallet balance", false, "/api/v1/wallets/6f1c/balance", "no-store", true},
		{"accumulation file download", false, "/api/v1/accumulation/reports/9a2e/file", "no-store", true},
		{"v2 appointments", false, "/api/v2/appointments/1", "no-store", true},
		{"health check", false, "/health", "", true},
		{"development", true, "/api/v1/cost-breakdowns/estimate", "no-store", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := serveSecured(t, DefaultSecurityConfig(tt.dev), http.MethodGet, tt.path, okHandler)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			h := rec.Header()
			if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" {
				t.Errorf("missing baseline headers: %v", h)
			}
			if got := h.Get("Cache-Control"); got != tt.wantCache {
				t.Errorf("Cache-Control = %q, want %q", got, tt.wantCache)
			}
			if got := h.Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Errorf("HSTS set = %v, want %v", got, tt.wantHSTS)
			}
		})
	}
}

func TestSecurityHeaders_SetOnHandlerError(t *testing.T) {
	rec, err := serveSecured(t, DefaultSecurityConfig(false), http.MethodPost, "/api/v1/wallets/x/requests",
		func(c echo.Context) error { return echo.NewHTTPError(http.StatusUnprocessableEntity, "insufficient balance") })

	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP || httpErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected the handler's 422, got %v", err)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("error responses from member routes must not be cached")
	}
}
