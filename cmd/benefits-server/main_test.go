package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/memberhealth/benefits/internal/config"
	"github.com/memberhealth/benefits/internal/platform/auth"
	"github.com/memberhealth/benefits/internal/platform/ratelimit"
	"github.com/memberhealth/benefits/migrations"
)

func testApp() *app {
	return &app{
		cfg: &config.Config{
			Env:                         "development",
			CORSOrigins:                 []string{"http://localhost:3000"},
			JobIntervalSeconds:          3600,
			AccumulationIntervalSeconds: 86400,
		},
		logger:  zerolog.Nop(),
		limiter: ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultRules()),
	}
}

func TestNewServer_Health(t *testing.T) {
	e := newServer(testApp())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "" {
		t.Errorf("health checks should stay cacheable, got %q", cc)
	}
}

func TestNewServer_APIResponsesNotCached(t *testing.T) {
	e := newServer(testApp())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/no-such-route", nil))
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("expected no-store on api responses, got %q", rec.Header().Get("Cache-Control"))
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should be off in development")
	}
}

func TestNewServer_Routes(t *testing.T) {
	e := newServer(testApp())
	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health/db",
		"POST /api/v1/appointments",
		"GET /api/v2/appointments/:id",
		"GET /api/v1/accumulation/payers",
	} {
		if !routes[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}

func TestRunner_RegistersJobs(t *testing.T) {
	r, err := testApp().runner()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{jobAccumulationGenerate, jobAppointmentReminders, jobAdvocateTransitions, jobNotificationRetry}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("job %d = %s, want %s", i, got[i], want[i])
		}
	}

	cadence := map[string]time.Duration{
		jobAccumulationGenerate: 24 * time.Hour,
		jobAdvocateTransitions:  time.Hour,
		jobAppointmentReminders: 15 * time.Minute,
		jobNotificationRetry:    5 * time.Minute,
	}
	for name, interval := range cadence {
		if j, _ := r.Job(name); j.Interval != interval {
			t.Errorf("%s runs every %s, want %s", name, j.Interval, interval)
		}
	}
}

func TestAsSystem(t *testing.T) {
	var user string
	var admin bool
	err := asSystem(func(ctx context.Context) error {
		user = auth.UserIDFromContext(ctx)
		admin = auth.HasRole(ctx, auth.RoleAdmin)
		return nil
	})(context.Background())
	if err != nil || user != systemUser || !admin {
		t.Errorf("unexpected identity %q admin=%v err=%v", user, admin, err)
	}
}

func TestMigrationFiles_FallsBackToEmbedded(t *testing.T) {
	if got := migrationFiles("/does/not/exist"); got != migrations.Files {
		t.Error("expected embedded migrations")
	}
}
