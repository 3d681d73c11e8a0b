package appointments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memberhealth/benefits/internal/platform/auth"
)

func newTestHandler() (*Handler, *testDeps, *echo.Echo) {
	d := newTestDeps()
	return NewHandler(d.svc), d, echo.New()
}

func asOps(req *http.Request) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), "ops-1", "", []string{auth.RoleOps}))
}

func asMember(req *http.Request, memberID uuid.UUID) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), memberID.String(), "", []string{auth.RoleMember}))
}

func asPractitioner(req *http.Request, id uuid.UUID) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), id.String(), "", []string{auth.RolePractitioner}))
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != code {
		t.Fatalf("expected %d, got %v", code, err)
	}
}

func withID(c echo.Context, id uuid.UUID) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return c
}

func TestHandler_CreateProduct_PractitionerOwnsProduct(t *testing.T) {
	h, _, e := newTestHandler()
	practitioner := uuid.New()
	body := `{"practitioner_id":"` + uuid.New().String() + `","minutes":30,"price":8000,"vertical":"fertility"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(asPractitioner(jsonRequest(http.MethodPost, body), practitioner), rec)
	if err := h.CreateProduct(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p Product
	json.Unmarshal(rec.Body.Bytes(), &p)
	if rec.Code != http.StatusCreated || p.PractitionerID != practitioner || !p.IsActive {
		t.Errorf("unexpected product: %d %s", rec.Code, rec.Body.String())
	}

	c = e.NewContext(asOps(jsonRequest(http.MethodPost, `{"minutes":30}`)), httptest.NewRecorder())
	expectStatus(t, h.CreateProduct(c), http.StatusBadRequest)
}

func TestHandler_Book(t *testing.T) {
	h, d, e := newTestHandler()
	p := d.addProduct(t, 30, 8000)
	member := uuid.New()
	start := testNow.Add(48 * time.Hour).Format(time.RFC3339)
	body := `{"member_id":"` + member.String() + `","product_id":"` + p.ID.String() + `","scheduled_start":"` + start + `"}`

	tests := []struct {
		name string
		req  func(*http.Request) *http.Request
		want int
	}{
		{"other member", func(r *http.Request) *http.Request { return asMember(r, uuid.New()) }, http.StatusForbidden},
		{"member", func(r *http.Request) *http.Request { return asMember(r, member) }, http.StatusCreated},
		{"overlap", asOps, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			err := h.Book(e.NewContext(tt.req(jsonRequest(http.MethodPost, body)), rec))
			if tt.want >= 400 {
				expectStatus(t, err, tt.want)
				return
			}
			if err != nil || rec.Code != tt.want {
				t.Fatalf("expected %d, got %d %v", tt.want, rec.Code, err)
			}
		})
	}
}

func TestHandler_Get_HidesOtherMembers(t *testing.T) {
	h, d, e := newTestHandler()
	p := d.addProduct(t, 30, 8000)
	a := d.book(t, p, uuid.New(), testNow.Add(time.Hour), PolicyModerate)

	c := withID(e.NewContext(asMember(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New()), httptest.NewRecorder()), a.ID)
	expectStatus(t, h.Get(c), http.StatusNotFound)

	rec := httptest.NewRecorder()
	c = withID(e.NewContext(asMember(httptest.NewRequest(http.MethodGet, "/", nil), a.MemberID), rec), a.ID)
	if err := h.Get(c); err != nil || rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d %v", rec.Code, err)
	}
}

func TestHandler_Cancel_UsesCallerRole(t *testing.T) {
	h, d, e := newTestHandler()
	p := d.addProduct(t, 30, 8000)
	a := d.book(t, p, uuid.New(), testNow.Add(2*time.Hour), PolicyConservative)

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(asPractitioner(httptest.NewRequest(http.MethodPost, "/", nil), p.PractitionerID), rec), a.ID)
	if err := h.Cancel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Appointment
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.CancelledBy != ByPractitioner || got.RefundAmount != 8000 {
		t.Errorf("unexpected cancellation: %s", rec.Body.String())
	}

	c = withID(e.NewContext(asMember(httptest.NewRequest(http.MethodPost, "/", nil), a.MemberID), httptest.NewRecorder()), a.ID)
	expectStatus(t, h.Cancel(c), http.StatusConflict)
}

func TestHandler_Connect(t *testing.T) {
	h, d, e := newTestHandler()
	p := d.addProduct(t, 30, 8000)
	a := d.book(t, p, uuid.New(), testNow.Add(time.Hour), PolicyModerate)

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(asMember(httptest.NewRequest(http.MethodPost, "/", nil), a.MemberID), rec), a.ID)
	if err := h.Connect(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.appointments.items[a.ID].MemberStartedAt == nil || d.appointments.items[a.ID].PractitionerStartedAt != nil {
		t.Error("expected only the member to be connected")
	}
}

func TestHandler_GetV2(t *testing.T) {
	h, d, e := newTestHandler()
	p := d.addProduct(t, 30, 8000)
	a := d.book(t, p, uuid.New(), testNow.Add(30*time.Hour), PolicyStrict)

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(asOps(httptest.NewRequest(http.MethodGet, "/", nil)), rec), a.ID)
	if err := h.GetV2(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v struct {
		ID     uuid.UUID  `json:"id"`
		State  string     `json:"state"`
		Refund RefundInfo `json:"refund"`
	}
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v.ID != a.ID || v.State != StateScheduled || v.Refund.Policy != PolicyStrict || v.Refund.Amount != 0 {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_ListV2(t *testing.T) {
	h, d, e := newTestHandler()
	p := d.addProduct(t, 30, 8000)
	member := uuid.New()
	d.book(t, p, member, testNow.Add(time.Hour), PolicyFlexible)
	d.book(t, p, member, testNow.Add(48*time.Hour), PolicyFlexible)

	rec := httptest.NewRecorder()
	req := asMember(httptest.NewRequest(http.MethodGet, "/?member_id="+member.String(), nil), member)
	if err := h.ListV2(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []AppointmentView `json:"data"`
		Total int               `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || len(body.Data) != 2 || body.Data[0].Refund.Percent != 100 || body.Data[1].Refund.Percent != 50 {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	req = asMember(httptest.NewRequest(http.MethodGet, "/", nil), member)
	expectStatus(t, h.ListV2(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest)
}
