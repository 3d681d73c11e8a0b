package careadvocate

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *testDeps, *echo.Echo) {
	d := newTestDeps()
	return NewHandler(d.svc), d, echo.New()
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

func uploadRequest(t *testing.T, content, scheduledAt string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "moves.csv")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	if scheduledAt != "" {
		w.WriteField("scheduled_at", scheduledAt)
	}
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestHandler_CreateAdvocate(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"name":"Avery","daily_intro_capacity":3}`), rec)
	if err := h.CreateAdvocate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	c = e.NewContext(jsonRequest(http.MethodPost, `{"daily_intro_capacity":3}`), httptest.NewRecorder())
	expectStatus(t, h.CreateAdvocate(c), http.StatusBadRequest)
}

func TestHandler_AddRuleSet(t *testing.T) {
	h, d, e := newTestHandler()
	a := d.addAdvocate(t, "Avery", 3)
	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"created", a.ID.String(), `{"rules":[{"type":"include","entity":"country","all":true}]}`, http.StatusCreated},
		{"invalid rule", a.ID.String(), `{"rules":[{"type":"exclude","entity":"country","all":true}]}`, http.StatusBadRequest},
		{"unknown advocate", uuid.New().String(), `{"rules":[]}`, http.StatusNotFound},
		{"bad id", "x", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(jsonRequest(http.MethodPost, tt.body), rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)
			err := h.AddRuleSet(c)
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

func TestHandler_MatchAndAssign(t *testing.T) {
	h, d, e := newTestHandler()
	a := d.addAdvocate(t, "Avery", 3)
	body := `{"member_id":"` + uuid.New().String() + `","country":"US","organization_id":"` + uuid.New().String() + `","tracks":["fertility"]}`

	rec := httptest.NewRecorder()
	if err := h.Match(e.NewContext(jsonRequest(http.MethodPost, body), rec)); err != nil {
		t.Fatalf("match: %v", err)
	}
	var matched struct {
		Advocates []Advocate `json:"advocates"`
	}
	json.Unmarshal(rec.Body.Bytes(), &matched)
	if len(matched.Advocates) != 1 || matched.Advocates[0].ID != a.ID {
		t.Errorf("unexpected match: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	if err := h.Assign(e.NewContext(jsonRequest(http.MethodPost, body), rec)); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	menopause := `{"member_id":"` + uuid.New().String() + `","country":"US","tracks":["menopause"]}`
	expectStatus(t, h.Assign(e.NewContext(jsonRequest(http.MethodPost, menopause), httptest.NewRecorder())), http.StatusConflict)
}

func TestHandler_UploadTransitionLog(t *testing.T) {
	h, d, e := newTestHandler()
	from := d.addAdvocate(t, "From", 5)
	to := d.addAdvocate(t, "To", 5)
	member := uuid.New()
	d.assign(member, from.ID, testNow)
	content := csvHeader + csvRow(member, from.ID, to.ID, "hello")

	rec := httptest.NewRecorder()
	scheduled := testNow.Add(24 * time.Hour).Format(time.RFC3339)
	if err := h.UploadTransitionLog(e.NewContext(uploadRequest(t, content, scheduled), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var l TransitionLog
	json.Unmarshal(rec.Body.Bytes(), &l)
	if l.UploadedFilename != "moves.csv" || l.DateCompleted != nil {
		t.Errorf("unexpected log: %s", rec.Body.String())
	}

	err := h.UploadTransitionLog(e.NewContext(uploadRequest(t, "bad header\n", ""), httptest.NewRecorder()))
	expectStatus(t, err, http.StatusBadRequest)
	if msg, ok := err.(*echo.HTTPError).Message.(map[string]interface{}); !ok || len(msg["errors"].([]string)) != 1 {
		t.Errorf("expected row errors in body, got %v", err)
	}

	err = h.UploadTransitionLog(e.NewContext(uploadRequest(t, content, "tomorrow"), httptest.NewRecorder()))
	expectStatus(t, err, http.StatusBadRequest)

	err = h.UploadTransitionLog(e.NewContext(jsonRequest(http.MethodPost, `{}`), httptest.NewRecorder()))
	expectStatus(t, err, http.StatusBadRequest)
}

func TestHandler_DeleteTransitionLog(t *testing.T) {
	h, d, e := newTestHandler()
	done := time.Now()
	l := &TransitionLog{DateScheduled: testNow, DateCompleted: &done}
	d.logs.Create(context.Background(), l)

	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(l.ID.String())
	expectStatus(t, h.DeleteTransitionLog(c), http.StatusConflict)

	open := &TransitionLog{DateScheduled: testNow}
	d.logs.Create(context.Background(), open)
	rec := httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(open.ID.String())
	if err := h.DeleteTransitionLog(c); err != nil || rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d %v", rec.Code, err)
	}
}
