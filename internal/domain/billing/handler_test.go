package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cliniq/hms/internal/platform/auth"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func request(method, target, body, userID string, roles ...string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithIdentity(req.Context(), userID, roles...))
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func (env *testEnv) createViaHandler(t *testing.T, h *Handler, e *echo.Echo) string {
	t.Helper()
	body := `{"patientId":"` + env.patient.ID.String() + `","items":[{"description":"Consultation","qty":2,"unitPrice":"19.99"}],"tax":1}`
	rec := httptest.NewRecorder()
	if err := h.Create(e.NewContext(request(http.MethodPost, "/api/v1/invoice", body, "admin-1", auth.RoleAdmin), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		Invoice struct {
			ID       string `json:"id"`
			Subtotal string `json:"subtotal"`
			Total    string `json:"total"`
		} `json:"invoice"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Invoice.Subtotal != "39.98" || resp.Invoice.Total != "40.98" {
		t.Errorf("unexpected totals %s", rec.Body.String())
	}
	return resp.Invoice.ID
}

func TestHandler_Create(t *testing.T) {
	h, env, e := newTestHandler()
	env.createViaHandler(t, h, e)
}

func TestHandler_Create_MissingPatient(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"patientId":"","items":[{"description":"X","qty":1,"unitPrice":1}]}`
	err := h.Create(e.NewContext(request(http.MethodPost, "/", body, "admin-1", auth.RoleAdmin), httptest.NewRecorder()))
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if he := err.(*echo.HTTPError); he.Message != "Patient ID is required" {
		t.Errorf("unexpected message %v", he.Message)
	}
}

func TestHandler_Get_PatientSeesOnlyOwn(t *testing.T) {
	h, env, e := newTestHandler()
	id := env.createViaHandler(t, h, e)

	c := e.NewContext(request(http.MethodGet, "/", "", env.patient.ID.String(), auth.RolePatient), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.Get(c); err != nil {
		t.Fatalf("owner should see the invoice: %v", err)
	}

	c = e.NewContext(request(http.MethodGet, "/", "", uuid.NewString(), auth.RolePatient), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id)
	if code := httpStatus(t, h.Get(c)); code != http.StatusNotFound {
		t.Errorf("expected 404 for another patient, got %d", code)
	}
}

func TestHandler_MarkPaid_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(request(http.MethodPatch, "/", "", "admin-1", auth.RoleAdmin), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if code := httpStatus(t, h.MarkPaid(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ListMine(t *testing.T) {
	h, env, e := newTestHandler()
	env.createViaHandler(t, h, e)

	rec := httptest.NewRecorder()
	c := e.NewContext(request(http.MethodGet, "/", "", env.patient.ID.String(), auth.RolePatient), rec)
	if err := h.ListMine(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Success bool `json:"success"`
		Total   int  `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success || resp.Total != 1 {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
}

func TestHandler_ListAll_BadPaidFilter(t *testing.T) {
	h, _, e := newTestHandler()
	err := h.ListAll(e.NewContext(request(http.MethodGet, "/?paid=maybe", "", "admin-1", auth.RoleAdmin), httptest.NewRecorder()))
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}
