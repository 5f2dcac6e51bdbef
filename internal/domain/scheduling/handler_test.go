package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/cliniq/hms/internal/platform/auth"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func asPatient(req *http.Request, env *testEnv) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), env.patient.ID.String(), auth.RolePatient))
}

func TestHandler_BookSlot_AcceptedThenPending(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"doctorId":"` + env.doctor.ID.String() + `","appointment_date":"2025-10-27T09:00:00.000Z"}`

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointment/book", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if err := h.BookSlot(e.NewContext(asPatient(req, env), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/appointment/book", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if err := h.BookSlot(e.NewContext(asPatient(req, env), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Message     string `json:"message"`
		Appointment struct {
			Status          string `json:"status"`
			AppointmentDate string `json:"appointmentDate"`
		} `json:"appointment"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Appointment.Status != StatusPending || !strings.Contains(resp.Message, "waiting queue") {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
	if resp.Appointment.AppointmentDate != "2025-10-27T09:00:00.000Z" {
		t.Errorf("unexpected appointmentDate %q", resp.Appointment.AppointmentDate)
	}
}

func TestHandler_BookSlot_MissingFields(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.BookSlot(e.NewContext(req, httptest.NewRecorder()))

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_SuggestSlots(t *testing.T) {
	h, env, e := newTestHandler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?doctorId="+env.doctor.ID.String()+"&preferred=2025-10-27T08:00:00Z", nil)
	if err := h.SuggestSlots(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Success     bool     `json:"success"`
		Suggestions []string `json:"suggestions"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success || len(resp.Suggestions) == 0 || resp.Suggestions[0] != "2025-10-27T09:00:00.000Z" {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
}

func TestHandler_BookedSlots(t *testing.T) {
	h, env, e := newTestHandler()
	env.book(t, "2025-10-27T09:30:00Z")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?doctorId="+env.doctor.ID.String()+"&date=2025-10-27", nil)
	if err := h.BookedSlots(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"bookedSlots":["09:30"]`) {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
}

func TestHandler_UpdateStatus_NotFound(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"Accepted"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("00000000-0000-0000-0000-000000000001")

	he, ok := h.UpdateStatus(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", he)
	}
}

func TestHandler_DeleteAppointment_ReturnsPromoted(t *testing.T) {
	h, env, e := newTestHandler()
	accepted := env.book(t, "2025-10-27T09:00:00Z")
	env.book(t, "2025-10-27T09:00:00Z")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(accepted.ID.String())

	if err := h.DeleteAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"promoted"`) {
		t.Errorf("expected promoted appointment in response, got %s", rec.Body.String())
	}
}

func TestHandler_ListMyAppointments(t *testing.T) {
	h, env, e := newTestHandler()
	env.book(t, "2025-10-27T09:00:00Z")

	rec := httptest.NewRecorder()
	req := asPatient(httptest.NewRequest(http.MethodGet, "/", nil), env)
	if err := h.ListMyAppointments(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1 appointment, got %s", rec.Body.String())
	}
}

func TestHandler_SetAvailability_Invalid(t *testing.T) {
	h, env, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"windows":[{"weekday":1,"start":"17:00","end":"09:00"}]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("doctorId")
	c.SetParamValues(env.doctor.ID.String())

	he, ok := h.SetAvailability(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", he)
	}
}
