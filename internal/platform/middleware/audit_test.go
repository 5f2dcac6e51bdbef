package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cliniq/hms/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

const (
	auditPatientID = "0d4c7a62-5d1e-4c5b-8f8e-1b2a3c4d5e6f"
	auditInvoiceID = "9a8b7c6d-5e4f-4a3b-9c2d-1e0f9a8b7c6d"
)

// newAuditEcho mounts a few routes shaped like the real ones, authenticated
// as userID with roles.
func newAuditEcho(logger zerolog.Logger, rec AuditRecorder, userID string, roles ...string) *echo.Echo {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID != "" {
				c.SetRequest(c.Request().WithContext(auth.WithIdentity(c.Request().Context(), userID, roles...)))
			}
			return next(c)
		}
	})
	api := e.Group("/api/v1", Audit(logger, rec))
	api.GET("/invoice/:id", okHandler)
	api.GET("/invoice/patient/:patientId", okHandler)
	api.PATCH("/invoice/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "Invoice not found")
	})
	api.GET("/appointment/patient/appointments", okHandler)
	api.GET("/medicine", okHandler)
	return e
}

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAudit_RecordsInvoiceRead(t *testing.T) {
	rec := &mockRecorder{}
	e := newAuditEcho(zerolog.Nop(), rec, "admin-1", auth.RoleAdmin)

	serve(e, http.MethodGet, "/api/v1/invoice/"+auditInvoiceID)

	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	got := rec.last()
	if got.Resource != "invoice" || got.ResourceID != auditInvoiceID {
		t.Errorf("resource = %s/%s", got.Resource, got.ResourceID)
	}
	if got.Action != "read" || got.StatusCode != http.StatusOK {
		t.Errorf("action=%s status=%d", got.Action, got.StatusCode)
	}
	if got.UserID != "admin-1" {
		t.Errorf("user = %q", got.UserID)
	}
}

func TestAudit_PatientFromRouteParam(t *testing.T) {
	rec := &mockRecorder{}
	e := newAuditEcho(zerolog.Nop(), rec, "admin-1", auth.RoleAdmin)

	serve(e, http.MethodGet, "/api/v1/invoice/patient/"+auditPatientID)

	if got := rec.last().PatientID; got != auditPatientID {
		t.Errorf("patient = %q", got)
	}
}

func TestAudit_PatientIsCallerForPatientRole(t *testing.T) {
	rec := &mockRecorder{}
	e := newAuditEcho(zerolog.Nop(), rec, auditPatientID, auth.RolePatient)

	serve(e, http.MethodGet, "/api/v1/appointment/patient/appointments")

	got := rec.last()
	if got.PatientID != auditPatientID {
		t.Errorf("patient = %q", got.PatientID)
	}
	if got.Resource != "appointment" || got.ResourceID != "" {
		t.Errorf("resource = %s/%s", got.Resource, got.ResourceID)
	}
}

func TestAudit_ErrorStatusCaptured(t *testing.T) {
	rec := &mockRecorder{}
	e := newAuditEcho(zerolog.Nop(), rec, "admin-1", auth.RoleAdmin)

	serve(e, http.MethodPatch, "/api/v1/invoice/"+auditInvoiceID)

	got := rec.last()
	if got.Action != "update" {
		t.Errorf("action = %s", got.Action)
	}
	if got.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", got.StatusCode)
	}
}

func TestAudit_SkipsInventoryRoutes(t *testing.T) {
	rec := &mockRecorder{}
	e := newAuditEcho(zerolog.Nop(), rec, "admin-1", auth.RoleAdmin)

	serve(e, http.MethodGet, "/api/v1/medicine")

	if rec.count() != 0 {
		t.Errorf("expected no audit entry, got %d", rec.count())
	}
}

func TestAudit_RecorderFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{err: errors.New("disk full")}
	e := newAuditEcho(zerolog.New(&buf), rec, "admin-1", auth.RoleAdmin)

	res := serve(e, http.MethodGet, "/api/v1/invoice/"+auditInvoiceID)

	if res.Code != http.StatusOK {
		t.Fatalf("recorder failure must not change the response, got %d", res.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "disk full") || !strings.Contains(out, "patient_data_access") {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("%s: got %s, want %s", method, got, want)
		}
	}
}

func TestSplitResource(t *testing.T) {
	tests := []struct {
		path, resource, id string
	}{
		{"/api/v1/invoice/" + auditInvoiceID, "invoice", auditInvoiceID},
		{"/api/v1/appointment/update/" + auditInvoiceID, "appointment", auditInvoiceID},
		{"/api/v1/invoice/all", "invoice", ""},
		{"/api/v1/patient-record/" + auditInvoiceID, "patient-record", auditInvoiceID},
		{"/health", "", ""},
	}
	for _, tt := range tests {
		r, id := splitResource(tt.path)
		if r != tt.resource || id != tt.id {
			t.Errorf("%s: got %s/%s, want %s/%s", tt.path, r, id, tt.resource, tt.id)
		}
	}
}
