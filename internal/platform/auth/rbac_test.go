package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func callWithRoles(t *testing.T, mw echo.MiddlewareFunc, userID string, roles ...string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID != "" {
		req = req.WithContext(WithIdentity(context.Background(), userID, roles...))
	}
	c := e.NewContext(req, httptest.NewRecorder())
	return mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := callWithRoles(t, RequireRole(RolePatient), "p1", RolePatient); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRequireRole_AdminPassesEverything(t *testing.T) {
	if err := callWithRoles(t, RequireRole(RolePatient), "a1", RoleAdmin); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	err := callWithRoles(t, RequireRole(RoleAdmin), "d1", RoleDoctor)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if he.Message != "Doctor not authorized for this resource" {
		t.Errorf("unexpected message: %v", he.Message)
	}
}

func TestRequireRole_Anonymous(t *testing.T) {
	err := callWithRoles(t, RequireRole(RolePatient), "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestRequireAuth(t *testing.T) {
	if err := callWithRoles(t, RequireAuth(), "p1", RolePatient); err != nil {
		t.Errorf("expected authenticated call to pass, got %v", err)
	}
	err := callWithRoles(t, RequireAuth(), "")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
