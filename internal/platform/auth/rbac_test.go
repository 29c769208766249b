package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func callWithRoles(roles []string, required ...string) (error, int) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	rec := httptest.NewRecorder()
	err := RequireRole(required...)(ok)(e.NewContext(req, rec))
	return err, rec.Code
}

func TestRequireRole_Allowed(t *testing.T) {
	err, code := callWithRoles([]string{RoleBilling}, RoleReception, RoleBilling)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	err, _ := callWithRoles([]string{RoleNursing}, RoleConsole)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	err, _ := callWithRoles(nil, RoleConsole)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminPassesAll(t *testing.T) {
	if err, _ := callWithRoles([]string{RoleAdmin}, RoleDoctor); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}
