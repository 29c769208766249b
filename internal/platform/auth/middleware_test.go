package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testCfg = JWTConfig{Issuer: "intake-test", SigningKey: []byte("test-secret-key-for-unit-tests-only")}

func createTestToken(t *testing.T, claims Claims, cfg JWTConfig) string {
	t.Helper()
	tokenStr, err := IssueToken(cfg, claims)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string, roles ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Name:  "Asha",
		Roles: roles,
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	return mw(handler)(e.NewContext(req, rec))
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err := runMiddleware(t, JWTMiddleware(testCfg), "", ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runMiddleware(t, JWTMiddleware(testCfg), tt.header, ok)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	token := createTestToken(t, validClaims("user-456", RoleBilling, RoleReception), testCfg)

	err := runMiddleware(t, JWTMiddleware(testCfg), "Bearer "+token, func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "user-456" {
			t.Errorf("expected user_id=user-456, got %s", uid)
		}
		if name := UserNameFromContext(ctx); name != "Asha" {
			t.Errorf("expected name Asha, got %s", name)
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 2 || roles[0] != RoleBilling {
			t.Errorf("unexpected roles %v", roles)
		}
		return ok(c)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims("user-123", RoleConsole)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token := createTestToken(t, claims, testCfg)

	err := runMiddleware(t, JWTMiddleware(testCfg), "Bearer "+token, ok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKeyOrIssuer(t *testing.T) {
	other := JWTConfig{Issuer: testCfg.Issuer, SigningKey: []byte("another-key")}
	token := createTestToken(t, validClaims("u", RoleDoctor), other)
	expectStatus(t, runMiddleware(t, JWTMiddleware(testCfg), "Bearer "+token, ok), http.StatusUnauthorized)

	foreign := JWTConfig{Issuer: "elsewhere", SigningKey: testCfg.SigningKey}
	token = createTestToken(t, validClaims("u", RoleDoctor), foreign)
	expectStatus(t, runMiddleware(t, JWTMiddleware(testCfg), "Bearer "+token, ok), http.StatusUnauthorized)
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	err := runMiddleware(t, DevAuthMiddleware(testCfg), "", func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "dev-user" {
			t.Errorf("expected user_id=dev-user, got %s", uid)
		}
		if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleAdmin {
			t.Errorf("expected roles=[admin], got %v", roles)
		}
		return ok(c)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_ValidatesPresentedToken(t *testing.T) {
	err := runMiddleware(t, DevAuthMiddleware(testCfg), "Bearer not-a-token", ok)
	expectStatus(t, err, http.StatusUnauthorized)

	token := createTestToken(t, validClaims("nurse-1", RoleNursing), testCfg)
	err = runMiddleware(t, DevAuthMiddleware(testCfg), "Bearer "+token, func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "nurse-1" {
			t.Errorf("expected token subject, got %s", uid)
		}
		return ok(c)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
