package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/diagcenter/intake/internal/platform/tier"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name      string
		cfg       SecurityHeadersConfig
		path      string
		wantCache string
		wantHSTS  bool
	}{
		{"patient data never cached", DefaultSecurityHeadersConfig, "/api/v1/patients/CRO000001", "no-store", false},
		{"health may revalidate", DefaultSecurityHeadersConfig, "/health/tiers", "no-cache", false},
		{"no prefix means everything private", SecurityHeadersConfig{}, "/metrics", "no-store", false},
		{"hsts in production", SecurityHeadersConfig{HSTS: true, PrivatePrefix: "/api/"}, "/api/v1/vouchers", "no-store", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := SecurityHeaders(tt.cfg)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})(c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			h := rec.Header()
			if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" {
				t.Errorf("missing base headers: %v", h)
			}
			if got := h.Get("Cache-Control"); got != tt.wantCache {
				t.Errorf("Cache-Control = %q, want %q", got, tt.wantCache)
			}
			if got := h.Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", got, tt.wantHSTS)
			}
		})
	}
}

func TestSecurityHeaders_SetOnErrorResponses(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/CRO404404", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := SecurityHeaders(DefaultSecurityHeadersConfig)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "patient CRO404404: not found")
	})(c)

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 passed through, got %v", err)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected no-store on error responses too")
	}
}

func newTierRouter(primaryUp bool) *tier.Router {
	primary := tier.ProberFunc(func(context.Context) error {
		if primaryUp {
			return nil
		}
		return errors.New("dial tcp: connection refused")
	})
	return tier.NewRouter(tier.NewHealth(), tier.Config{Primary: primary, Snapshot: true, Logger: zerolog.Nop()})
}

func TestDataTier_ReportsServingTier(t *testing.T) {
	tests := []struct {
		name      string
		primaryUp bool
		query     bool
		want      string
	}{
		{"primary", true, true, "primary"},
		{"snapshot", false, true, "snapshot"},
		{"no query", true, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTierRouter(tt.primaryUp)
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/directory/hospitals", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := DataTier()(func(c echo.Context) error {
				if tt.query {
					err := router.Execute(c.Request().Context(), tier.Read("hospital", "list"), func(context.Context, tier.Tier) error {
						return nil
					})
					if err != nil {
						return err
					}
				}
				return c.JSON(http.StatusOK, []string{})
			})(c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := rec.Header().Get(DataTierHeader); got != tt.want {
				t.Errorf("%s = %q, want %q", DataTierHeader, got, tt.want)
			}
		})
	}
}
