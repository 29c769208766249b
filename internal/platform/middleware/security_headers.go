package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeadersConfig controls the hardening headers.
type SecurityHeadersConfig struct {
	// HSTS adds Strict-Transport-Security. Only enable behind TLS.
	HSTS bool
	// PrivatePrefix marks paths whose responses carry patient or billing
	// data. They are never cached; other paths may be revalidated.
	PrivatePrefix string
}

// DefaultSecurityHeadersConfig covers the /api/v1 surface without HSTS.
var DefaultSecurityHeadersConfig = SecurityHeadersConfig{PrivatePrefix: "/api/"}

// SecurityHeaders sets response headers for a JSON-only API.
func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			if cfg.PrivatePrefix == "" || strings.HasPrefix(c.Request().URL.Path, cfg.PrivatePrefix) {
				h.Set("Cache-Control", "no-store")
				h.Set("Pragma", "no-cache")
			} else {
				h.Set("Cache-Control", "no-cache")
			}
			return next(c)
		}
	}
}
