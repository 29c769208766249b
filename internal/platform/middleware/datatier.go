package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/diagcenter/intake/internal/platform/tier"
)

// DataTierHeader names the store that answered the request: primary,
// secondary or snapshot. Clients show snapshot answers as possibly stale.
const DataTierHeader = "X-Data-Tier"

// DataTier records which tier served the request's queries and reports it
// in DataTierHeader. Requests that ran no query carry no header.
func DataTier() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, served := tier.TrackServed(c.Request().Context())
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Before(func() {
				if t := served(); t != tier.TierNone {
					c.Response().Header().Set(DataTierHeader, t.String())
				}
			})
			return next(c)
		}
	}
}
