package cashbook

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleBilling))
	g.POST("/vouchers", h.Create)
	g.GET("/vouchers", h.List)
	g.GET("/cashbook/summary", h.Summary)
}

type voucherRequest struct {
	Date     string  `json:"date"`
	Received float64 `json:"received"`
	Due      float64 `json:"due"`
	Withdraw float64 `json:"withdraw"`
	Remark   string  `json:"remark"`
}

// dayParam parses a YYYY-MM-DD day in local time, defaulting to today.
func dayParam(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return Day(now), nil
	}
	d, err := time.ParseInLocation(DateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, apperr.Invalid("date", "must be YYYY-MM-DD")
	}
	return d, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req voucherRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	day, err := dayParam(req.Date, h.svc.now())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	v := &Voucher{Date: day, Received: req.Received, Due: req.Due, Withdraw: req.Withdraw, Remark: req.Remark}
	if err := h.svc.Create(c.Request().Context(), v, auth.UserNameFromContext(c.Request().Context())); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) List(c echo.Context) error {
	day, err := dayParam(c.QueryParam("date"), h.svc.now())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	vs, err := h.svc.List(c.Request().Context(), day)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": vs, "total": len(vs)})
}

func (h *Handler) Summary(c echo.Context) error {
	day, err := dayParam(c.QueryParam("date"), h.svc.now())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	sum, err := h.svc.Summary(c.Request().Context(), day)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sum)
}
