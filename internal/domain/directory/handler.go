package directory

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
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
	read := api.Group("/directory", auth.RequireRole(auth.StaffRoles...))
	read.GET("/hospitals", h.ListHospitals)
	read.GET("/hospitals/:id", h.GetHospital)
	read.GET("/doctors", h.ListDoctors)

	write := api.Group("/directory", auth.RequireRole(auth.RoleAdmin))
	write.POST("/hospitals", h.CreateHospital)
	write.POST("/doctors", h.CreateDoctor)
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.ToHTTP(apperr.Invalid(field, "must be a valid id"))
	}
	return id, nil
}

func includeInactive(c echo.Context) bool {
	all, _ := strconv.ParseBool(c.QueryParam("all"))
	return all
}

func (h *Handler) ListHospitals(c echo.Context) error {
	hs, err := h.svc.ListHospitals(c.Request().Context(), includeInactive(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": hs, "total": len(hs)})
}

func (h *Handler) GetHospital(c echo.Context) error {
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	hosp, err := h.svc.GetHospital(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	hospitalID := uuid.Nil
	if raw := c.QueryParam("hospital_id"); raw != "" {
		var err error
		if hospitalID, err = parseID(raw, "hospital_id"); err != nil {
			return err
		}
	}
	ds, err := h.svc.ListDoctors(c.Request().Context(), hospitalID, includeInactive(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": ds, "total": len(ds)})
}

func (h *Handler) CreateHospital(c echo.Context) error {
	var hosp Hospital
	if err := c.Bind(&hosp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateHospital(c.Request().Context(), &hosp); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, hosp)
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateDoctor(c.Request().Context(), &d); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}
