package patient

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/auth"
	"github.com/diagcenter/intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.StaffRoles...))
	staff.GET("/patients", h.Search)
	staff.GET("/patients/:cro", h.Get)
	staff.GET("/patients/:cro/eligibility", h.Eligibility)
	staff.POST("/admin/patients/recall", h.Recall)
	staff.GET("/recall/patients", h.RecallList)

	front := api.Group("", auth.RequireRole(auth.RoleReception, auth.RoleBilling))
	front.POST("/patients", h.Register)
	front.POST("/admin/patients/send", h.Send)

	api.PUT("/patients/:cro", h.UpdateDemographics, auth.RequireRole(auth.RoleReception))
	api.DELETE("/patients/:cro", h.Deactivate, auth.RequireRole(auth.RoleAdmin))
	api.PUT("/patients/:cro/payment", h.RecordPayment, auth.RequireRole(auth.RoleBilling))

	console := api.Group("/console", auth.RequireRole(auth.RoleConsole))
	console.GET("/queue", h.ConsoleQueue)
	console.POST("/start", h.StartConsole)
	console.POST("/update-console", h.UpdateConsole)
	api.GET("/console/scans", h.Scans, auth.RequireRole(auth.RoleConsole, auth.RoleDoctor))

	nursing := api.Group("/nursing", auth.RequireRole(auth.RoleNursing))
	nursing.GET("/pending-patients", h.NursingPending)
	nursing.POST("/update", h.UpdateNursing)

	doctor := api.Group("/doctor", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("/pending-patients", h.DoctorPending)
	doctor.GET("/completed-patients", h.DoctorCompleted)
	doctor.POST("/review", h.Review)
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// -- Reception and billing --

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := bind(c, &in); err != nil {
		return err
	}
	reg, err := h.svc.Register(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, reg)
}

func (h *Handler) Search(c echo.Context) error {
	p := pagination.FromContext(c)
	f := Filter{Search: p.Search, Limit: p.Limit, Offset: p.Offset}
	if raw := c.QueryParam("category"); raw != "" {
		cat, ok := ParseCategory(raw)
		if !ok {
			return apperr.ToHTTP(apperr.Invalid("category", "is not a known category"))
		}
		f.Category = cat
	}
	if raw := c.QueryParam("stage"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, err := ParseStage(s)
			if err != nil {
				return apperr.ToHTTP(apperr.Invalid("stage", "is not a known stage"))
			}
			f.Stages = append(f.Stages, st)
		}
	}
	items, total, err := h.svc.Search(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("cro"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateDemographics(c echo.Context) error {
	var in RegisterInput
	if err := bind(c, &in); err != nil {
		return err
	}
	p, err := h.svc.UpdateDemographics(c.Request().Context(), c.Param("cro"), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Deactivate(c echo.Context) error {
	if err := h.svc.Deactivate(c.Request().Context(), c.Param("cro")); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type paymentRequest struct {
	Received float64 `json:"r_amount"`
	Discount float64 `json:"d_amount"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	var req paymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	p, err := h.svc.RecordPayment(c.Request().Context(), c.Param("cro"), req.Received, req.Discount)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"cro":          p.CRO,
		"billing":      p.Billing,
		"due_negative": p.Billing.Negative(),
	})
}

func (h *Handler) Eligibility(c echo.Context) error {
	e, err := h.svc.Eligibility(c.Request().Context(), c.Param("cro"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

// -- Routing --

type sendRequest struct {
	CRO         string `json:"cro"`
	Destination string `json:"destination"`
}

func (h *Handler) Send(c echo.Context) error {
	var req sendRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	v := apperr.NewValidation()
	if strings.TrimSpace(req.CRO) == "" {
		v.Add("cro", "is required")
	}
	dest, ok := ParseDestination(req.Destination)
	if !ok {
		v.Add("destination", "must be Nursing or Console")
	}
	if err := v.Err(); err != nil {
		return apperr.ToHTTP(err)
	}
	p, err := h.svc.SendTo(c.Request().Context(), req.CRO, dest)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "cro": p.CRO, "stage": p.Stage})
}

type recallRequest struct {
	CRO    string `json:"cro"`
	Reason string `json:"reason"`
}

func (h *Handler) Recall(c echo.Context) error {
	var req recallRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.CRO) == "" {
		return apperr.ToHTTP(apperr.Invalid("cro", "is required"))
	}
	p, err := h.svc.Recall(c.Request().Context(), req.CRO, strings.TrimSpace(req.Reason))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "cro": p.CRO, "stage": p.Stage})
}

// -- Department queues --

func (h *Handler) listQueue(c echo.Context, fetch func(*Service, echo.Context, pagination.Params) ([]QueueEntry, int, error)) error {
	p := pagination.FromContext(c)
	entries, total, err := fetch(h.svc, c, p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, p))
}

func (h *Handler) ConsoleQueue(c echo.Context) error {
	return h.listQueue(c, func(s *Service, c echo.Context, p pagination.Params) ([]QueueEntry, int, error) {
		return s.ConsoleQueue(c.Request().Context(), p)
	})
}

func (h *Handler) NursingPending(c echo.Context) error {
	return h.listQueue(c, func(s *Service, c echo.Context, p pagination.Params) ([]QueueEntry, int, error) {
		return s.NursingPending(c.Request().Context(), p)
	})
}

func (h *Handler) DoctorPending(c echo.Context) error {
	return h.listQueue(c, func(s *Service, c echo.Context, p pagination.Params) ([]QueueEntry, int, error) {
		return s.DoctorPending(c.Request().Context(), p)
	})
}

func (h *Handler) DoctorCompleted(c echo.Context) error {
	return h.listQueue(c, func(s *Service, c echo.Context, p pagination.Params) ([]QueueEntry, int, error) {
		return s.DoctorCompleted(c.Request().Context(), p)
	})
}

func (h *Handler) RecallList(c echo.Context) error {
	return h.listQueue(c, func(s *Service, c echo.Context, p pagination.Params) ([]QueueEntry, int, error) {
		return s.RecallList(c.Request().Context(), p)
	})
}

// -- Console --

type startRequest struct {
	CRO        string `json:"cro"`
	Technician string `json:"technician_name"`
}

func (h *Handler) StartConsole(c echo.Context) error {
	var req startRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	rec, err := h.svc.StartConsole(c.Request().Context(), req.CRO, req.Technician)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UpdateConsole(c echo.Context) error {
	var in ConsoleUpdate
	if err := bind(c, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.Technician) == "" {
		in.Technician = auth.UserNameFromContext(c.Request().Context())
	}
	rec, err := h.svc.UpdateConsole(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Scans(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.Scans(c.Request().Context(), p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

// -- Nursing and doctor --

func (h *Handler) UpdateNursing(c echo.Context) error {
	var in NursingUpdate
	if err := bind(c, &in); err != nil {
		return err
	}
	n, err := h.svc.UpdateNursing(c.Request().Context(), in, auth.UserNameFromContext(c.Request().Context()))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, n)
}

type reviewRequest struct {
	CRO        string `json:"cro"`
	Modality   string `json:"modality"`
	ReportDate string `json:"report_date"`
}

func (h *Handler) Review(c echo.Context) error {
	var req reviewRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	v := apperr.NewValidation()
	if strings.TrimSpace(req.CRO) == "" {
		v.Add("cro", "is required")
	}
	m, ok := ParseModality(req.Modality)
	if !ok {
		v.Add("modality", "must be ct or xray")
	}
	var reportDate *time.Time
	if req.ReportDate != "" {
		d, err := time.Parse("2006-01-02", req.ReportDate)
		if err != nil {
			v.Add("report_date", "must be YYYY-MM-DD")
		} else {
			reportDate = &d
		}
	}
	if err := v.Err(); err != nil {
		return apperr.ToHTTP(err)
	}
	n, p, err := h.svc.RecordReview(c.Request().Context(), req.CRO, m, reportDate)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "review": n, "stage": p.Stage})
}
