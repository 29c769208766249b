package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/diagcenter/intake/internal/platform/auth"
)

// AuditEntry is one mutating department action: who did what to which CRO.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	UserName   string
	UserRoles  []string
	Department string
	Action     string
	CRO        string
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
}

// AuditRecorder persists audit entries beyond the structured log.
type AuditRecorder interface {
	RecordAction(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAction(entry AuditEntry) error {
	return f(entry)
}

const apiPrefix = "/api/v1/"

// maxAuditPeek bounds how much of a JSON body is buffered to find its cro.
const maxAuditPeek = 64 << 10

// Audit logs every mutating request under /api/v1 after the handler ran, with
// the acting user and the CRO it touched. Reads are not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, req.URL.Path) {
				return next(c)
			}

			bodyCRO := peekCRO(req)
			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				UserID:     auth.UserIDFromContext(ctx),
				UserName:   auth.UserNameFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
			}
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				entry.StatusCode = he.Code
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Department, entry.Action = departmentAction(req.Method, req.URL.Path)
			entry.CRO = c.Param("cro")
			if entry.CRO == "" {
				entry.CRO = bodyCRO
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAction(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if entry.StatusCode >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("user_name", entry.UserName).
				Strs("user_roles", entry.UserRoles).
				Str("department", entry.Department).
				Str("action", entry.Action).
				Str("cro", entry.CRO).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Msg("department_action")

			return err
		}
	}
}

func isAuditable(method, path string) bool {
	if !strings.HasPrefix(path, apiPrefix) {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// departmentAction derives the department from the first path segment and
// the action from the method, or from the trailing verb of action routes.
//
//	POST   /api/v1/patients             -> patients, create
//	PUT    /api/v1/patients/CRO1/payment -> patients, payment
//	POST   /api/v1/admin/patients/send  -> admin, send
//	POST   /api/v1/console/start        -> console, start
func departmentAction(method, path string) (string, string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	dept := "unknown"
	if len(segs) > 0 && segs[0] != "" {
		dept = segs[0]
	}

	action := map[string]string{
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}[method]

	switch {
	case dept == "patients" && len(segs) == 3:
		action = segs[2]
	case dept != "patients" && len(segs) > 1 && method == http.MethodPost:
		action = segs[len(segs)-1]
	}
	return dept, action
}

// peekCRO reads the cro field of a JSON body and restores the body for the
// handler.
func peekCRO(req *http.Request) string {
	if req.Body == nil || req.Body == http.NoBody {
		return ""
	}
	if !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return ""
	}
	buf, err := io.ReadAll(io.LimitReader(req.Body, maxAuditPeek))
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), req.Body), req.Body}
	if err != nil {
		return ""
	}
	var v struct {
		CRO string `json:"cro"`
	}
	if json.Unmarshal(buf, &v) != nil {
		return ""
	}
	return strings.TrimSpace(v.CRO)
}
