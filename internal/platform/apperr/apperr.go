// Package apperr defines the error taxonomy shared by the data tiers and the
// department services, and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrPaymentDue            = errors.New("payment due")
	ErrStateTransition       = errors.New("invalid state transition")
	ErrConflict              = errors.New("record was modified concurrently")
	ErrDataSourceUnavailable = errors.New("data source unavailable")
)

// ValidationError carries field-level messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidation returns an empty ValidationError ready for Add.
func NewValidation() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for field. The first message per field wins.
func (v *ValidationError) Add(field, msg string) {
	if _, ok := v.Fields[field]; !ok {
		v.Fields[field] = msg
	}
}

// Err returns nil when no field failed, so callers can `return v.Err()`.
func (v *ValidationError) Err() error {
	if len(v.Fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid builds a single-field ValidationError.
func Invalid(field, msg string) error {
	v := NewValidation()
	v.Add(field, msg)
	return v
}

func NotFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}

// PaymentDueError is returned when an outstanding balance blocks a transition.
type PaymentDueError struct {
	CRO string
	Due float64
}

func (e *PaymentDueError) Error() string {
	return fmt.Sprintf("cro %s has %.2f outstanding", e.CRO, e.Due)
}

func (e *PaymentDueError) Unwrap() error { return ErrPaymentDue }

// IsBusiness reports whether err is a domain outcome rather than an
// infrastructure failure. Business errors are never retried on another tier.
func IsBusiness(err error) bool {
	var v *ValidationError
	if errors.As(err, &v) {
		return true
	}
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPaymentDue) ||
		errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDataSourceUnavailable)
}

// ToHTTP maps err onto an echo HTTP error with a JSON-friendly message body.
func ToHTTP(err error) *echo.HTTPError {
	var v *ValidationError
	if errors.As(err, &v) {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": "validation failed",
			"fields":  v.Fields,
		})
	}
	var due *PaymentDueError
	if errors.As(err, &due) {
		return echo.NewHTTPError(http.StatusPaymentRequired, map[string]interface{}{
			"message":    "payment due",
			"cro":        due.CRO,
			"amount_due": due.Due,
		})
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPaymentDue):
		return echo.NewHTTPError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":   err.Error(),
			"retryable": true,
		})
	case errors.Is(err, ErrStateTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrDataSourceUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service unavailable, try again")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
