package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValidationError_ErrNilWhenEmpty(t *testing.T) {
	v := NewValidation()
	if v.Err() != nil {
		t.Fatal("expected nil error for empty validation")
	}
	v.Add("name", "is required")
	v.Add("name", "second message ignored")
	if v.Err() == nil {
		t.Fatal("expected error after Add")
	}
	if v.Fields["name"] != "is required" {
		t.Errorf("expected first message to win, got %q", v.Fields["name"])
	}
}

func TestValidationError_MessageSorted(t *testing.T) {
	v := NewValidation()
	v.Add("gender", "is required")
	v.Add("age", "is required")
	want := "validation failed: age: is required; gender: is required"
	if v.Error() != want {
		t.Errorf("got %q, want %q", v.Error(), want)
	}
}

func TestPaymentDueError_Unwraps(t *testing.T) {
	err := fmt.Errorf("send: %w", &PaymentDueError{CRO: "CRO000001", Due: 300})
	if !errors.Is(err, ErrPaymentDue) {
		t.Fatal("expected errors.Is(ErrPaymentDue)")
	}
	var due *PaymentDueError
	if !errors.As(err, &due) || due.Due != 300 {
		t.Fatalf("expected PaymentDueError with due 300, got %v", due)
	}
}

func TestIsBusiness(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NotFound("patient"), true},
		{Invalid("cro", "is required"), true},
		{&PaymentDueError{CRO: "X", Due: 1}, true},
		{fmt.Errorf("wrap: %w", ErrConflict), true},
		{ErrStateTransition, true},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		if got := IsBusiness(tt.err); got != tt.want {
			t.Errorf("IsBusiness(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestToHTTP_StatusCodes(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{Invalid("name", "is required"), http.StatusBadRequest},
		{NotFound("patient"), http.StatusNotFound},
		{&PaymentDueError{CRO: "X", Due: 10}, http.StatusPaymentRequired},
		{ErrConflict, http.StatusConflict},
		{fmt.Errorf("x: %w", ErrStateTransition), http.StatusConflict},
		{fmt.Errorf("x: %w", ErrDataSourceUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := ToHTTP(tt.err).Code; got != tt.code {
			t.Errorf("ToHTTP(%v) = %d, want %d", tt.err, got, tt.code)
		}
	}
}
