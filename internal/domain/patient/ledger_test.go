package patient

import (
	"math"
	"testing"
)

func TestNewBilling(t *testing.T) {
	tests := []struct {
		name                       string
		amount, discount, received float64
		wantDue                    float64
	}{
		{"partial payment", 2000, 0, 500, 1500},
		{"discounted", 1200, 200, 1000, 0},
		{"overpaid", 500, 0, 600, -100},
		{"rounded", 100.005, 0, 0.004, 100},
		{"free", 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBilling(tt.amount, tt.discount, tt.received)
			if b.Due != tt.wantDue {
				t.Errorf("due = %v, want %v", b.Due, tt.wantDue)
			}
		})
	}
}

func TestApplyPayment_Accumulates(t *testing.T) {
	b := NewBilling(2000, 0, 500)
	b = b.ApplyPayment(1000, 100)
	if b.Received != 1500 || b.Discount != 100 || b.Due != 400 {
		t.Errorf("unexpected billing %+v", b)
	}
	b = b.ApplyPayment(400, 0)
	if !b.Settled() {
		t.Errorf("expected settled, got due %v", b.Due)
	}
	if math.Signbit(b.Due) {
		t.Error("settled due must not be negative zero")
	}
}

func TestBilling_NegativeAndCashDue(t *testing.T) {
	b := NewBilling(100, 150, 0)
	if !b.Negative() {
		t.Error("expected negative due")
	}
	if b.Settled() {
		t.Error("a negative due is not settled")
	}
	if b.CashDue() != 0 {
		t.Errorf("expected cash due clamped to 0, got %v", b.CashDue())
	}
	if NewBilling(100, 0, 40).CashDue() != 60 {
		t.Error("expected positive due passed through")
	}
}

func TestValidatePayment(t *testing.T) {
	if err := validatePayment(0, 0); err == nil {
		t.Error("expected error when nothing is paid")
	}
	if err := validatePayment(-1, 0); err == nil {
		t.Error("expected error for negative received")
	}
	if err := validatePayment(math.NaN(), 0); err == nil {
		t.Error("expected error for NaN")
	}
	if err := validatePayment(0, 50); err != nil {
		t.Errorf("discount-only payment should pass, got %v", err)
	}
}

func TestFormatCRO(t *testing.T) {
	if got := FormatCRO("CRO", 42); got != "CRO000042" {
		t.Errorf("got %s", got)
	}
	if got := FormatCRO("DC", 1234567); got != "DC1234567" {
		t.Errorf("expected wide sequences kept whole, got %s", got)
	}
}

func TestCROSequence(t *testing.T) {
	tests := []struct {
		cro  string
		want int
	}{
		{"CRO000042", 42},
		{"CRO1000000", 1000000},
		{"DC000001", 0},
		{"CRO", 0},
		{"CRO00A1", 0},
	}
	for _, tt := range tests {
		if got := CROSequence("CRO", tt.cro); got != tt.want {
			t.Errorf("CROSequence(%q) = %d, want %d", tt.cro, got, tt.want)
		}
	}
}
