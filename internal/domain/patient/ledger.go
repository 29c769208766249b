package patient

import (
	"fmt"
	"math"
	"strings"

	"github.com/diagcenter/intake/internal/platform/apperr"
)

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}

// NewBilling returns the billing state for a registration.
func NewBilling(amount, discount, received float64) Billing {
	return Billing{Amount: amount, Discount: discount, Received: received}.recompute()
}

func (b Billing) recompute() Billing {
	b.Amount = round2(b.Amount)
	b.Discount = round2(b.Discount)
	b.Received = round2(b.Received)
	b.Due = round2(b.Amount - b.Discount - b.Received)
	return b
}

// ApplyPayment adds a received amount and an extra discount and recomputes
// the due.
func (b Billing) ApplyPayment(received, discount float64) Billing {
	b.Received += received
	b.Discount += discount
	return b.recompute()
}

// Settled reports whether nothing is owed. Only a settled patient may pass
// a due-gated transition.
func (b Billing) Settled() bool { return b.Due == 0 }

// Negative reports an overpayment or a discount larger than the charge.
func (b Billing) Negative() bool { return b.Due < 0 }

// CashDue is the due figure used in cash reporting.
func (b Billing) CashDue() float64 {
	if b.Due < 0 {
		return 0
	}
	return b.Due
}

func validateMoney(v *apperr.ValidationError, field string, amount float64) {
	switch {
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		v.Add(field, "must be a number")
	case amount < 0:
		v.Add(field, "must not be negative")
	}
}

// validatePayment checks a payment update. At least one delta must be set.
func validatePayment(received, discount float64) error {
	v := apperr.NewValidation()
	validateMoney(v, "r_amount", received)
	validateMoney(v, "d_amount", discount)
	if received == 0 && discount == 0 {
		v.Add("r_amount", "r_amount or d_amount is required")
	}
	return v.Err()
}

// FormatCRO renders a case reference from prefix and sequence number.
func FormatCRO(prefix string, seq int) string {
	return fmt.Sprintf("%s%06d", prefix, seq)
}

// CROSequence extracts the sequence number of cro, or 0 when cro was not
// issued under prefix.
func CROSequence(prefix, cro string) int {
	rest, ok := strings.CutPrefix(cro, prefix)
	if !ok || rest == "" {
		return 0
	}
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
