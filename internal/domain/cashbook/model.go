// Package cashbook records the daily cash-drawer vouchers and summarizes
// cash in hand for a day.
package cashbook

import (
	"time"

	"github.com/google/uuid"
)

// Voucher is one cash-drawer entry. Date is the business day it belongs to.
type Voucher struct {
	ID        uuid.UUID `json:"id"`
	Date      time.Time `json:"date"`
	Received  float64   `json:"received"`
	Due       float64   `json:"due"`
	Withdraw  float64   `json:"withdraw"`
	Remark    string    `json:"remark,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is the cash position of one business day.
type Summary struct {
	Date            string  `json:"date"`
	Patients        int     `json:"patients"`
	PatientReceived float64 `json:"patient_received"`
	PatientDue      float64 `json:"patient_due"`
	VoucherReceived float64 `json:"voucher_received"`
	VoucherDue      float64 `json:"voucher_due"`
	Withdraw        float64 `json:"withdraw"`
	CashInHand      float64 `json:"cash_in_hand"`
}

// DateLayout is the wire and query format of business days.
const DateLayout = "2006-01-02"

// Day truncates t to midnight in its location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
