package cashbook

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/diagcenter/intake/internal/domain/patient"
	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/tier"
)

const entity = "voucher"

// PatientTotals reports billing over the patients registered in [from, to).
type PatientTotals interface {
	Totals(ctx context.Context, from, to time.Time) (patient.Totals, error)
}

type Service struct {
	router   *tier.Router
	stores   tier.Backends[Store]
	patients PatientTotals
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(router *tier.Router, stores tier.Backends[Store], patients PatientTotals, log zerolog.Logger) *Service {
	return &Service{
		router:   router,
		stores:   stores,
		patients: patients,
		log:      log.With().Str("component", "cashbook").Logger(),
		now:      time.Now,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func checkAmount(v *apperr.ValidationError, field string, amt float64) {
	if math.IsNaN(amt) || math.IsInf(amt, 0) {
		v.Add(field, "must be a number")
	} else if amt < 0 {
		v.Add(field, "must not be negative")
	}
}

// Create records a voucher. A zero Date means today.
func (s *Service) Create(ctx context.Context, in *Voucher, user string) error {
	v := apperr.NewValidation()
	checkAmount(v, "received", in.Received)
	checkAmount(v, "due", in.Due)
	checkAmount(v, "withdraw", in.Withdraw)
	if in.Received == 0 && in.Due == 0 && in.Withdraw == 0 {
		v.Add("received", "one of received, due or withdraw is required")
	}
	if err := v.Err(); err != nil {
		return err
	}

	now := s.now()
	if in.Date.IsZero() {
		in.Date = now
	}
	in.Date = Day(in.Date)
	in.Received, in.Due, in.Withdraw = round2(in.Received), round2(in.Due), round2(in.Withdraw)
	in.Remark = strings.TrimSpace(in.Remark)
	in.CreatedBy = user
	in.CreatedAt = now

	err := tier.Run(ctx, s.router, tier.Write(entity, "create"), s.stores, func(ctx context.Context, st Store) error {
		return st.Create(ctx, in)
	})
	if err == nil {
		s.log.Info().Str("voucher_id", in.ID.String()).Str("date", in.Date.Format(DateLayout)).Msg("voucher recorded")
	}
	return err
}

func (s *Service) List(ctx context.Context, day time.Time) ([]*Voucher, error) {
	var out []*Voucher
	err := tier.Run(ctx, s.router, tier.Read(entity, "list"), s.stores, func(ctx context.Context, st Store) error {
		var err error
		out, err = st.ListByDay(ctx, Day(day))
		return err
	})
	return out, err
}

// Summary computes the cash position of day. Patient due is clamped at zero
// per patient; cash in hand is clamped at zero overall.
func (s *Service) Summary(ctx context.Context, day time.Time) (*Summary, error) {
	day = Day(day)
	totals, err := s.patients.Totals(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	vouchers, err := s.List(ctx, day)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Date:            day.Format(DateLayout),
		Patients:        totals.Patients,
		PatientReceived: totals.Received,
		PatientDue:      totals.Due,
	}
	for _, v := range vouchers {
		sum.VoucherReceived += v.Received
		sum.VoucherDue += v.Due
		sum.Withdraw += v.Withdraw
	}
	sum.VoucherReceived = round2(sum.VoucherReceived)
	sum.VoucherDue = round2(sum.VoucherDue)
	sum.Withdraw = round2(sum.Withdraw)
	sum.CashInHand = math.Max(0, round2(sum.PatientReceived+sum.VoucherReceived-sum.Withdraw))
	return sum, nil
}
