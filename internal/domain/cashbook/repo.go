package cashbook

import (
	"context"
	"time"
)

type Store interface {
	Create(ctx context.Context, v *Voucher) error
	// ListByDay returns the vouchers of one business day, oldest first.
	ListByDay(ctx context.Context, day time.Time) ([]*Voucher, error)
}
