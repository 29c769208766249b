package cashbook

import (
	"context"
	"fmt"
	"time"

	"github.com/diagcenter/intake/internal/platform/apperr"
)

var errReadOnly = fmt.Errorf("snapshot tier is read-only: %w", apperr.ErrDataSourceUnavailable)

// storeSnapshot serves the snapshot tier. Exports carry no vouchers, so a
// day read from the snapshot has none.
type storeSnapshot struct{}

func NewStoreSnapshot() Store { return storeSnapshot{} }

func (storeSnapshot) Create(context.Context, *Voucher) error { return errReadOnly }

func (storeSnapshot) ListByDay(context.Context, time.Time) ([]*Voucher, error) {
	return []*Voucher{}, nil
}
