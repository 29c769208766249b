package patient

import (
	"context"
	"time"
)

// Store is the per-tier persistence of patient records and their
// department sub-records. Every relational tier and the snapshot provide one.
type Store interface {
	// InTx runs fn so that every call made through its ctx commits or rolls
	// back together.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// MaxCROSequence returns the highest sequence issued under prefix, 0 if none.
	MaxCROSequence(ctx context.Context, prefix string) (int, error)
	// Create inserts p with Version 1. A CRO already in use is ErrConflict.
	Create(ctx context.Context, p *Patient) error
	GetByCRO(ctx context.Context, cro string) (*Patient, error)
	Search(ctx context.Context, f Filter) ([]*Patient, int, error)
	// Update writes every mutable field of p if the stored version still
	// equals p.Version, then increments p.Version. A stale version is
	// ErrConflict.
	Update(ctx context.Context, p *Patient) error
	BillingTotals(ctx context.Context, from, to time.Time) (Totals, error)

	GetConsole(ctx context.Context, cro string) (*ConsoleRecord, error)
	SaveConsole(ctx context.Context, r *ConsoleRecord) error
	ConsoleFor(ctx context.Context, cros []string) (map[string]*ConsoleRecord, error)
	ListConsole(ctx context.Context, limit, offset int) ([]*ConsoleRecord, int, error)

	GetNursing(ctx context.Context, cro string) (*NursingReview, error)
	SaveNursing(ctx context.Context, n *NursingReview) error
	NursingFor(ctx context.Context, cros []string) (map[string]*NursingReview, error)
}

func cros(ps []*Patient) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.CRO
	}
	return out
}
