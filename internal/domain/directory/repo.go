package directory

import (
	"context"

	"github.com/google/uuid"
)

// Store is the per-tier persistence of the directory.
type Store interface {
	CreateHospital(ctx context.Context, h *Hospital) error
	GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error)
	// ListHospitals returns hospitals ordered by name. Inactive ones are
	// included only when all is set.
	ListHospitals(ctx context.Context, all bool) ([]*Hospital, error)

	CreateDoctor(ctx context.Context, d *Doctor) error
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// ListDoctors returns doctors ordered by name, optionally restricted to
	// one hospital (uuid.Nil for all).
	ListDoctors(ctx context.Context, hospitalID uuid.UUID, all bool) ([]*Doctor, error)
}
