package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/snapshot"
	"github.com/diagcenter/intake/internal/platform/tier"
)

const (
	entityHospital = "hospital"
	entityDoctor   = "doctor"
)

type Service struct {
	router *tier.Router
	stores tier.Backends[Store]
	now    func() time.Time
}

func NewService(router *tier.Router, stores tier.Backends[Store]) *Service {
	return &Service{router: router, stores: stores, now: time.Now}
}

func (s *Service) ListHospitals(ctx context.Context, all bool) ([]*Hospital, error) {
	var out []*Hospital
	err := tier.Run(ctx, s.router, tier.Read(entityHospital, "list"), s.stores, func(ctx context.Context, st Store) error {
		var err error
		out, err = st.ListHospitals(ctx, all)
		return err
	})
	return out, err
}

func (s *Service) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	var out *Hospital
	err := tier.Run(ctx, s.router, tier.Read(entityHospital, "get"), s.stores, func(ctx context.Context, st Store) error {
		var err error
		out, err = st.GetHospital(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) ListDoctors(ctx context.Context, hospitalID uuid.UUID, all bool) ([]*Doctor, error) {
	var out []*Doctor
	err := tier.Run(ctx, s.router, tier.Read(entityDoctor, "list"), s.stores, func(ctx context.Context, st Store) error {
		var err error
		out, err = st.ListDoctors(ctx, hospitalID, all)
		return err
	})
	return out, err
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var out *Doctor
	err := tier.Run(ctx, s.router, tier.Read(entityDoctor, "get"), s.stores, func(ctx context.Context, st Store) error {
		var err error
		out, err = st.GetDoctor(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) CreateHospital(ctx context.Context, h *Hospital) error {
	h.Name = strings.TrimSpace(h.Name)
	if h.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	h.Active = true
	h.CreatedAt = s.now()
	return tier.Run(ctx, s.router, tier.Write(entityHospital, "create"), s.stores, func(ctx context.Context, st Store) error {
		return st.CreateHospital(ctx, h)
	})
}

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	if d.HospitalID != nil {
		_, err := s.GetHospital(ctx, *d.HospitalID)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Invalid("hospital_id", "does not refer to a known hospital")
		}
		if err != nil {
			return err
		}
	}
	d.Active = true
	d.CreatedAt = s.now()
	return tier.Run(ctx, s.router, tier.Write(entityDoctor, "create"), s.stores, func(ctx context.Context, st Store) error {
		return st.CreateDoctor(ctx, d)
	})
}

// CheckReferences verifies that both the hospital and the doctor exist and
// are active. A doctor attached to another hospital is rejected.
func (s *Service) CheckReferences(ctx context.Context, hospitalID, doctorID uuid.UUID) error {
	v := apperr.NewValidation()
	h, err := s.GetHospital(ctx, hospitalID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		v.Add("hospital_id", "does not refer to a known hospital")
	case err != nil:
		return err
	case !h.Active:
		v.Add("hospital_id", "refers to an inactive hospital")
	}
	d, err := s.GetDoctor(ctx, doctorID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		v.Add("doctor_id", "does not refer to a known doctor")
	case err != nil:
		return err
	case !d.Active:
		v.Add("doctor_id", "refers to an inactive doctor")
	case d.HospitalID != nil && *d.HospitalID != hospitalID:
		v.Add("doctor_id", "is not attached to the selected hospital")
	}
	return v.Err()
}

// Export reads the whole directory for a snapshot file.
func (s *Service) Export(ctx context.Context) ([]snapshot.Block, error) {
	hs, err := s.ListHospitals(ctx, true)
	if err != nil {
		return nil, err
	}
	ds, err := s.ListDoctors(ctx, uuid.Nil, true)
	if err != nil {
		return nil, err
	}
	return []snapshot.Block{HospitalBlock(hs), DoctorBlock(ds)}, nil
}
