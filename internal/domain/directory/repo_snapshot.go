package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/snapshot"
)

var errReadOnly = fmt.Errorf("snapshot tier is read-only: %w", apperr.ErrDataSourceUnavailable)

type storeSnapshot struct{ reader *snapshot.Reader }

func NewStoreSnapshot(r *snapshot.Reader) Store {
	return &storeSnapshot{reader: r}
}

func active(raw string) bool { return !strings.EqualFold(strings.TrimSpace(raw), "false") }

func (r *storeSnapshot) hospitals(ctx context.Context) ([]*Hospital, error) {
	t, err := r.reader.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Hospital
	for _, row := range t.Rows(snapshot.EntityHospital) {
		raw := row.Get("hospital_id")
		if raw == "" {
			continue
		}
		out = append(out, &Hospital{
			ID:      snapshot.ID("hospital", raw),
			Name:    row.Get("hospital_name"),
			Phone:   row.Get("hospital_phone", "hospital_contact"),
			Address: row.Get("hospital_address", "hospital_city"),
			Active:  active(row.Get("hospital_active")),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *storeSnapshot) doctors(ctx context.Context) ([]*Doctor, error) {
	t, err := r.reader.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Doctor
	for _, row := range t.Rows(snapshot.EntityDoctor) {
		raw := row.Get("doctor_id")
		if raw == "" {
			continue
		}
		d := &Doctor{
			ID:     snapshot.ID("doctor", raw),
			Name:   row.Get("doctor_name"),
			Phone:  row.Get("doctor_phone", "doctor_contact"),
			Email:  row.Get("doctor_email"),
			Active: active(row.Get("doctor_active")),
		}
		if hid := snapshot.ID("hospital", row.Get("doctor_hospital_id")); hid != uuid.Nil {
			d.HospitalID = &hid
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *storeSnapshot) CreateHospital(context.Context, *Hospital) error { return errReadOnly }
func (r *storeSnapshot) CreateDoctor(context.Context, *Doctor) error     { return errReadOnly }

func (r *storeSnapshot) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	hs, err := r.hospitals(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range hs {
		if h.ID == id {
			return h, nil
		}
	}
	return nil, apperr.NotFound("hospital " + id.String())
}

func (r *storeSnapshot) ListHospitals(ctx context.Context, all bool) ([]*Hospital, error) {
	hs, err := r.hospitals(ctx)
	if err != nil {
		return nil, err
	}
	out := hs[:0]
	for _, h := range hs {
		if all || h.Active {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *storeSnapshot) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	ds, err := r.doctors(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range ds {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, apperr.NotFound("doctor " + id.String())
}

func (r *storeSnapshot) ListDoctors(ctx context.Context, hospitalID uuid.UUID, all bool) ([]*Doctor, error) {
	ds, err := r.doctors(ctx)
	if err != nil {
		return nil, err
	}
	out := ds[:0]
	for _, d := range ds {
		if !all && !d.Active {
			continue
		}
		if hospitalID != uuid.Nil && (d.HospitalID == nil || *d.HospitalID != hospitalID) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// HospitalBlock and DoctorBlock render the directory for a snapshot export.
func HospitalBlock(hs []*Hospital) snapshot.Block {
	b := snapshot.Block{Header: []string{"hospital_id", "hospital_name", "hospital_phone", "hospital_address", "hospital_active"}}
	for _, h := range hs {
		b.Rows = append(b.Rows, []string{h.ID.String(), h.Name, h.Phone, h.Address, fmt.Sprint(h.Active)})
	}
	return b
}

func DoctorBlock(ds []*Doctor) snapshot.Block {
	b := snapshot.Block{Header: []string{"doctor_id", "doctor_name", "doctor_phone", "doctor_email", "doctor_hospital_id", "doctor_active"}}
	for _, d := range ds {
		hid := ""
		if d.HospitalID != nil {
			hid = d.HospitalID.String()
		}
		b.Rows = append(b.Rows, []string{d.ID.String(), d.Name, d.Phone, d.Email, hid, fmt.Sprint(d.Active)})
	}
	return b
}
