package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (r *storePG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const hospitalCols = `id, name, phone, address, active, created_at`

func (r *storePG) CreateHospital(ctx context.Context, h *Hospital) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO hospitals (`+hospitalCols+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.Name, h.Phone, h.Address, h.Active, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert hospital: %w", err)
	}
	return nil
}

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	if err := row.Scan(&h.ID, &h.Name, &h.Phone, &h.Address, &h.Active, &h.CreatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *storePG) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	h, err := scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("hospital " + id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get hospital: %w", err)
	}
	return h, nil
}

func (r *storePG) ListHospitals(ctx context.Context, all bool) ([]*Hospital, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+hospitalCols+` FROM hospitals WHERE active OR $1 ORDER BY name`, all)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	defer rows.Close()
	var out []*Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const doctorCols = `id, name, phone, email, hospital_id, active, created_at`

func (r *storePG) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctors (`+doctorCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.Name, d.Phone, d.Email, d.HospitalID, d.Active, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.Email, &d.HospitalID, &d.Active, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *storePG) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("doctor " + id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

func (r *storePG) ListDoctors(ctx context.Context, hospitalID uuid.UUID, all bool) ([]*Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+doctorCols+` FROM doctors
		WHERE (active OR $1) AND ($2 OR hospital_id = $3)
		ORDER BY name`, all, hospitalID == uuid.Nil, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	var out []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
