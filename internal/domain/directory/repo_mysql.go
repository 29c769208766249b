package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/diagcenter/intake/internal/platform/apperr"
	"github.com/diagcenter/intake/internal/platform/db"
)

type hospitalRow struct {
	ID        string    `gorm:"column:id;primaryKey;size:36"`
	Name      string    `gorm:"column:name;size:255;not null"`
	Phone     string    `gorm:"column:phone;size:32"`
	Address   string    `gorm:"column:address;type:text"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (hospitalRow) TableName() string { return "hospitals" }

func (row *hospitalRow) hospital() *Hospital {
	id, _ := uuid.Parse(row.ID)
	return &Hospital{ID: id, Name: row.Name, Phone: row.Phone, Address: row.Address, Active: row.Active, CreatedAt: row.CreatedAt}
}

type doctorRow struct {
	ID         string    `gorm:"column:id;primaryKey;size:36"`
	Name       string    `gorm:"column:name;size:255;not null"`
	Phone      string    `gorm:"column:phone;size:32"`
	Email      string    `gorm:"column:email;size:255"`
	HospitalID *string   `gorm:"column:hospital_id;size:36;index"`
	Active     bool      `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (doctorRow) TableName() string { return "doctors" }

func (row *doctorRow) doctor() *Doctor {
	id, _ := uuid.Parse(row.ID)
	d := &Doctor{ID: id, Name: row.Name, Phone: row.Phone, Email: row.Email, Active: row.Active, CreatedAt: row.CreatedAt}
	if row.HospitalID != nil {
		if hid, err := uuid.Parse(*row.HospitalID); err == nil {
			d.HospitalID = &hid
		}
	}
	return d
}

// Models lists the secondary-store tables owned by this package.
func Models() []interface{} {
	return []interface{}{&hospitalRow{}, &doctorRow{}}
}

type storeMySQL struct{ db *gorm.DB }

func NewStoreMySQL(gdb *gorm.DB) Store {
	return &storeMySQL{db: gdb}
}

func (r *storeMySQL) conn(ctx context.Context) *gorm.DB {
	return db.Gorm(ctx, r.db)
}

func (r *storeMySQL) CreateHospital(ctx context.Context, h *Hospital) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	row := &hospitalRow{ID: h.ID.String(), Name: h.Name, Phone: h.Phone, Address: h.Address, Active: h.Active, CreatedAt: h.CreatedAt}
	if err := r.conn(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert hospital: %w", err)
	}
	return nil
}

func (r *storeMySQL) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	var row hospitalRow
	err := r.conn(ctx).Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("hospital " + id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get hospital: %w", err)
	}
	return row.hospital(), nil
}

func (r *storeMySQL) ListHospitals(ctx context.Context, all bool) ([]*Hospital, error) {
	q := r.conn(ctx).Order("name")
	if !all {
		q = q.Where("active = ?", true)
	}
	var rows []hospitalRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	out := make([]*Hospital, len(rows))
	for i := range rows {
		out[i] = rows[i].hospital()
	}
	return out, nil
}

func (r *storeMySQL) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	row := &doctorRow{ID: d.ID.String(), Name: d.Name, Phone: d.Phone, Email: d.Email, Active: d.Active, CreatedAt: d.CreatedAt}
	if d.HospitalID != nil {
		hid := d.HospitalID.String()
		row.HospitalID = &hid
	}
	if err := r.conn(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *storeMySQL) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var row doctorRow
	err := r.conn(ctx).Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("doctor " + id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return row.doctor(), nil
}

func (r *storeMySQL) ListDoctors(ctx context.Context, hospitalID uuid.UUID, all bool) ([]*Doctor, error) {
	q := r.conn(ctx).Order("name")
	if !all {
		q = q.Where("active = ?", true)
	}
	if hospitalID != uuid.Nil {
		q = q.Where("hospital_id = ?", hospitalID.String())
	}
	var rows []doctorRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	out := make([]*Doctor, len(rows))
	for i := range rows {
		out[i] = rows[i].doctor()
	}
	return out, nil
}
