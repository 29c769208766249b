package cashbook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/diagcenter/intake/internal/platform/db"
)

type voucherRow struct {
	ID          string    `gorm:"column:id;primaryKey;size:36"`
	VoucherDate string    `gorm:"column:voucher_date;type:date;index"`
	Received    float64   `gorm:"column:received;type:decimal(12,2)"`
	Due         float64   `gorm:"column:due;type:decimal(12,2)"`
	Withdraw    float64   `gorm:"column:withdraw;type:decimal(12,2)"`
	Remark      string    `gorm:"column:remark;type:text"`
	CreatedBy   string    `gorm:"column:created_by;size:255"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (voucherRow) TableName() string { return "vouchers" }

// Models lists the secondary-store tables owned by this package.
func Models() []interface{} {
	return []interface{}{&voucherRow{}}
}

type storeMySQL struct{ db *gorm.DB }

func NewStoreMySQL(gdb *gorm.DB) Store {
	return &storeMySQL{db: gdb}
}

func (r *storeMySQL) Create(ctx context.Context, v *Voucher) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	row := &voucherRow{
		ID: v.ID.String(), VoucherDate: v.Date.Format(DateLayout),
		Received: v.Received, Due: v.Due, Withdraw: v.Withdraw,
		Remark: v.Remark, CreatedBy: v.CreatedBy, CreatedAt: v.CreatedAt,
	}
	if err := db.Gorm(ctx, r.db).Create(row).Error; err != nil {
		return fmt.Errorf("insert voucher: %w", err)
	}
	return nil
}

func (r *storeMySQL) ListByDay(ctx context.Context, day time.Time) ([]*Voucher, error) {
	var rows []voucherRow
	err := db.Gorm(ctx, r.db).
		Where("voucher_date = ?", day.Format(DateLayout)).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	out := make([]*Voucher, len(rows))
	for i, row := range rows {
		id, _ := uuid.Parse(row.ID)
		out[i] = &Voucher{
			ID: id, Date: day, Received: row.Received, Due: row.Due, Withdraw: row.Withdraw,
			Remark: row.Remark, CreatedBy: row.CreatedBy, CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}
