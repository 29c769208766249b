package cashbook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagcenter/intake/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (r *storePG) Create(ctx context.Context, v *Voucher) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO vouchers (id, voucher_date, received, due, withdraw, remark, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.Date.Format(DateLayout), v.Received, v.Due, v.Withdraw, v.Remark, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert voucher: %w", err)
	}
	return nil
}

func (r *storePG) ListByDay(ctx context.Context, day time.Time) ([]*Voucher, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, voucher_date, received, due, withdraw, remark, created_by, created_at
		FROM vouchers WHERE voucher_date = $1::date ORDER BY created_at`, day.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	defer rows.Close()

	var out []*Voucher
	for rows.Next() {
		var v Voucher
		if err := rows.Scan(&v.ID, &v.Date, &v.Received, &v.Due, &v.Withdraw, &v.Remark, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
