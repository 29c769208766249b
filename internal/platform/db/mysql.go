package db

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const gormTxKey contextKey = "gorm_tx"

// OpenMySQL opens the secondary store. The initial ping is disabled so a
// secondary that is down at start only shows up as a failed probe.
func OpenMySQL(dsn string, maxConns int) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Error),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open secondary store: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("secondary store handle: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns)
	}
	return gdb, nil
}

// MySQLProber probes the secondary store with a trivial query.
type MySQLProber struct {
	DB *gorm.DB
}

func (p MySQLProber) Probe(ctx context.Context) error {
	var one int
	if err := p.DB.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return fmt.Errorf("probe secondary: %w", err)
	}
	return nil
}

// Gorm returns the transaction carried by ctx, or gdb when there is none,
// bound to ctx.
func Gorm(ctx context.Context, gdb *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(gormTxKey).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return gdb.WithContext(ctx)
}

// WithGormTx runs fn inside a transaction on gdb; see WithTx.
func WithGormTx(ctx context.Context, gdb *gorm.DB, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(gormTxKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, gormTxKey, tx))
	})
}
