package db

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/diagcenter/intake/internal/platform/tier"
)

// PoolStats represents connection pool statistics of one relational tier.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration,omitempty"`
}

// GetPoolStats returns primary pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// GetGormStats returns secondary pool statistics, or nil when the handle
// cannot be unwrapped.
func GetGormStats(gdb *gorm.DB) *PoolStats {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil
	}
	stat := sqlDB.Stats()
	return &PoolStats{
		TotalConns:    int32(stat.OpenConnections),
		IdleConns:     int32(stat.Idle),
		AcquiredConns: int32(stat.InUse),
		MaxConns:      int32(stat.MaxOpenConnections),
		AcquireCount:  stat.WaitCount,
	}
}

// TierReport is the body of the tier health endpoint.
type TierReport struct {
	Status    string                `json:"status"`
	Active    string                `json:"active"`
	Tiers     []tier.Status         `json:"tiers"`
	Snapshot  bool                  `json:"snapshot_configured"`
	Secondary bool                  `json:"secondary_configured"`
	Pools     map[string]*PoolStats `json:"pools,omitempty"`
}

// TierHealthHandler resolves the active tier and reports every tier flag.
// The endpoint answers 200 while any tier can serve reads, including the
// read-only snapshot, and 503 otherwise.
func TierHealthHandler(router *tier.Router, pool *pgxpool.Pool, gdb *gorm.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		report := TierReport{
			Status:    "healthy",
			Snapshot:  router.SnapshotEnabled(),
			Secondary: router.SecondaryEnabled(),
			Pools:     make(map[string]*PoolStats),
		}
		active, err := router.ResolveTier(c.Request().Context())
		report.Active = active.String()
		report.Tiers = router.Health().Statuses()
		if pool != nil {
			report.Pools[tier.TierPrimary.String()] = GetPoolStats(pool)
		}
		if gdb != nil {
			if st := GetGormStats(gdb); st != nil {
				report.Pools[tier.TierSecondary.String()] = st
			}
		}

		code := http.StatusOK
		switch {
		case err != nil:
			report.Status = "unavailable"
			code = http.StatusServiceUnavailable
		case active != tier.TierPrimary:
			report.Status = "degraded"
		}
		return c.JSON(code, report)
	}
}
