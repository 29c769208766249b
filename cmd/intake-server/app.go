package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/diagcenter/intake/internal/config"
	"github.com/diagcenter/intake/internal/domain/cashbook"
	"github.com/diagcenter/intake/internal/domain/directory"
	"github.com/diagcenter/intake/internal/domain/patient"
	"github.com/diagcenter/intake/internal/platform/auth"
	"github.com/diagcenter/intake/internal/platform/db"
	"github.com/diagcenter/intake/internal/platform/middleware"
	"github.com/diagcenter/intake/internal/platform/snapshot"
	"github.com/diagcenter/intake/internal/platform/telemetry"
	"github.com/diagcenter/intake/internal/platform/tier"
)

// app holds the tier handles and services shared by the server and the
// maintenance commands.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	pool    *pgxpool.Pool
	gdb     *gorm.DB
	snap    *snapshot.Reader
	router  *tier.Router
	metrics *telemetry.Provider

	patients  *patient.Service
	directory *directory.Service
	cashbook  *cashbook.Service
}

// newApp opens every configured tier without contacting it. A tier that is
// down at start shows up in the first probe, not as a startup failure.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: telemetry.NewProvider()}

	pool, err := db.OpenPool(ctx, cfg.PrimaryDatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	tcfg := tier.Config{
		Primary:      db.PGProber{Pool: pool},
		ProbeTimeout: cfg.ProbeTimeout,
		QueryTimeout: cfg.QueryTimeout,
		IsFailure:    db.IsConnectivityError,
		Observer:     a.metrics.TierObserver(),
		Logger:       log.With().Str("component", "tier").Logger(),
	}
	if cfg.SecondaryEnabled() {
		gdb, err := db.OpenMySQL(cfg.SecondaryDatabaseDSN, cfg.SecondaryMaxConns)
		if err != nil {
			// Bad credentials or DSN syntax leave the service on two tiers.
			log.Error().Err(err).Msg("secondary store disabled")
		} else {
			a.gdb = gdb
			tcfg.Secondary = db.MySQLProber{DB: gdb}
		}
	}
	if cfg.SnapshotEnabled() {
		a.snap = snapshot.NewReader(cfg.SnapshotPath)
		tcfg.Snapshot = true
	}

	health := tier.NewHealth()
	a.router = tier.NewRouter(health, tcfg)
	a.metrics.TierHealth(health)
	a.metrics.Collect(func(p *telemetry.Provider) {
		var loaded int64
		if a.snap != nil && a.snap.Loaded() {
			loaded = 1
		}
		p.SetGauge(telemetry.MetricSnapshotLoaded, loaded)
	})

	dirStores := tier.Backends[directory.Store]{Primary: directory.NewStorePG(pool)}
	patStores := tier.Backends[patient.Store]{Primary: patient.NewStorePG(pool)}
	cashStores := tier.Backends[cashbook.Store]{Primary: cashbook.NewStorePG(pool), Snapshot: cashbook.NewStoreSnapshot()}
	if a.gdb != nil {
		dirStores.Secondary = directory.NewStoreMySQL(a.gdb)
		patStores.Secondary = patient.NewStoreMySQL(a.gdb)
		cashStores.Secondary = cashbook.NewStoreMySQL(a.gdb)
	}
	if a.snap != nil {
		dirStores.Snapshot = directory.NewStoreSnapshot(a.snap)
		patStores.Snapshot = patient.NewStoreSnapshot(a.snap)
	}

	a.directory = directory.NewService(a.router, dirStores)
	a.patients = patient.NewService(a.router, patStores, a.directory, cfg.CROPrefix, log).WithEvents(a.metrics)
	a.cashbook = cashbook.NewService(a.router, cashStores, a.patients, log)
	return a, nil
}

func (a *app) close() {
	a.pool.Close()
	if a.gdb != nil {
		if sqlDB, err := a.gdb.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

func (a *app) authMiddleware() echo.MiddlewareFunc {
	jcfg := auth.JWTConfig{Issuer: a.cfg.AuthIssuer, SigningKey: []byte(a.cfg.AuthSigningKey)}
	if a.cfg.IsDev() {
		return auth.DevAuthMiddleware(jcfg)
	}
	return auth.JWTMiddleware(jcfg)
}

func (a *app) echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.log))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.log))
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(middleware.DataTier())
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
		HSTS:          a.cfg.IsProduction(),
		PrivatePrefix: middleware.DefaultSecurityHeadersConfig.PrivatePrefix,
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  a.cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, middleware.DataTierHeader},
	}))
	e.Use(middleware.BodyLimit("256K"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/tiers", db.TierHealthHandler(a.router, a.pool, a.gdb))
	e.GET("/metrics", a.metrics.PrometheusHandler())

	api := e.Group("/api/v1",
		a.authMiddleware(),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimitRPS,
			BurstSize:         a.cfg.RateLimitBurst,
			IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
		}),
		middleware.Audit(a.log),
	)
	patient.NewHandler(a.patients).RegisterRoutes(api)
	directory.NewHandler(a.directory).RegisterRoutes(api)
	cashbook.NewHandler(a.cashbook).RegisterRoutes(api)
	return e
}

// exportSnapshot writes every patient and directory record readable from the
// active tier to path.
func (a *app) exportSnapshot(ctx context.Context, path string) (int, error) {
	patients, err := a.patients.Export(ctx)
	if err != nil {
		return 0, fmt.Errorf("export patients: %w", err)
	}
	dir, err := a.directory.Export(ctx)
	if err != nil {
		return 0, fmt.Errorf("export directory: %w", err)
	}
	blocks := append(dir, patients...)
	rows := 0
	for _, b := range blocks {
		rows += len(b.Rows)
	}
	if err := snapshot.WriteFile(path, blocks); err != nil {
		return 0, err
	}
	return rows, nil
}
