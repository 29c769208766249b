package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/diagcenter/intake/internal/config"
	"github.com/diagcenter/intake/internal/domain/cashbook"
	"github.com/diagcenter/intake/internal/domain/directory"
	"github.com/diagcenter/intake/internal/domain/patient"
	"github.com/diagcenter/intake/internal/platform/auth"
	"github.com/diagcenter/intake/internal/platform/db"
	"github.com/diagcenter/intake/internal/platform/snapshot"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the intake API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a bearer token run as admin")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise")
		return err
	}
	defer a.close()

	if active, err := a.router.ResolveTier(ctx); err != nil {
		logger.Warn().Err(err).Msg("no data tier reachable at start")
	} else {
		logger.Info().Str("tier", active.String()).Msg("data tier resolved")
	}

	e := a.echo()
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the relational store schemas",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to the primary store",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.PrimaryDatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of the primary store",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.PrimaryDatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "secondary",
		Short: "Create or update the legacy replica tables on the secondary store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.SecondaryEnabled() {
				return fmt.Errorf("SECONDARY_DATABASE_DSN is not set")
			}
			gdb, err := db.OpenMySQL(cfg.SecondaryDatabaseDSN, cfg.SecondaryMaxConns)
			if err != nil {
				return err
			}
			if err := (db.MySQLProber{DB: gdb}).Probe(cmd.Context()); err != nil {
				return err
			}
			var models []interface{}
			models = append(models, directory.Models()...)
			models = append(models, patient.Models()...)
			models = append(models, cashbook.Models()...)
			if err := gdb.WithContext(cmd.Context()).AutoMigrate(models...); err != nil {
				return fmt.Errorf("auto-migrate secondary: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Secondary store schema up to date (%d tables).\n", len(models))
			return nil
		},
	})

	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect or produce flat-file snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <file>",
		Short: "Parse a snapshot and print its record counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectSnapshot(cmd, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export <file>",
		Short: "Write the active tier's patients and directory to a .csv or .xlsx snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, newLogger(cfg.Env))
			if err != nil {
				return err
			}
			defer a.close()

			rows, err := a.exportSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s.\n", rows, args[0])
			return nil
		},
	})
	return cmd
}

func inspectSnapshot(cmd *cobra.Command, path string) error {
	tables, err := snapshot.ReadFile(path)
	if err != nil {
		return err
	}
	counts := tables.Counts()
	entities := make([]string, 0, len(counts))
	for e := range counts {
		entities = append(entities, string(e))
	}
	sort.Strings(entities)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %s\n", "ENTITY", "ROWS")
	for _, e := range entities {
		fmt.Fprintf(out, "%-10s %d\n", e, counts[snapshot.Entity(e)])
	}
	fmt.Fprintf(out, "%-10s %d\n", "skipped", tables.Skipped())
	return nil
}

func tokenCmd() *cobra.Command {
	var sub, name, roles string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a staff bearer token signed with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("AUTH_SIGNING_KEY")
			if key == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is not set")
			}
			if sub == "" {
				return fmt.Errorf("--sub is required")
			}
			tok, err := issueStaffToken(auth.JWTConfig{Issuer: os.Getenv("AUTH_ISSUER"), SigningKey: []byte(key)}, sub, name, roles, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "Staff user id")
	cmd.Flags().StringVar(&name, "name", "", "Display name recorded on department actions")
	cmd.Flags().StringVar(&roles, "roles", auth.RoleReception, "Comma-separated roles")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func issueStaffToken(cfg auth.JWTConfig, sub, name, roles string, ttl time.Duration, now time.Time) (string, error) {
	var list []string
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			list = append(list, r)
		}
	}
	if len(list) == 0 {
		return "", fmt.Errorf("at least one role is required")
	}
	return auth.IssueToken(cfg, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  name,
		Roles: list,
	})
}
