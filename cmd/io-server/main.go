package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/iobalance/internal/config"
	"github.com/ehr/iobalance/internal/domain/intakeoutput"
	"github.com/ehr/iobalance/internal/platform/db"
	"github.com/ehr/iobalance/internal/platform/messaging"
	"github.com/ehr/iobalance/internal/platform/middleware"
	"github.com/ehr/iobalance/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "io-server",
		Short: "Intake/output fluid balance API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the intake/output API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run PostgreSQL migrations (SQLite migrates on open)",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(os.Stdout, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, os.DirFS(dir)))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, strings.Repeat("-", 10)+" "+strings.Repeat("-", 40)+" "+strings.Repeat("-", 10)+" "+strings.Repeat("-", 20))
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// backend is the selected store plus what it takes to check and release it.
type backend struct {
	store   intakeoutput.Store
	checker db.Checker
	close   func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, err
		}
		return &backend{
			store:   intakeoutput.NewPostgresStore(pool),
			checker: db.PoolChecker(pool),
			close:   pool.Close,
		}, nil
	case config.StoreSQLite:
		s, err := intakeoutput.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:   s,
			checker: db.SQLChecker(config.StoreSQLite, s.DB()),
			close:   func() { s.Close() },
		}, nil
	default:
		return &backend{checker: db.Checker{Backend: config.StoreMemory}, close: func() {}}, nil
	}
}

func newService(cfg *config.Config, store intakeoutput.Store, logger zerolog.Logger) (*intakeoutput.Service, error) {
	svc := intakeoutput.NewService(intakeoutput.DefaultRegistry(), store)
	svc.SetLogger(logger.With().Str("component", "intakeoutput").Logger())
	if err := svc.SetUrineCategory(cfg.UrineCategory); err != nil {
		return nil, fmt.Errorf("URINE_CATEGORY: %w", err)
	}
	svc.SetUrineTarget(cfg.UrineTargetMLKgHr)
	if err := svc.SetDefaultGoal(intakeoutput.GoalRange{MinML: cfg.BalanceGoalMinML, MaxML: cfg.BalanceGoalMaxML}); err != nil {
		return nil, fmt.Errorf("balance goal: %w", err)
	}
	return svc, nil
}

// newTelemetry counts committed ledger mutations through the service's
// publisher and exposes how many patient-days are held in memory.
func newTelemetry(svc *intakeoutput.Service) (*telemetry.Provider, intakeoutput.Publisher) {
	tp := telemetry.NewProvider()
	tp.RegisterGauge("intake_output_ledgers_loaded", "Patient-day ledgers held in memory.", func() float64 {
		return float64(svc.LedgerCount())
	})
	counter := intakeoutput.PublisherFunc(func(_ context.Context, evt intakeoutput.BucketChanged) error {
		tp.CountMutation(string(evt.Action))
		return nil
	})
	return tp, counter
}

// newServer builds the HTTP server. A nil metrics provider disables /metrics.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *intakeoutput.Service, checker db.Checker, metrics *telemetry.Provider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if metrics != nil {
		e.Use(metrics.Middleware())
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(checker))
	if metrics != nil {
		e.GET("/metrics", metrics.Handler())
	}

	apiV1 := e.Group("/api/v1")
	intakeoutput.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	be, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.Store).Msg("failed to open store")
	}
	defer be.close()
	logger.Info().Str("store", cfg.Store).Msg("store ready")

	svc, err := newService(cfg, be.store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure service")
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if be.store != nil && cfg.LedgerIdleTTL > 0 {
		go svc.RunEviction(sweepCtx, cfg.LedgerSweepInterval, cfg.LedgerIdleTTL)
		logger.Info().Dur("idle_ttl", cfg.LedgerIdleTTL).Msg("evicting idle ledgers")
	}

	var publishers intakeoutput.MultiPublisher
	var metrics *telemetry.Provider
	if cfg.MetricsEnabled {
		var counter intakeoutput.Publisher
		metrics, counter = newTelemetry(svc)
		publishers = append(publishers, counter)
	}
	if cfg.EventsEnabled() {
		pub, err := messaging.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to broker")
		}
		defer pub.Close()
		publishers = append(publishers, pub)
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing change events")
	}
	if len(publishers) > 0 {
		svc.SetPublisher(publishers)
	}

	e := newServer(cfg, logger, svc, be.checker, metrics)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
