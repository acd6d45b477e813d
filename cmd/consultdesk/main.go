package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/consultdesk/internal/config"
	"github.com/ehr/consultdesk/internal/domain/consultation"
	"github.com/ehr/consultdesk/internal/platform/auth"
	"github.com/ehr/consultdesk/internal/platform/cache"
	"github.com/ehr/consultdesk/internal/platform/db"
	"github.com/ehr/consultdesk/internal/platform/middleware"
	"github.com/ehr/consultdesk/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "consultdesk",
		Short: "Consultant desk API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clinicCmd())
	rootCmd.AddCommand(calcCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the consultation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource picks the embedded migrations unless a directory is given.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "consultdesk",
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")

			schema, err := db.ClinicSchema(clinic)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("clinic", "default", "Clinic whose schema is migrated")
	upCmd.Flags().String("dir", "", "Migrations directory (embedded set when empty)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")

			schema, err := db.ClinicSchema(clinic)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("clinic", "default", "Clinic whose schema is inspected")
	statusCmd.Flags().String("dir", "", "Migrations directory (embedded set when empty)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatuses(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
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

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(dir))
			if err := db.CreateClinicSchema(ctx, pool, name, migrator); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Clinic %s created.\n", name)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (alphanumeric)")
	createCmd.Flags().String("dir", "", "Migrations directory (embedded set when empty)")
	cmd.AddCommand(createCmd)

	return cmd
}

func calcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Clinical calculators",
	}

	ageCmd := &cobra.Command{
		Use:   "age",
		Short: "Age from a date of birth",
		RunE: func(cmd *cobra.Command, args []string) error {
			dobFlag, _ := cmd.Flags().GetString("dob")
			nowFlag, _ := cmd.Flags().GetString("now")
			dob, err := consultation.ParseDate(dobFlag)
			if err != nil {
				return err
			}
			now := time.Now()
			if nowFlag != "" {
				if now, err = consultation.ParseDate(nowFlag); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), consultation.CalculateAge(dob, now).String())
			return nil
		},
	}
	ageCmd.Flags().String("dob", "", "Date of birth (YYYY-MM-DD)")
	ageCmd.Flags().String("now", "", "Reference date (defaults to today)")
	cmd.AddCommand(ageCmd)

	doseCmd := &cobra.Command{
		Use:   "dose",
		Short: "Total quantity for a course",
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, _ := cmd.Flags().GetInt("qty")
			days, _ := cmd.Flags().GetInt("days")
			freq, _ := cmd.Flags().GetString("freq")
			fmt.Fprintf(cmd.OutOrStdout(), "%d x %d/day x %d days = %d\n",
				qty, consultation.Multiplier(freq), days, consultation.TotalQuantity(qty, days, freq))
			return nil
		},
	}
	doseCmd.Flags().Int("qty", 1, "Quantity per dose")
	doseCmd.Flags().Int("days", 1, "Duration in days")
	doseCmd.Flags().String("freq", "", "Frequency code, e.g. BD, TDS")
	cmd.AddCommand(doseCmd)

	return cmd
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// catalogStore builds the shared catalog cache: Redis when configured, an
// in-process store otherwise.
func catalogStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, db.Check, func()) {
	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(ctx, cfg.RedisURL, "consultdesk:")
		if err == nil {
			logger.Info().Msg("catalog cache using redis")
			return rs, rs.Ping, func() { rs.Close() }
		}
		logger.Warn().Err(err).Msg("redis unavailable, falling back to in-memory catalog cache")
	}
	ms := cache.NewMemoryStore()
	ms.StartCleanup(ctx, time.Minute)
	return ms, nil, func() {}
}

// registryFactory returns the per-clinic constructor used by the Directory.
// Each clinic gets its own store bound to its schema and its own cache prefix.
func registryFactory(pool *pgxpool.Pool, store cache.Store, cfg *config.Config, lifetime context.Context, logger zerolog.Logger) func(string) (*consultation.Registry, error) {
	return func(clinicID string) (*consultation.Registry, error) {
		pg, err := consultation.NewPGStore(pool, clinicID, cfg.Encoding(), cfg.QueueNotifyChannel)
		if err != nil {
			return nil, err
		}
		clinicLog := logger.With().Str("clinic_id", clinicID).Logger()
		catalog := consultation.NewCachedCatalog(pg, cache.WithPrefix(store, clinicID+":"), cfg.CatalogCacheTTL, clinicLog)
		return consultation.NewRegistry(
			consultation.Collaborators{Appointments: pg, Catalog: catalog, Sink: pg},
			consultation.DeskOptions{
				Encoding:    cfg.Encoding(),
				Statuses:    cfg.QueueStatuses(),
				SaveTimeout: cfg.SaveTimeout,
				Lifetime:    lifetime,
			},
			clinicLog,
		), nil
	}
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode: requests without a token are accepted")
	}

	// Lifetime outlives requests so an in-flight finish is not abandoned.
	lifetime, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := openPool(lifetime, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, cacheCheck, closeCache := catalogStore(lifetime, cfg, logger)
	defer closeCache()

	dir := consultation.NewDirectory(registryFactory(pool, store, cfg, lifetime, logger))

	listener := db.NewQueueListener(cfg.DatabaseURL, cfg.QueueNotifyChannel, logger)
	go func() {
		err := listener.Run(lifetime, func(ctx context.Context, payload string) {
			if payload == "" {
				if err := dir.ReloadAll(ctx); err != nil {
					logger.Warn().Err(err).Msg("queue reload after reconnect failed")
				}
				return
			}
			clinicID, consultantID := consultation.ParseQueueNotification(payload, cfg.DefaultClinic)
			if err := dir.Reload(ctx, clinicID, consultantID); err != nil {
				logger.Warn().Err(err).Str("clinic_id", clinicID).Str("consultant_id", consultantID).Msg("queue reload failed")
			}
		})
		if err != nil {
			logger.Error().Err(err).Msg("queue listener stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Clinic-ID", "X-Consultant-ID"},
	}))

	extra := map[string]db.Check{}
	if cacheCheck != nil {
		extra["cache"] = cacheCheck
	}
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, extra))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		JWKSURL:    cfg.AuthJWKSURL,
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	apiV1 := e.Group("/api/v1", authMW, db.ClinicMiddleware(pool, cfg.DefaultClinic))
	consultation.NewHandler(dir, cfg.DefaultClinic, logger).RegisterRoutes(apiV1)

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
	ctx, cancel := context.WithTimeout(context.Background(), cfg.SaveTimeout+5*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	stop()
	logger.Info().Msg("server stopped")
	return nil
}
