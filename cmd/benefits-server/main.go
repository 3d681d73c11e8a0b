package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/memberhealth/benefits/internal/config"
	"github.com/memberhealth/benefits/internal/domain/accumulation"
	"github.com/memberhealth/benefits/internal/domain/appointments"
	"github.com/memberhealth/benefits/internal/domain/careadvocate"
	"github.com/memberhealth/benefits/internal/domain/costbreakdown"
	"github.com/memberhealth/benefits/internal/domain/healthplan"
	"github.com/memberhealth/benefits/internal/domain/wallet"
	"github.com/memberhealth/benefits/internal/platform/auth"
	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/internal/platform/middleware"
	"github.com/memberhealth/benefits/internal/platform/notification"
	"github.com/memberhealth/benefits/internal/platform/ratelimit"
	"github.com/memberhealth/benefits/migrations"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "benefits-server",
		Short: "Member benefits API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(accumulationCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates configuration and builds the process logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

// withApp runs fn against a fully wired app and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			withJobs, _ := cmd.Flags().GetBool("jobs")
			return withApp(context.Background(), func(a *app) error {
				return runServer(a, withJobs)
			})
		},
	}
	cmd.Flags().Bool("jobs", true, "Run background jobs in the server process")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run background jobs without serving HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return withApp(ctx, func(a *app) error {
				r, err := a.runner()
				if err != nil {
					return err
				}
				r.Start(ctx)
				return nil
			})
		},
	}
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run background jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(context.Background(), func(a *app) error {
				r, err := a.runner()
				if err != nil {
					return err
				}
				for _, name := range r.Names() {
					j, _ := r.Job(name)
					fmt.Printf("%-28s every %s\n", name, j.Interval)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run one job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return withApp(ctx, func(a *app) error {
				r, err := a.runner()
				if err != nil {
					return err
				}
				return r.RunOnce(ctx, args[0])
			})
		},
	})
	return cmd
}

// migrationFiles prefers an on-disk directory so schema changes can be tried
// without a rebuild.
func migrationFiles(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.Files
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func accumulationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accumulation",
		Short: "Generate and ingest payer accumulation files",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate accumulation files for today",
		RunE: func(cmd *cobra.Command, args []string) error {
			payers, _ := cmd.Flags().GetStringSlice("payer")
			return withApp(context.Background(), func(a *app) error {
				if len(payers) == 0 {
					payers = a.cfg.AccumulationPayers
				}
				return a.accumulations.GenerateAll(context.Background(), payers)
			})
		},
	}
	generateCmd.Flags().StringSlice("payer", nil, "Payers to generate for (defaults to ACCUMULATION_PAYERS)")
	cmd.AddCommand(generateCmd)

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a payer response or accumulation file",
		RunE: func(cmd *cobra.Command, args []string) error {
			payer, _ := cmd.Flags().GetString("payer")
			path, _ := cmd.Flags().GetString("file")
			kind, _ := cmd.Flags().GetString("kind")
			if payer == "" || path == "" {
				return fmt.Errorf("--payer and --file are required")
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			return withApp(context.Background(), func(a *app) error {
				ctx := context.Background()
				var res *accumulation.IngestResult
				switch kind {
				case "response":
					res, err = a.accumulations.IngestResponse(ctx, payer, f)
				case "accumulations":
					res, err = a.accumulations.IngestAccumulations(ctx, payer, f)
				default:
					return fmt.Errorf("unknown --kind %q (want response or accumulations)", kind)
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d line(s), %d processed, %d accepted, %d rejected\n",
					res.Payer, res.Lines, res.Processed, res.Accepted, res.Rejected)
				for _, e := range res.Errors {
					fmt.Println("  " + e)
				}
				return nil
			})
		},
	}
	ingestCmd.Flags().String("payer", "", "Payer the file came from")
	ingestCmd.Flags().String("file", "", "Path to the file")
	ingestCmd.Flags().String("kind", "response", "File kind: response or accumulations")
	cmd.AddCommand(ingestCmd)

	return cmd
}

func newServer(a *app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.DefaultSecurityConfig(cfg.IsDev())))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, a.healthDeps()))

	// API groups
	apiV1 := e.Group("/api/v1")
	apiV2 := e.Group("/api/v2")
	apiLimit := ratelimit.Middleware(a.limiter, ratelimit.ScopeAPI, logger)
	apiV1.Use(apiLimit)
	apiV2.Use(apiLimit)

	healthplan.NewHandler(a.plans).RegisterRoutes(apiV1)
	wallet.NewHandler(a.wallets).RegisterRoutes(apiV1)
	costbreakdown.NewHandler(a.breakdowns).RegisterRoutes(apiV1)
	accumulation.NewHandler(a.accumulations).RegisterRoutes(apiV1)
	careadvocate.NewHandler(a.advocates).RegisterRoutes(apiV1,
		middleware.BodyLimit("5M"),
		ratelimit.Middleware(a.limiter, ratelimit.ScopeTransitionUpload, logger),
	)
	notification.NewHandler(a.notifier).RegisterRoutes(apiV1)

	appts := appointments.NewHandler(a.appointments)
	appts.RegisterRoutes(apiV1)
	appts.RegisterV2Routes(apiV2)

	return e
}

func runServer(a *app, withJobs bool) error {
	logger := a.logger
	e := newServer(a)

	jobCtx, stopJobs := context.WithCancel(context.Background())
	var jobsDone sync.WaitGroup
	if withJobs {
		r, err := a.runner()
		if err != nil {
			stopJobs()
			return err
		}
		jobsDone.Add(1)
		go func() {
			defer jobsDone.Done()
			r.Start(jobCtx)
		}()
	}

	// Graceful shutdown
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopJobs()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	jobsDone.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
