package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/flourish/export/internal/config"
	"github.com/flourish/export/internal/domain/exportfile"
	"github.com/flourish/export/internal/platform/crypto"
	"github.com/flourish/export/internal/platform/db"
	"github.com/flourish/export/internal/platform/flatten"
	"github.com/flourish/export/internal/platform/jobs"
	"github.com/flourish/export/internal/platform/middleware"
	"github.com/flourish/export/internal/platform/notification"
	"github.com/flourish/export/internal/platform/runner"
	"github.com/flourish/export/internal/platform/schema"
	"github.com/flourish/export/internal/platform/source"
	"github.com/flourish/export/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "export-server",
		Short: "Flourish study data export service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(metadataCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the export API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [scope]",
		Short: "Run one export job and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			flat, _ := cmd.Flags().GetBool("flat")
			emails, _ := cmd.Flags().GetStringSlice("emails")
			app, cleanup, err := buildApp(emails)
			if err != nil {
				return err
			}
			defer cleanup()

			start := app.orchestrator.StartExport
			if flat {
				start = app.orchestrator.StartFlat
			}
			ef, err := start(context.Background(), args[0], format)
			if err != nil {
				return err
			}
			app.orchestrator.Wait()

			done, err := app.exportSvc.Get(context.Background(), ef.ID)
			if err != nil {
				return fmt.Errorf("export failed, see logs (job %s)", ef.ID)
			}
			fmt.Printf("Export complete: %s\n", done.Document)
			return nil
		},
	}
	cmd.Flags().String("format", "csv", "Output format: csv or xlsx")
	cmd.Flags().Bool("flat", false, "One wide row per subject instead of per-form files")
	cmd.Flags().StringSlice("emails", nil, "Completion mail recipients (overrides NOTIFY_EMAILS)")
	return cmd
}

func metadataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metadata [scope]",
		Short: "Export the data dictionary for a scope and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := buildApp(nil)
			if err != nil {
				return err
			}
			defer cleanup()

			ef, err := app.orchestrator.StartMetadata(context.Background(), args[0])
			if err != nil {
				return err
			}
			app.orchestrator.Wait()

			done, err := app.exportSvc.Get(context.Background(), ef.ID)
			if err != nil {
				return fmt.Errorf("metadata export failed, see logs (job %s)", ef.ID)
			}
			fmt.Printf("Metadata export complete: %s\n", done.Document)
			return nil
		},
	}
}

type app struct {
	cfg          *config.Config
	logger       zerolog.Logger
	orchestrator *jobs.Orchestrator
	exportSvc    *exportfile.Service
	pool         *pgxpool.Pool
}

// buildApp assembles the service graph. A non-empty notify list overrides the
// configured completion recipients.
func buildApp(notify []string) (*app, func(), error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	var encryptor *crypto.FieldEncryptor
	if key := cfg.Key(); key != nil {
		encryptor, err = crypto.NewFieldEncryptor(key)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	catalog := schema.DefaultCatalog()
	records := source.NewPG(pool, catalog)
	redactor := flatten.NewRedactor(encryptor)
	flattener := flatten.NewFlattener(records, catalog, redactor, loc)
	merger := flatten.NewMerger(records, catalog, redactor)
	run := runner.New(flattener, merger, records, catalog, logger)
	meta := runner.NewMetadataExporter(catalog, logger, 30*time.Second)

	exportSvc := exportfile.NewService(exportfile.NewPgRepository(pool), logger)

	var sender notification.Sender
	if cfg.SMTPHost != "" {
		sender = notification.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom, logger)
	} else {
		sender = &notification.MockSender{}
		logger.Warn().Msg("SMTP not configured, completion mail disabled")
	}

	if len(notify) == 0 {
		notify = cfg.NotifyEmails
	}
	pool2 := jobs.NewPool(cfg.ExportWorkers, cfg.ExportRetries, logger)
	orchestrator := jobs.NewOrchestrator(exportSvc, run, meta, catalog, sender, pool2,
		cfg.ExportDir, notify, loc, logger)

	a := &app{cfg: cfg, logger: logger, orchestrator: orchestrator, exportSvc: exportSvc, pool: pool}
	return a, func() { pool.Close() }, nil
}

func runServer() error {
	a, cleanup, err := buildApp(nil)
	if err != nil {
		return err
	}
	defer cleanup()
	logger := a.logger
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	apiV1 := e.Group("/api/v1")
	exportfile.NewHandler(a.exportSvc, a.orchestrator).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/metrics", telemetry.Handler())

	// Stale-job pruning keeps abandoned registry rows from blocking their
	// study/description slot.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.PruneSchedule, func() {
		if _, err := a.exportSvc.PruneStale(context.Background(), cfg.StaleJobAge()); err != nil {
			logger.Error().Err(err).Msg("stale job pruning failed")
		}
	}); err != nil {
		return fmt.Errorf("prune schedule %q: %w", cfg.PruneSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	a.orchestrator.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
