/*
Package main runs tenant-wide site version jobs.

For every site of a tenant it submits either a batch delete of old file
versions (cleanup) or a version expiration report (report), follows each
job until it reaches a terminal state and writes one result row per site.

Run the application:

	$ go run . --mode cleanup --days 180 --workers 4

Configuration is read from the environment (and an optional .env file);
flags override it. When STATUS_ADDR is set, run progress is served on:
  - GET /status: run progress and the summary so far.
  - GET /status/entity?url=<site-url>: state of one site.
  - GET /health/live, /health/ready, /metrics.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/client"
	"github.com/Nexora-Open-Source/site-version-jobs/config"
	"github.com/Nexora-Open-Source/site-version-jobs/export"
	"github.com/Nexora-Open-Source/site-version-jobs/handlers"
	"github.com/Nexora-Open-Source/site-version-jobs/handlers/health"
	"github.com/Nexora-Open-Source/site-version-jobs/jobs"
	"github.com/Nexora-Open-Source/site-version-jobs/middleware"
	"github.com/Nexora-Open-Source/site-version-jobs/monitoring"
	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(config.NewConfig()).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd binds flags on top of the environment-derived configuration
func newRootCmd(cfg *config.Config) *cobra.Command {
	mode := string(cfg.Mode)
	tenantAction := string(cfg.TenantAction)

	cmd := &cobra.Command{
		Use:          "site-version-jobs",
		Short:        "Run version cleanup or report jobs across the sites of a tenant",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Mode = types.Mode(mode)
			cfg.TenantAction = types.TenantAction(tenantAction)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			_, err := run(cmd.Context(), cfg, cmd.OutOrStdout())
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mode, "mode", mode, "Job mode: cleanup or report")
	flags.IntVar(&cfg.DeleteBeforeDays, "days", cfg.DeleteBeforeDays, "Delete versions older than this many days (cleanup)")
	flags.BoolVar(&cfg.CleanupWait, "wait", cfg.CleanupWait, "Poll cleanup jobs until they finish instead of stopping at submission")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of sites processed concurrently (1 = sequential)")
	flags.StringVar(&cfg.SitesFile, "sites-file", cfg.SitesFile, "Read site URLs from this file instead of listing the tenant")
	flags.BoolVar(&cfg.IncludePersonalSites, "include-personal", cfg.IncludePersonalSites, "Include personal sites when listing the tenant")
	flags.StringVar(&cfg.OutputCSV, "output", cfg.OutputCSV, "CSV output path (default: version-jobs-<timestamp>.csv)")
	flags.StringVar(&tenantAction, "tenant-action", tenantAction, "Tenant action before the run: none, enable-auto-expiration or set-version-limit")
	flags.IntVar(&cfg.MajorVersionLimit, "version-limit", cfg.MajorVersionLimit, "Major version limit for set-version-limit")
	flags.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "Serve run status on this address (empty disables)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")

	return cmd
}

// run executes one job run and returns the alerts it raised
func run(ctx context.Context, cfg *config.Config, out io.Writer) ([]*monitoring.Alert, error) {
	logger := middleware.InitLogger(cfg.LogLevel, cfg.LogFormat)
	logger.WithFields(logrus.Fields{
		"mode":    cfg.Mode,
		"workers": cfg.Workers,
		"tenant":  cfg.AdminURL,
	}).Info("Starting site version jobs")

	tracerProvider, err := monitoring.InitTracing(cfg.ServiceName, cfg.TraceExporter, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer monitoring.ShutdownTracing(context.Background(), tracerProvider, logger)

	remote := client.New(client.Options{
		AccessToken:       cfg.AccessToken,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.RequestBurst,
		Timeout:           cfg.RequestTimeout,
	}, logger)

	var admin *client.AdminClient
	if cfg.AdminURL != "" {
		admin = client.NewAdminClient(remote, cfg.AdminURL)
	}

	var tenant *types.TenantActionRecord
	if cfg.TenantAction != types.TenantActionNone {
		record, err := jobs.ApplyTenantPolicy(ctx, admin, jobs.TenantPolicy{
			Action:            cfg.TenantAction,
			MajorVersionLimit: cfg.MajorVersionLimit,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("Tenant pre-flight failed")
			return nil, err
		}
		tenant = &record
	}

	entities, err := loadEntities(ctx, cfg, admin)
	if err != nil {
		logger.WithError(err).Error("Failed to load sites")
		return nil, err
	}

	tracker := handlers.NewTracker(logger)
	if cfg.StatusAddr != "" {
		server := startStatusServer(cfg.StatusAddr, tracker, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Error shutting down status server")
			}
		}()
	}

	runner := jobs.NewRunner(remote, jobs.RunnerConfig{
		PollInterval:   cfg.PollInterval,
		MaxWait:        cfg.MaxPollDuration,
		PollRetries:    cfg.PollRetries,
		PollRetryDelay: cfg.PollRetryDelay,
		CleanupWait:    cfg.CleanupWait,
	}, logger)
	orchestrator := jobs.NewOrchestrator(runner, cfg.Workers, logger, tracker)

	plan := jobs.Plan{
		Mode:             cfg.Mode,
		DeleteBeforeDays: cfg.DeleteBeforeDays,
		Destination:      reportDestination(cfg.ReportFolder, cfg.ReportFilePrefix, time.Now().UTC()),
	}

	result := orchestrator.Run(ctx, entities, plan)
	result.Tenant = tenant
	tracker.RunFinished()

	summary := jobs.Summarize(result.Records)
	path := cfg.OutputPath(result.StartedAt.Local())
	if err := export.WriteCSVFile(path, result.Records); err != nil {
		logger.WithError(err).Error("Failed to write results")
		return nil, fmt.Errorf("failed to write results: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"path":    path,
		"records": len(result.Records),
	}).Info("Results written")

	export.PrintSummary(out, result, summary)

	alerts := monitoring.NewAlertManager(logger, cfg.FailureAlertThreshold).Evaluate(monitoring.RunView{
		RunID:   result.RunID,
		Mode:    result.Mode,
		Summary: summary,
		Tenant:  tenant,
	})

	return alerts, nil
}

// loadEntities reads the sites file when one is configured and lists the tenant otherwise
func loadEntities(ctx context.Context, cfg *config.Config, admin *client.AdminClient) ([]types.Entity, error) {
	if cfg.SitesFile != "" {
		f, err := os.Open(cfg.SitesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open sites file: %w", err)
		}
		defer f.Close()

		entities, err := client.ReadEntities(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read sites file %s: %w", cfg.SitesFile, err)
		}
		return entities, nil
	}

	if admin == nil {
		return nil, errors.New("no sites file and no admin URL configured")
	}
	var filter func(types.Entity) bool
	if !cfg.IncludePersonalSites {
		filter = client.ExcludePersonal
	}
	return admin.ListEntities(ctx, filter)
}

// reportDestination builds {site}/{folder}/{prefix}_{timestamp}.csv with one
// timestamp shared by every site of the run
func reportDestination(folder, prefix string, now time.Time) func(types.Entity) string {
	var segments []string
	for _, segment := range strings.Split(folder, "/") {
		if segment = strings.TrimSpace(segment); segment != "" {
			segments = append(segments, url.PathEscape(segment))
		}
	}
	fileName := url.PathEscape(fmt.Sprintf("%s_%s.csv", prefix, now.Format("20060102-150405")))
	suffix := strings.Join(append(segments, fileName), "/")

	return func(e types.Entity) string {
		return strings.TrimRight(e.URL, "/") + "/" + suffix
	}
}

func startStatusServer(addr string, tracker *handlers.Tracker, logger *logrus.Logger) *http.Server {
	router := handlers.NewRouter(handlers.NewHandler(tracker, logger), health.NewHandler(tracker, logger))
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("Status server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Status server stopped")
		}
	}()

	return server
}
