package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/site-audit/internal/audit"
	"github.com/Harvey-AU/site-audit/internal/config"
	"github.com/Harvey-AU/site-audit/internal/db"
	"github.com/Harvey-AU/site-audit/internal/notifications"
	"github.com/Harvey-AU/site-audit/internal/observability"
	"github.com/Harvey-AU/site-audit/internal/perf"
)

const serviceName = "site-audit"

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env files - .env.local takes priority for development
	_ = godotenv.Load(".env.local", ".env")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 2
	}
	setupLogging(cfg)

	if len(os.Args) > 1 {
		cfg.Audit.SeedURL = strings.TrimSpace(os.Args[1])
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			AttachStacktrace: true,
			Debug:            cfg.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsProviders := startObservability(ctx, cfg)
	if obsProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := obsProviders.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
			}
		}()
	}

	var opts []audit.Option
	if cfg.PageSpeedAPIKey != "" {
		opts = append(opts, audit.WithMetricsProvider(perf.NewPageSpeedClient(cfg.PageSpeedAPIKey)))
	} else {
		log.Info().Msg("PAGESPEED_API_KEY not set, performance category will be unavailable")
	}

	auditor, err := audit.New(cfg.Audit, opts...)
	if err != nil {
		log.Error().Err(err).Msg("Invalid audit configuration")
		return 2
	}

	report, err := auditor.Run(ctx)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Audit failed")
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Error().Err(err).Msg("Failed to write report")
		return 1
	}

	// Sinks run on a fresh context so an interrupt during the crawl still
	// lets the partial report be stored.
	sinkCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		saveReport(sinkCtx, report)
	}
	if cfg.SlackWebhookURL != "" {
		svc := notifications.NewService(notifications.NewSlackChannel(cfg.SlackWebhookURL, nil))
		if err := svc.NotifyAuditComplete(sinkCtx, report); err != nil {
			sentry.CaptureException(err)
		}
	}
	return 0
}

func saveReport(ctx context.Context, report *audit.Report) {
	retry := db.DefaultRetryConfig()
	retry.MaxAttempts = 3
	pgDB, err := db.NewWithRetry(ctx, db.ConfigFromEnv(), retry)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Failed to connect to PostgreSQL database")
		return
	}
	defer pgDB.Close()

	if err := db.NewReportStore(pgDB).SaveReport(ctx, report); err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Failed to save audit report")
	}
}

func startObservability(ctx context.Context, cfg *config.Config) *observability.Providers {
	if !cfg.ObservabilityEnabled {
		return nil
	}
	providers, err := observability.Init(ctx, observability.Config{
		Enabled:        true,
		ServiceName:    serviceName,
		Environment:    cfg.Env,
		OTLPEndpoint:   strings.TrimSpace(cfg.OTLPEndpoint),
		OTLPHeaders:    config.ParseOTLPHeaders(cfg.OTLPHeaders),
		OTLPInsecure:   cfg.OTLPInsecure,
		MetricsAddress: cfg.MetricsAddr,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
		return nil
	}

	if providers.MetricsHandler != nil && cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", providers.MetricsHandler)
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           observability.WrapHandler(mux, providers),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sentry.CaptureException(err)
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	return providers
}

// setupLogging configures the logging system. Logs go to stderr so stdout
// carries only the report.
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}
