// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/Harvey-AU/site-audit/internal/audit"
	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/scoring"
)

// Config holds the process configuration loaded from environment variables
type Config struct {
	Env       string // Environment (development/production)
	LogLevel  string // Log level (debug, info, warn, error)
	SentryDSN string // Sentry DSN for error tracking

	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool

	PageSpeedAPIKey string // Enables the performance category when set
	DatabaseURL     string // Optional report sink
	SlackWebhookURL string // Optional summary notification

	Audit audit.Config
}

// Load reads the environment. Unparseable numbers and durations fall back to
// their defaults with a warning; an unreadable weights file is an error.
func Load() (*Config, error) {
	cfg := &Config{
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		ObservabilityEnabled: getEnvBool("OBSERVABILITY_ENABLED", false),
		MetricsAddr:          os.Getenv("METRICS_ADDR"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		PageSpeedAPIKey:      os.Getenv("PAGESPEED_API_KEY"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SlackWebhookURL:      os.Getenv("SLACK_WEBHOOK_URL"),
	}

	a := audit.DefaultConfig()
	a.SeedURL = strings.TrimSpace(os.Getenv("AUDIT_SEED_URL"))
	a.MaxDepth = getEnvInt("AUDIT_MAX_DEPTH", a.MaxDepth)
	a.MaxPages = getEnvInt("AUDIT_MAX_PAGES", a.MaxPages)
	a.Concurrency = getEnvInt("AUDIT_CONCURRENCY", a.Concurrency)
	a.PerHostDelayDefault = getEnvDuration("AUDIT_HOST_DELAY", a.PerHostDelayDefault)
	a.PerHostConcurrency = getEnvInt("AUDIT_HOST_CONCURRENCY", a.PerHostConcurrency)
	a.FetchTimeout = getEnvDuration("AUDIT_FETCH_TIMEOUT", a.FetchTimeout)
	a.RedirectHopLimit = getEnvInt("AUDIT_REDIRECT_HOP_LIMIT", a.RedirectHopLimit)
	a.TimeBudget = getEnvDuration("AUDIT_TIME_BUDGET", a.TimeBudget)
	a.UserAgent = getEnvWithDefault("AUDIT_USER_AGENT", a.UserAgent)
	a.SeedFromSitemap = getEnvBool("AUDIT_SEED_FROM_SITEMAP", a.SeedFromSitemap)
	a.MaxSitemapSeeds = getEnvInt("AUDIT_MAX_SITEMAP_SEEDS", a.MaxSitemapSeeds)
	a.PerfSampleSize = getEnvInt("AUDIT_PERF_SAMPLE_SIZE", a.PerfSampleSize)
	a.Device = perf.Device(getEnvWithDefault("AUDIT_DEVICE", string(a.Device)))
	a.ReportUnlistedPages = getEnvBool("AUDIT_REPORT_UNLISTED_PAGES", a.ReportUnlistedPages)
	a.DetectTechnologies = getEnvBool("AUDIT_DETECT_TECHNOLOGIES", a.DetectTechnologies)

	if path := os.Getenv("AUDIT_WEIGHTS_FILE"); path != "" {
		w, err := LoadWeights(path)
		if err != nil {
			return nil, err
		}
		a.CategoryWeights = w
	}

	cfg.Audit = a
	return cfg, nil
}

// LoadWeights reads category weights from a YAML file. Categories the file
// leaves out keep weight zero.
func LoadWeights(path string) (scoring.Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return scoring.Weights{}, fmt.Errorf("read weights file: %w", err)
	}
	return ParseWeights(data)
}

func ParseWeights(data []byte) (scoring.Weights, error) {
	var w scoring.Weights
	if err := yaml.UnmarshalStrict(data, &w); err != nil {
		return scoring.Weights{}, fmt.Errorf("parse weights: %w", err)
	}
	if err := w.Validate(); err != nil {
		return scoring.Weights{}, err
	}
	return w, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}
	return result
}

// getEnvDuration accepts Go durations ("1m30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
		return defaultValue
	}
	return d
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
		return defaultValue
	}
	return b
}

// ParseOTLPHeaders splits "k1=v1,k2=v2" into a map, skipping malformed pairs.
func ParseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(raw), ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
