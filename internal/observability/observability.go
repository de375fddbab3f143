package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "site-audit/crawler"

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	crawlTracer trace.Tracer

	fetchDuration metric.Float64Histogram
	fetchTotal    metric.Int64Counter
	pagesTotal    metric.Int64Counter
	auditDuration metric.Float64Histogram
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "site-audit"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Log error but don't fail app startup - observability is optional
			fmt.Printf("WARN: Failed to create OTLP trace exporter (traces disabled): %v\n", err)
			fmt.Printf("WARN: Endpoint: %s\n", cfg.OTLPEndpoint)
			// Continue without tracing - app should still function
		} else {
			spanExporter = exp
			fmt.Printf("INFO: OTLP trace exporter initialised successfully for endpoint: %s\n", cfg.OTLPEndpoint)
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx) // best-effort cleanup
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		crawlTracer = tracerProvider.Tracer(instrumentationName)
		_ = initCrawlInstruments(meterProvider)
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapHandler applies OpenTelemetry instrumentation to an http.Handler when the providers are active.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}

	options := []otelhttp.Option{
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
		// Skip tracing for health checks to reduce noise
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	}

	return otelhttp.NewHandler(handler, "http.server", options...)
}

// WrapTransport instruments an outbound transport when the providers are active.
func WrapTransport(base http.RoundTripper, prov *Providers) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if prov == nil || prov.TracerProvider == nil {
		return otelhttp.NewTransport(base)
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
	)
}

func initCrawlInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter(instrumentationName)

	var err error
	fetchDuration, err = meter.Float64Histogram(
		"audit.fetch.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to fetch a page including redirects and retries"),
	)
	if err != nil {
		return err
	}

	fetchTotal, err = meter.Int64Counter(
		"audit.fetch.total",
		metric.WithDescription("Counts page fetches by host and status class"),
	)
	if err != nil {
		return err
	}

	pagesTotal, err = meter.Int64Counter(
		"audit.crawl.pages",
		metric.WithDescription("Pages fetched per crawl, by termination reason"),
	)
	if err != nil {
		return err
	}

	auditDuration, err = meter.Float64Histogram(
		"audit.run.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Wall time of a full audit run"),
	)
	return err
}

// PageSpanInfo describes the attributes used when starting a page task span.
type PageSpanInfo struct {
	RunID string
	URL   string
	Host  string
	Depth int
}

// FetchMetrics describes one fetch for metric recording.
type FetchMetrics struct {
	Host       string
	StatusCode int
	Failed     bool
	Duration   time.Duration
}

// StartPageSpan starts a span for one fetch-and-analyse task.
func StartPageSpan(ctx context.Context, info PageSpanInfo) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("page.url", info.URL),
		attribute.String("page.host", info.Host),
		attribute.Int("page.depth", info.Depth),
	}
	if info.RunID != "" {
		attrs = append(attrs, attribute.String("audit.run_id", info.RunID))
	}

	return tracer().Start(ctx, "crawler.process_page", trace.WithAttributes(attrs...))
}

// StartAuditSpan starts the root span of an audit run.
func StartAuditSpan(ctx context.Context, runID, seed string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "audit.run", trace.WithAttributes(
		attribute.String("audit.run_id", runID),
		attribute.String("audit.seed", seed),
	))
}

func tracer() trace.Tracer {
	if crawlTracer != nil {
		return crawlTracer
	}
	return otel.Tracer(instrumentationName)
}

// RecordFetch emits fetch metrics when instrumentation is initialised.
func RecordFetch(ctx context.Context, m FetchMetrics) {
	attrs := metric.WithAttributes(
		attribute.String("fetch.host", m.Host),
		attribute.String("fetch.status_class", StatusClass(m.StatusCode, m.Failed)),
	)
	if fetchDuration != nil {
		fetchDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if fetchTotal != nil {
		fetchTotal.Add(ctx, 1, attrs)
	}
}

// RecordCrawl emits run-level metrics when instrumentation is initialised.
func RecordCrawl(ctx context.Context, reason string, pages int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("crawl.termination", reason))
	if pagesTotal != nil {
		pagesTotal.Add(ctx, int64(pages), attrs)
	}
	if auditDuration != nil {
		auditDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

// StatusClass buckets a status code as "2xx".."5xx", or "error" for a
// fetch that produced no usable response.
func StatusClass(status int, failed bool) string {
	if status < 100 || status > 599 {
		if failed {
			return "error"
		}
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}
