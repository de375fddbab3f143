// Package audit runs a complete site audit: robots and sitemap discovery, the
// crawl, performance sampling, rule evaluation and scoring.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/jobs"
	"github.com/Harvey-AU/site-audit/internal/observability"
	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/rules"
	"github.com/Harvey-AU/site-audit/internal/scoring"
	"github.com/Harvey-AU/site-audit/internal/sitegraph"
	"github.com/Harvey-AU/site-audit/internal/techdetect"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// Auditor runs audits with one configuration.
type Auditor struct {
	cfg      Config
	seed     util.NormalizedURL
	fetcher  *crawler.Fetcher
	provider perf.Provider
	detector *techdetect.Detector
	engine   *rules.Engine
	scorer   *scoring.Scorer
}

type Option func(*Auditor)

// WithMetricsProvider enables the performance category.
func WithMetricsProvider(p perf.Provider) Option {
	return func(a *Auditor) { a.provider = p }
}

// WithDetector supplies a preloaded fingerprint database.
func WithDetector(d *techdetect.Detector) Option {
	return func(a *Auditor) { a.detector = d }
}

// New validates cfg and prepares an auditor. The only error it returns is a
// *ConfigError.
func New(cfg Config, opts ...Option) (*Auditor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scorer, err := scoring.NewScorer(cfg.CategoryWeights)
	if err != nil {
		return nil, &ConfigError{Field: "CategoryWeights", Reason: "are invalid", Err: err}
	}

	fetchCfg := crawler.DefaultConfig()
	fetchCfg.FetchTimeout = cfg.FetchTimeout
	fetchCfg.RedirectHopLimit = cfg.RedirectHopLimit
	if cfg.MaxSitemapSeeds > 0 {
		fetchCfg.MaxSitemapURLs = max(cfg.MaxSitemapSeeds, fetchCfg.MaxSitemapURLs)
	}
	if cfg.UserAgent != "" {
		fetchCfg.UserAgent = cfg.UserAgent
	}

	a := &Auditor{
		cfg:     cfg,
		seed:    cfg.Seed(),
		fetcher: crawler.NewFetcher(fetchCfg),
		engine:  rules.NewEngine(),
		scorer:  scorer,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.detector == nil && cfg.DetectTechnologies {
		detector, err := techdetect.New()
		if err != nil {
			log.Warn().Err(err).Msg("Technology detection unavailable")
		} else {
			a.detector = detector
		}
	}
	return a, nil
}

// Run performs one audit. It only fails for context-independent setup
// problems; cancellation and the time budget end the crawl early and the
// partial result is still scored.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	runID := uuid.NewString()

	ctx, span := observability.StartAuditSpan(ctx, runID, a.seed.String())
	defer span.End()

	log.Info().
		Str("run_id", runID).
		Str("seed", a.seed.String()).
		Int("max_depth", a.cfg.MaxDepth).
		Int("max_pages", a.cfg.MaxPages).
		Msg("Starting audit")

	crawlCtx := ctx
	if a.cfg.TimeBudget > 0 {
		var cancel context.CancelFunc
		crawlCtx, cancel = context.WithTimeout(ctx, a.cfg.TimeBudget)
		defer cancel()
	}

	limiterCfg := jobs.DefaultDomainLimiterConfig()
	limiterCfg.BaseDelay = a.cfg.PerHostDelayDefault
	limiterCfg.PerHostConcurrency = a.cfg.PerHostConcurrency
	if limiterCfg.MaxAdaptiveDelay < limiterCfg.BaseDelay {
		limiterCfg.MaxAdaptiveDelay = limiterCfg.BaseDelay
	}
	gate := jobs.NewGate(a.fetcher, jobs.NewDomainLimiter(limiterCfg))

	robots := gate.Robots(crawlCtx, a.seed.Origin())
	sitemap := a.fetcher.LoadSitemaps(crawlCtx, a.seed.Origin(), robots)

	var extraSeeds []util.NormalizedURL
	if a.cfg.SeedFromSitemap {
		extraSeeds = sitemap.URLs()
		if a.cfg.MaxSitemapSeeds > 0 && len(extraSeeds) > a.cfg.MaxSitemapSeeds {
			extraSeeds = extraSeeds[:a.cfg.MaxSitemapSeeds]
		}
	}

	fingerprint := &fingerprinter{detector: a.detector, seed: a.seed}
	scheduler := jobs.NewScheduler(a.fetcher, gate, jobs.WithInspector(fingerprint.inspect))

	graph, reason, err := scheduler.Crawl(crawlCtx, jobs.CrawlRequest{
		RunID:       runID,
		Seed:        a.seed,
		ExtraSeeds:  extraSeeds,
		MaxDepth:    a.cfg.MaxDepth,
		MaxPages:    a.cfg.MaxPages,
		Concurrency: a.cfg.Concurrency,
	})
	if err != nil {
		sentry.CaptureException(err)
		return nil, fmt.Errorf("crawl %s: %w", a.seed, err)
	}

	metrics := perf.Collect(ctx, a.provider, sampleForMetrics(graph), a.cfg.Device, a.cfg.PerfSampleSize)

	technologies := fingerprint.result()
	issues := a.engine.Evaluate(graph, rules.Artifacts{
		Seed:                a.seed,
		Robots:              robots,
		RobotsFound:         robots.Found,
		Sitemap:             sitemap.URLs(),
		SitemapFound:        sitemap.Found,
		Metrics:             metrics,
		MetricsAvailable:    len(metrics) > 0,
		Technologies:        technologies,
		ReportUnlistedPages: a.cfg.ReportUnlistedPages,
	})
	scored := a.scorer.Score(issues, metrics)

	report := &Report{
		RunID:        runID,
		Seed:         a.seed,
		StartedAt:    started.UTC(),
		Duration:     time.Since(started),
		Termination:  reason,
		PagesCrawled: graph.Count(sitegraph.Fetched),
		Nodes:        graph.Len(),
		Robots: RobotsSummary{
			Found:      robots.Found,
			CrawlDelay: gate.CrawlDelay(ctx, a.seed.Origin()),
			Sitemaps:   robots.Sitemaps,
		},
		Sitemap: SitemapSummary{
			Found:    sitemap.Found,
			Sources:  sitemap.Sources,
			URLCount: len(sitemap.Entries),
		},
		Technologies: technologies,
		Metrics:      metricsList(metrics),
		Result:       scored,
		Pages:        summarisePages(graph),
		Graph:        graph,
	}

	span.SetAttributes(
		attribute.String("audit.termination", string(reason)),
		attribute.Int("audit.pages", report.PagesCrawled),
		attribute.Int("audit.score", scored.Score),
	)
	log.Info().
		Str("run_id", runID).
		Str("termination", string(reason)).
		Int("pages", report.PagesCrawled).
		Int("issues", len(scored.Issues)).
		Int("score", scored.Score).
		Str("grade", scored.Grade).
		Dur("duration", report.Duration).
		Msg("Audit finished")

	return report, nil
}

// fingerprinter runs technology detection on the seed page's fetch.
type fingerprinter struct {
	detector *techdetect.Detector
	seed     util.NormalizedURL

	mu    sync.Mutex
	done  bool
	techs map[string][]string
}

func (f *fingerprinter) inspect(res *crawler.FetchResult, depth int) {
	if f.detector == nil || depth != 0 || res.Target != f.seed {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	f.techs = f.detector.DetectFetch(res).Technologies
}

// result is nil when the seed was never fingerprinted.
func (f *fingerprinter) result() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.techs
}

// sampleForMetrics orders fetched HTML pages by depth, then URL, so the
// sample favours the pages nearest the seed.
func sampleForMetrics(g *sitegraph.Graph) []util.NormalizedURL {
	var pages []*sitegraph.Node
	for _, n := range g.Pages() {
		if n.Record.HTML && n.Record.StatusCode >= 200 && n.Record.StatusCode < 300 {
			pages = append(pages, n)
		}
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Depth < pages[j].Depth })

	out := make([]util.NormalizedURL, 0, len(pages))
	for _, n := range pages {
		out = append(out, n.URL)
	}
	return out
}

func metricsList(m map[util.NormalizedURL]perf.Metrics) []perf.Metrics {
	out := make([]perf.Metrics, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
