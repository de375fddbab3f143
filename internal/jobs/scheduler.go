package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Harvey-AU/site-audit/internal/analyzer"
	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/observability"
	"github.com/Harvey-AU/site-audit/internal/sitegraph"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// TerminationReason says why a crawl stopped.
type TerminationReason string

const (
	PageLimitReached TerminationReason = "page_limit_reached"
	Cancelled        TerminationReason = "cancelled"
	DepthExhausted   TerminationReason = "depth_exhausted"
	Complete         TerminationReason = "complete"
)

var ErrInvalidCrawlRequest = errors.New("invalid crawl request")

// CrawlRequest describes one crawl run. ExtraSeeds (typically sitemap URLs)
// enter the frontier at depth 1; off-site entries are ignored.
type CrawlRequest struct {
	RunID       string
	Seed        util.NormalizedURL
	ExtraSeeds  []util.NormalizedURL
	MaxDepth    int
	MaxPages    int
	Concurrency int
}

func (r CrawlRequest) Validate() error {
	switch {
	case r.Seed == "":
		return fmt.Errorf("%w: seed is required", ErrInvalidCrawlRequest)
	case r.MaxDepth < 0:
		return fmt.Errorf("%w: max depth must not be negative", ErrInvalidCrawlRequest)
	case r.MaxPages < 1:
		return fmt.Errorf("%w: max pages must be at least 1", ErrInvalidCrawlRequest)
	case r.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidCrawlRequest)
	}
	return nil
}

// Scheduler drives a breadth-first crawl over one site.
type Scheduler struct {
	fetcher PageFetcher
	gate    Politeness
	inspect func(res *crawler.FetchResult, depth int)
}

type SchedulerOption func(*Scheduler)

// WithInspector registers fn to receive every successful fetch. It is called
// from worker goroutines and must be safe for concurrent use.
func WithInspector(fn func(res *crawler.FetchResult, depth int)) SchedulerOption {
	return func(s *Scheduler) {
		s.inspect = fn
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(fetcher PageFetcher, gate Politeness, opts ...SchedulerOption) *Scheduler {
	if fetcher == nil {
		panic("fetcher is required")
	}
	if gate == nil {
		panic("politeness gate is required")
	}
	s := &Scheduler{fetcher: fetcher, gate: gate}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type outcomeKind int

const (
	outcomeFetched outcomeKind = iota
	outcomeUnreachable
	outcomeBlocked
)

// pageOutcome is what a worker hands to the graph writer.
type pageOutcome struct {
	kind       outcomeKind
	url        util.NormalizedURL
	depth      int
	reason     string
	fetch      *crawler.FetchResult
	record     *analyzer.PageRecord
	aliases    []pageAlias
	outOfDepth []util.NormalizedURL
	external   []util.NormalizedURL
}

// pageAlias is a further record produced by the same fetch: the hops and
// landing page of a redirect chain.
type pageAlias struct {
	record *analyzer.PageRecord
	fetch  *crawler.FetchResult
}

func (o pageOutcome) apply(g *sitegraph.Graph) {
	switch o.kind {
	case outcomeBlocked:
		g.MarkBlocked(o.url, o.depth, o.reason)
	case outcomeUnreachable:
		g.MarkUnreachable(o.url, o.depth, o.reason, o.fetch)
	case outcomeFetched:
		g.Insert(o.record, o.fetch)
		for _, a := range o.aliases {
			g.Insert(a.record, a.fetch)
		}
	}
	for _, u := range o.outOfDepth {
		g.MarkOutOfDepth(u, o.depth+1)
	}
	for _, u := range o.external {
		g.MarkExternal(u, o.depth+1)
	}
}

// Crawl fetches the site level by level and returns the resulting graph.
// It only returns an error for an invalid request: every per-page failure is
// recorded in the graph, and cancellation stops dispatch, waits for in-flight
// fetches, and still returns the graph.
func (s *Scheduler) Crawl(ctx context.Context, req CrawlRequest) (*sitegraph.Graph, TerminationReason, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}

	start := time.Now()
	seedHost := req.Seed.Host()
	graph := sitegraph.New(req.Seed)
	front := newFrontier(req.MaxDepth)

	front.Offer(req.Seed, 0)
	graph.Discover(req.Seed, 0)
	for _, extra := range req.ExtraSeeds {
		if !util.SameSite(extra.Host(), seedHost) {
			continue
		}
		switch front.Offer(extra, 1) {
		case Queued:
			graph.Discover(extra, 1)
		case OutOfDepth:
			graph.MarkOutOfDepth(extra, 1)
		}
	}

	log.Info().
		Str("run_id", req.RunID).
		Str("seed", req.Seed.String()).
		Int("extra_seeds", len(req.ExtraSeeds)).
		Int("max_depth", req.MaxDepth).
		Int("max_pages", req.MaxPages).
		Int("concurrency", req.Concurrency).
		Msg("Starting crawl")

	outcomes := make(chan pageOutcome, req.Concurrency*2)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for o := range outcomes {
			o.apply(graph)
		}
	}()

	dispatched := 0
	limitHit := false
	stopped := false

	for !limitHit && !stopped {
		level := front.NextLevel()
		if len(level) == 0 {
			break
		}

		var eg errgroup.Group
		eg.SetLimit(req.Concurrency)

		for _, item := range level {
			if ctx.Err() != nil {
				stopped = true
				break
			}

			// Already fetched as another page's redirect target.
			if !front.Claim(item.URL, item.Depth) {
				continue
			}

			if decision := s.gate.Authorize(ctx, item.URL); !decision.Allowed {
				log.Debug().
					Str("url", item.URL.String()).
					Str("reason", decision.Reason).
					Msg("Skipping disallowed URL")
				outcomes <- pageOutcome{kind: outcomeBlocked, url: item.URL, depth: item.Depth, reason: decision.Reason}
				continue
			}

			if dispatched >= req.MaxPages {
				limitHit = true
				break
			}
			dispatched++

			eg.Go(func() error {
				if o, ok := s.processPage(ctx, req.RunID, item, front, seedHost); ok {
					outcomes <- o
				}
				return nil
			})
		}

		_ = eg.Wait()
	}

	close(outcomes)
	<-writerDone

	var reason TerminationReason
	switch {
	case limitHit:
		reason = PageLimitReached
	case stopped || ctx.Err() != nil:
		reason = Cancelled
	case front.DepthLimited():
		reason = DepthExhausted
	default:
		reason = Complete
	}

	fetched := graph.Count(sitegraph.Fetched)
	observability.RecordCrawl(ctx, string(reason), fetched, time.Since(start))

	log.Info().
		Str("run_id", req.RunID).
		Str("reason", string(reason)).
		Int("fetched", fetched).
		Int("unreachable", graph.Count(sitegraph.Unreachable)).
		Int("nodes", graph.Len()).
		Dur("duration", time.Since(start)).
		Msg("Crawl finished")

	return graph, reason, nil
}

// processPage runs one task: acquire host permit, fetch, release, analyse,
// offer links. ok is false when the crawl was cancelled before the fetch.
func (s *Scheduler) processPage(ctx context.Context, runID string, item frontierItem, front *frontier, seedHost string) (out pageOutcome, ok bool) {
	ctx, span := observability.StartPageSpan(ctx, observability.PageSpanInfo{
		RunID: runID,
		URL:   item.URL.String(),
		Host:  item.URL.Host(),
		Depth: item.Depth,
	})
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("url", item.URL.String()).
				Msg("Recovered from panic while processing page")
			sentry.CurrentHub().Recover(r)
			out = pageOutcome{kind: outcomeUnreachable, url: item.URL, depth: item.Depth, reason: "internal error"}
			ok = true
		}
	}()

	permit, err := s.gate.Acquire(ctx, item.URL)
	if err != nil {
		log.Debug().
			Err(err).
			Str("url", item.URL.String()).
			Msg("Crawl stopped before page was fetched")
		return pageOutcome{}, false
	}

	// In-flight fetches run to completion (bounded by the fetch timeout) after cancellation.
	res := s.fetcher.Fetch(context.WithoutCancel(ctx), item.URL)
	permit.Release(res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusServiceUnavailable)

	observability.RecordFetch(ctx, observability.FetchMetrics{
		Host:       item.URL.Host(),
		StatusCode: res.StatusCode,
		Failed:     res.Failed(),
		Duration:   res.Elapsed,
	})

	if res.OK() && s.inspect != nil {
		s.inspect(res, item.Depth)
	}

	return s.classify(res, item, front, seedHost), true
}

func (s *Scheduler) classify(res *crawler.FetchResult, item frontierItem, front *frontier, seedHost string) pageOutcome {
	out := pageOutcome{url: item.URL, depth: item.Depth, fetch: res}

	if res.Failed() {
		out.kind = outcomeUnreachable
		out.reason = failureReason(res)
		log.Warn().
			Str("url", item.URL.String()).
			Int("status", res.StatusCode).
			Str("reason", out.reason).
			Msg("Page unreachable")
		return out
	}

	out.kind = outcomeFetched
	if !redirected(res, item.URL) {
		out.record = analyzePage(res, item.Depth)
		out.offerLinks(out.record, front, seedHost)
		return out
	}

	// The fetched URL keeps a redirect record; the content belongs to the
	// URL the chain landed on, which is claimed so it is never fetched again.
	out.record = analyzer.RedirectRecord(res.Redirects[0], res.FinalURL, item.Depth)
	for i, hop := range res.Redirects[1:] {
		if !util.SameSite(hop.From.Host(), seedHost) || !front.Claim(hop.From, item.Depth) {
			continue
		}
		hopFetch := *res
		hopFetch.Target = hop.From
		hopFetch.Redirects = res.Redirects[i+1:]
		out.aliases = append(out.aliases, pageAlias{
			record: analyzer.RedirectRecord(hop, res.FinalURL, item.Depth),
			fetch:  &hopFetch,
		})
	}

	if !util.SameSite(res.FinalURL.Host(), seedHost) || !front.Claim(res.FinalURL, item.Depth) {
		return out
	}
	landing := *res
	landing.Target = res.FinalURL
	landing.Redirects = nil
	landing.RedirectStatus = crawler.RedirectNone
	rec := analyzePage(&landing, item.Depth)
	out.aliases = append(out.aliases, pageAlias{record: rec, fetch: &landing})
	out.offerLinks(rec, front, seedHost)

	log.Debug().
		Str("url", item.URL.String()).
		Str("final_url", res.FinalURL.String()).
		Int("hops", len(res.Redirects)).
		Msg("Recorded redirect landing page")
	return out
}

func redirected(res *crawler.FetchResult, target util.NormalizedURL) bool {
	return res.RedirectStatus == crawler.RedirectFollowed &&
		len(res.Redirects) > 0 &&
		res.FinalURL != "" &&
		res.FinalURL != target
}

func analyzePage(res *crawler.FetchResult, depth int) *analyzer.PageRecord {
	if !res.IsHTML() {
		return analyzer.MinimalRecord(res, depth)
	}
	rec, err := analyzer.Analyze(res, depth)
	if err != nil {
		log.Warn().
			Err(err).
			Str("url", res.Target.String()).
			Msg("Page could not be analysed")
	}
	return rec
}

// offerLinks queues rec's same-site links one level below the outcome.
func (o *pageOutcome) offerLinks(rec *analyzer.PageRecord, front *frontier, seedHost string) {
	for _, link := range rec.Links {
		if !link.Crawlable() {
			continue
		}
		if !util.SameSite(link.Target.Host(), seedHost) {
			o.external = append(o.external, link.Target)
			continue
		}
		if front.Offer(link.Target, o.depth+1) == OutOfDepth {
			o.outOfDepth = append(o.outOfDepth, link.Target)
		}
	}
}

func failureReason(res *crawler.FetchResult) string {
	if res.Err != nil {
		return res.ErrorString()
	}
	return fmt.Sprintf("HTTP %d %s", res.StatusCode, http.StatusText(res.StatusCode))
}
