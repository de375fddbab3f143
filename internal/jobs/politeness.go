package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// Decision is the result of a robots.txt check.
type Decision struct {
	Allowed bool
	Reason  string
}

const reasonRobotsDisallowed = "disallowed by robots.txt"

// Gate answers robots.txt questions and paces requests per host. Rules are
// fetched once per origin for the lifetime of the gate.
type Gate struct {
	robots  RobotsSource
	limiter *DomainLimiter

	group singleflight.Group

	mu    sync.RWMutex
	rules map[string]*crawler.RobotsRules
}

// NewGate creates a gate. A nil limiter gets the default configuration.
func NewGate(robots RobotsSource, limiter *DomainLimiter) *Gate {
	if limiter == nil {
		limiter = NewDomainLimiter(DefaultDomainLimiterConfig())
	}
	return &Gate{
		robots:  robots,
		limiter: limiter,
		rules:   make(map[string]*crawler.RobotsRules),
	}
}

// Limiter exposes the per-host limiter.
func (g *Gate) Limiter() *DomainLimiter {
	return g.limiter
}

// Robots returns the cached rules for origin, fetching them on first use.
// Concurrent first callers share a single fetch.
func (g *Gate) Robots(ctx context.Context, origin string) *crawler.RobotsRules {
	g.mu.RLock()
	rules, ok := g.rules[origin]
	g.mu.RUnlock()
	if ok {
		return rules
	}

	v, _, _ := g.group.Do(origin, func() (interface{}, error) {
		g.mu.RLock()
		cached, ok := g.rules[origin]
		g.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched := g.robots.FetchRobots(ctx, origin)
		if fetched == nil {
			fetched = crawler.AllowAll()
		}

		if fetched.CrawlDelay > 0 {
			g.limiter.UpdateRobotsDelay(hostOf(origin), fetched.CrawlDelay)
			log.Info().
				Str("origin", origin).
				Dur("crawl_delay", fetched.CrawlDelay).
				Msg("Applying robots.txt crawl delay")
		}

		g.mu.Lock()
		g.rules[origin] = fetched
		g.mu.Unlock()
		return fetched, nil
	})

	return v.(*crawler.RobotsRules)
}

// Authorize reports whether u may be fetched under its origin's robots.txt.
func (g *Gate) Authorize(ctx context.Context, u util.NormalizedURL) Decision {
	rules := g.Robots(ctx, u.Origin())
	if !rules.Allowed(u.RequestURI()) {
		return Decision{Allowed: false, Reason: reasonRobotsDisallowed}
	}
	return Decision{Allowed: true}
}

// CrawlDelay returns the effective spacing for origin: the robots.txt
// Crawl-delay when it exceeds the configured default, otherwise the default.
func (g *Gate) CrawlDelay(ctx context.Context, origin string) time.Duration {
	g.Robots(ctx, origin)
	return g.limiter.Delay(hostOf(origin))
}

// Acquire blocks until a request to u's host may start.
func (g *Gate) Acquire(ctx context.Context, u util.NormalizedURL) (*DomainPermit, error) {
	g.Robots(ctx, u.Origin())
	return g.limiter.Acquire(ctx, u.Host())
}

func hostOf(origin string) string {
	n, err := util.Normalize(origin, "")
	if err != nil {
		return origin
	}
	return n.Host()
}
