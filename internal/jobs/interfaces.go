package jobs

import (
	"context"

	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// PageFetcher defines the method we need from the crawler
type PageFetcher interface {
	Fetch(ctx context.Context, target util.NormalizedURL) *crawler.FetchResult
}

// RobotsSource fetches robots.txt rules for an origin. It must fail open.
type RobotsSource interface {
	FetchRobots(ctx context.Context, origin string) *crawler.RobotsRules
}

// Politeness decides whether and when a URL may be fetched
type Politeness interface {
	Authorize(ctx context.Context, u util.NormalizedURL) Decision
	Acquire(ctx context.Context, u util.NormalizedURL) (*DomainPermit, error)
}
