package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

// maxRobotsSize caps how much of robots.txt is read.
const maxRobotsSize = 1 * 1024 * 1024

// RobotsRules contains the robots.txt group that applies to this crawler
type RobotsRules struct {
	// Found is false when robots.txt was absent, unreachable or unparseable.
	Found      bool
	StatusCode int
	// CrawlDelay is zero when the group has no Crawl-delay directive
	CrawlDelay time.Duration
	Sitemaps   []string
	group      *robotstxt.Group
}

// AllowAll returns rules that permit every path.
func AllowAll() *RobotsRules {
	return &RobotsRules{Sitemaps: []string{}}
}

// Allowed reports whether path (with query) may be fetched. Between matching
// Allow and Disallow patterns the longest pattern wins.
func (r *RobotsRules) Allowed(path string) bool {
	if r == nil || r.group == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	return r.group.Test(path)
}

// FetchRobots fetches and parses origin/robots.txt. It fails open: any
// network error, a status outside 2xx/3xx or a parse failure yields
// allow-all rules.
func (f *Fetcher) FetchRobots(ctx context.Context, origin string) *RobotsRules {
	robotsURL := strings.TrimSuffix(origin, "/") + "/robots.txt"

	ctx, cancel := context.WithTimeout(ctx, f.config.RobotsTimeout)
	defer cancel()

	log.Debug().
		Str("origin", origin).
		Str("robots_url", robotsURL).
		Msg("Fetching robots.txt")

	body, status, err := f.Get(ctx, robotsURL, maxRobotsSize)
	if err != nil {
		log.Warn().
			Err(err).
			Str("origin", origin).
			Msg("Robots.txt unreachable, allowing all paths")
		return AllowAll()
	}

	if status < 200 || status >= 400 {
		log.Debug().
			Int("status", status).
			Str("origin", origin).
			Msg("No robots.txt found, no restrictions apply")
		rules := AllowAll()
		rules.StatusCode = status
		return rules
	}

	if len(body) == maxRobotsSize {
		log.Warn().
			Int("size_bytes", len(body)).
			Msg("Robots.txt file truncated at 1MB limit")
	}

	rules, err := ParseRobots(body, f.config.BotName())
	if err != nil {
		log.Warn().
			Err(err).
			Str("origin", origin).
			Msg("Failed to parse robots.txt, allowing all paths")
		rules = AllowAll()
	}
	rules.StatusCode = status
	return rules
}

// ParseRobots parses robots.txt content and selects the group for botName,
// falling back to the wildcard group.
func ParseRobots(content []byte, botName string) (*RobotsRules, error) {
	data, err := robotstxt.FromBytes(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
	}

	group := data.FindGroup(botName)
	rules := &RobotsRules{
		Found:    true,
		Sitemaps: append([]string{}, data.Sitemaps...),
		group:    group,
	}
	if group != nil {
		rules.CrawlDelay = group.CrawlDelay
	}
	return rules, nil
}

// botName extracts the product token from a user agent, e.g. "siteauditbot"
// from "SiteAuditBot/1.0 (+https://...)".
func botName(userAgent string) string {
	fields := strings.Fields(strings.Split(userAgent, "/")[0])
	if len(fields) == 0 {
		return "*"
	}
	return strings.ToLower(fields[0])
}
