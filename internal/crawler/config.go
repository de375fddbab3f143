package crawler

import (
	"time"
)

// Config holds the configuration for a fetcher instance
type Config struct {
	FetchTimeout     time.Duration // Per-request timeout, each hop and retry gets its own
	RobotsTimeout    time.Duration // Timeout for robots.txt and sitemap requests
	UserAgent        string        // User agent string for requests
	RetryAttempts    int           // Retries after the first attempt, transient failures only
	RetryDelay       time.Duration // Base backoff, doubled per attempt
	RedirectHopLimit int           // Maximum redirects followed before RedirectChainTooLong
	MaxBodySize      int           // Bytes read from a response body
	MaxSitemapURLs   int           // Cap on URLs collected across a sitemap index
	MaxSitemapDepth  int           // Nesting limit for sitemap indexes
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		FetchTimeout:     30 * time.Second,
		RobotsTimeout:    10 * time.Second,
		UserAgent:        "SiteAuditBot/1.0 (+https://github.com/Harvey-AU/site-audit)",
		RetryAttempts:    2,
		RetryDelay:       500 * time.Millisecond,
		RedirectHopLimit: 10,
		MaxBodySize:      10 * 1024 * 1024,
		MaxSitemapURLs:   50000,
		MaxSitemapDepth:  3,
	}
}

// BotName returns the product token robots.txt groups are matched against.
func (c *Config) BotName() string {
	return botName(c.UserAgent)
}
