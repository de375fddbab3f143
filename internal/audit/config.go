package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/scoring"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// ConfigError is the only error that stops an audit before it starts.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// Config controls one audit run.
type Config struct {
	SeedURL             string
	MaxDepth            int
	MaxPages            int
	Concurrency         int
	PerHostDelayDefault time.Duration
	PerHostConcurrency  int
	FetchTimeout        time.Duration
	RedirectHopLimit    int
	CategoryWeights     scoring.Weights
	// TimeBudget bounds the crawl phase; zero means no limit.
	TimeBudget time.Duration
	// SeedFromSitemap adds same-site sitemap URLs to the frontier at depth 1.
	SeedFromSitemap bool
	MaxSitemapSeeds int
	// PerfSampleSize is how many pages are sent to the metrics provider.
	PerfSampleSize      int
	Device              perf.Device
	UserAgent           string
	ReportUnlistedPages bool
	DetectTechnologies  bool
}

func DefaultConfig() Config {
	return Config{
		MaxDepth:            5,
		MaxPages:            500,
		Concurrency:         8,
		PerHostDelayDefault: 200 * time.Millisecond,
		PerHostConcurrency:  2,
		FetchTimeout:        30 * time.Second,
		RedirectHopLimit:    10,
		CategoryWeights:     scoring.DefaultWeights(),
		SeedFromSitemap:     true,
		MaxSitemapSeeds:     1000,
		PerfSampleSize:      5,
		Device:              perf.Mobile,
		DetectTechnologies:  true,
	}
}

// Validate returns a *ConfigError describing the first invalid field.
func (c Config) Validate() error {
	if c.SeedURL == "" {
		return &ConfigError{Field: "SeedURL", Reason: "is required"}
	}
	if _, err := util.Normalize(c.SeedURL, ""); err != nil {
		return &ConfigError{Field: "SeedURL", Reason: "is not an http(s) URL", Err: err}
	}

	checks := []struct {
		field string
		bad   bool
		msg   string
	}{
		{"MaxDepth", c.MaxDepth < 0, "must not be negative"},
		{"MaxPages", c.MaxPages < 1, "must be at least 1"},
		{"Concurrency", c.Concurrency < 1, "must be at least 1"},
		{"PerHostDelayDefault", c.PerHostDelayDefault < 0, "must not be negative"},
		{"PerHostConcurrency", c.PerHostConcurrency < 1, "must be at least 1"},
		{"FetchTimeout", c.FetchTimeout <= 0, "must be positive"},
		{"RedirectHopLimit", c.RedirectHopLimit < 0, "must not be negative"},
		{"TimeBudget", c.TimeBudget < 0, "must not be negative"},
		{"MaxSitemapSeeds", c.MaxSitemapSeeds < 0, "must not be negative"},
		{"PerfSampleSize", c.PerfSampleSize < 0, "must not be negative"},
	}
	for _, check := range checks {
		if check.bad {
			return &ConfigError{Field: check.field, Reason: check.msg}
		}
	}

	if _, err := perf.ParseDevice(string(c.Device)); err != nil {
		return &ConfigError{Field: "Device", Reason: "must be mobile or desktop", Err: err}
	}
	if err := c.CategoryWeights.Validate(); err != nil {
		return &ConfigError{Field: "CategoryWeights", Reason: "are invalid", Err: err}
	}
	return nil
}

// Seed returns the normalised seed URL. Call Validate first.
func (c Config) Seed() util.NormalizedURL {
	seed, _ := util.Normalize(c.SeedURL, "")
	return seed
}
