// Package perf supplies lab performance metrics for audited pages.
package perf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harvey-AU/site-audit/internal/util"
)

// ErrUnavailable means the provider has no metrics for the page. The
// performance category is then reported without data.
var ErrUnavailable = errors.New("performance metrics unavailable")

// Device is the emulated form factor.
type Device string

const (
	Mobile  Device = "mobile"
	Desktop Device = "desktop"
)

// ParseDevice accepts "mobile" or "desktop"; empty means mobile.
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Mobile):
		return Mobile, nil
	case string(Desktop):
		return Desktop, nil
	}
	return "", fmt.Errorf("unknown device %q", s)
}

// Metrics are the lab measurements for one URL.
type Metrics struct {
	URL      util.NormalizedURL `json:"url"`
	Device   Device             `json:"device"`
	LCP      time.Duration      `json:"lcp"`
	INP      time.Duration      `json:"inp"`
	CLS      float64            `json:"cls"`
	LoadTime time.Duration      `json:"load_time"`
	TTFB     time.Duration      `json:"ttfb"`
	// Score is the provider's own 0-100 performance score, zero when absent.
	Score     float64   `json:"score"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Provider fetches metrics for a page. Implementations return an error
// wrapping ErrUnavailable when they have nothing for the page.
type Provider interface {
	GetMetrics(ctx context.Context, u util.NormalizedURL, device Device) (Metrics, error)
}
