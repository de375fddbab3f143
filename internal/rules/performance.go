package rules

import (
	"fmt"
	"time"

	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/util"
)

const (
	maxLCP      = 2500 * time.Millisecond
	maxINP      = 200 * time.Millisecond
	maxCLS      = 0.1
	maxLoadTime = 3 * time.Second
)

func durationCheck(metric func(perf.Metrics) time.Duration, limit time.Duration) SiteCheck {
	return func(c *Context) []Finding {
		var findings []Finding
		for _, u := range sortedURLs(metricURLs(c)) {
			value := metric(c.Artifacts.Metrics[u])
			if value <= limit {
				continue
			}
			findings = append(findings, Finding{
				Scope:     PageScope(u),
				Measured:  formatSeconds(value),
				Threshold: "at most " + formatSeconds(limit),
			})
		}
		return findings
	}
}

func layoutShift(c *Context) []Finding {
	var findings []Finding
	for _, u := range sortedURLs(metricURLs(c)) {
		cls := c.Artifacts.Metrics[u].CLS
		if cls <= maxCLS {
			continue
		}
		findings = append(findings, Finding{
			Scope:     PageScope(u),
			Measured:  fmt.Sprintf("%.3f", cls),
			Threshold: fmt.Sprintf("at most %.1f", maxCLS),
		})
	}
	return findings
}

func metricURLs(c *Context) []util.NormalizedURL {
	out := make([]util.NormalizedURL, 0, len(c.Artifacts.Metrics))
	for u := range c.Artifacts.Metrics {
		out = append(out, u)
	}
	return out
}

func formatSeconds(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func lcpOf(m perf.Metrics) time.Duration  { return m.LCP }
func inpOf(m perf.Metrics) time.Duration  { return m.INP }
func loadOf(m perf.Metrics) time.Duration { return m.LoadTime }
