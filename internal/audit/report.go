package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/Harvey-AU/site-audit/internal/jobs"
	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/rules"
	"github.com/Harvey-AU/site-audit/internal/scoring"
	"github.com/Harvey-AU/site-audit/internal/sitegraph"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// Report is the output of one audit run.
type Report struct {
	RunID        string                 `json:"run_id"`
	Seed         util.NormalizedURL     `json:"seed"`
	StartedAt    time.Time              `json:"started_at"`
	Duration     time.Duration          `json:"duration"`
	Termination  jobs.TerminationReason `json:"termination"`
	PagesCrawled int                    `json:"pages_crawled"`
	Nodes        int                    `json:"nodes"`
	Robots       RobotsSummary          `json:"robots"`
	Sitemap      SitemapSummary         `json:"sitemap"`
	Technologies map[string][]string    `json:"technologies,omitempty"`
	Metrics      []perf.Metrics         `json:"metrics,omitempty"`
	Result       *scoring.OverallReport `json:"result"`
	Pages        []PageSummary          `json:"pages"`

	Graph *sitegraph.Graph `json:"-"`
}

type RobotsSummary struct {
	Found      bool          `json:"found"`
	CrawlDelay time.Duration `json:"crawl_delay"`
	Sitemaps   []string      `json:"sitemaps,omitempty"`
}

type SitemapSummary struct {
	Found    bool     `json:"found"`
	Sources  []string `json:"sources,omitempty"`
	URLCount int      `json:"url_count"`
}

// PageSummary is one graph node flattened for output.
type PageSummary struct {
	URL        util.NormalizedURL `json:"url"`
	State      string             `json:"state"`
	Depth      int                `json:"depth"`
	StatusCode int                `json:"status_code,omitempty"`
	Title      string             `json:"title,omitempty"`
	Inbound    int                `json:"inbound"`
	Outbound   int                `json:"outbound"`
	Reason     string             `json:"reason,omitempty"`
}

func summarisePages(g *sitegraph.Graph) []PageSummary {
	nodes := g.Nodes()
	out := make([]PageSummary, 0, len(nodes))
	for _, n := range nodes {
		if n.State == sitegraph.External {
			continue
		}
		p := PageSummary{
			URL:        n.URL,
			State:      n.State.String(),
			Depth:      n.Depth,
			StatusCode: n.StatusCode,
			Inbound:    len(g.Inbound(n.URL)),
			Outbound:   len(g.Outbound(n.URL)),
			Reason:     n.Reason,
		}
		if n.Record != nil {
			p.Title = n.Record.Title
		}
		out = append(out, p)
	}
	return out
}

// IssueCount returns the number of issues at severity s.
func (r *Report) IssueCount(s rules.Severity) int {
	if r.Result == nil {
		return 0
	}
	return r.Result.SeverityCounts[s.String()]
}

// TopIssues returns up to n issues in priority order.
func (r *Report) TopIssues(n int) []rules.Issue {
	if r.Result == nil {
		return nil
	}
	issues := scoring.Prioritize(r.Result.Issues)
	if len(issues) > n {
		issues = issues[:n]
	}
	return issues
}

// Summary renders a short plain-text digest of the report.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit of %s: %d/100 (%s)\n", r.Seed, r.Result.Score, r.Result.Grade)
	fmt.Fprintf(&b, "%d pages crawled, stopped: %s\n", r.PagesCrawled, r.Termination)
	for _, cs := range r.Result.Categories {
		if !cs.Available {
			fmt.Fprintf(&b, "- %s: unavailable\n", cs.Category)
			continue
		}
		fmt.Fprintf(&b, "- %s: %d (%s)\n", cs.Category, cs.Score, cs.Grade)
	}
	fmt.Fprintf(&b, "Issues: %d critical, %d high, %d medium, %d low",
		r.IssueCount(rules.Critical), r.IssueCount(rules.High),
		r.IssueCount(rules.Medium), r.IssueCount(rules.Low))
	return b.String()
}
