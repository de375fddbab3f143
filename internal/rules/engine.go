// Package rules turns a crawled site graph into a list of SEO issues.
package rules

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/site-audit/internal/analyzer"
	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/sitegraph"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// Artifacts are the site-level inputs gathered outside the crawl.
type Artifacts struct {
	Seed         util.NormalizedURL
	Robots       *crawler.RobotsRules
	RobotsFound  bool
	Sitemap      []util.NormalizedURL
	SitemapFound bool
	Metrics      map[util.NormalizedURL]perf.Metrics
	// MetricsAvailable is false when no provider ran; performance rules are skipped.
	MetricsAvailable bool
	// Technologies maps a detected technology to its categories. Nil means
	// fingerprinting did not run.
	Technologies map[string][]string
	// ReportUnlistedPages enables page-not-in-sitemap.
	ReportUnlistedPages bool
}

// Finding is one rule hit before rule metadata is attached.
type Finding struct {
	Scope     Scope
	Measured  string
	Threshold string
	Evidence  []string
	Affected  []util.NormalizedURL
}

// PageCheck inspects one node that has a page record.
type PageCheck func(*Context, *sitegraph.Node) []Finding

// SiteCheck inspects the graph as a whole.
type SiteCheck func(*Context) []Finding

// Rule is one catalog entry. Exactly one of Page and Site is set.
type Rule struct {
	ID          string
	Category    Category
	Severity    Severity
	Title       string
	Description string
	Fix         string
	Page        PageCheck
	Site        SiteCheck
}

// Context is shared by every rule during one evaluation.
type Context struct {
	Graph     *sitegraph.Graph
	Artifacts Artifacts

	pages      []*sitegraph.Node
	sitemapSet map[util.NormalizedURL]struct{}
}

func newContext(g *sitegraph.Graph, a Artifacts) *Context {
	if a.Seed == "" {
		a.Seed = g.Seed()
	}
	ctx := &Context{
		Graph:      g,
		Artifacts:  a,
		pages:      g.Pages(),
		sitemapSet: make(map[util.NormalizedURL]struct{}, len(a.Sitemap)),
	}
	for _, u := range a.Sitemap {
		ctx.sitemapSet[u] = struct{}{}
	}
	return ctx
}

// Pages returns every node with a page record, ordered by URL.
func (c *Context) Pages() []*sitegraph.Node {
	return c.pages
}

// InSitemap reports whether u was listed in a sitemap.
func (c *Context) InSitemap(u util.NormalizedURL) bool {
	_, ok := c.sitemapSet[u]
	return ok
}

// Engine evaluates a fixed catalog of rules.
type Engine struct {
	catalog []Rule
}

func NewEngine() *Engine {
	return &Engine{catalog: Catalog()}
}

// NewEngineWithRules is used by tests to run a reduced catalog.
func NewEngineWithRules(catalog []Rule) *Engine {
	return &Engine{catalog: catalog}
}

func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.catalog))
	copy(out, e.catalog)
	return out
}

// Evaluate runs every rule over g. The result holds at most one issue per
// (rule, scope) and is ordered by category, rule ID and scope.
func (e *Engine) Evaluate(g *sitegraph.Graph, a Artifacts) []Issue {
	ctx := newContext(g, a)

	merged := make(map[string]*Issue)
	var order []string

	add := func(r Rule, f Finding) {
		issue := Issue{
			RuleID:      r.ID,
			Category:    r.Category,
			Severity:    r.Severity,
			Scope:       f.Scope,
			Title:       r.Title,
			Description: r.Description,
			Fix:         r.Fix,
			Measured:    f.Measured,
			Threshold:   f.Threshold,
			Evidence:    f.Evidence,
			Affected:    f.Affected,
		}
		key := issue.key()
		if existing, ok := merged[key]; ok {
			existing.Evidence = appendUnique(existing.Evidence, issue.Evidence...)
			existing.Affected = appendUniqueURL(existing.Affected, issue.Affected...)
			return
		}
		merged[key] = &issue
		order = append(order, key)
	}

	for _, r := range e.catalog {
		if r.Category == Performance && !ctx.Artifacts.MetricsAvailable {
			continue
		}
		switch {
		case r.Site != nil:
			for _, f := range r.Site(ctx) {
				add(r, f)
			}
		case r.Page != nil:
			for _, n := range ctx.pages {
				for _, f := range r.Page(ctx, n) {
					add(r, f)
				}
			}
		}
	}

	issues := make([]Issue, 0, len(order))
	for _, key := range order {
		issues = append(issues, *merged[key])
	}
	sort.SliceStable(issues, func(i, j int) bool {
		ci, cj := categoryIndex(issues[i].Category), categoryIndex(issues[j].Category)
		if ci != cj {
			return ci < cj
		}
		if issues[i].RuleID != issues[j].RuleID {
			return issues[i].RuleID < issues[j].RuleID
		}
		return issues[i].Scope.String() < issues[j].Scope.String()
	})

	log.Debug().
		Int("rules", len(e.catalog)).
		Int("pages", len(ctx.pages)).
		Int("issues", len(issues)).
		Msg("Evaluated rules")
	return issues
}

func categoryIndex(c Category) int {
	for i, known := range Categories {
		if known == c {
			return i
		}
	}
	return len(Categories)
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

func appendUniqueURL(dst []util.NormalizedURL, values ...util.NormalizedURL) []util.NormalizedURL {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// htmlPage returns the record of a successfully fetched HTML page.
func htmlPage(n *sitegraph.Node) (*analyzer.PageRecord, bool) {
	if n == nil || n.Record == nil || !n.Record.HTML {
		return nil, false
	}
	if n.Record.StatusCode < 200 || n.Record.StatusCode >= 300 {
		return nil, false
	}
	return n.Record, true
}

func pageFinding(u util.NormalizedURL, evidence ...string) Finding {
	return Finding{Scope: PageScope(u), Evidence: evidence}
}
