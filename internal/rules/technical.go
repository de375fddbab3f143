package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/Harvey-AU/site-audit/internal/analyzer"
	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/sitegraph"
	"github.com/Harvey-AU/site-audit/internal/util"
)

const (
	maxURLLength      = 100
	maxQueryParams    = 2
	maxDepth          = 3
	maxRedirectHops   = 1
	maxTTFBMillis     = 800
	maxPageBytes      = 3 << 20
	maxEvidenceValues = 10
)

var soft404Pattern = regexp.MustCompile(`(?i)\b404\b|not found|page (does not|doesn't) exist`)

func brokenInternalLinks(c *Context) []Finding {
	bySource := make(map[util.NormalizedURL][]sitegraph.BrokenLink)
	var sources []util.NormalizedURL
	for _, bl := range c.Graph.BrokenLinks() {
		if _, seen := bySource[bl.Source]; !seen {
			sources = append(sources, bl.Source)
		}
		bySource[bl.Source] = append(bySource[bl.Source], bl)
	}

	findings := make([]Finding, 0, len(sources))
	for _, source := range sources {
		links := bySource[source]
		f := Finding{
			Scope:     PageScope(source),
			Measured:  fmt.Sprintf("%d broken links", len(links)),
			Threshold: "0 broken links",
			Affected:  []util.NormalizedURL{source},
		}
		for _, bl := range links {
			f.Evidence = append(f.Evidence, describeBroken(bl))
		}
		findings = append(findings, f)
	}
	return findings
}

func describeBroken(bl sitegraph.BrokenLink) string {
	if bl.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d)", bl.Target, bl.StatusCode)
	}
	if bl.Reason != "" {
		return fmt.Sprintf("%s (%s)", bl.Target, bl.Reason)
	}
	return bl.Target.String()
}

func seedUnreachable(c *Context) []Finding {
	n, ok := c.Graph.Get(c.Artifacts.Seed)
	if !ok {
		return nil
	}
	switch n.State {
	case sitegraph.Unreachable, sitegraph.Blocked:
	default:
		return nil
	}
	reason := n.Reason
	if reason == "" {
		reason = n.State.String()
	}
	return []Finding{{
		Scope:    GlobalScope(),
		Evidence: []string{fmt.Sprintf("%s: %s", n.URL, reason)},
		Affected: []util.NormalizedURL{n.URL},
	}}
}

func redirectStatusCheck(status crawler.RedirectStatus) SiteCheck {
	return func(c *Context) []Finding {
		var findings []Finding
		for _, n := range c.Graph.Nodes() {
			if n.Fetch == nil || n.Fetch.RedirectStatus != status {
				continue
			}
			findings = append(findings, Finding{
				Scope:     PageScope(n.URL),
				Measured:  fmt.Sprintf("%d hops", len(n.Fetch.Redirects)),
				Threshold: fmt.Sprintf("at most %d hop", maxRedirectHops),
				Evidence:  redirectEvidence(n.Fetch.Redirects),
			})
		}
		return findings
	}
}

func redirectChains(c *Context) []Finding {
	var findings []Finding
	for _, n := range c.Graph.Nodes() {
		if n.Fetch == nil || n.Fetch.RedirectStatus != crawler.RedirectFollowed {
			continue
		}
		if len(n.Fetch.Redirects) <= maxRedirectHops {
			continue
		}
		findings = append(findings, Finding{
			Scope:     PageScope(n.URL),
			Measured:  fmt.Sprintf("%d hops", len(n.Fetch.Redirects)),
			Threshold: fmt.Sprintf("at most %d hop", maxRedirectHops),
			Evidence:  redirectEvidence(n.Fetch.Redirects),
		})
	}
	return findings
}

func redirectEvidence(hops []crawler.RedirectHop) []string {
	out := make([]string, 0, len(hops))
	for _, hop := range hops {
		out = append(out, fmt.Sprintf("%d %s -> %s", hop.StatusCode, hop.From, hop.To))
	}
	return out
}

func orphanPages(c *Context) []Finding {
	var findings []Finding
	for _, u := range c.Graph.Orphans() {
		findings = append(findings, pageFinding(u))
	}
	return findings
}

func sitemapOrphans(c *Context) []Finding {
	if !c.Artifacts.SitemapFound {
		return nil
	}
	var findings []Finding
	for _, u := range sortedURLs(c.Artifacts.Sitemap) {
		if u == c.Artifacts.Seed || !util.SameSite(u.Host(), c.Artifacts.Seed.Host()) {
			continue
		}
		if len(c.Graph.Inbound(u)) == 0 {
			findings = append(findings, pageFinding(u, "listed in sitemap, no internal link found"))
		}
	}
	return findings
}

func sitemapMissing(c *Context) []Finding {
	if c.Artifacts.SitemapFound {
		return nil
	}
	return []Finding{{Scope: GlobalScope(), Evidence: []string{"no sitemap in robots.txt or at /sitemap.xml"}}}
}

func sitemapURLsNotCrawled(c *Context) []Finding {
	if !c.Artifacts.SitemapFound {
		return nil
	}
	var missing []util.NormalizedURL
	for _, u := range sortedURLs(c.Artifacts.Sitemap) {
		if !util.SameSite(u.Host(), c.Artifacts.Seed.Host()) {
			continue
		}
		n, ok := c.Graph.Get(u)
		if ok && n.State == sitegraph.Fetched {
			continue
		}
		missing = append(missing, u)
	}
	if len(missing) == 0 {
		return nil
	}
	return []Finding{{
		Scope:     GlobalScope(),
		Measured:  fmt.Sprintf("%d URLs", len(missing)),
		Threshold: "0 URLs",
		Evidence:  urlEvidence(missing),
		Affected:  missing,
	}}
}

func pagesNotInSitemap(c *Context) []Finding {
	if !c.Artifacts.ReportUnlistedPages || !c.Artifacts.SitemapFound {
		return nil
	}
	var unlisted []util.NormalizedURL
	for _, n := range c.Pages() {
		rec, ok := htmlPage(n)
		if !ok || rec.Noindex() || c.InSitemap(n.URL) || c.InSitemap(rec.FinalURL) {
			continue
		}
		unlisted = append(unlisted, n.URL)
	}
	if len(unlisted) == 0 {
		return nil
	}
	return []Finding{{
		Scope:    GlobalScope(),
		Measured: fmt.Sprintf("%d pages", len(unlisted)),
		Evidence: urlEvidence(unlisted),
		Affected: unlisted,
	}}
}

func robotsMissing(c *Context) []Finding {
	if c.Artifacts.RobotsFound {
		return nil
	}
	return []Finding{{Scope: GlobalScope(), Evidence: []string{c.Artifacts.Seed.Origin() + "/robots.txt"}}}
}

func noindexPage(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || !rec.Noindex() {
		return nil
	}
	return []Finding{pageFinding(n.URL, "robots: "+strings.Join(rec.Robots, ", "))}
}

func canonicalMissing(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.CanonicalRaw != "" {
		return nil
	}
	return []Finding{pageFinding(n.URL)}
}

func canonicalMismatch(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.Canonical == "" || selfCanonical(rec) {
		return nil
	}
	return []Finding{pageFinding(n.URL, "canonical: "+rec.Canonical.String())}
}

func canonicalChain(c *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.Canonical == "" || selfCanonical(rec) {
		return nil
	}
	target, ok := c.Graph.Get(rec.Canonical)
	if !ok || target.Record == nil {
		return nil
	}
	next := target.Record
	if next.Canonical == "" || selfCanonical(next) {
		return nil
	}
	return []Finding{pageFinding(n.URL,
		fmt.Sprintf("%s -> %s -> %s", n.URL, rec.Canonical, next.Canonical))}
}

func canonicalBroken(c *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.CanonicalRaw == "" {
		return nil
	}
	if rec.Canonical == "" {
		return []Finding{pageFinding(n.URL, "unparseable canonical: "+rec.CanonicalRaw)}
	}
	target, ok := c.Graph.Get(rec.Canonical)
	if !ok || target.State != sitegraph.Unreachable {
		return nil
	}
	return []Finding{pageFinding(n.URL, describeBroken(sitegraph.BrokenLink{
		Target:     target.URL,
		StatusCode: target.StatusCode,
		Reason:     target.Reason,
	}))}
}

func selfCanonical(rec *analyzer.PageRecord) bool {
	return rec.Canonical == rec.URL || rec.Canonical == rec.FinalURL
}

// duplicates groups indexable pages by a text field and reports each group
// of two or more once, scoped to its first URL.
func duplicates(field func(*analyzer.PageRecord) string) SiteCheck {
	return func(c *Context) []Finding {
		groups := make(map[string][]util.NormalizedURL)
		for _, n := range c.Pages() {
			rec, ok := htmlPage(n)
			if !ok || rec.Noindex() || (rec.Canonical != "" && !selfCanonical(rec)) {
				continue
			}
			// a redirected fetch describes its landing page, not this URL
			if rec.FinalURL != "" && rec.FinalURL != rec.URL {
				continue
			}
			value := strings.ToLower(strings.TrimSpace(field(rec)))
			if value == "" {
				continue
			}
			groups[value] = append(groups[value], n.URL)
		}

		var findings []Finding
		for value, urls := range groups {
			if len(urls) < 2 {
				continue
			}
			urls = sortedURLs(urls)
			findings = append(findings, Finding{
				Scope:    PageScope(urls[0]),
				Measured: fmt.Sprintf("%d pages", len(urls)),
				Evidence: append([]string{fmt.Sprintf("%q", value)}, urlEvidence(urls)...),
				Affected: urls,
			})
		}
		sort.Slice(findings, func(i, j int) bool { return findings[i].Scope.URL < findings[j].Scope.URL })
		return findings
	}
}

func urlTooLong(_ *Context, n *sitegraph.Node) []Finding {
	if _, ok := htmlPage(n); !ok {
		return nil
	}
	length := len(n.URL.String())
	if length <= maxURLLength {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%d characters", length),
		Threshold: fmt.Sprintf("at most %d characters", maxURLLength),
	}}
}

func urlStructure(_ *Context, n *sitegraph.Node) []Finding {
	if _, ok := htmlPage(n); !ok {
		return nil
	}
	path := n.URL.Path()
	var problems []string
	if strings.ContainsFunc(path, unicode.IsUpper) {
		problems = append(problems, "uppercase characters in path")
	}
	if strings.Contains(path, "_") {
		problems = append(problems, "underscores in path")
	}
	if len(problems) == 0 {
		return nil
	}
	return []Finding{pageFinding(n.URL, problems...)}
}

func urlParameters(_ *Context, n *sitegraph.Node) []Finding {
	if _, ok := htmlPage(n); !ok {
		return nil
	}
	params := len(n.URL.URL().Query())
	if params <= maxQueryParams {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%d parameters", params),
		Threshold: fmt.Sprintf("at most %d parameters", maxQueryParams),
	}}
}

func deepPage(_ *Context, n *sitegraph.Node) []Finding {
	if _, ok := htmlPage(n); !ok || n.Depth <= maxDepth {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("depth %d", n.Depth),
		Threshold: fmt.Sprintf("at most depth %d", maxDepth),
	}}
}

func insecurePage(_ *Context, n *sitegraph.Node) []Finding {
	if _, ok := htmlPage(n); !ok {
		return nil
	}
	if n.URL.URL().Scheme != "http" {
		return nil
	}
	return []Finding{pageFinding(n.URL)}
}

func analysisFailed(_ *Context, n *sitegraph.Node) []Finding {
	if n.Record == nil || n.Record.AnalysisError == "" {
		return nil
	}
	return []Finding{pageFinding(n.URL, n.Record.AnalysisError)}
}

func invalidLinks(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok {
		return nil
	}
	var evidence []string
	for _, link := range rec.Links {
		if link.Invalid {
			evidence = append(evidence, fmt.Sprintf("%q: %s", link.Raw, link.InvalidReason))
		}
	}
	if len(evidence) == 0 {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%d invalid links", len(evidence)),
		Threshold: "0 invalid links",
		Evidence:  capEvidence(evidence),
	}}
}

func slowServerResponse(_ *Context, n *sitegraph.Node) []Finding {
	if _, ok := htmlPage(n); !ok || n.Fetch == nil {
		return nil
	}
	ttfb := n.Fetch.Performance.TTFB
	if ttfb <= maxTTFBMillis {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%dms", ttfb),
		Threshold: fmt.Sprintf("at most %dms", maxTTFBMillis),
	}}
}

func soft404(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok {
		return nil
	}
	candidates := []string{rec.Title}
	for _, h := range rec.Headings {
		if h.Level == 1 {
			candidates = append(candidates, h.Text)
			break
		}
	}
	for _, text := range candidates {
		if soft404Pattern.MatchString(text) {
			return []Finding{pageFinding(n.URL, fmt.Sprintf("HTTP %d with %q", rec.StatusCode, text))}
		}
	}
	return nil
}

func largePage(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.BodyBytes <= maxPageBytes {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%.1f MiB", float64(rec.BodyBytes)/(1<<20)),
		Threshold: fmt.Sprintf("at most %d MiB", maxPageBytes>>20),
	}}
}

func internalLinkRedirects(c *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok {
		return nil
	}
	var evidence []string
	seen := make(map[util.NormalizedURL]struct{})
	for _, link := range rec.InternalLinks() {
		if _, dup := seen[link.Target]; dup {
			continue
		}
		seen[link.Target] = struct{}{}
		target, ok := c.Graph.Get(link.Target)
		if !ok || target.Fetch == nil || len(target.Fetch.Redirects) == 0 {
			continue
		}
		if !util.IsSignificantRedirect(link.Target.String(), target.Fetch.FinalURL.String()) {
			continue
		}
		evidence = append(evidence, fmt.Sprintf("%s -> %s", link.Target, target.Fetch.FinalURL))
	}
	if len(evidence) == 0 {
		return nil
	}
	return []Finding{{
		Scope:    PageScope(n.URL),
		Measured: fmt.Sprintf("%d redirecting links", len(evidence)),
		Evidence: capEvidence(evidence),
	}}
}

func sortedURLs(in []util.NormalizedURL) []util.NormalizedURL {
	out := append([]util.NormalizedURL(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func urlEvidence(urls []util.NormalizedURL) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, u.String())
	}
	return capEvidence(out)
}

// capEvidence keeps the first values and summarises the rest.
func capEvidence(values []string) []string {
	if len(values) <= maxEvidenceValues {
		return values
	}
	out := append([]string(nil), values[:maxEvidenceValues]...)
	return append(out, fmt.Sprintf("and %d more", len(values)-maxEvidenceValues))
}
