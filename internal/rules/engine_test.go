package rules

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harvey-AU/site-audit/internal/analyzer"
	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/sitegraph"
	"github.com/Harvey-AU/site-audit/internal/util"
)

const testSeed = "https://example.com/"

func padTo(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat("x", n-len(s))
}

// goodRecord builds a page that passes every page rule as long as it has at
// least one internal link.
func goodRecord(raw string, depth int, links ...string) *analyzer.PageRecord {
	u := util.MustNormalize(raw)
	rec := &analyzer.PageRecord{
		URL:             u,
		FinalURL:        u,
		Depth:           depth,
		StatusCode:      200,
		ContentType:     "text/html",
		HTML:            true,
		BodyBytes:       4096,
		Title:           padTo("Title for "+u.Path()+" ", 55),
		MetaDescription: padTo("Description for "+u.Path()+" ", 155),
		Canonical:       u,
		CanonicalRaw:    u.String(),
		Lang:            "en",
		Viewport:        "width=device-width, initial-scale=1",
		Headings:        []analyzer.Heading{{Level: 1, Text: "Heading"}, {Level: 2, Text: "Section"}},
		Images:          []analyzer.Image{{Src: "https://example.com/a.png", Alt: "A widget", HasAlt: true}},
		StructuredData:  []analyzer.StructuredData{{Type: "WebPage", Format: analyzer.FormatJSONLD, Valid: true}},
		OpenGraph:       map[string]string{"og:title": "T", "og:description": "D", "og:image": "I"},
		WordCount:       450,
	}
	for _, l := range links {
		t := util.MustNormalize(l)
		rec.Links = append(rec.Links, analyzer.Link{
			Raw:      l,
			Target:   t,
			Anchor:   "Read more",
			Region:   "body",
			Internal: util.SameSite(t.Host(), u.Host()),
		})
	}
	return rec
}

// secureHeaders is a response header set that passes every header rule.
func secureHeaders() http.Header {
	h := make(http.Header)
	h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Server", "nginx")
	return h
}

func insert(g *sitegraph.Graph, rec *analyzer.PageRecord) {
	insertWithHeader(g, rec, secureHeaders())
}

func insertWithHeader(g *sitegraph.Graph, rec *analyzer.PageRecord, h http.Header) {
	g.Insert(rec, &crawler.FetchResult{
		Target:      rec.URL,
		FinalURL:    rec.FinalURL,
		StatusCode:  rec.StatusCode,
		ContentType: rec.ContentType,
		Header:      h,
	})
}

func cleanArtifacts(sitemap ...string) Artifacts {
	a := Artifacts{
		Seed:         util.MustNormalize(testSeed),
		RobotsFound:  true,
		SitemapFound: true,
	}
	for _, s := range sitemap {
		a.Sitemap = append(a.Sitemap, util.MustNormalize(s))
	}
	return a
}

func cleanSite() *sitegraph.Graph {
	g := sitegraph.New(util.MustNormalize(testSeed))
	insert(g, goodRecord(testSeed, 0, "https://example.com/about"))
	insert(g, goodRecord("https://example.com/about", 1, testSeed))
	return g
}

func issuesFor(issues []Issue, ruleID string) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.RuleID == ruleID {
			out = append(out, i)
		}
	}
	return out
}

func TestEvaluateCleanSite(t *testing.T) {
	issues := NewEngine().Evaluate(cleanSite(), cleanArtifacts(testSeed, "https://example.com/about"))
	assert.Empty(t, issues)
}

func TestCatalogIsWellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for _, r := range Catalog() {
		assert.False(t, seen[r.ID], "duplicate rule %s", r.ID)
		seen[r.ID] = true
		assert.True(t, (r.Page == nil) != (r.Site == nil), "rule %s must have exactly one check", r.ID)
		assert.NotEmpty(t, r.Title, r.ID)
		assert.NotEmpty(t, r.Fix, r.ID)
		assert.Less(t, categoryIndex(r.Category), len(Categories), r.ID)
	}
	for _, id := range []string{"broken-internal-link", "orphan-page", "sitemap-orphan", "title-too-long", "lcp-poor", "mixed-content"} {
		assert.True(t, seen[id], id)
	}
}

func TestBrokenLinkIssueScopedToSource(t *testing.T) {
	g := sitegraph.New(util.MustNormalize(testSeed))
	insert(g, goodRecord(testSeed, 0, "https://example.com/missing", "https://example.com/gone", "https://example.com/about"))
	insert(g, goodRecord("https://example.com/about", 1, testSeed, "https://example.com/missing"))
	g.MarkUnreachable(util.MustNormalize("https://example.com/missing"), 1, "HTTP 404 Not Found",
		&crawler.FetchResult{StatusCode: 404})
	g.MarkUnreachable(util.MustNormalize("https://example.com/gone"), 1, "connection refused", nil)

	issues := issuesFor(NewEngine().Evaluate(g, cleanArtifacts()), "broken-internal-link")
	require.Len(t, issues, 2)

	home := issues[0]
	assert.Equal(t, PageScope(util.MustNormalize(testSeed)), home.Scope)
	assert.Equal(t, High, home.Severity)
	assert.Equal(t, Technical, home.Category)
	assert.Equal(t, "2 broken links", home.Measured)
	assert.Equal(t, []string{
		"https://example.com/gone (connection refused)",
		"https://example.com/missing (HTTP 404)",
	}, home.Evidence)

	assert.Equal(t, "https://example.com/about", issues[1].Scope.String())
}

func TestEvaluateMergesDuplicateFindings(t *testing.T) {
	rule := Rule{
		ID: "test-rule", Category: OnPage, Severity: Low, Title: "Test",
		Page: func(_ *Context, n *sitegraph.Node) []Finding {
			return []Finding{
				pageFinding(n.URL, "first", "shared"),
				pageFinding(n.URL, "shared", "second"),
			}
		},
	}
	issues := NewEngineWithRules([]Rule{rule}).Evaluate(cleanSite(), cleanArtifacts())

	require.Len(t, issues, 2)
	assert.Equal(t, []string{"first", "shared", "second"}, issues[0].Evidence)
	assert.Equal(t, testSeed, issues[0].Scope.String())
	assert.Equal(t, "https://example.com/about", issues[1].Scope.String())
}

func TestTitleLengthBoundaries(t *testing.T) {
	tests := []struct {
		length int
		rule   string
	}{
		{0, "title-missing"},
		{49, "title-too-short"},
		{50, ""},
		{60, ""},
		{61, "title-too-long"},
	}
	lengthRules := []string{"title-missing", "title-too-short", "title-too-long"}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d chars", tt.length), func(t *testing.T) {
			g := sitegraph.New(util.MustNormalize(testSeed))
			rec := goodRecord(testSeed, 0)
			rec.Title = strings.Repeat("a", tt.length)
			insert(g, rec)

			issues := NewEngine().Evaluate(g, cleanArtifacts())
			for _, id := range lengthRules {
				if id == tt.rule {
					assert.Len(t, issuesFor(issues, id), 1, id)
				} else {
					assert.Empty(t, issuesFor(issues, id), id)
				}
			}
		})
	}
}

func TestTitleTooLongCarriesMeasurement(t *testing.T) {
	g := sitegraph.New(util.MustNormalize(testSeed))
	rec := goodRecord(testSeed, 0)
	rec.Title = strings.Repeat("é", 65)
	insert(g, rec)

	issues := issuesFor(NewEngine().Evaluate(g, cleanArtifacts()), "title-too-long")
	require.Len(t, issues, 1)
	assert.Equal(t, "65 characters", issues[0].Measured)
	assert.Equal(t, "50-60 characters", issues[0].Threshold)
	assert.Equal(t, High, issues[0].Severity)
}

func TestPerformanceRules(t *testing.T) {
	home := util.MustNormalize(testSeed)
	about := util.MustNormalize("https://example.com/about")

	t.Run("skipped without metrics", func(t *testing.T) {
		a := cleanArtifacts(testSeed, about.String())
		a.Metrics = map[util.NormalizedURL]perf.Metrics{home: {LCP: 10 * time.Second}}
		issues := NewEngine().Evaluate(cleanSite(), a)
		for _, i := range issues {
			assert.NotEqual(t, Performance, i.Category)
		}
	})

	t.Run("thresholds", func(t *testing.T) {
		a := cleanArtifacts(testSeed, about.String())
		a.MetricsAvailable = true
		a.Metrics = map[util.NormalizedURL]perf.Metrics{
			home:  {LCP: 2500 * time.Millisecond, INP: 200 * time.Millisecond, CLS: 0.1, LoadTime: 3 * time.Second},
			about: {LCP: 2600 * time.Millisecond, INP: 350 * time.Millisecond, CLS: 0.25, LoadTime: 5 * time.Second},
		}
		issues := NewEngine().Evaluate(cleanSite(), a)

		for _, id := range []string{"lcp-poor", "inp-poor", "cls-poor", "load-time-slow"} {
			got := issuesFor(issues, id)
			require.Len(t, got, 1, id)
			assert.Equal(t, about, got[0].Scope.URL, id)
		}
		lcp := issuesFor(issues, "lcp-poor")[0]
		assert.Equal(t, "2.60s", lcp.Measured)
		assert.Equal(t, "at most 2.50s", lcp.Threshold)
		assert.Equal(t, "350ms", issuesFor(issues, "inp-poor")[0].Measured)
	})
}

func TestSitemapRules(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		a := cleanArtifacts()
		a.SitemapFound = false
		issues := issuesFor(NewEngine().Evaluate(cleanSite(), a), "sitemap-missing")
		require.Len(t, issues, 1)
		assert.True(t, issues[0].Scope.Global)
	})

	t.Run("orphans and unreached", func(t *testing.T) {
		g := cleanSite()
		// fetched from the sitemap, nothing links to it
		insert(g, goodRecord("https://example.com/landing", 1, testSeed))
		a := cleanArtifacts(testSeed, "https://example.com/about", "https://example.com/landing",
			"https://example.com/never", "https://other.example.org/x")

		issues := NewEngine().Evaluate(g, a)

		orphans := issuesFor(issues, "orphan-page")
		require.Len(t, orphans, 1)
		assert.Equal(t, "https://example.com/landing", orphans[0].Scope.String())

		sitemapOrphans := issuesFor(issues, "sitemap-orphan")
		require.Len(t, sitemapOrphans, 2)
		assert.Equal(t, "https://example.com/landing", sitemapOrphans[0].Scope.String())
		assert.Equal(t, "https://example.com/never", sitemapOrphans[1].Scope.String())

		unreached := issuesFor(issues, "sitemap-url-not-crawled")
		require.Len(t, unreached, 1)
		assert.True(t, unreached[0].Scope.Global)
		assert.Equal(t, []util.NormalizedURL{util.MustNormalize("https://example.com/never")}, unreached[0].Affected)
	})

	t.Run("unlisted pages only when enabled", func(t *testing.T) {
		a := cleanArtifacts(testSeed)
		assert.Empty(t, issuesFor(NewEngine().Evaluate(cleanSite(), a), "page-not-in-sitemap"))

		a.ReportUnlistedPages = true
		issues := issuesFor(NewEngine().Evaluate(cleanSite(), a), "page-not-in-sitemap")
		require.Len(t, issues, 1)
		assert.Equal(t, 1, issues[0].AffectedPages())
	})
}

func TestDuplicateTitles(t *testing.T) {
	g := sitegraph.New(util.MustNormalize(testSeed))
	paths := []string{testSeed, "https://example.com/b", "https://example.com/a"}
	for i, p := range paths {
		rec := goodRecord(p, min(i, 1), paths[(i+1)%len(paths)])
		rec.Title = "Shared title for every page on the example site ok"
		insert(g, rec)
	}
	// a page that declares a different canonical is not a duplicate
	dup := goodRecord("https://example.com/a?ref=x", 1, testSeed)
	dup.Title = "Shared title for every page on the example site ok"
	dup.Canonical = util.MustNormalize("https://example.com/a")
	insert(g, dup)

	issues := issuesFor(NewEngine().Evaluate(g, cleanArtifacts()), "duplicate-title")
	require.Len(t, issues, 1)
	assert.Equal(t, "https://example.com/", issues[0].Scope.String())
	assert.Equal(t, 3, issues[0].AffectedPages())
}

func TestRedirectRules(t *testing.T) {
	g := cleanSite()
	loop := util.MustNormalize("https://example.com/loop")
	g.MarkUnreachable(loop, 1, "redirect loop", &crawler.FetchResult{
		Target:         loop,
		RedirectStatus: crawler.RedirectLoop,
		Redirects: []crawler.RedirectHop{
			{From: loop, To: util.MustNormalize("https://example.com/loop2"), StatusCode: 301},
			{From: util.MustNormalize("https://example.com/loop2"), To: loop, StatusCode: 301},
		},
	})

	chained := goodRecord("https://example.com/old", 1, testSeed)
	chained.FinalURL = util.MustNormalize("https://example.com/new")
	g.Insert(chained, &crawler.FetchResult{
		Target:         chained.URL,
		FinalURL:       chained.FinalURL,
		StatusCode:     200,
		RedirectStatus: crawler.RedirectFollowed,
		Redirects: []crawler.RedirectHop{
			{From: chained.URL, To: util.MustNormalize("https://example.com/mid"), StatusCode: 301},
			{From: util.MustNormalize("https://example.com/mid"), To: chained.FinalURL, StatusCode: 302},
		},
	})

	issues := NewEngine().Evaluate(g, cleanArtifacts())

	loops := issuesFor(issues, "redirect-loop")
	require.Len(t, loops, 1)
	assert.Equal(t, Critical, loops[0].Severity)
	assert.Equal(t, "301 https://example.com/loop2 -> https://example.com/loop", loops[0].Evidence[1])

	chains := issuesFor(issues, "redirect-chain")
	require.Len(t, chains, 1)
	assert.Equal(t, "2 hops", chains[0].Measured)
	assert.Equal(t, "https://example.com/old", chains[0].Scope.String())
}

func TestSeedUnreachable(t *testing.T) {
	seed := util.MustNormalize(testSeed)
	g := sitegraph.New(seed)
	g.MarkUnreachable(seed, 0, "HTTP 503 Service Unavailable", &crawler.FetchResult{StatusCode: 503})

	issues := NewEngine().Evaluate(g, cleanArtifacts())
	got := issuesFor(issues, "seed-unreachable")
	require.Len(t, got, 1)
	assert.True(t, got[0].Scope.Global)
	assert.Contains(t, got[0].Evidence[0], "HTTP 503")
}

func TestCDNNotDetected(t *testing.T) {
	tests := []struct {
		name  string
		techs map[string][]string
		want  int
	}{
		{"not fingerprinted", nil, 0},
		{"no cdn", map[string][]string{"Nginx": {"Web servers"}}, 1},
		{"cdn", map[string][]string{"Cloudflare": {"CDN"}, "Nginx": {"Web servers"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := cleanArtifacts(testSeed, "https://example.com/about")
			a.Technologies = tt.techs
			assert.Len(t, issuesFor(NewEngine().Evaluate(cleanSite(), a), "cdn-not-detected"), tt.want)
		})
	}
}

func TestPageContentRules(t *testing.T) {
	g := sitegraph.New(util.MustNormalize(testSeed))
	rec := goodRecord(testSeed, 0, "https://example.com/about")
	rec.Lang = ""
	rec.Viewport = ""
	rec.Headings = []analyzer.Heading{{Level: 1, Text: "One"}, {Level: 3, Text: "Three"}, {Level: 1, Text: "Again"}}
	rec.Images = append(rec.Images, analyzer.Image{Src: "https://example.com/b.png"})
	rec.Links = append(rec.Links, analyzer.Link{Raw: "/icon", Target: util.MustNormalize("https://example.com/icon"), Internal: true})
	rec.StructuredData = []analyzer.StructuredData{{Format: analyzer.FormatJSONLD, Error: "unexpected end of JSON input"}}
	rec.MixedContent = []string{"http://example.com/app.js"}
	rec.OpenGraph = map[string]string{"og:title": "T"}
	rec.WordCount = 120
	insert(g, rec)
	insert(g, goodRecord("https://example.com/about", 1, testSeed))
	insert(g, goodRecord("https://example.com/icon", 1, testSeed))

	issues := NewEngine().Evaluate(g, cleanArtifacts(testSeed, "https://example.com/about", "https://example.com/icon"))

	for _, id := range []string{
		"html-lang-missing", "viewport-missing", "heading-hierarchy-skip", "h1-multiple",
		"image-alt-missing", "empty-link-text", "structured-data-missing", "structured-data-invalid",
		"mixed-content", "open-graph-missing", "thin-content",
	} {
		got := issuesFor(issues, id)
		require.Len(t, got, 1, id)
		assert.Equal(t, testSeed, got[0].Scope.String(), id)
	}
	assert.Equal(t, []string{"og:description", "og:image"}, issuesFor(issues, "open-graph-missing")[0].Evidence)
	assert.Equal(t, "1 of 2 images", issuesFor(issues, "image-alt-missing")[0].Measured)
	assert.Equal(t, `h1 -> h3 ("Three")`, issuesFor(issues, "heading-hierarchy-skip")[0].Evidence[0])
}

func TestEvaluateIsDeterministic(t *testing.T) {
	build := func() []Issue {
		g := sitegraph.New(util.MustNormalize(testSeed))
		for i := 0; i < 10; i++ {
			rec := goodRecord(fmt.Sprintf("https://example.com/p%d", i), 1, testSeed)
			rec.Title = ""
			rec.Lang = ""
			insert(g, rec)
		}
		insert(g, goodRecord(testSeed, 0, "https://example.com/p0"))
		return NewEngine().Evaluate(g, cleanArtifacts())
	}

	first := build()
	assert.Equal(t, first, build())

	lastCategory := -1
	for _, i := range first {
		idx := categoryIndex(i.Category)
		assert.GreaterOrEqual(t, idx, lastCategory)
		lastCategory = idx
	}
}

func TestSeverity(t *testing.T) {
	assert.True(t, Critical > High && High > Medium && Medium > Low)

	text, err := High.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "high", string(text))

	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("Critical")))
	assert.Equal(t, Critical, s)
	assert.Error(t, s.UnmarshalText([]byte("severe")))
}
