package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harvey-AU/site-audit/internal/analyzer"
	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/sitegraph"
	"github.com/Harvey-AU/site-audit/internal/util"
)

func crawlerHop(from, to string, status int) crawler.RedirectHop {
	return crawler.RedirectHop{From: util.MustNormalize(from), To: util.MustNormalize(to), StatusCode: status}
}

func TestTechnicalPageRules(t *testing.T) {
	other := util.MustNormalize("https://example.com/other")

	tests := []struct {
		name   string
		rule   string
		url    string
		depth  int
		mutate func(*analyzer.PageRecord)
		want   int
	}{
		{"noindex", "noindex-page", testSeed, 0, func(r *analyzer.PageRecord) { r.Robots = []string{"noindex", "follow"} }, 1},
		{"robots none", "noindex-page", testSeed, 0, func(r *analyzer.PageRecord) { r.Robots = []string{"none"} }, 1},
		{"indexable", "noindex-page", testSeed, 0, nil, 0},

		{"no canonical", "canonical-missing", testSeed, 0, func(r *analyzer.PageRecord) { r.Canonical, r.CanonicalRaw = "", "" }, 1},
		{"canonical present", "canonical-missing", testSeed, 0, nil, 0},
		{"canonical elsewhere", "canonical-mismatch", testSeed, 0, func(r *analyzer.PageRecord) { r.Canonical, r.CanonicalRaw = other, "/other" }, 1},
		{"canonical is final url", "canonical-mismatch", testSeed, 0, func(r *analyzer.PageRecord) { r.FinalURL, r.Canonical = other, other }, 0},
		{"canonical unparseable", "canonical-broken", testSeed, 0, func(r *analyzer.PageRecord) { r.Canonical, r.CanonicalRaw = "", "http://[::1" }, 1},
		{"canonical fine", "canonical-broken", testSeed, 0, nil, 0},

		{"not found title", "soft-404", testSeed, 0, func(r *analyzer.PageRecord) { r.Title = "Page not found" }, 1},
		{"404 heading", "soft-404", testSeed, 0, func(r *analyzer.PageRecord) {
			r.Headings = []analyzer.Heading{{Level: 1, Text: "Error 404"}}
		}, 1},
		{"ordinary page", "soft-404", testSeed, 0, nil, 0},

		{"analysis error", "analysis-failed", testSeed, 0, func(r *analyzer.PageRecord) { r.AnalysisError = "empty body" }, 1},
		{"analysed", "analysis-failed", testSeed, 0, nil, 0},

		{"malformed href", "invalid-link", testSeed, 0, func(r *analyzer.PageRecord) {
			r.Links = append(r.Links, analyzer.Link{Raw: "http://[bad", Invalid: true, InvalidReason: "missing ']' in host"})
		}, 1},
		{"valid hrefs", "invalid-link", testSeed, 0, nil, 0},

		{"url at limit", "url-too-long", "https://example.com/" + strings.Repeat("a", 80), 1, nil, 0},
		{"url over limit", "url-too-long", "https://example.com/" + strings.Repeat("a", 81), 1, nil, 1},
		{"uppercase and underscore", "url-structure", "https://example.com/About_Us", 1, nil, 1},
		{"hyphenated lowercase", "url-structure", "https://example.com/about-us", 1, nil, 0},
		{"two parameters", "url-parameters", "https://example.com/list?a=1&b=2", 1, nil, 0},
		{"three parameters", "url-parameters", "https://example.com/list?a=1&b=2&c=3", 1, nil, 1},

		{"depth at limit", "deep-page", "https://example.com/deep", 3, nil, 0},
		{"depth over limit", "deep-page", "https://example.com/deep", 4, nil, 1},

		{"plain http", "insecure-page", "http://example.com/plain", 1, nil, 1},
		{"https", "insecure-page", "https://example.com/plain", 1, nil, 0},

		{"body at limit", "large-page", testSeed, 0, func(r *analyzer.PageRecord) { r.BodyBytes = 3 << 20 }, 0},
		{"body over limit", "large-page", testSeed, 0, func(r *analyzer.PageRecord) { r.BodyBytes = 3<<20 + 1 }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.rule+"/"+tt.name, func(t *testing.T) {
			rec := goodRecord(tt.url, tt.depth, testSeed)
			if tt.mutate != nil {
				tt.mutate(rec)
			}

			got := issuesFor(evaluate(rec), tt.rule)
			require.Len(t, got, tt.want)
			for _, issue := range got {
				assert.Equal(t, Technical, issue.Category)
				assert.Equal(t, rec.URL, issue.Scope.URL)
			}
		})
	}
}

func TestSlowServerResponse(t *testing.T) {
	tests := []struct {
		ttfb int64
		want int
	}{
		{799, 0},
		{800, 0},
		{801, 1},
	}
	for _, tt := range tests {
		rec := goodRecord(testSeed, 0)
		g := sitegraph.New(rec.URL)
		g.Insert(rec, &crawler.FetchResult{
			Target:      rec.URL,
			FinalURL:    rec.URL,
			StatusCode:  200,
			Header:      secureHeaders(),
			Performance: crawler.PerformanceMetrics{TTFB: tt.ttfb},
		})

		got := issuesFor(NewEngine().Evaluate(g, cleanArtifacts()), "slow-server-response")
		require.Len(t, got, tt.want, "ttfb %d", tt.ttfb)
		if tt.want > 0 {
			assert.Equal(t, "801ms", got[0].Measured)
			assert.Equal(t, "at most 800ms", got[0].Threshold)
		}
	}
}

func TestCanonicalTargets(t *testing.T) {
	a := util.MustNormalize("https://example.com/a")
	b := util.MustNormalize("https://example.com/b")
	c := util.MustNormalize("https://example.com/c")
	gone := util.MustNormalize("https://example.com/gone")

	g := cleanSite()
	chained := goodRecord(a.String(), 1, testSeed)
	chained.Canonical, chained.CanonicalRaw = b, b.String()
	insert(g, chained)
	middle := goodRecord(b.String(), 1, testSeed)
	middle.Canonical, middle.CanonicalRaw = c, c.String()
	insert(g, middle)
	insert(g, goodRecord(c.String(), 1, testSeed))

	broken := goodRecord("https://example.com/d", 1, testSeed)
	broken.Canonical, broken.CanonicalRaw = gone, "/gone"
	insert(g, broken)
	g.MarkUnreachable(gone, 2, "HTTP 410 Gone", &crawler.FetchResult{StatusCode: 410})

	issues := NewEngine().Evaluate(g, cleanArtifacts())

	chains := issuesFor(issues, "canonical-chain")
	require.Len(t, chains, 1)
	assert.Equal(t, a, chains[0].Scope.URL)
	assert.Equal(t, []string{a.String() + " -> " + b.String() + " -> " + c.String()}, chains[0].Evidence)

	brokenIssues := issuesFor(issues, "canonical-broken")
	require.Len(t, brokenIssues, 1)
	assert.Equal(t, "https://example.com/d", brokenIssues[0].Scope.String())
	assert.Equal(t, []string{"https://example.com/gone (HTTP 410)"}, brokenIssues[0].Evidence)

	mismatches := issuesFor(issues, "canonical-mismatch")
	assert.Len(t, mismatches, 3)
}

func TestInternalLinkRedirects(t *testing.T) {
	old := util.MustNormalize("https://example.com/old")
	moved := util.MustNormalize("https://example.com/new")
	slash := util.MustNormalize("https://example.com/slash")

	g := sitegraph.New(util.MustNormalize(testSeed))
	insert(g, goodRecord(testSeed, 0, old.String(), slash.String(), "https://example.com/new"))

	hop := crawlerHop(old.String(), moved.String(), 301)
	g.Insert(analyzer.RedirectRecord(hop, moved, 1), &crawler.FetchResult{
		Target:         old,
		FinalURL:       moved,
		StatusCode:     200,
		RedirectStatus: crawler.RedirectFollowed,
		Redirects:      []crawler.RedirectHop{hop},
	})
	insert(g, goodRecord(moved.String(), 1, testSeed))

	// a trailing-slash redirect is not worth reporting
	g.Insert(goodRecord(slash.String(), 1, testSeed), &crawler.FetchResult{
		Target:         slash,
		FinalURL:       util.NormalizedURL(slash.String() + "/"),
		StatusCode:     200,
		RedirectStatus: crawler.RedirectFollowed,
		Redirects:      []crawler.RedirectHop{{From: slash, To: util.NormalizedURL(slash.String() + "/"), StatusCode: 301}},
	})

	got := issuesFor(NewEngine().Evaluate(g, cleanArtifacts()), "internal-link-redirect")
	require.Len(t, got, 1)
	assert.Equal(t, testSeed, got[0].Scope.String())
	assert.Equal(t, "1 redirecting links", got[0].Measured)
	assert.Equal(t, []string{"https://example.com/old -> https://example.com/new"}, got[0].Evidence)
}

func TestRedirectChainTooLong(t *testing.T) {
	g := cleanSite()
	start := util.MustNormalize("https://example.com/r0")
	g.MarkUnreachable(start, 1, "redirect chain too long", &crawler.FetchResult{
		Target:         start,
		RedirectStatus: crawler.RedirectChainTooLong,
		Redirects: []crawler.RedirectHop{
			crawlerHop("https://example.com/r0", "https://example.com/r1", 301),
			crawlerHop("https://example.com/r1", "https://example.com/r2", 301),
			crawlerHop("https://example.com/r2", "https://example.com/r3", 302),
		},
	})

	got := issuesFor(NewEngine().Evaluate(g, cleanArtifacts()), "redirect-chain-too-long")
	require.Len(t, got, 1)
	assert.Equal(t, High, got[0].Severity)
	assert.Equal(t, "3 hops", got[0].Measured)
	assert.Len(t, got[0].Evidence, 3)
	assert.Empty(t, issuesFor(NewEngine().Evaluate(cleanSite(), cleanArtifacts()), "redirect-chain-too-long"))
}

func TestDuplicateMetaDescriptions(t *testing.T) {
	g := sitegraph.New(util.MustNormalize(testSeed))
	shared := strings.Repeat("Shared description ", 9)[:155]
	for _, p := range []string{testSeed, "https://example.com/b", "https://example.com/c"} {
		rec := goodRecord(p, 1, testSeed)
		if p != "https://example.com/c" {
			rec.MetaDescription = shared
		}
		insert(g, rec)
	}
	// noindexed pages are not duplicates
	hidden := goodRecord("https://example.com/hidden", 1, testSeed)
	hidden.MetaDescription = shared
	hidden.Robots = []string{"noindex"}
	insert(g, hidden)

	got := issuesFor(NewEngine().Evaluate(g, cleanArtifacts()), "duplicate-meta-description")
	require.Len(t, got, 1)
	assert.Equal(t, testSeed, got[0].Scope.String())
	assert.Equal(t, "2 pages", got[0].Measured)
	assert.Equal(t, []util.NormalizedURL{util.MustNormalize(testSeed), util.MustNormalize("https://example.com/b")}, got[0].Affected)
}

func TestRedirectLandingIsNotDuplicateOfSource(t *testing.T) {
	seed := util.MustNormalize(testSeed)
	en := util.MustNormalize("https://example.com/en")
	title := "Welcome to the example site home page in English ok"

	t.Run("redirect record", func(t *testing.T) {
		g := sitegraph.New(seed)
		hop := crawlerHop(testSeed, en.String(), 301)
		g.Insert(analyzer.RedirectRecord(hop, en, 0), &crawler.FetchResult{
			Target: seed, FinalURL: en, StatusCode: 200,
			RedirectStatus: crawler.RedirectFollowed, Redirects: []crawler.RedirectHop{hop},
		})
		landing := goodRecord(en.String(), 0, "https://example.com/en/about")
		landing.Title = title
		insert(g, landing)
		about := goodRecord("https://example.com/en/about", 1, en.String())
		insert(g, about)

		assert.Empty(t, issuesFor(NewEngine().Evaluate(g, cleanArtifacts()), "duplicate-title"))
	})

	t.Run("content stored under source", func(t *testing.T) {
		g := sitegraph.New(seed)
		source := goodRecord(testSeed, 0, en.String())
		source.FinalURL = en
		source.Canonical = en
		source.Title = title
		insert(g, source)
		landing := goodRecord(en.String(), 0, testSeed)
		landing.Title = title
		insert(g, landing)

		assert.Empty(t, issuesFor(NewEngine().Evaluate(g, cleanArtifacts()), "duplicate-title"))
	})
}
