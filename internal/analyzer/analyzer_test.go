package analyzer

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/util"
)

func htmlResult(t *testing.T, rawURL, body string) *crawler.FetchResult {
	t.Helper()
	u, err := util.Normalize(rawURL, "")
	require.NoError(t, err)
	return &crawler.FetchResult{
		Target:      u,
		FinalURL:    u,
		StatusCode:  http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Header:      http.Header{},
		Body:        []byte(body),
	}
}

const fullPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>  Example   Page Title </title>
  <meta name="Description" content="A description of the page.">
  <meta name="robots" content="NOINDEX, follow">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <meta property="og:title" content="OG Title">
  <meta property="og:image" content="https://example.com/og.png">
  <link rel="canonical" href="/canonical/">
  <link rel="stylesheet" href="http://cdn.example.com/style.css">
  <script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization","name":"Example"}</script>
  <script type="application/ld+json">{"@graph":[{"@type":"WebSite"},{"@type":["BreadcrumbList","Thing"]}]}</script>
  <script type="application/ld+json">{not json</script>
</head>
<body>
  <header><a href="/">Home</a></header>
  <h1>Main heading</h1>
  <h3>Skipped level</h3>
  <div itemscope itemtype="https://schema.org/Product"><span itemprop="name">Widget</span></div>
  <p>Some words here <a href="about?b=2&a=1#team" rel="nofollow noopener">About us</a>.</p>
  <a href="https://www.example.com/contact"><img src="/icon.png" alt="Contact"></a>
  <a href="https://other.org/page">Elsewhere</a>
  <a href="mailto:hi@example.com">Mail</a>
  <a href="http://[::1">Broken</a>
  <a href="#top">Top</a>
  <a href="/secret" style="display: none">Hidden</a>
  <img src="/a.png" alt="Alt text">
  <img src="/b.png">
  <img data-src="/c.png" alt="">
  <img src="http://cdn.example.com/d.png" alt="insecure">
  <script>var ignored = "not words";</script>
  <footer><a href="/privacy">Privacy</a></footer>
</body>
</html>`

func TestAnalyzeExtractsEverything(t *testing.T) {
	rec, err := Analyze(htmlResult(t, "https://example.com/page", fullPage), 2)
	require.NoError(t, err)

	assert.True(t, rec.HTML)
	assert.Equal(t, 2, rec.Depth)
	assert.Equal(t, "text/html", rec.ContentType)
	assert.Equal(t, "Example Page Title", rec.Title)
	assert.Equal(t, "A description of the page.", rec.MetaDescription)
	assert.Equal(t, util.NormalizedURL("https://example.com/canonical"), rec.Canonical)
	assert.Equal(t, "/canonical/", rec.CanonicalRaw)
	assert.Equal(t, []string{"noindex", "follow"}, rec.Robots)
	assert.True(t, rec.Noindex())
	assert.Equal(t, "en", rec.Lang)
	assert.Contains(t, rec.Viewport, "width=device-width")
	assert.Equal(t, map[string]string{"og:title": "OG Title", "og:image": "https://example.com/og.png"}, rec.OpenGraph)

	assert.Equal(t, []Heading{{Level: 1, Text: "Main heading"}, {Level: 3, Text: "Skipped level"}}, rec.Headings)
	assert.Equal(t, 1, rec.HeadingCount(1))

	require.Len(t, rec.Images, 4)
	assert.True(t, rec.Images[0].HasAlt)
	assert.False(t, rec.Images[1].HasAlt)
	assert.Equal(t, "/c.png", rec.Images[2].Src)
	assert.True(t, rec.Images[2].HasAlt)

	assert.ElementsMatch(t, []string{"http://cdn.example.com/style.css", "http://cdn.example.com/d.png"}, rec.MixedContent)
	assert.NotContains(t, strings.Join(rec.MixedContent, " "), "other.org")

	assert.Greater(t, rec.WordCount, 10)
	assert.Empty(t, rec.AnalysisError)
}

func TestAnalyzeLinks(t *testing.T) {
	rec, err := Analyze(htmlResult(t, "https://example.com/page", fullPage), 0)
	require.NoError(t, err)

	byRaw := make(map[string]Link)
	for _, l := range rec.Links {
		byRaw[l.Raw] = l
	}

	assert.NotContains(t, byRaw, "#top")

	about := byRaw["about?b=2&a=1#team"]
	assert.Equal(t, util.NormalizedURL("https://example.com/about?a=1&b=2"), about.Target)
	assert.Equal(t, "About us", about.Anchor)
	assert.True(t, about.Internal)
	assert.True(t, about.HasRel("nofollow"))
	assert.Equal(t, "body", about.Region)

	contact := byRaw["https://www.example.com/contact"]
	assert.True(t, contact.Internal, "www subdomain is the same site")
	assert.Equal(t, "Contact", contact.Anchor, "image alt is used as anchor")

	assert.False(t, byRaw["https://other.org/page"].Internal)

	mail := byRaw["mailto:hi@example.com"]
	assert.True(t, mail.Unsupported)
	assert.False(t, mail.Crawlable())

	broken := byRaw["http://[::1"]
	assert.True(t, broken.Invalid)
	assert.NotEmpty(t, broken.InvalidReason)

	assert.True(t, byRaw["/secret"].Hidden)
	assert.Equal(t, "header", byRaw["/"].Region)
	assert.Equal(t, "footer", byRaw["/privacy"].Region)

	internal := rec.InternalLinks()
	for _, l := range internal {
		assert.True(t, l.Internal)
		assert.NotEqual(t, rec.URL, l.Target)
	}
}

func TestAnalyzeStructuredData(t *testing.T) {
	rec, err := Analyze(htmlResult(t, "https://example.com/", fullPage), 0)
	require.NoError(t, err)

	var valid, invalid []string
	for _, sd := range rec.StructuredData {
		if sd.Valid {
			valid = append(valid, sd.Format+":"+sd.Type)
		} else {
			invalid = append(invalid, sd.Format)
		}
	}
	assert.ElementsMatch(t, []string{
		"json-ld:Organization",
		"json-ld:WebSite",
		"json-ld:BreadcrumbList",
		"json-ld:Thing",
		"microdata:Product",
	}, valid)
	assert.Equal(t, []string{"json-ld"}, invalid)
}

func TestAnalyzeMalformedHTML(t *testing.T) {
	body := `<html><head><title>Broken</title><body><h1>Still here<p><a href="/next">next<div></span>`
	rec, err := Analyze(htmlResult(t, "https://example.com/", body), 0)

	require.NoError(t, err)
	assert.True(t, rec.HTML)
	require.NotEmpty(t, rec.Links)
	assert.Equal(t, util.NormalizedURL("https://example.com/next"), rec.Links[0].Target)
}

func TestAnalyzeRecoversHeadingsFromBrokenMarkup(t *testing.T) {
	body := `<title>T</title><h1>One<h2>Two</h2><h4>Four`
	rec, err := Analyze(htmlResult(t, "https://example.com/", body), 0)

	require.NoError(t, err)
	assert.Equal(t, "T", rec.Title)
	levels := make([]int, 0, len(rec.Headings))
	for _, h := range rec.Headings {
		levels = append(levels, h.Level)
	}
	assert.Equal(t, []int{1, 2, 4}, levels)
}

func TestAnalyzeEmptyBody(t *testing.T) {
	rec, err := Analyze(htmlResult(t, "https://example.com/", ""), 1)

	var aerr *AnalysisError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "empty body", aerr.Reason)
	require.NotNil(t, rec)
	assert.False(t, rec.HTML)
	assert.Equal(t, http.StatusOK, rec.StatusCode)
	assert.NotEmpty(t, rec.AnalysisError)
}

func TestAnalyzeUnknownCharset(t *testing.T) {
	res := htmlResult(t, "https://example.com/", "")
	res.ContentType = "text/html; charset=x-not-a-charset"
	res.Body = []byte{0xff, 0xfe, 0xfd}

	rec, err := Analyze(res, 0)

	var aerr *AnalysisError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "undecodable body", aerr.Reason)
	assert.False(t, rec.HTML)
}

func TestAnalyzeDecodesLatin1(t *testing.T) {
	res := htmlResult(t, "https://example.com/", "")
	res.ContentType = "text/html; charset=iso-8859-1"
	// "Café" in Latin-1
	res.Body = append([]byte("<title>Caf"), 0xe9, '<', '/', 't', 'i', 't', 'l', 'e', '>')

	rec, err := Analyze(res, 0)
	require.NoError(t, err)
	assert.Equal(t, "Café", rec.Title)
}

func TestMinimalRecord(t *testing.T) {
	res := &crawler.FetchResult{
		Target:      util.MustNormalize("https://example.com/file.pdf"),
		StatusCode:  http.StatusOK,
		ContentType: "application/pdf",
		Header:      http.Header{"X-Robots-Tag": []string{"googlebot: noindex, nofollow"}},
		Body:        []byte("%PDF-1.4"),
	}

	rec := MinimalRecord(res, 2)

	assert.False(t, rec.HTML)
	assert.Equal(t, res.Target, rec.FinalURL)
	assert.Equal(t, "application/pdf", rec.ContentType)
	assert.Equal(t, int64(8), rec.BodyBytes)
	assert.Equal(t, []string{"noindex", "nofollow"}, rec.Robots)
	assert.True(t, rec.Noindex())
}

func TestHasRobotsDirectiveNone(t *testing.T) {
	rec := &PageRecord{Robots: []string{"none"}}
	assert.True(t, rec.HasRobotsDirective("noindex"))
	assert.True(t, rec.HasRobotsDirective("nofollow"))
	assert.False(t, rec.HasRobotsDirective("noarchive"))
}

func TestWordCounts(t *testing.T) {
	words := strings.Repeat("lorem ipsum dolor sit amet consectetur ", 60)
	body := `<html><head><title>Article</title></head><body>
<nav><a href="/a">One</a> <a href="/b">Two</a></nav>
<article><h1>Heading</h1><p>` + words + `</p><p>` + words + `</p></article>
<style>.x{color:red}</style>
</body></html>`

	rec, err := Analyze(htmlResult(t, "https://example.com/post", body), 1)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, rec.WordCount, 720)
	assert.Greater(t, rec.MainContentWords, 0)
	assert.LessOrEqual(t, rec.MainContentWords, rec.WordCount)
}
