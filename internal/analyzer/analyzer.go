package analyzer

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"

	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// MinimalRecord builds the status-only record kept for non-HTML responses
// and for pages whose body could not be analysed.
func MinimalRecord(res *crawler.FetchResult, depth int) *PageRecord {
	final := res.FinalURL
	if final == "" {
		final = res.Target
	}
	rec := &PageRecord{
		URL:         res.Target,
		FinalURL:    final,
		Depth:       depth,
		StatusCode:  res.StatusCode,
		ContentType: res.MediaType(),
		BodyBytes:   int64(len(res.Body)),
	}
	if res.Header != nil {
		rec.Robots = appendRobotsTokens(rec.Robots, res.Header.Values("X-Robots-Tag")...)
	}
	return rec
}

// RedirectRecord is the record for a URL that answered hop. Its only link is
// the Location target; final is where the whole chain ended.
func RedirectRecord(hop crawler.RedirectHop, final util.NormalizedURL, depth int) *PageRecord {
	return &PageRecord{
		URL:        hop.From,
		FinalURL:   final,
		Depth:      depth,
		StatusCode: hop.StatusCode,
		Links: []Link{{
			Raw:      hop.To.String(),
			Target:   hop.To,
			Region:   "body",
			Internal: util.SameSite(hop.To.Host(), hop.From.Host()),
		}},
	}
}

// Analyze parses an HTML fetch result into a PageRecord. Broken markup is
// extracted best effort; an *AnalysisError is returned only when the body is
// empty or cannot be decoded, and the minimal record is returned alongside it.
func Analyze(res *crawler.FetchResult, depth int) (*PageRecord, error) {
	rec := MinimalRecord(res, depth)

	if len(res.Body) == 0 {
		err := &AnalysisError{URL: res.Target.String(), Reason: "empty body"}
		rec.AnalysisError = err.Error()
		return rec, err
	}

	body, err := decodeBody(res.Body, res.ContentType)
	if err != nil {
		aerr := &AnalysisError{URL: res.Target.String(), Reason: "undecodable body", Err: err}
		rec.AnalysisError = aerr.Error()
		return rec, aerr
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		aerr := &AnalysisError{URL: res.Target.String(), Reason: "unparseable HTML", Err: err}
		rec.AnalysisError = aerr.Error()
		return rec, aerr
	}

	rec.HTML = true
	extractHead(doc, rec)
	extractHeadings(doc, rec)
	extractLinks(doc, rec)
	extractImages(doc, rec)
	extractStructuredData(doc, rec)
	extractMixedContent(doc, rec)
	rec.WordCount = visibleWordCount(doc)
	rec.MainContentWords = mainContentWords(body, rec.FinalURL)

	log.Debug().
		Str("url", rec.URL.String()).
		Int("links", len(rec.Links)).
		Int("headings", len(rec.Headings)).
		Int("words", rec.WordCount).
		Msg("Analyzed page")

	return rec, nil
}

// decodeBody converts body to UTF-8. A declared charset wins unless the body
// is already valid UTF-8 (the collector converts declared charsets itself);
// otherwise the encoding is sniffed from meta tags and content.
func decodeBody(body []byte, contentType string) ([]byte, error) {
	var declared string
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			declared = strings.TrimSpace(params["charset"])
		}
	}

	var r io.Reader
	var err error
	switch {
	case declared != "" && utf8.Valid(body):
		return body, nil
	case declared != "":
		r, err = charset.NewReaderLabel(declared, bytes.NewReader(body))
	default:
		r, err = charset.NewReader(bytes.NewReader(body), contentType)
	}
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
