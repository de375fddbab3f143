package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/Harvey-AU/site-audit/internal/util"
)

func extractHead(doc *goquery.Document, rec *PageRecord) {
	rec.Title = collapseSpace(doc.Find("title").First().Text())
	rec.Lang = strings.TrimSpace(doc.Find("html").First().AttrOr("lang", ""))

	doc.Find("meta").Each(func(i int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if property := strings.ToLower(strings.TrimSpace(s.AttrOr("property", ""))); strings.HasPrefix(property, "og:") {
			if rec.OpenGraph == nil {
				rec.OpenGraph = make(map[string]string)
			}
			if _, exists := rec.OpenGraph[property]; !exists {
				rec.OpenGraph[property] = content
			}
		}

		switch strings.ToLower(strings.TrimSpace(s.AttrOr("name", ""))) {
		case "description":
			if rec.MetaDescription == "" {
				rec.MetaDescription = collapseSpace(content)
			}
		case "robots":
			rec.Robots = appendRobotsTokens(rec.Robots, content)
		case "viewport":
			if rec.Viewport == "" {
				rec.Viewport = content
			}
		}
	})

	doc.Find("link[rel]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if !hasToken(s.AttrOr("rel", ""), "canonical") {
			return true
		}
		href := strings.TrimSpace(s.AttrOr("href", ""))
		rec.CanonicalRaw = href
		if href != "" {
			if canonical, err := util.Normalize(href, rec.FinalURL.String()); err == nil {
				rec.Canonical = canonical
			}
		}
		return false
	})
}

func extractHeadings(doc *goquery.Document, rec *PageRecord) {
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(i int, s *goquery.Selection) {
		level, err := strconv.Atoi(strings.TrimPrefix(goquery.NodeName(s), "h"))
		if err != nil {
			return
		}
		rec.Headings = append(rec.Headings, Heading{Level: level, Text: collapseSpace(s.Text())})
	})
}

func extractLinks(doc *goquery.Document, rec *PageRecord) {
	base := rec.FinalURL.String()
	pageHost := rec.FinalURL.Host()

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		link := Link{
			Raw:    href,
			Anchor: anchorText(s),
			Rel:    strings.Fields(strings.ToLower(s.AttrOr("rel", ""))),
			Region: linkRegion(s),
			Hidden: isElementHidden(s),
		}

		target, err := util.Normalize(href, base)
		switch {
		case errors.Is(err, util.ErrUnsupportedScheme):
			link.Unsupported = true
			link.InvalidReason = err.Error()
		case err != nil:
			link.Invalid = true
			link.InvalidReason = err.Error()
		default:
			link.Target = target
			link.Internal = util.SameSite(target.Host(), pageHost)
		}

		rec.Links = append(rec.Links, link)
	})
}

func anchorText(s *goquery.Selection) string {
	if text := collapseSpace(s.Text()); text != "" {
		return text
	}
	if label := collapseSpace(s.AttrOr("aria-label", "")); label != "" {
		return label
	}
	if title := collapseSpace(s.AttrOr("title", "")); title != "" {
		return title
	}
	return collapseSpace(s.Find("img[alt]").First().AttrOr("alt", ""))
}

func linkRegion(s *goquery.Selection) string {
	switch {
	case s.Closest("header").Length() > 0:
		return "header"
	case s.Closest("footer").Length() > 0:
		return "footer"
	default:
		return "body"
	}
}

// isElementHidden checks if an element is hidden based on common inline styles,
// accessibility attributes, and conventional CSS classes.
// This is a best-effort check based on raw HTML attributes, as it does not
// evaluate external or internal CSS stylesheets.
func isElementHidden(s *goquery.Selection) bool {
	hidingClasses := []string{
		"hide",
		"hidden",
		"display-none",
		"d-none",
		"invisible",
		"is-hidden",
		"sr-only",
		"visually-hidden",
	}

	for n := s; n.Length() > 0 && !n.Is("body"); n = n.Parent() {
		if _, exists := n.Attr("hidden"); exists {
			return true
		}
		if ariaHidden, exists := n.Attr("aria-hidden"); exists && ariaHidden == "true" {
			return true
		}
		if style, exists := n.Attr("style"); exists {
			compact := strings.ReplaceAll(style, " ", "")
			if strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden") {
				return true
			}
		}
		for _, class := range hidingClasses {
			if n.HasClass(class) {
				return true
			}
		}
	}
	return false
}

func extractImages(doc *goquery.Document, rec *PageRecord) {
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(s.AttrOr("data-src", ""))
		}
		alt, hasAlt := s.Attr("alt")
		rec.Images = append(rec.Images, Image{Src: src, Alt: strings.TrimSpace(alt), HasAlt: hasAlt})
	})
}

func extractStructuredData(doc *goquery.Document, rec *PageRecord) {
	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		var payload interface{}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			rec.StructuredData = append(rec.StructuredData, StructuredData{
				Format: FormatJSONLD,
				Valid:  false,
				Error:  err.Error(),
			})
			return
		}

		types := jsonLDTypes(payload)
		if len(types) == 0 {
			rec.StructuredData = append(rec.StructuredData, StructuredData{
				Format: FormatJSONLD,
				Valid:  false,
				Error:  "no @type",
			})
			return
		}
		for _, t := range types {
			rec.StructuredData = append(rec.StructuredData, StructuredData{Type: t, Format: FormatJSONLD, Valid: true})
		}
	})

	doc.Find("[itemscope][itemtype]").Each(func(i int, s *goquery.Selection) {
		for _, itemType := range strings.Fields(s.AttrOr("itemtype", "")) {
			name := itemType[strings.LastIndex(itemType, "/")+1:]
			rec.StructuredData = append(rec.StructuredData, StructuredData{
				Type:   name,
				Format: FormatMicrodata,
				Valid:  name != "",
			})
		}
	})
}

// jsonLDTypes collects @type values from a JSON-LD document, an array of
// documents, or a document with an @graph.
func jsonLDTypes(v interface{}) []string {
	var types []string
	switch node := v.(type) {
	case []interface{}:
		for _, item := range node {
			types = append(types, jsonLDTypes(item)...)
		}
	case map[string]interface{}:
		switch t := node["@type"].(type) {
		case string:
			if t != "" {
				types = append(types, t)
			}
		case []interface{}:
			for _, item := range t {
				if s, ok := item.(string); ok && s != "" {
					types = append(types, s)
				}
			}
		}
		if graph, ok := node["@graph"]; ok {
			types = append(types, jsonLDTypes(graph)...)
		}
	}
	return types
}

var mixedContentSelectors = []struct {
	selector string
	attr     string
}{
	{"img[src]", "src"},
	{"script[src]", "src"},
	{"iframe[src]", "src"},
	{"video[src]", "src"},
	{"audio[src]", "src"},
	{"source[src]", "src"},
	{"link[href]", "href"},
}

// extractMixedContent lists http:// subresources on an https page.
func extractMixedContent(doc *goquery.Document, rec *PageRecord) {
	if rec.FinalURL.URL().Scheme != "https" {
		return
	}
	seen := make(map[string]struct{})
	for _, sel := range mixedContentSelectors {
		doc.Find(sel.selector).Each(func(i int, s *goquery.Selection) {
			if goquery.NodeName(s) == "link" && !hasToken(s.AttrOr("rel", ""), "stylesheet") &&
				!hasToken(s.AttrOr("rel", ""), "icon") && !hasToken(s.AttrOr("rel", ""), "preload") {
				return
			}
			ref := strings.TrimSpace(s.AttrOr(sel.attr, ""))
			if !strings.HasPrefix(strings.ToLower(ref), "http://") {
				return
			}
			if _, dup := seen[ref]; dup {
				return
			}
			seen[ref] = struct{}{}
			rec.MixedContent = append(rec.MixedContent, ref)
		})
	}
}

func visibleWordCount(doc *goquery.Document) int {
	body := doc.Find("body").First().Clone()
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Fields(body.Text()))
}

// mainContentWords counts words in the readability-extracted article body.
// Pages readability cannot handle count as zero.
func mainContentWords(body []byte, final util.NormalizedURL) int {
	article, err := readability.FromReader(bytes.NewReader(body), final.URL())
	if err != nil || article.Content == "" {
		return 0
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return 0
	}
	doc.Find("script, style, noscript").Remove()
	return len(strings.Fields(doc.Text()))
}

func appendRobotsTokens(dst []string, values ...string) []string {
	for _, v := range values {
		for _, token := range strings.Split(v, ",") {
			token = strings.ToLower(strings.TrimSpace(token))
			// X-Robots-Tag may scope a directive to a bot: "googlebot: noindex".
			if i := strings.Index(token, ":"); i >= 0 && !strings.HasPrefix(token, "max-") && !strings.HasPrefix(token, "unavailable_after") {
				token = strings.TrimSpace(token[i+1:])
			}
			if token != "" {
				dst = append(dst, token)
			}
		}
	}
	return dst
}

func hasToken(list, token string) bool {
	for _, t := range strings.Fields(strings.ToLower(list)) {
		if t == token {
			return true
		}
	}
	return false
}
