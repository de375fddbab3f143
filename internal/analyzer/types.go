package analyzer

import (
	"fmt"
	"strings"

	"github.com/Harvey-AU/site-audit/internal/util"
)

// Heading is one h1-h6 element in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Link is one outbound <a href>. Target is empty when the href could not be
// normalised; such links are recorded but never crawled.
type Link struct {
	Raw           string             `json:"raw"`
	Target        util.NormalizedURL `json:"target,omitempty"`
	Anchor        string             `json:"anchor"`
	Rel           []string           `json:"rel,omitempty"`
	Region        string             `json:"region"` // header, footer or body
	Hidden        bool               `json:"hidden,omitempty"`
	Internal      bool               `json:"internal"`
	Invalid       bool               `json:"invalid,omitempty"`
	Unsupported   bool               `json:"unsupported,omitempty"` // mailto:, tel:, javascript: and friends
	InvalidReason string             `json:"invalid_reason,omitempty"`
}

// Crawlable reports whether the link has a usable http(s) target.
func (l Link) Crawlable() bool {
	return !l.Invalid && !l.Unsupported && l.Target != ""
}

func (l Link) HasRel(token string) bool {
	for _, r := range l.Rel {
		if r == token {
			return true
		}
	}
	return false
}

type Image struct {
	Src    string `json:"src"`
	Alt    string `json:"alt,omitempty"`
	HasAlt bool   `json:"has_alt"`
}

// StructuredData is one JSON-LD entity or microdata item.
type StructuredData struct {
	Type   string `json:"type"`
	Format string `json:"format"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
}

const (
	FormatJSONLD    = "json-ld"
	FormatMicrodata = "microdata"
)

// PageRecord is everything extracted from one fetched page. A record with
// HTML=false is a minimal record: status and headers only.
type PageRecord struct {
	URL         util.NormalizedURL `json:"url"`
	FinalURL    util.NormalizedURL `json:"final_url"`
	Depth       int                `json:"depth"`
	StatusCode  int                `json:"status_code"`
	ContentType string             `json:"content_type"`
	HTML        bool               `json:"html"`
	BodyBytes   int64              `json:"body_bytes"`

	Title           string             `json:"title"`
	MetaDescription string             `json:"meta_description"`
	Canonical       util.NormalizedURL `json:"canonical,omitempty"`
	CanonicalRaw    string             `json:"canonical_raw,omitempty"`
	Robots          []string           `json:"robots,omitempty"`
	Lang            string             `json:"lang,omitempty"`
	Viewport        string             `json:"viewport,omitempty"`

	Headings       []Heading         `json:"headings,omitempty"`
	Links          []Link            `json:"links,omitempty"`
	Images         []Image           `json:"images,omitempty"`
	StructuredData []StructuredData  `json:"structured_data,omitempty"`
	OpenGraph      map[string]string `json:"open_graph,omitempty"`
	MixedContent   []string          `json:"mixed_content,omitempty"`

	WordCount        int `json:"word_count"`
	MainContentWords int `json:"main_content_words"`

	AnalysisError string `json:"analysis_error,omitempty"`
}

// HasRobotsDirective reports whether meta robots or X-Robots-Tag carries
// directive. "none" counts as both noindex and nofollow.
func (r *PageRecord) HasRobotsDirective(directive string) bool {
	for _, d := range r.Robots {
		if d == directive {
			return true
		}
		if d == "none" && (directive == "noindex" || directive == "nofollow") {
			return true
		}
	}
	return false
}

func (r *PageRecord) Noindex() bool {
	return r.HasRobotsDirective("noindex")
}

// HeadingCount returns the number of headings at level.
func (r *PageRecord) HeadingCount(level int) int {
	n := 0
	for _, h := range r.Headings {
		if h.Level == level {
			n++
		}
	}
	return n
}

// InternalLinks returns crawlable same-site links, excluding links back to the page itself.
func (r *PageRecord) InternalLinks() []Link {
	var out []Link
	for _, l := range r.Links {
		if l.Crawlable() && l.Internal && l.Target != r.URL && l.Target != r.FinalURL {
			out = append(out, l)
		}
	}
	return out
}

// AnalysisError reports a fetched body that could not be parsed at all.
type AnalysisError struct {
	URL    string
	Reason string
	Err    error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analyzing %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("analyzing %s: %s", e.URL, e.Reason)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
