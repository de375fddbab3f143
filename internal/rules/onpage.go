package rules

import (
	"fmt"
	"unicode/utf8"

	"github.com/Harvey-AU/site-audit/internal/sitegraph"
)

const (
	minTitleLength       = 50
	maxTitleLength       = 60
	minDescriptionLength = 150
	maxDescriptionLength = 160
	minWordCount         = 300
)

func titleMissing(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.Title != "" {
		return nil
	}
	return []Finding{pageFinding(n.URL)}
}

// lengthCheck flags a non-empty text field shorter than min (tooShort) or
// longer than max.
func lengthCheck(field func(*sitegraph.Node) string, min, max int, tooShort bool) PageCheck {
	return func(_ *Context, n *sitegraph.Node) []Finding {
		if _, ok := htmlPage(n); !ok {
			return nil
		}
		text := field(n)
		if text == "" {
			return nil
		}
		length := utf8.RuneCountInString(text)
		if tooShort && length >= min {
			return nil
		}
		if !tooShort && length <= max {
			return nil
		}
		return []Finding{{
			Scope:     PageScope(n.URL),
			Measured:  fmt.Sprintf("%d characters", length),
			Threshold: fmt.Sprintf("%d-%d characters", min, max),
			Evidence:  []string{fmt.Sprintf("%q", text)},
		}}
	}
}

func titleOf(n *sitegraph.Node) string       { return n.Record.Title }
func descriptionOf(n *sitegraph.Node) string { return n.Record.MetaDescription }

func metaDescriptionMissing(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.MetaDescription != "" {
		return nil
	}
	return []Finding{pageFinding(n.URL)}
}

func h1Missing(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.HeadingCount(1) > 0 {
		return nil
	}
	return []Finding{{Scope: PageScope(n.URL), Measured: "0 h1 headings", Threshold: "exactly 1 h1 heading"}}
}

func h1Multiple(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok {
		return nil
	}
	count := rec.HeadingCount(1)
	if count <= 1 {
		return nil
	}
	var evidence []string
	for _, h := range rec.Headings {
		if h.Level == 1 {
			evidence = append(evidence, fmt.Sprintf("%q", h.Text))
		}
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%d h1 headings", count),
		Threshold: "exactly 1 h1 heading",
		Evidence:  capEvidence(evidence),
	}}
}

func headingHierarchySkip(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || len(rec.Headings) < 2 {
		return nil
	}
	var evidence []string
	for i := 1; i < len(rec.Headings); i++ {
		prev, cur := rec.Headings[i-1], rec.Headings[i]
		if cur.Level > prev.Level+1 {
			evidence = append(evidence, fmt.Sprintf("h%d -> h%d (%q)", prev.Level, cur.Level, cur.Text))
		}
	}
	if len(evidence) == 0 {
		return nil
	}
	return []Finding{pageFinding(n.URL, capEvidence(evidence)...)}
}

func thinContent(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.WordCount >= minWordCount {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%d words", rec.WordCount),
		Threshold: fmt.Sprintf("at least %d words", minWordCount),
	}}
}

func noInternalLinks(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || len(rec.InternalLinks()) > 0 {
		return nil
	}
	return []Finding{{Scope: PageScope(n.URL), Measured: "0 internal links", Threshold: "at least 1 internal link"}}
}
