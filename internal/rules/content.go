package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Harvey-AU/site-audit/internal/analyzer"
	"github.com/Harvey-AU/site-audit/internal/sitegraph"
)

var requiredOpenGraph = []string{"og:title", "og:description", "og:image"}

func imageAltMissing(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok {
		return nil
	}
	var missing []string
	for _, img := range rec.Images {
		if !img.HasAlt {
			missing = append(missing, img.Src)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%d of %d images", len(missing), len(rec.Images)),
		Threshold: "0 images without alt",
		Evidence:  capEvidence(missing),
	}}
}

func htmlLangMissing(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.Lang != "" {
		return nil
	}
	return []Finding{pageFinding(n.URL)}
}

func emptyLinkText(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok {
		return nil
	}
	var evidence []string
	for _, link := range rec.Links {
		if link.Hidden || link.Unsupported || link.Anchor != "" {
			continue
		}
		evidence = append(evidence, link.Raw)
	}
	if len(evidence) == 0 {
		return nil
	}
	return []Finding{{
		Scope:    PageScope(n.URL),
		Measured: fmt.Sprintf("%d links", len(evidence)),
		Evidence: capEvidence(evidence),
	}}
}

func structuredDataMissing(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok {
		return nil
	}
	for _, sd := range rec.StructuredData {
		if sd.Valid {
			return nil
		}
	}
	return []Finding{pageFinding(n.URL)}
}

func structuredDataInvalid(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok {
		return nil
	}
	var evidence []string
	for _, sd := range rec.StructuredData {
		if !sd.Valid {
			evidence = append(evidence, describeStructuredData(sd))
		}
	}
	if len(evidence) == 0 {
		return nil
	}
	return []Finding{pageFinding(n.URL, capEvidence(evidence)...)}
}

func describeStructuredData(sd analyzer.StructuredData) string {
	label := sd.Format
	if sd.Type != "" {
		label += " " + sd.Type
	}
	if sd.Error != "" {
		return label + ": " + sd.Error
	}
	return label
}

func openGraphMissing(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok {
		return nil
	}
	var missing []string
	for _, prop := range requiredOpenGraph {
		if strings.TrimSpace(rec.OpenGraph[prop]) == "" {
			missing = append(missing, prop)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%d of %d tags", len(requiredOpenGraph)-len(missing), len(requiredOpenGraph)),
		Threshold: strings.Join(requiredOpenGraph, ", "),
		Evidence:  missing,
	}}
}

func viewportMissing(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || rec.Viewport != "" {
		return nil
	}
	return []Finding{pageFinding(n.URL)}
}

func mixedContent(_ *Context, n *sitegraph.Node) []Finding {
	rec, ok := htmlPage(n)
	if !ok || len(rec.MixedContent) == 0 {
		return nil
	}
	return []Finding{{
		Scope:     PageScope(n.URL),
		Measured:  fmt.Sprintf("%d insecure resources", len(rec.MixedContent)),
		Threshold: "0 insecure resources",
		Evidence:  capEvidence(rec.MixedContent),
	}}
}

func cdnNotDetected(c *Context) []Finding {
	techs := c.Artifacts.Technologies
	if techs == nil {
		return nil
	}
	names := make([]string, 0, len(techs))
	for name, categories := range techs {
		for _, cat := range categories {
			if strings.EqualFold(cat, "CDN") {
				return nil
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	f := Finding{Scope: GlobalScope()}
	if len(names) > 0 {
		f.Evidence = []string{"detected: " + strings.Join(names, ", ")}
	}
	return []Finding{f}
}
