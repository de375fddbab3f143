package rules

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Harvey-AU/site-audit/internal/util"
)

// minHSTSMaxAge is one year in seconds.
const minHSTSMaxAge = 31536000

var (
	hstsMaxAgePattern    = regexp.MustCompile(`(?i)max-age\s*=\s*"?(\d+)`)
	versionNumberPattern = regexp.MustCompile(`/\s*v?\d|\b\d+\.\d+`)
)

// headerCheck reports, as one site-wide finding, every fetched HTML page for
// which inspect returns a non-empty evidence value. Evidence lists each
// distinct value once.
func headerCheck(inspect func(u util.NormalizedURL, h http.Header) string) SiteCheck {
	return func(c *Context) []Finding {
		var affected []util.NormalizedURL
		values := make(map[string]struct{})
		for _, n := range c.Pages() {
			if _, ok := htmlPage(n); !ok || n.Fetch == nil {
				continue
			}
			value := inspect(n.URL, n.Fetch.Header)
			if value == "" {
				continue
			}
			affected = append(affected, n.URL)
			values[value] = struct{}{}
		}
		if len(affected) == 0 {
			return nil
		}
		evidence := make([]string, 0, len(values))
		for v := range values {
			evidence = append(evidence, v)
		}
		sort.Strings(evidence)
		return []Finding{{
			Scope:    GlobalScope(),
			Measured: fmt.Sprintf("%d pages", len(affected)),
			Evidence: capEvidence(evidence),
			Affected: sortedURLs(affected),
		}}
	}
}

func hstsMissing(u util.NormalizedURL, h http.Header) string {
	if u.URL().Scheme != "https" || h.Get("Strict-Transport-Security") != "" {
		return ""
	}
	return "no Strict-Transport-Security header"
}

func hstsWeak(_ util.NormalizedURL, h http.Header) string {
	value := h.Get("Strict-Transport-Security")
	if value == "" {
		return ""
	}
	m := hstsMaxAgePattern.FindStringSubmatch(value)
	if m == nil {
		return "Strict-Transport-Security: " + value
	}
	if age, err := strconv.ParseInt(m[1], 10, 64); err != nil || age < minHSTSMaxAge {
		return "Strict-Transport-Security: " + value
	}
	if !strings.Contains(strings.ToLower(value), "includesubdomains") {
		return "Strict-Transport-Security: " + value
	}
	return ""
}

func serverVersionDisclosed(_ util.NormalizedURL, h http.Header) string {
	for _, name := range []string{"Server", "X-Powered-By"} {
		if value := h.Get(name); versionNumberPattern.MatchString(value) {
			return name + ": " + value
		}
	}
	return ""
}

func contentTypeOptionsMissing(_ util.NormalizedURL, h http.Header) string {
	value := h.Get("X-Content-Type-Options")
	if strings.Contains(strings.ToLower(value), "nosniff") {
		return ""
	}
	if value == "" {
		return "no X-Content-Type-Options header"
	}
	return "X-Content-Type-Options: " + value
}

// frameOptionsMissing accepts either X-Frame-Options or a CSP frame-ancestors directive.
func frameOptionsMissing(_ util.NormalizedURL, h http.Header) string {
	if h.Get("X-Frame-Options") != "" {
		return ""
	}
	if strings.Contains(strings.ToLower(h.Get("Content-Security-Policy")), "frame-ancestors") {
		return ""
	}
	return "no X-Frame-Options header or frame-ancestors policy"
}
