package rules

import (
	"fmt"
	"strings"

	"github.com/Harvey-AU/site-audit/internal/util"
)

// Severity orders issues; higher is worse.
type Severity int

const (
	Low Severity = iota + 1
	Medium
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// Category groups rules for scoring.
type Category string

const (
	Technical     Category = "technical"
	OnPage        Category = "on_page"
	Performance   Category = "performance"
	Accessibility Category = "accessibility"
	ModernSEO     Category = "modern_seo"
)

// Categories lists every category in report order.
var Categories = []Category{Technical, OnPage, Performance, Accessibility, ModernSEO}

// Scope is either the whole site or a single URL.
type Scope struct {
	Global bool               `json:"global"`
	URL    util.NormalizedURL `json:"url,omitempty"`
}

func GlobalScope() Scope {
	return Scope{Global: true}
}

func PageScope(u util.NormalizedURL) Scope {
	return Scope{URL: u}
}

func (s Scope) String() string {
	if s.Global {
		return "global"
	}
	return s.URL.String()
}

// Issue is one detected problem. A report never holds two issues with the
// same RuleID and Scope.
type Issue struct {
	RuleID      string               `json:"rule_id"`
	Category    Category             `json:"category"`
	Severity    Severity             `json:"severity"`
	Scope       Scope                `json:"scope"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Fix         string               `json:"fix"`
	Measured    string               `json:"measured,omitempty"`
	Threshold   string               `json:"threshold,omitempty"`
	Evidence    []string             `json:"evidence,omitempty"`
	Affected    []util.NormalizedURL `json:"affected,omitempty"`
}

// AffectedPages is the number of pages the issue touches, at least one.
func (i Issue) AffectedPages() int {
	if n := len(i.Affected); n > 0 {
		return n
	}
	return 1
}

func (i Issue) key() string {
	return i.RuleID + "|" + i.Scope.String()
}
