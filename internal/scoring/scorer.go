// Package scoring turns rule issues into category scores, an overall grade
// and a prioritised issue list.
package scoring

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/rules"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// improvementIssues is how many of a category's top issues count towards its
// improvement potential.
const improvementIssues = 3

// Penalty is the points one issue of severity s removes from its category.
func Penalty(s rules.Severity) int {
	switch s {
	case rules.Critical:
		return 25
	case rules.High:
		return 10
	case rules.Medium:
		return 5
	case rules.Low:
		return 2
	}
	return 0
}

type Status string

const (
	StatusExcellent Status = "excellent"
	StatusGood      Status = "good"
	StatusFair      Status = "fair"
	StatusPoor      Status = "poor"
	StatusCritical  Status = "critical"
)

func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func StatusFor(score int) Status {
	switch {
	case score >= 90:
		return StatusExcellent
	case score >= 75:
		return StatusGood
	case score >= 60:
		return StatusFair
	case score >= 40:
		return StatusPoor
	default:
		return StatusCritical
	}
}

// CategoryScore is one category's result. When Available is false the
// category had no data and Score, Grade and Status are unset.
type CategoryScore struct {
	Category   rules.Category `json:"category"`
	Available  bool           `json:"available"`
	Score      int            `json:"score"`
	Grade      string         `json:"grade,omitempty"`
	Status     Status         `json:"status,omitempty"`
	Weight     float64        `json:"weight"`
	Penalty    int            `json:"penalty"`
	IssueCount int            `json:"issue_count"`
	// PotentialScore is the score after fixing the category's top issues.
	PotentialScore int `json:"potential_score"`
}

// ImprovementPotential is the points recoverable from the top issues.
func (c CategoryScore) ImprovementPotential() int {
	return c.PotentialScore - c.Score
}

// OverallReport is the scored result of one audit. It is not modified after
// Score returns.
type OverallReport struct {
	Score          int             `json:"score"`
	Grade          string          `json:"grade"`
	Status         Status          `json:"status"`
	PotentialScore int             `json:"potential_score"`
	Categories     []CategoryScore `json:"categories"`
	Issues         []rules.Issue   `json:"issues"`
	SeverityCounts map[string]int  `json:"severity_counts"`
}

// Category returns the score for c.
func (r *OverallReport) Category(c rules.Category) (CategoryScore, bool) {
	for _, cs := range r.Categories {
		if cs.Category == c {
			return cs, true
		}
	}
	return CategoryScore{}, false
}

type Scorer struct {
	weights Weights
}

// NewScorer validates w and returns a scorer using it.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score aggregates issues. The performance category is available only when
// metrics holds at least one measurement.
func (s *Scorer) Score(issues []rules.Issue, metrics map[util.NormalizedURL]perf.Metrics) *OverallReport {
	prioritized := Prioritize(issues)

	byCategory := make(map[rules.Category][]rules.Issue)
	counts := make(map[string]int)
	for _, issue := range prioritized {
		byCategory[issue.Category] = append(byCategory[issue.Category], issue)
		counts[issue.Severity.String()]++
	}

	report := &OverallReport{
		Issues:         prioritized,
		SeverityCounts: counts,
	}

	for _, c := range rules.Categories {
		cs := CategoryScore{Category: c, Weight: s.weights.For(c)}
		if c == rules.Performance && len(metrics) == 0 {
			report.Categories = append(report.Categories, cs)
			continue
		}

		catIssues := byCategory[c]
		total, top := 0, 0
		for i, issue := range catIssues {
			p := Penalty(issue.Severity)
			total += p
			if i < improvementIssues {
				top += p
			}
		}

		cs.Available = true
		cs.Penalty = total
		cs.IssueCount = len(catIssues)
		cs.Score = 100 - min(100, total)
		cs.PotentialScore = 100 - min(100, total-top)
		cs.Grade = Grade(cs.Score)
		cs.Status = StatusFor(cs.Score)
		report.Categories = append(report.Categories, cs)
	}

	report.Score = weightedScore(report.Categories, func(cs CategoryScore) int { return cs.Score })
	report.PotentialScore = weightedScore(report.Categories, func(cs CategoryScore) int { return cs.PotentialScore })
	report.Grade = Grade(report.Score)
	report.Status = StatusFor(report.Score)

	log.Info().
		Int("score", report.Score).
		Str("grade", report.Grade).
		Int("issues", len(prioritized)).
		Msg("Scored audit")
	return report
}

// weightedScore is the weighted mean over available categories. If every
// available category has zero weight it falls back to the plain mean.
func weightedScore(categories []CategoryScore, value func(CategoryScore) int) int {
	var sum, weight, plain float64
	available := 0
	for _, cs := range categories {
		if !cs.Available {
			continue
		}
		available++
		plain += float64(value(cs))
		sum += float64(value(cs)) * cs.Weight
		weight += cs.Weight
	}
	if available == 0 {
		return 0
	}
	if weight == 0 {
		return int(math.Round(plain / float64(available)))
	}
	return int(math.Round(sum / weight))
}

// Prioritize returns a copy of issues ordered by severity (worst first),
// affected pages (most first), rule ID and scope.
func Prioritize(issues []rules.Issue) []rules.Issue {
	out := make([]rules.Issue, len(issues))
	copy(out, issues)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.AffectedPages() != b.AffectedPages() {
			return a.AffectedPages() > b.AffectedPages()
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Scope.String() < b.Scope.String()
	})
	return out
}
