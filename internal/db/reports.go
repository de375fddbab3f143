package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/site-audit/internal/audit"
	"github.com/Harvey-AU/site-audit/internal/rules"
	"github.com/Harvey-AU/site-audit/internal/scoring"
)

// ReportStore writes finished reports.
type ReportStore struct {
	db    *DB
	retry RetryConfig
}

func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db, retry: DefaultRetryConfig()}
}

// WithRetryConfig replaces the retry policy used for writes.
func (s *ReportStore) WithRetryConfig(cfg RetryConfig) *ReportStore {
	s.retry = cfg
	return s
}

// ReportSummary is one row of audit history.
type ReportSummary struct {
	ID           string
	SeedURL      string
	StartedAt    time.Time
	Termination  string
	PagesCrawled int
	Score        int
	Grade        string
}

// SaveReport stores the report and its categories, issues and pages in one
// transaction.
func (s *ReportStore) SaveReport(ctx context.Context, r *audit.Report) error {
	if r == nil || r.Result == nil {
		return fmt.Errorf("save report: report has no result")
	}
	err := withRetry(ctx, s.retry, "save report", func(ctx context.Context) error {
		return s.saveReportTx(ctx, r)
	})
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.RunID, err)
	}

	log.Info().
		Str("run_id", r.RunID).
		Int("issues", len(r.Result.Issues)).
		Int("pages", len(r.Pages)).
		Msg("Saved audit report")
	return nil
}

func (s *ReportStore) saveReportTx(ctx context.Context, r *audit.Report) error {
	tx, err := s.db.client.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audits (
			id, seed_url, started_at, duration_ms, termination, pages_crawled, nodes,
			score, grade, status, potential_score, robots_found, sitemap_found, technologies
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb)
	`,
		r.RunID, r.Seed.String(), r.StartedAt, r.Duration.Milliseconds(), string(r.Termination),
		r.PagesCrawled, r.Nodes, r.Result.Score, r.Result.Grade, string(r.Result.Status),
		r.Result.PotentialScore, r.Robots.Found, r.Sitemap.Found, Serialise(r.Technologies),
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}

	if err := insertCategories(ctx, tx, r.RunID, r.Result.Categories); err != nil {
		return err
	}
	if err := insertIssues(ctx, tx, r.RunID, r.Result.Issues); err != nil {
		return err
	}
	if err := insertPages(ctx, tx, r.RunID, r.Pages); err != nil {
		return err
	}
	return tx.Commit()
}

func insertCategories(ctx context.Context, tx *sql.Tx, runID string, cats []scoring.CategoryScore) error {
	if len(cats) == 0 {
		return nil
	}
	names := make([]string, len(cats))
	available := make([]bool, len(cats))
	scores := make([]int, len(cats))
	grades := make([]string, len(cats))
	weights := make([]float64, len(cats))
	counts := make([]int, len(cats))
	potentials := make([]int, len(cats))
	for i, c := range cats {
		names[i] = string(c.Category)
		available[i] = c.Available
		scores[i] = c.Score
		grades[i] = c.Grade
		weights[i] = c.Weight
		counts[i] = c.IssueCount
		potentials[i] = c.PotentialScore
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_categories (audit_id, category, available, score, grade, weight, issue_count, potential_score)
		SELECT $1, unnest($2::text[]), unnest($3::boolean[]), unnest($4::integer[]),
			unnest($5::text[]), unnest($6::double precision[]), unnest($7::integer[]), unnest($8::integer[])
	`, runID, pq.Array(names), pq.Array(available), pq.Array(scores), pq.Array(grades),
		pq.Array(weights), pq.Array(counts), pq.Array(potentials))
	if err != nil {
		return fmt.Errorf("insert categories: %w", err)
	}
	return nil
}

func insertIssues(ctx context.Context, tx *sql.Tx, runID string, issues []rules.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	positions := make([]int, len(issues))
	ruleIDs := make([]string, len(issues))
	categories := make([]string, len(issues))
	severities := make([]string, len(issues))
	scopes := make([]string, len(issues))
	titles := make([]string, len(issues))
	measured := make([]string, len(issues))
	thresholds := make([]string, len(issues))
	evidence := make([]string, len(issues))
	affected := make([]string, len(issues))
	for i, issue := range issues {
		positions[i] = i
		ruleIDs[i] = issue.RuleID
		categories[i] = string(issue.Category)
		severities[i] = issue.Severity.String()
		scopes[i] = issue.Scope.String()
		titles[i] = issue.Title
		measured[i] = issue.Measured
		thresholds[i] = issue.Threshold
		evidence[i] = Serialise(issue.Evidence)
		affected[i] = Serialise(issue.Affected)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_issues (audit_id, position, rule_id, category, severity, scope, title, measured, threshold, evidence, affected)
		SELECT $1, u.position, u.rule_id, u.category, u.severity, u.scope, u.title,
			NULLIF(u.measured, ''), NULLIF(u.threshold, ''), u.evidence::jsonb, u.affected::jsonb
		FROM unnest($2::integer[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[], $9::text[], $10::text[], $11::text[])
			AS u(position, rule_id, category, severity, scope, title, measured, threshold, evidence, affected)
	`, runID, pq.Array(positions), pq.Array(ruleIDs), pq.Array(categories), pq.Array(severities),
		pq.Array(scopes), pq.Array(titles), pq.Array(measured), pq.Array(thresholds),
		pq.Array(evidence), pq.Array(affected))
	if err != nil {
		return fmt.Errorf("insert issues: %w", err)
	}
	return nil
}

func insertPages(ctx context.Context, tx *sql.Tx, runID string, pages []audit.PageSummary) error {
	if len(pages) == 0 {
		return nil
	}
	urls := make([]string, len(pages))
	states := make([]string, len(pages))
	depths := make([]int, len(pages))
	statuses := make([]int, len(pages))
	titles := make([]string, len(pages))
	inbound := make([]int, len(pages))
	outbound := make([]int, len(pages))
	for i, p := range pages {
		urls[i] = p.URL.String()
		states[i] = p.State
		depths[i] = p.Depth
		statuses[i] = p.StatusCode
		titles[i] = p.Title
		inbound[i] = p.Inbound
		outbound[i] = p.Outbound
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_pages (audit_id, url, state, depth, status_code, title, inbound, outbound)
		SELECT $1, u.url, u.state, u.depth, NULLIF(u.status_code, 0), NULLIF(u.title, ''), u.inbound, u.outbound
		FROM unnest($2::text[], $3::text[], $4::integer[], $5::integer[], $6::text[], $7::integer[], $8::integer[])
			AS u(url, state, depth, status_code, title, inbound, outbound)
	`, runID, pq.Array(urls), pq.Array(states), pq.Array(depths), pq.Array(statuses),
		pq.Array(titles), pq.Array(inbound), pq.Array(outbound))
	if err != nil {
		return fmt.Errorf("insert pages: %w", err)
	}
	return nil
}

// ListReports returns the most recent audits of seedURL, newest first.
func (s *ReportStore) ListReports(ctx context.Context, seedURL string, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.client.QueryContext(ctx, `
		SELECT id, seed_url, started_at, termination, pages_crawled, score, grade
		FROM audits
		WHERE seed_url = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, seedURL, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []ReportSummary
	for rows.Next() {
		var r ReportSummary
		if err := rows.Scan(&r.ID, &r.SeedURL, &r.StartedAt, &r.Termination, &r.PagesCrawled, &r.Score, &r.Grade); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
