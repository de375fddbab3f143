// Package notifications delivers finished audit summaries to external channels.
package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/Harvey-AU/site-audit/internal/audit"
	"github.com/Harvey-AU/site-audit/internal/rules"
)

// topIssues is how many issues a summary lists.
const topIssues = 5

// Service fans a finished report out to every channel
type Service struct {
	channels []DeliveryChannel
}

// DeliveryChannel defines the interface for notification delivery
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, r *audit.Report) error
}

func NewService(channels ...DeliveryChannel) *Service {
	return &Service{channels: channels}
}

// AddChannel adds a delivery channel to the service
func (s *Service) AddChannel(ch DeliveryChannel) {
	s.channels = append(s.channels, ch)
}

// NotifyAuditComplete delivers r to every channel. Failures are logged and
// the remaining channels still run; the last error is returned.
func (s *Service) NotifyAuditComplete(ctx context.Context, r *audit.Report) error {
	var lastErr error
	for _, ch := range s.channels {
		if err := ch.Deliver(ctx, r); err != nil {
			log.Warn().
				Err(err).
				Str("channel", ch.Name()).
				Str("run_id", r.RunID).
				Msg("Failed to deliver audit notification")
			lastErr = err
			continue
		}
		log.Info().
			Str("channel", ch.Name()).
			Str("run_id", r.RunID).
			Msg("Audit notification delivered")
	}
	return lastErr
}

// SlackChannel posts a summary to an incoming webhook
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string, client *http.Client) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackChannel{webhookURL: webhookURL, client: client}
}

// Name returns the channel name
func (c *SlackChannel) Name() string {
	return "slack"
}

// Deliver sends the report summary to Slack
func (c *SlackChannel) Deliver(ctx context.Context, r *audit.Report) error {
	if r == nil || r.Result == nil {
		return fmt.Errorf("report has no result")
	}
	msg := &slack.WebhookMessage{
		Text:   fallbackText(r),
		Blocks: &slack.Blocks{BlockSet: buildMessageBlocks(r)},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, c.webhookURL, c.client, msg); err != nil {
		return fmt.Errorf("failed to post Slack webhook: %w", err)
	}
	return nil
}

func fallbackText(r *audit.Report) string {
	return fmt.Sprintf("Site audit complete: %s scored %d (%s)", r.Seed, r.Result.Score, r.Result.Grade)
}

func gradeEmoji(grade string) string {
	switch grade {
	case "A":
		return ":white_check_mark:"
	case "B", "C":
		return ":large_yellow_circle:"
	default:
		return ":x:"
	}
}

func buildMessageBlocks(r *audit.Report) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *Site audit complete: %s*", gradeEmoji(r.Result.Grade), r.Seed),
				false,
				false,
			),
			nil,
			nil,
		),
	}

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Score*\n%d/100 (%s)", r.Result.Score, r.Result.Grade), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Potential*\n%d/100", r.Result.PotentialScore), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Pages*\n%d (%s)", r.PagesCrawled, r.Termination), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Duration*\n%s", formatDuration(r.Duration)), false, false),
	}
	blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))

	var cats []string
	for _, cs := range r.Result.Categories {
		if !cs.Available {
			cats = append(cats, fmt.Sprintf("%s: n/a", cs.Category))
			continue
		}
		cats = append(cats, fmt.Sprintf("%s: %d", cs.Category, cs.Score))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", strings.Join(cats, " · "), false, false)))

	if issues := r.TopIssues(topIssues); len(issues) > 0 {
		lines := make([]string, 0, len(issues))
		for _, issue := range issues {
			lines = append(lines, fmt.Sprintf("• `%s` %s (%s)", issue.Severity, issue.Title, describeScope(issue)))
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "*Top issues*\n"+strings.Join(lines, "\n"), false, false),
			nil,
			nil,
		))
	}

	return blocks
}

func describeScope(issue rules.Issue) string {
	if issue.Scope.Global {
		if n := issue.AffectedPages(); n > 1 {
			return fmt.Sprintf("site-wide, %d pages", n)
		}
		return "site-wide"
	}
	return issue.Scope.String()
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "N/A"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
