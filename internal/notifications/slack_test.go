package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harvey-AU/site-audit/internal/audit"
	"github.com/Harvey-AU/site-audit/internal/jobs"
	"github.com/Harvey-AU/site-audit/internal/rules"
	"github.com/Harvey-AU/site-audit/internal/scoring"
	"github.com/Harvey-AU/site-audit/internal/util"
)

func testReport() *audit.Report {
	seed := util.MustNormalize("https://example.com/")
	return &audit.Report{
		RunID:        "run-1",
		Seed:         seed,
		Duration:     95 * time.Second,
		Termination:  jobs.Complete,
		PagesCrawled: 12,
		Result: &scoring.OverallReport{
			Score:          72,
			Grade:          "C",
			PotentialScore: 90,
			Categories: []scoring.CategoryScore{
				{Category: rules.Technical, Available: true, Score: 65},
				{Category: rules.Performance},
			},
			Issues: []rules.Issue{
				{RuleID: "title-missing", Severity: rules.Critical, Title: "Missing title", Scope: rules.PageScope(seed)},
				{RuleID: "sitemap-missing", Severity: rules.Medium, Title: "No sitemap", Scope: rules.GlobalScope()},
			},
		},
	}
}

func TestSlackChannelDeliver(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, srv.Client())
	assert.Equal(t, "slack", ch.Name())
	require.NoError(t, ch.Deliver(context.Background(), testReport()))

	assert.Equal(t, "Site audit complete: https://example.com/ scored 72 (C)", payload["text"])
	blocks, ok := payload["blocks"].([]any)
	require.True(t, ok)
	assert.Len(t, blocks, 4)
}

func TestSlackChannelDeliverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, srv.Client())
	err := ch.Deliver(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to post Slack webhook")

	assert.Error(t, ch.Deliver(context.Background(), &audit.Report{}))
}

func TestBuildMessageBlocks(t *testing.T) {
	r := testReport()
	blocks := buildMessageBlocks(r)
	require.Len(t, blocks, 4)

	data, err := json.Marshal(blocks)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "72/100 (C)")
	assert.Contains(t, text, "1m 35s")
	assert.Contains(t, text, "performance: n/a")
	assert.Contains(t, text, "Missing title (https://example.com/)")
	assert.Contains(t, text, "No sitemap (site-wide)")

	r.Result.Issues = nil
	assert.Len(t, buildMessageBlocks(r), 3)
}

type fakeChannel struct {
	name  string
	err   error
	calls int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, r *audit.Report) error {
	f.calls++
	return f.err
}

func TestServiceNotifyAuditComplete(t *testing.T) {
	failing := &fakeChannel{name: "broken", err: errors.New("boom")}
	ok := &fakeChannel{name: "ok"}
	svc := NewService(failing)
	svc.AddChannel(ok)

	err := svc.NotifyAuditComplete(context.Background(), testReport())
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls, "later channels still run")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "N/A", formatDuration(0))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 30m", formatDuration(90*time.Minute))
}
