package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harvey-AU/site-audit/internal/audit"
	"github.com/Harvey-AU/site-audit/internal/perf"
	"github.com/Harvey-AU/site-audit/internal/scoring"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUDIT_SEED_URL", "https://example.com")
	t.Setenv("APP_ENV", "")
	t.Setenv("AUDIT_MAX_PAGES", "")
	t.Setenv("AUDIT_WEIGHTS_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	defaults := audit.DefaultConfig()
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "https://example.com", cfg.Audit.SeedURL)
	assert.Equal(t, defaults.MaxPages, cfg.Audit.MaxPages)
	assert.Equal(t, defaults.CategoryWeights, cfg.Audit.CategoryWeights)
	assert.NoError(t, cfg.Audit.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUDIT_SEED_URL", " https://example.com/start ")
	t.Setenv("AUDIT_MAX_DEPTH", "2")
	t.Setenv("AUDIT_MAX_PAGES", "40")
	t.Setenv("AUDIT_CONCURRENCY", "3")
	t.Setenv("AUDIT_HOST_DELAY", "1.5")
	t.Setenv("AUDIT_FETCH_TIMEOUT", "10s")
	t.Setenv("AUDIT_TIME_BUDGET", "2m")
	t.Setenv("AUDIT_DEVICE", "desktop")
	t.Setenv("AUDIT_REPORT_UNLISTED_PAGES", "true")
	t.Setenv("PAGESPEED_API_KEY", "key")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/x")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/start", cfg.Audit.SeedURL)
	assert.Equal(t, 2, cfg.Audit.MaxDepth)
	assert.Equal(t, 40, cfg.Audit.MaxPages)
	assert.Equal(t, 3, cfg.Audit.Concurrency)
	assert.Equal(t, 1500*time.Millisecond, cfg.Audit.PerHostDelayDefault)
	assert.Equal(t, 10*time.Second, cfg.Audit.FetchTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Audit.TimeBudget)
	assert.Equal(t, perf.Desktop, cfg.Audit.Device)
	assert.True(t, cfg.Audit.ReportUnlistedPages)
	assert.Equal(t, "key", cfg.PageSpeedAPIKey)
	assert.Equal(t, "https://hooks.slack.com/services/x", cfg.SlackWebhookURL)
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("AUDIT_MAX_PAGES", "lots")
	t.Setenv("AUDIT_FETCH_TIMEOUT", "soon")
	t.Setenv("AUDIT_SEED_FROM_SITEMAP", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	defaults := audit.DefaultConfig()
	assert.Equal(t, defaults.MaxPages, cfg.Audit.MaxPages)
	assert.Equal(t, defaults.FetchTimeout, cfg.Audit.FetchTimeout)
	assert.Equal(t, defaults.SeedFromSitemap, cfg.Audit.SeedFromSitemap)
}

func TestLoadWeightsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("technical: 50\non_page: 50\n"), 0o600))
	t.Setenv("AUDIT_WEIGHTS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, scoring.Weights{Technical: 50, OnPage: 50}, cfg.Audit.CategoryWeights)
}

func TestLoadWeightsFileErrors(t *testing.T) {
	t.Setenv("AUDIT_WEIGHTS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseWeights(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    scoring.Weights
		wantErr error
	}{
		{
			name:  "full set",
			input: "technical: 30\non_page: 25\nperformance: 20\naccessibility: 10\nmodern_seo: 15\n",
			want:  scoring.DefaultWeights(),
		},
		{
			name:  "performance disabled",
			input: "technical: 1\nperformance: 0\n",
			want:  scoring.Weights{Technical: 1},
		},
		{name: "all zero", input: "technical: 0\n", wantErr: scoring.ErrInvalidWeights},
		{name: "negative", input: "technical: -5\non_page: 10\n", wantErr: scoring.ErrInvalidWeights},
		{name: "not a number", input: "technical: .nan\non_page: 10\n", wantErr: scoring.ErrInvalidWeights},
		{name: "infinite", input: "technical: 10\nmodern_seo: .inf\n", wantErr: scoring.ErrInvalidWeights},
		{name: "unknown key", input: "speed: 10\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWeights([]byte(tt.input))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			if tt.want == (scoring.Weights{}) {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOTLPHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y"}, ParseOTLPHeaders(" a=1, b = x=y ,bad,=2"))
	assert.Empty(t, ParseOTLPHeaders(""))
}
