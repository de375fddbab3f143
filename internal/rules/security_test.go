package rules

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harvey-AU/site-audit/internal/sitegraph"
	"github.com/Harvey-AU/site-audit/internal/util"
)

var headerRules = []string{
	"hsts-missing", "hsts-weak", "server-version-disclosed",
	"content-type-options-missing", "frame-options-missing",
}

func TestSecurityHeaderRules(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		modify func(h http.Header)
		rule   string
	}{
		{"all present", testSeed, func(http.Header) {}, ""},
		{"no hsts on https", testSeed, func(h http.Header) { h.Del("Strict-Transport-Security") }, "hsts-missing"},
		{"no hsts on http", "http://example.com/", func(h http.Header) { h.Del("Strict-Transport-Security") }, ""},
		{"hsts one day", testSeed, func(h http.Header) {
			h.Set("Strict-Transport-Security", "max-age=86400; includeSubDomains")
		}, "hsts-weak"},
		{"hsts just under a year", testSeed, func(h http.Header) {
			h.Set("Strict-Transport-Security", "max-age=31535999; includeSubDomains")
		}, "hsts-weak"},
		{"hsts one year", testSeed, func(h http.Header) {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}, ""},
		{"hsts without subdomains", testSeed, func(h http.Header) {
			h.Set("Strict-Transport-Security", "max-age=63072000")
		}, "hsts-weak"},
		{"hsts without max-age", testSeed, func(h http.Header) {
			h.Set("Strict-Transport-Security", "includeSubDomains")
		}, "hsts-weak"},
		{"versioned server", testSeed, func(h http.Header) { h.Set("Server", "Apache/2.4.41 (Ubuntu)") }, "server-version-disclosed"},
		{"versioned powered-by", testSeed, func(h http.Header) { h.Set("X-Powered-By", "PHP/8.1.2") }, "server-version-disclosed"},
		{"bare server name", testSeed, func(h http.Header) { h.Set("Server", "cloudflare") }, ""},
		{"no nosniff", testSeed, func(h http.Header) { h.Del("X-Content-Type-Options") }, "content-type-options-missing"},
		{"wrong nosniff value", testSeed, func(h http.Header) { h.Set("X-Content-Type-Options", "sniff") }, "content-type-options-missing"},
		{"no frame options", testSeed, func(h http.Header) { h.Del("X-Frame-Options") }, "frame-options-missing"},
		{"frame-ancestors instead", testSeed, func(h http.Header) {
			h.Del("X-Frame-Options")
			h.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'self'")
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := secureHeaders()
			tt.modify(h)
			g := sitegraph.New(util.MustNormalize(tt.url))
			insertWithHeader(g, goodRecord(tt.url, 0), h)

			issues := NewEngine().Evaluate(g, cleanArtifacts())
			for _, id := range headerRules {
				if id == tt.rule {
					assert.Len(t, issuesFor(issues, id), 1, id)
				} else {
					assert.Empty(t, issuesFor(issues, id), id)
				}
			}
		})
	}
}

func TestSecurityHeaderFindingIsSiteWide(t *testing.T) {
	g := sitegraph.New(util.MustNormalize(testSeed))
	bare := secureHeaders()
	bare.Del("X-Frame-Options")
	insertWithHeader(g, goodRecord(testSeed, 0, "https://example.com/a"), bare)
	insertWithHeader(g, goodRecord("https://example.com/a", 1, testSeed), bare)
	insertWithHeader(g, goodRecord("https://example.com/b", 1, testSeed), secureHeaders())

	legacy := secureHeaders()
	legacy.Set("Server", "nginx/1.18.0")
	insertWithHeader(g, goodRecord("https://example.com/c", 1, testSeed), legacy)

	issues := NewEngine().Evaluate(g, cleanArtifacts())

	frames := issuesFor(issues, "frame-options-missing")
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Scope.Global)
	assert.Equal(t, Technical, frames[0].Category)
	assert.Equal(t, Low, frames[0].Severity)
	assert.Equal(t, "2 pages", frames[0].Measured)
	assert.Equal(t, 2, frames[0].AffectedPages())
	assert.Equal(t, []string{"no X-Frame-Options header or frame-ancestors policy"}, frames[0].Evidence)

	server := issuesFor(issues, "server-version-disclosed")
	require.Len(t, server, 1)
	assert.Equal(t, []string{"Server: nginx/1.18.0"}, server[0].Evidence)
	assert.Equal(t, []util.NormalizedURL{util.MustNormalize("https://example.com/c")}, server[0].Affected)
}
