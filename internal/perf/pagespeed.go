package perf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/site-audit/internal/cache"
	"github.com/Harvey-AU/site-audit/internal/observability"
	"github.com/Harvey-AU/site-audit/internal/util"
)

const (
	pageSpeedEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"
	defaultTimeout    = 90 * time.Second
	defaultCacheTTL   = time.Hour
	maxResponseBytes  = 16 << 20
)

// Lighthouse audit keys read from a PageSpeed Insights response.
const (
	auditLCP  = "largest-contentful-paint"
	auditINP  = "interaction-to-next-paint"
	auditCLS  = "cumulative-layout-shift"
	auditLoad = "interactive"
	auditTTFB = "server-response-time"
)

// PageSpeedClient implements Provider against the PageSpeed Insights v5 API.
type PageSpeedClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	cache      *cache.TTLCache[Metrics]
	now        func() time.Time
}

type PageSpeedOption func(*PageSpeedClient)

// WithEndpoint points the client at a different API base, used by tests.
func WithEndpoint(endpoint string) PageSpeedOption {
	return func(c *PageSpeedClient) { c.endpoint = endpoint }
}

func WithHTTPClient(client *http.Client) PageSpeedOption {
	return func(c *PageSpeedClient) { c.httpClient = client }
}

func WithCacheTTL(ttl time.Duration) PageSpeedOption {
	return func(c *PageSpeedClient) { c.cache = cache.NewTTLCache[Metrics](ttl) }
}

// NewPageSpeedClient creates a client. An empty API key still works at the
// API's anonymous quota.
func NewPageSpeedClient(apiKey string, opts ...PageSpeedOption) *PageSpeedClient {
	c := &PageSpeedClient{
		apiKey:   apiKey,
		endpoint: pageSpeedEndpoint,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: observability.WrapTransport(http.DefaultTransport, nil),
		},
		cache: cache.NewTTLCache[Metrics](defaultCacheTTL),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type psiAudit struct {
	NumericValue *float64 `json:"numericValue"`
}

type psiResponse struct {
	LighthouseResult struct {
		FetchTime  string              `json:"fetchTime"`
		Audits     map[string]psiAudit `json:"audits"`
		Categories struct {
			Performance struct {
				Score *float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
	} `json:"lighthouseResult"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetMetrics runs (or recalls from cache) a PageSpeed analysis of u.
func (c *PageSpeedClient) GetMetrics(ctx context.Context, u util.NormalizedURL, device Device) (Metrics, error) {
	key := string(device) + "|" + u.String()
	if cached, ok := c.cache.Get(key); ok {
		log.Debug().Str("url", u.String()).Msg("PageSpeed cache hit")
		return cached, nil
	}

	query := url.Values{}
	query.Set("url", u.String())
	query.Set("strategy", string(device))
	query.Set("category", "performance")
	if c.apiKey != "" {
		query.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return Metrics{}, fmt.Errorf("pagespeed: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Metrics{}, fmt.Errorf("pagespeed: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Metrics{}, fmt.Errorf("pagespeed: failed to read response: %w", err)
	}

	var parsed psiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return Metrics{}, fmt.Errorf("pagespeed: HTTP %d: %w", resp.StatusCode, ErrUnavailable)
		}
		return Metrics{}, fmt.Errorf("pagespeed: failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return Metrics{}, fmt.Errorf("pagespeed: HTTP %d %s: %w", resp.StatusCode, msg, ErrUnavailable)
	}

	metrics, err := c.toMetrics(u, device, &parsed)
	if err != nil {
		return Metrics{}, err
	}

	c.cache.Set(key, metrics)
	log.Debug().
		Str("url", u.String()).
		Str("device", string(device)).
		Dur("lcp", metrics.LCP).
		Float64("cls", metrics.CLS).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched PageSpeed metrics")
	return metrics, nil
}

func (c *PageSpeedClient) toMetrics(u util.NormalizedURL, device Device, parsed *psiResponse) (Metrics, error) {
	audits := parsed.LighthouseResult.Audits
	lcp, ok := audits[auditLCP]
	if !ok || lcp.NumericValue == nil {
		return Metrics{}, fmt.Errorf("pagespeed: no lab data for %s: %w", u, ErrUnavailable)
	}

	m := Metrics{
		URL:       u,
		Device:    device,
		LCP:       millis(*lcp.NumericValue),
		FetchedAt: c.now().UTC(),
	}
	if a, ok := audits[auditINP]; ok && a.NumericValue != nil {
		m.INP = millis(*a.NumericValue)
	}
	if a, ok := audits[auditCLS]; ok && a.NumericValue != nil {
		m.CLS = *a.NumericValue
	}
	if a, ok := audits[auditLoad]; ok && a.NumericValue != nil {
		m.LoadTime = millis(*a.NumericValue)
	}
	if a, ok := audits[auditTTFB]; ok && a.NumericValue != nil {
		m.TTFB = millis(*a.NumericValue)
	}
	if score := parsed.LighthouseResult.Categories.Performance.Score; score != nil {
		m.Score = *score * 100
	}
	if t, err := time.Parse(time.RFC3339, parsed.LighthouseResult.FetchTime); err == nil {
		m.FetchedAt = t.UTC()
	}
	return m, nil
}

func millis(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}
