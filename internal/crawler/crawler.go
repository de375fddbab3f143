package crawler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Harvey-AU/site-audit/internal/util"
)

// Fetcher performs single-page fetches with manual redirect handling.
type Fetcher struct {
	config     *Config
	colly      *colly.Collector
	client     *http.Client // follows redirects; robots.txt and sitemaps
	metricsMap *sync.Map    // Shared metrics storage for the transport
}

// UserAgent returns the user agent string sent with every request
func (f *Fetcher) UserAgent() string {
	return f.config.UserAgent
}

// Config returns the Fetcher's configuration.
func (f *Fetcher) Config() *Config {
	return f.config
}

// tracingRoundTripper captures HTTP trace metrics for each request
type tracingRoundTripper struct {
	transport  http.RoundTripper
	metricsMap *sync.Map // Maps URL -> PerformanceMetrics
}

// RoundTrip implements the http.RoundTripper interface with httptrace instrumentation
func (t *tracingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	metrics := &PerformanceMetrics{}

	var dnsStartTime, connectStartTime, tlsStartTime time.Time
	requestStartTime := time.Now()

	trace := &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			dnsStartTime = time.Now()
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			if !dnsStartTime.IsZero() {
				metrics.DNSLookupTime = time.Since(dnsStartTime).Milliseconds()
			}
		},
		ConnectStart: func(network, addr string) {
			connectStartTime = time.Now()
		},
		ConnectDone: func(network, addr string, err error) {
			if err == nil && !connectStartTime.IsZero() {
				metrics.TCPConnectionTime = time.Since(connectStartTime).Milliseconds()
			}
		},
		TLSHandshakeStart: func() {
			tlsStartTime = time.Now()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if err == nil && !tlsStartTime.IsZero() {
				metrics.TLSHandshakeTime = time.Since(tlsStartTime).Milliseconds()
			}
		},
		GotFirstResponseByte: func() {
			metrics.TTFB = time.Since(requestStartTime).Milliseconds()
		},
	}

	// Retrieved in OnResponse
	t.metricsMap.Store(req.URL.String(), metrics)

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	return t.transport.RoundTrip(req)
}

// NewFetcher creates a Fetcher with the given configuration.
// If config is nil, default configuration is used.
func NewFetcher(config *Config) *Fetcher {
	if config == nil {
		config = DefaultConfig()
	}

	c := colly.NewCollector(
		colly.UserAgent(config.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(config.MaxBodySize),
	)

	metricsMap := &sync.Map{}

	baseTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	tracingTransport := &tracingRoundTripper{
		transport:  baseTransport,
		metricsMap: metricsMap,
	}

	httpClient := &http.Client{
		Timeout:   config.FetchTimeout,
		Transport: otelhttp.NewTransport(tracingTransport),
	}
	c.SetClient(httpClient)

	// Each hop is requested explicitly so the chain can be recorded.
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	})

	return &Fetcher{
		config:     config,
		colly:      c,
		metricsMap: metricsMap,
		client: &http.Client{
			Timeout:   config.RobotsTimeout,
			Transport: otelhttp.NewTransport(baseTransport),
		},
	}
}

// hopResponse is the raw outcome of one request in a redirect chain.
type hopResponse struct {
	statusCode  int
	header      http.Header
	body        []byte
	performance PerformanceMetrics
}

// Fetch retrieves target, following redirects itself up to the hop limit.
// Failures are reported on the result; Fetch never returns nil.
func (f *Fetcher) Fetch(ctx context.Context, target util.NormalizedURL) *FetchResult {
	start := time.Now()
	res := &FetchResult{
		Target:    target,
		FinalURL:  target,
		FetchedAt: start,
	}
	defer func() {
		res.Elapsed = time.Since(start)
	}()

	seen := map[util.NormalizedURL]bool{target: true}
	current := target

	for {
		resp, attempts, err := f.requestWithRetry(ctx, current)
		res.Attempts += attempts
		if err != nil {
			res.FinalURL = current
			res.Err = classifyError(ctx, current, err)
			log.Debug().
				Err(err).
				Str("url", current.String()).
				Int("attempts", res.Attempts).
				Msg("Fetch failed")
			return res
		}

		res.FinalURL = current
		res.StatusCode = resp.statusCode
		res.Header = subsetHeaders(resp.header)
		res.ContentType = resp.header.Get("Content-Type")
		res.Body = resp.body
		res.ContentLength = int64(len(resp.body))
		res.Performance = resp.performance

		location := resp.header.Get("Location")
		if !isRedirect(resp.statusCode) || location == "" {
			break
		}

		next, err := util.Normalize(location, current.String())
		if err != nil {
			res.Err = &FetchError{
				Kind: FetchErrorInvalidRedirect,
				URL:  current.String(),
				Err:  fmt.Errorf("%w: %v", ErrInvalidRedirect, err),
			}
			return res
		}

		res.Redirects = append(res.Redirects, RedirectHop{From: current, To: next, StatusCode: resp.statusCode})
		res.RedirectStatus = RedirectFollowed

		if seen[next] {
			res.RedirectStatus = RedirectLoop
			res.FinalURL = next
			res.Err = &FetchError{Kind: FetchErrorRedirectLoop, URL: target.String(), Err: ErrRedirectLoop}
			log.Debug().
				Str("url", target.String()).
				Int("hops", len(res.Redirects)).
				Msg("Redirect loop detected")
			return res
		}
		if len(res.Redirects) > f.config.RedirectHopLimit {
			res.RedirectStatus = RedirectChainTooLong
			res.FinalURL = next
			res.Err = &FetchError{Kind: FetchErrorRedirectTooLong, URL: target.String(), Err: ErrRedirectChainTooLong}
			return res
		}

		seen[next] = true
		current = next
	}

	if res.ContentType != "" {
		if _, _, err := mime.ParseMediaType(res.ContentType); err != nil {
			res.Err = &FetchError{
				Kind: FetchErrorContentType,
				URL:  res.FinalURL.String(),
				Err:  fmt.Errorf("%w: %q", ErrContentType, res.ContentType),
			}
		}
	}

	log.Debug().
		Str("url", target.String()).
		Str("final_url", res.FinalURL.String()).
		Int("status", res.StatusCode).
		Int("redirects", len(res.Redirects)).
		Int64("ttfb_ms", res.Performance.TTFB).
		Msg("Fetch completed")

	return res
}

func (f *Fetcher) requestWithRetry(ctx context.Context, u util.NormalizedURL) (*hopResponse, int, error) {
	var lastErr error
	for attempt := 0; attempt <= f.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := f.config.RetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			}
		}

		resp, err := f.request(ctx, u)
		if err == nil {
			return resp, attempt + 1, nil
		}
		lastErr = err
		if !isTransient(ctx, err) {
			return nil, attempt + 1, err
		}

		log.Debug().
			Err(err).
			Str("url", u.String()).
			Int("attempt", attempt+1).
			Msg("Transient fetch failure, retrying")
	}
	return nil, f.config.RetryAttempts + 1, lastErr
}

// request performs exactly one HTTP exchange through a clone of the collector.
func (f *Fetcher) request(ctx context.Context, u util.NormalizedURL) (*hopResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clone := f.colly.Clone()
	clone.Context = ctx
	start := time.Now()

	var (
		resp     *hopResponse
		fetchErr error
	)

	// Callbacks are not copied by Clone.
	clone.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")

		log.Debug().
			Str("url", r.URL.String()).
			Msg("Fetcher sending request")
	})

	clone.OnResponse(func(r *colly.Response) {
		performance := PerformanceMetrics{}
		if metricsVal, ok := f.metricsMap.LoadAndDelete(r.Request.URL.String()); ok {
			performance = *metricsVal.(*PerformanceMetrics)
			if performance.TTFB > 0 {
				performance.ContentTransferTime = time.Since(start).Milliseconds() - performance.TTFB
			}
		}

		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		resp = &hopResponse{
			statusCode:  r.StatusCode,
			header:      header,
			body:        r.Body,
			performance: performance,
		}
	})

	clone.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- clone.Visit(u.String())
	}()

	select {
	case err := <-done:
		if err != nil {
			f.metricsMap.Delete(u.String())
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	if resp == nil {
		return nil, errors.New("no response received")
	}
	return resp, nil
}

// Get performs a plain GET that follows redirects, reading at most limit bytes.
// Used for robots.txt and sitemaps, which are not part of the crawl.
func (f *Fetcher) Get(ctx context.Context, rawURL string, limit int64) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	return body, resp.StatusCode, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// isTransient reports whether err is worth another attempt. Cancellation of
// the caller's context never is.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "Client.Timeout")
}

func classifyError(ctx context.Context, u util.NormalizedURL, err error) *FetchError {
	kind := FetchErrorNetwork
	var netErr net.Error
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		kind = FetchErrorCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = FetchErrorTimeout
	}
	return &FetchError{Kind: kind, URL: u.String(), Err: err}
}
