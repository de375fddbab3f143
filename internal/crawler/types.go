package crawler

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/Harvey-AU/site-audit/internal/util"
)

var (
	ErrRedirectLoop         = errors.New("redirect loop")
	ErrRedirectChainTooLong = errors.New("redirect chain too long")
	ErrInvalidRedirect      = errors.New("invalid redirect target")
	ErrContentType          = errors.New("unparseable content type")
)

// FetchErrorKind classifies why a fetch did not produce a usable response.
type FetchErrorKind string

const (
	FetchErrorNetwork         FetchErrorKind = "network"
	FetchErrorTimeout         FetchErrorKind = "timeout"
	FetchErrorCancelled       FetchErrorKind = "cancelled"
	FetchErrorContentType     FetchErrorKind = "content_type"
	FetchErrorRedirectLoop    FetchErrorKind = "redirect_loop"
	FetchErrorRedirectTooLong FetchErrorKind = "redirect_chain_too_long"
	FetchErrorInvalidRedirect FetchErrorKind = "invalid_redirect"
)

// FetchError is carried on a FetchResult; the fetcher never returns it as a Go error.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// RedirectStatus summarises how a redirect chain ended.
type RedirectStatus string

const (
	RedirectNone         RedirectStatus = ""
	RedirectFollowed     RedirectStatus = "followed"
	RedirectLoop         RedirectStatus = "loop"
	RedirectChainTooLong RedirectStatus = "too_long"
)

// RedirectHop is one 3xx response in a chain.
type RedirectHop struct {
	From       util.NormalizedURL `json:"from"`
	To         util.NormalizedURL `json:"to"`
	StatusCode int                `json:"status_code"`
}

// PerformanceMetrics holds httptrace timings for the final request of a fetch.
type PerformanceMetrics struct {
	DNSLookupTime       int64 `json:"dns_lookup_time"`
	TCPConnectionTime   int64 `json:"tcp_connection_time"`
	TLSHandshakeTime    int64 `json:"tls_handshake_time"`
	TTFB                int64 `json:"ttfb"`
	ContentTransferTime int64 `json:"content_transfer_time"`
}

// FetchResult is the outcome of one Fetch call. It is not modified after Fetch returns.
type FetchResult struct {
	Target         util.NormalizedURL `json:"target"`
	FinalURL       util.NormalizedURL `json:"final_url"`
	Redirects      []RedirectHop      `json:"redirects,omitempty"`
	RedirectStatus RedirectStatus     `json:"redirect_status,omitempty"`
	StatusCode     int                `json:"status_code"`
	Header         http.Header        `json:"header,omitempty"`
	ContentType    string             `json:"content_type"`
	ContentLength  int64              `json:"content_length"`
	Body           []byte             `json:"-"`
	Elapsed        time.Duration      `json:"elapsed"`
	Performance    PerformanceMetrics `json:"performance"`
	Attempts       int                `json:"attempts"`
	FetchedAt      time.Time          `json:"fetched_at"`
	Err            *FetchError        `json:"-"`
}

// keptHeaders is the response header subset retained on a FetchResult.
var keptHeaders = []string{
	"Content-Type",
	"Content-Length",
	"X-Robots-Tag",
	"Strict-Transport-Security",
	"Server",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"Content-Security-Policy",
	// CDN and platform fingerprints
	"Via",
	"X-Cache",
	"X-Powered-By",
	"X-Served-By",
	"CF-Ray",
	"CF-Cache-Status",
	"X-Amz-Cf-Id",
	"X-Vercel-Id",
}

func subsetHeaders(h http.Header) http.Header {
	out := make(http.Header, len(keptHeaders))
	for _, name := range keptHeaders {
		if v := h.Values(name); len(v) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), v...)
		}
	}
	return out
}

// OK reports whether the fetch produced a final 2xx response.
func (r *FetchResult) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Failed reports whether the target should be treated as unreachable.
func (r *FetchResult) Failed() bool {
	return r.Err != nil || r.StatusCode == 0 || r.StatusCode >= 400
}

// MediaType returns the lower-cased media type, sniffing the body when the
// header is missing.
func (r *FetchResult) MediaType() string {
	if r.ContentType == "" {
		if len(r.Body) == 0 {
			return ""
		}
		sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(r.Body))
		return sniffed
	}
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}

// IsHTML reports whether the body should go to the page analyzer.
func (r *FetchResult) IsHTML() bool {
	switch r.MediaType() {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

// WithoutBody returns a shallow copy with the body dropped, for long-lived storage.
func (r *FetchResult) WithoutBody() *FetchResult {
	cp := *r
	cp.Body = nil
	return &cp
}

// ErrorString is the error text or empty.
func (r *FetchResult) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
