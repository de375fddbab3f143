package util

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	// ErrUnsupportedScheme is returned for anything other than http and https.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	// ErrMalformedURL is returned when the input cannot be parsed into an absolute URL.
	ErrMalformedURL = errors.New("malformed url")
)

// NormalizationError describes a URL that could not be turned into a crawl target.
type NormalizationError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalise %q: %s", e.Raw, e.Reason)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// NormalizedURL is the canonical string form of an http(s) URL. It is the
// dedup key for the crawl and the node identity in the site graph.
type NormalizedURL string

func (n NormalizedURL) String() string {
	return string(n)
}

// URL parses the normalised form. The error is ignored because a
// NormalizedURL only ever comes out of Normalize.
func (n NormalizedURL) URL() *url.URL {
	u, _ := url.Parse(string(n))
	if u == nil {
		return &url.URL{}
	}
	return u
}

// Host returns the lower-cased host including any non-default port.
func (n NormalizedURL) Host() string {
	return n.URL().Host
}

// Hostname returns the host without port.
func (n NormalizedURL) Hostname() string {
	return n.URL().Hostname()
}

// Origin returns scheme://host.
func (n NormalizedURL) Origin() string {
	u := n.URL()
	return u.Scheme + "://" + u.Host
}

func (n NormalizedURL) Path() string {
	return n.URL().Path
}

// RequestURI returns the escaped path and query, as matched by robots.txt rules.
func (n NormalizedURL) RequestURI() string {
	return n.URL().RequestURI()
}

// Normalize resolves raw against base (which may be empty when raw is
// absolute) and returns its canonical form: lower-cased scheme and host, no
// default port, no user info, no fragment, dot segments and duplicate slashes
// collapsed, query parameters sorted by key then value, and no trailing slash
// except on the root path.
func Normalize(raw, base string) (NormalizedURL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &NormalizationError{Raw: raw, Reason: "empty url", Err: ErrMalformedURL}
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return "", &NormalizationError{Raw: raw, Reason: err.Error(), Err: ErrMalformedURL}
	}

	if base != "" && !ref.IsAbs() {
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil || !baseURL.IsAbs() {
			return "", &NormalizationError{Raw: raw, Reason: "invalid base url", Err: ErrMalformedURL}
		}
		ref = baseURL.ResolveReference(ref)
	}

	scheme := strings.ToLower(ref.Scheme)
	if scheme == "" {
		return "", &NormalizationError{Raw: raw, Reason: "relative url without base", Err: ErrMalformedURL}
	}
	if scheme != "http" && scheme != "https" {
		return "", &NormalizationError{Raw: raw, Reason: "scheme " + scheme + " is not crawlable", Err: ErrUnsupportedScheme}
	}
	if ref.Opaque != "" || ref.Host == "" {
		return "", &NormalizationError{Raw: raw, Reason: "missing host", Err: ErrMalformedURL}
	}

	host := normaliseHostPort(strings.ToLower(ref.Host), scheme)
	if strings.HasSuffix(host, ":") {
		host = strings.TrimSuffix(host, ":")
	}

	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     normalisePath(ref.Path),
		RawQuery: sortQuery(ref.RawQuery),
	}
	return NormalizedURL(out.String()), nil
}

// MustNormalize is Normalize for literals in tests and defaults.
func MustNormalize(raw string) NormalizedURL {
	n, err := Normalize(raw, "")
	if err != nil {
		panic(err)
	}
	return n
}

func normalisePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "/"
	}
	return strings.TrimSuffix(cleaned, "/")
}

func sortQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// Keep whatever parsed; a broken pair is dropped rather than failing the link.
		if len(values) == 0 {
			return ""
		}
	}
	for key := range values {
		sort.Strings(values[key])
	}
	// Encode sorts by key.
	return values.Encode()
}

// SameSite reports whether two hosts belong to the same registrable domain,
// ignoring a leading www. Hosts without a public suffix (IPs, localhost)
// must match exactly.
func SameSite(a, b string) bool {
	a = strings.ToLower(stripPort(a))
	b = strings.ToLower(stripPort(b))
	if a == b {
		return true
	}
	if net.ParseIP(a) != nil || net.ParseIP(b) != nil {
		return false
	}
	da, errA := publicsuffix.EffectiveTLDPlusOne(a)
	db, errB := publicsuffix.EffectiveTLDPlusOne(b)
	if errA != nil || errB != nil {
		return NormaliseDomain(a) == NormaliseDomain(b)
	}
	return da == db
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// NormaliseDomain removes http/https prefix and www. from domain
func NormaliseDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "www.")
	domain = strings.TrimSuffix(domain, "/")

	return domain
}

// normaliseHostPort removes default ports (80 for HTTP, 443 for HTTPS) from host.
func normaliseHostPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// IsSignificantRedirect checks if a redirect URL is meaningfully different from the original.
// Only the host and path are compared; query parameters and fragments are ignored.
// Returns false for trivial redirects like:
//   - HTTP to HTTPS on same domain/path
//   - www to non-www (or vice versa) on same path
//   - Trailing slash differences
//   - Default port differences (e.g., :443 for HTTPS, :80 for HTTP)
//
// Returns true for redirects to different domains or different paths.
func IsSignificantRedirect(originalURL, redirectURL string) bool {
	if redirectURL == "" {
		return false
	}

	origParsed, origErr := url.Parse(originalURL)
	redirParsed, redirErr := url.Parse(redirectURL)
	if origErr != nil || redirErr != nil {
		return true
	}

	origHost := normaliseHostPort(origParsed.Host, origParsed.Scheme)
	origHost = strings.ToLower(strings.TrimPrefix(origHost, "www."))
	redirHost := normaliseHostPort(redirParsed.Host, redirParsed.Scheme)
	redirHost = strings.ToLower(strings.TrimPrefix(redirHost, "www."))
	if origHost != redirHost {
		return true
	}

	origPath := origParsed.Path
	redirPath := redirParsed.Path
	if origPath == "" {
		origPath = "/"
	}
	if redirPath == "" {
		redirPath = "/"
	}
	if len(origPath) > 1 {
		origPath = strings.TrimSuffix(origPath, "/")
	}
	if len(redirPath) > 1 {
		redirPath = strings.TrimSuffix(redirPath, "/")
	}

	return origPath != redirPath
}
