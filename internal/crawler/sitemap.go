package crawler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/site-audit/internal/util"
)

// maxSitemapSize caps a single sitemap document (the protocol limit is 50MB uncompressed).
const maxSitemapSize = 50 * 1024 * 1024

// SitemapEntry is one <url> of a urlset.
type SitemapEntry struct {
	Loc     util.NormalizedURL `json:"loc"`
	LastMod string             `json:"lastmod,omitempty"`
}

// SitemapResult is everything collected from a site's sitemaps.
type SitemapResult struct {
	Found   bool           `json:"found"`
	Sources []string       `json:"sources"`
	Entries []SitemapEntry `json:"entries"`
}

// URLs returns the entry locations in document order.
func (r *SitemapResult) URLs() []util.NormalizedURL {
	out := make([]util.NormalizedURL, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.Loc)
	}
	return out
}

type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc     string `xml:"loc"`
		LastMod string `xml:"lastmod"`
	} `xml:"url"`
}

// DiscoverSitemaps returns the sitemap locations declared in robots.txt, or
// the conventional locations under origin when robots.txt declares none.
func DiscoverSitemaps(origin string, robots *RobotsRules) []string {
	var candidates []string
	if robots != nil && len(robots.Sitemaps) > 0 {
		candidates = robots.Sitemaps
		log.Debug().
			Strs("sitemaps", candidates).
			Msg("Sitemaps found in robots.txt")
	} else {
		base := strings.TrimSuffix(origin, "/")
		candidates = []string{base + "/sitemap.xml", base + "/sitemap_index.xml"}
	}

	seen := make(map[string]bool)
	var unique []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		unique = append(unique, c)
	}
	return unique
}

// LoadSitemaps discovers and parses every sitemap for origin. A sitemap that
// fails to load is skipped; Found is true when at least one parsed.
func (f *Fetcher) LoadSitemaps(ctx context.Context, origin string, robots *RobotsRules) *SitemapResult {
	result := &SitemapResult{Sources: []string{}, Entries: []SitemapEntry{}}
	seen := make(map[util.NormalizedURL]bool)

	for _, sitemapURL := range DiscoverSitemaps(origin, robots) {
		entries, err := f.ParseSitemap(ctx, sitemapURL)
		if err != nil {
			log.Debug().
				Err(err).
				Str("url", sitemapURL).
				Msg("Sitemap not usable")
			continue
		}

		result.Found = true
		result.Sources = append(result.Sources, sitemapURL)
		for _, e := range entries {
			if seen[e.Loc] {
				continue
			}
			seen[e.Loc] = true
			result.Entries = append(result.Entries, e)
			if f.config.MaxSitemapURLs > 0 && len(result.Entries) >= f.config.MaxSitemapURLs {
				log.Warn().
					Int("limit", f.config.MaxSitemapURLs).
					Msg("Sitemap URL limit reached, ignoring remaining entries")
				return result
			}
		}
	}

	log.Info().
		Str("origin", origin).
		Bool("found", result.Found).
		Int("url_count", len(result.Entries)).
		Msg("Sitemap discovery finished")

	return result
}

// ParseSitemap extracts URLs from a sitemap, following sitemap indexes up to
// the configured depth. Gzipped sitemaps are accepted.
func (f *Fetcher) ParseSitemap(ctx context.Context, sitemapURL string) ([]SitemapEntry, error) {
	return f.parseSitemap(ctx, sitemapURL, 0)
}

func (f *Fetcher) parseSitemap(ctx context.Context, sitemapURL string, depth int) ([]SitemapEntry, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.config.RobotsTimeout)
	body, status, err := f.Get(fetchCtx, sitemapURL, maxSitemapSize)
	cancel()
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch sitemap: %d", status)
	}

	body, err = maybeGunzip(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress sitemap %s: %w", sitemapURL, err)
	}

	if bytes.Contains(body, []byte("<sitemapindex")) {
		if depth >= f.config.MaxSitemapDepth {
			return nil, fmt.Errorf("sitemap index nesting exceeds %d", f.config.MaxSitemapDepth)
		}

		var index sitemapIndex
		if err := xml.Unmarshal(body, &index); err != nil {
			return nil, fmt.Errorf("invalid sitemap index %s: %w", sitemapURL, err)
		}

		var entries []SitemapEntry
		for _, child := range index.Sitemaps {
			childURL, err := util.Normalize(child.Loc, sitemapURL)
			if err != nil {
				log.Warn().Str("url", child.Loc).Msg("Invalid child sitemap URL, skipping")
				continue
			}
			childEntries, err := f.parseSitemap(ctx, childURL.String(), depth+1)
			if err != nil {
				log.Warn().Err(err).Str("url", childURL.String()).Msg("Failed to parse child sitemap")
				continue
			}
			entries = append(entries, childEntries...)
		}
		return entries, nil
	}

	var set urlSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("invalid sitemap %s: %w", sitemapURL, err)
	}

	entries := make([]SitemapEntry, 0, len(set.URLs))
	for _, u := range set.URLs {
		loc, err := util.Normalize(u.Loc, sitemapURL)
		if err != nil {
			log.Debug().Str("invalid_url", u.Loc).Msg("Skipping invalid URL from sitemap")
			continue
		}
		entries = append(entries, SitemapEntry{Loc: loc, LastMod: strings.TrimSpace(u.LastMod)})
	}

	log.Debug().
		Str("sitemap_url", sitemapURL).
		Int("url_count", len(entries)).
		Msg("Extracted valid URLs from regular sitemap")

	return entries, nil
}

func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxSitemapSize))
}
