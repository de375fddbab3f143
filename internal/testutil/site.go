package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Harvey-AU/site-audit/internal/util"
)

// Site is an httptest server that records how often each path is requested.
// Unrouted paths return 404.
type Site struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func NewSite(t *testing.T, routes map[string]http.HandlerFunc) *Site {
	t.Helper()
	site := &Site{hits: make(map[string]int)}
	site.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.hits[r.URL.Path]++
		site.mu.Unlock()

		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(site.Close)
	return site
}

func (s *Site) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// URL returns the normalised absolute URL of path on this site.
func (s *Site) URL(path string) util.NormalizedURL {
	return util.MustNormalize(s.Server.URL + path)
}

// LinkPage serves a minimal HTML page titled with its path and linking to links.
func LinkPage(links ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("<html><head><title>" + r.URL.Path + "</title></head><body>")
		for _, l := range links {
			fmt.Fprintf(&b, `<a href="%s">%s</a>`, l, l)
		}
		b.WriteString("</body></html>")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(b.String()))
	}
}
