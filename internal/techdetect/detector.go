// Package techdetect fingerprints the technologies behind a page using
// wappalyzergo. The audit uses it to tell whether the site sits behind a CDN.
package techdetect

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"

	"github.com/Harvey-AU/site-audit/internal/crawler"
)

// CategoryCDN is the wappalyzer category name for content delivery networks.
const CategoryCDN = "CDN"

// Result maps technology name to its categories (e.g., {"Cloudflare": ["CDN"]})
type Result struct {
	Technologies map[string][]string `json:"technologies"`
}

// Detector provides technology detection capabilities
type Detector struct {
	client *wappalyzer.Wappalyze
	mu     sync.RWMutex
}

var categoryNames map[int]string
var categoryNamesOnce sync.Once

// New loads the fingerprint database.
func New() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		for id, cat := range wappalyzer.GetCategoriesMapping() {
			categoryNames[id] = cat.Name
		}
	})

	return &Detector{client: client}, nil
}

// Detect identifies technologies from HTTP headers and body
func (d *Detector) Detect(headers http.Header, body []byte) *Result {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := &Result{Technologies: make(map[string][]string)}
	if headers == nil {
		headers = make(http.Header)
	}

	for tech, catInfo := range d.client.FingerprintWithCats(headers, body) {
		categories := make([]string, 0, len(catInfo.Cats))
		for _, catID := range catInfo.Cats {
			if name, ok := categoryNames[catID]; ok {
				categories = append(categories, name)
			}
		}
		sort.Strings(categories)
		result.Technologies[tech] = categories
	}

	log.Debug().
		Int("tech_count", len(result.Technologies)).
		Strs("technologies", result.Names()).
		Msg("Technology detection completed")

	return result
}

// DetectFetch fingerprints a fetched page from its kept headers and body.
func (d *Detector) DetectFetch(res *crawler.FetchResult) *Result {
	if res == nil {
		return &Result{Technologies: make(map[string][]string)}
	}
	return d.Detect(res.Header, res.Body)
}

// Names returns the detected technology names, sorted.
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.Technologies))
	for name := range r.Technologies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithCategory returns the sorted names of technologies in category.
func (r *Result) WithCategory(category string) []string {
	var names []string
	for name, cats := range r.Technologies {
		for _, c := range cats {
			if strings.EqualFold(c, category) {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

func (r *Result) HasCDN() bool {
	return len(r.WithCategory(CategoryCDN)) > 0
}

// TechnologiesJSON returns the technologies as JSON for database storage
func (r *Result) TechnologiesJSON() ([]byte, error) {
	return json.Marshal(r.Technologies)
}
