// Package sitegraph holds the whole-site model built during a crawl: one node
// per NormalizedURL and a reverse link index. Nodes refer to each other only
// by URL, so cycles in the link graph need no special handling.
package sitegraph

import (
	"sort"
	"sync"

	"github.com/Harvey-AU/site-audit/internal/analyzer"
	"github.com/Harvey-AU/site-audit/internal/crawler"
	"github.com/Harvey-AU/site-audit/internal/util"
)

// State is what the crawl learned about a node.
type State int

const (
	Discovered State = iota // linked but not (yet) fetched
	External                // different site, never fetched
	OutOfDepth              // past max depth, never fetched
	Blocked                 // disallowed by robots.txt
	Unreachable             // fetch failed or returned an error status
	Fetched
)

var stateNames = map[State]string{
	Discovered:  "discovered",
	External:    "external",
	OutOfDepth:  "out_of_depth",
	Blocked:     "blocked",
	Unreachable: "unreachable",
	Fetched:     "fetched",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// rank orders states so that a node is never downgraded. A fetch outcome is
// final for the run.
func (s State) rank() int {
	switch s {
	case Discovered:
		return 0
	case External, OutOfDepth:
		return 1
	case Blocked:
		return 2
	default:
		return 3
	}
}

// Node is one URL in the graph. Fetch has its body dropped.
type Node struct {
	URL        util.NormalizedURL   `json:"url"`
	State      State                `json:"state"`
	Depth      int                  `json:"depth"`
	StatusCode int                  `json:"status_code,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Fetch      *crawler.FetchResult `json:"fetch,omitempty"`
	Record     *analyzer.PageRecord `json:"record,omitempty"`
}

// BrokenLink is an internal link whose target could not be fetched.
type BrokenLink struct {
	Source     util.NormalizedURL `json:"source"`
	Target     util.NormalizedURL `json:"target"`
	StatusCode int                `json:"status_code"`
	Reason     string             `json:"reason,omitempty"`
}

// InvalidLink is an href that could not be normalised.
type InvalidLink struct {
	Source util.NormalizedURL `json:"source"`
	Raw    string             `json:"raw"`
	Reason string             `json:"reason"`
}

type urlSet map[util.NormalizedURL]struct{}

// Graph is safe for concurrent use, but the crawl funnels every write through
// a single goroutine and reads happen after it has finished.
type Graph struct {
	mu       sync.RWMutex
	seed     util.NormalizedURL
	nodes    map[util.NormalizedURL]*Node
	outbound map[util.NormalizedURL]urlSet
	inbound  map[util.NormalizedURL]urlSet
}

func New(seed util.NormalizedURL) *Graph {
	return &Graph{
		seed:     seed,
		nodes:    make(map[util.NormalizedURL]*Node),
		outbound: make(map[util.NormalizedURL]urlSet),
		inbound:  make(map[util.NormalizedURL]urlSet),
	}
}

func (g *Graph) Seed() util.NormalizedURL {
	return g.seed
}

// upsert returns the node for u, creating it in state Discovered. Depth only ever decreases.
func (g *Graph) upsert(u util.NormalizedURL, depth int) *Node {
	n, ok := g.nodes[u]
	if !ok {
		n = &Node{URL: u, State: Discovered, Depth: depth}
		g.nodes[u] = n
		return n
	}
	if depth < n.Depth {
		n.Depth = depth
	}
	return n
}

func (g *Graph) transition(n *Node, s State) bool {
	if s.rank() < n.State.rank() {
		return false
	}
	if s.rank() == n.State.rank() && n.State.rank() == 3 && s != n.State {
		// Fetched and Unreachable are both final.
		return false
	}
	n.State = s
	return true
}

// Discover records u as known without changing an existing node's state.
func (g *Graph) Discover(u util.NormalizedURL, depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsert(u, depth)
}

// Insert stores rec as the live record for its URL, superseding any earlier
// record, and replaces that page's outbound edges. Every crawlable link
// target gets at least a placeholder node.
func (g *Graph) Insert(rec *analyzer.PageRecord, fetch *crawler.FetchResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.upsert(rec.URL, rec.Depth)
	n.State = Fetched
	n.Record = rec
	n.StatusCode = rec.StatusCode
	n.Reason = ""
	if fetch != nil {
		n.Fetch = fetch.WithoutBody()
	}

	for target := range g.outbound[rec.URL] {
		if sources := g.inbound[target]; sources != nil {
			delete(sources, rec.URL)
		}
	}

	edges := make(urlSet)
	for _, link := range rec.Links {
		if !link.Crawlable() {
			continue
		}
		edges[link.Target] = struct{}{}
		if g.inbound[link.Target] == nil {
			g.inbound[link.Target] = make(urlSet)
		}
		g.inbound[link.Target][rec.URL] = struct{}{}

		target := g.upsert(link.Target, rec.Depth+1)
		if !link.Internal {
			g.transition(target, External)
		}
	}
	g.outbound[rec.URL] = edges
}

// MarkUnreachable records a failed fetch. A fetched node is left alone.
func (g *Graph) MarkUnreachable(u util.NormalizedURL, depth int, reason string, fetch *crawler.FetchResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.upsert(u, depth)
	if !g.transition(n, Unreachable) {
		return
	}
	n.Reason = reason
	if fetch != nil {
		n.Fetch = fetch.WithoutBody()
		n.StatusCode = fetch.StatusCode
	}
}

func (g *Graph) MarkBlocked(u util.NormalizedURL, depth int, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.upsert(u, depth)
	if g.transition(n, Blocked) {
		n.Reason = reason
	}
}

func (g *Graph) MarkOutOfDepth(u util.NormalizedURL, depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transition(g.upsert(u, depth), OutOfDepth)
}

func (g *Graph) MarkExternal(u util.NormalizedURL, depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transition(g.upsert(u, depth), External)
}

// Get returns the node for u. Callers must not modify it.
func (g *Graph) Get(u util.NormalizedURL) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[u]
	return n, ok
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Nodes returns every node ordered by URL.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedNodes(func(*Node) bool { return true })
}

// Pages returns nodes that have a page record, ordered by URL.
func (g *Graph) Pages() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedNodes(func(n *Node) bool { return n.Record != nil })
}

// Count returns the number of nodes in state s.
func (g *Graph) Count(s State) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	total := 0
	for _, n := range g.nodes {
		if n.State == s {
			total++
		}
	}
	return total
}

func (g *Graph) sortedNodes(keep func(*Node) bool) []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Inbound returns the pages linking to u, excluding u itself, ordered by URL.
func (g *Graph) Inbound(u util.NormalizedURL) []util.NormalizedURL {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.inbound[u], u)
}

// Outbound returns the distinct crawlable link targets of u, ordered by URL.
func (g *Graph) Outbound(u util.NormalizedURL) []util.NormalizedURL {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.outbound[u], "")
}

func sortedKeys(set urlSet, skip util.NormalizedURL) []util.NormalizedURL {
	out := make([]util.NormalizedURL, 0, len(set))
	for u := range set {
		if u != skip {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Orphans returns fetched pages below the seed that no other crawled page links to.
func (g *Graph) Orphans() []util.NormalizedURL {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []util.NormalizedURL
	for u, n := range g.nodes {
		if n.State != Fetched || n.Depth == 0 || u == g.seed {
			continue
		}
		if len(sortedKeys(g.inbound[u], u)) == 0 {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BrokenLinks returns every link whose target is unreachable, ordered by source then target.
func (g *Graph) BrokenLinks() []BrokenLink {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []BrokenLink
	for source, targets := range g.outbound {
		for target := range targets {
			n, ok := g.nodes[target]
			if !ok || n.State != Unreachable {
				continue
			}
			out = append(out, BrokenLink{
				Source:     source,
				Target:     target,
				StatusCode: n.StatusCode,
				Reason:     n.Reason,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// InvalidLinks returns malformed hrefs found on fetched pages.
func (g *Graph) InvalidLinks() []InvalidLink {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []InvalidLink
	for _, n := range g.sortedNodes(func(n *Node) bool { return n.Record != nil }) {
		for _, link := range n.Record.Links {
			if link.Invalid {
				out = append(out, InvalidLink{Source: n.URL, Raw: link.Raw, Reason: link.InvalidReason})
			}
		}
	}
	return out
}
