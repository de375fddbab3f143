package jobs

import (
	"sort"
	"sync"

	"github.com/Harvey-AU/site-audit/internal/util"
)

// Disposition is the result of offering a URL to the frontier.
type Disposition int

const (
	Queued Disposition = iota
	AlreadySeen
	OutOfDepth
)

func (d Disposition) String() string {
	switch d {
	case Queued:
		return "queued"
	case AlreadySeen:
		return "seen"
	case OutOfDepth:
		return "out_of_depth"
	default:
		return "unknown"
	}
}

type frontierItem struct {
	URL   util.NormalizedURL
	Depth int
}

// frontier is a level-ordered queue plus the visited set. A URL moves from
// pending (or out of depth) to claimed exactly once, and only claimed URLs
// are fetched.
type frontier struct {
	mu         sync.Mutex
	maxDepth   int
	seen       map[util.NormalizedURL]int // shallowest depth offered
	pending    map[util.NormalizedURL]int
	outOfDepth map[util.NormalizedURL]struct{}
	claimed    map[util.NormalizedURL]struct{}
}

func newFrontier(maxDepth int) *frontier {
	return &frontier{
		maxDepth:   maxDepth,
		seen:       make(map[util.NormalizedURL]int),
		pending:    make(map[util.NormalizedURL]int),
		outOfDepth: make(map[util.NormalizedURL]struct{}),
		claimed:    make(map[util.NormalizedURL]struct{}),
	}
}

// Offer marks u visited and queues it for the level at depth. URLs past the
// depth limit are remembered so they are reported once, and are queued after
// all if the same URL is later offered within the limit.
func (f *frontier) Offer(u util.NormalizedURL, depth int) Disposition {
	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, ok := f.seen[u]; ok {
		if depth >= prev {
			return AlreadySeen
		}
		f.seen[u] = depth
		if _, ok := f.pending[u]; ok {
			f.pending[u] = depth
			return AlreadySeen
		}
		if _, ok := f.outOfDepth[u]; ok && depth <= f.maxDepth {
			delete(f.outOfDepth, u)
			f.pending[u] = depth
			return Queued
		}
		return AlreadySeen
	}

	f.seen[u] = depth
	if depth > f.maxDepth {
		f.outOfDepth[u] = struct{}{}
		return OutOfDepth
	}
	f.pending[u] = depth
	return Queued
}

// NextLevel removes and returns the queued items at the shallowest pending
// depth, ordered by URL. Deeper items stay queued, so every URL at depth d is
// discovered from a page at depth d-1 before any depth-d page is fetched.
func (f *frontier) NextLevel() []frontierItem {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return nil
	}
	shallowest := -1
	for _, d := range f.pending {
		if shallowest < 0 || d < shallowest {
			shallowest = d
		}
	}

	var items []frontierItem
	for u, d := range f.pending {
		if d == shallowest {
			items = append(items, frontierItem{URL: u, Depth: d})
			delete(f.pending, u)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].URL < items[j].URL })
	return items
}

// Claim marks u as fetched. It returns false when u was already claimed,
// either dispatched on its own or reached as a redirect hop of another page.
func (f *frontier) Claim(u util.NormalizedURL, depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.claimed[u]; ok {
		return false
	}
	f.claimed[u] = struct{}{}
	delete(f.pending, u)
	delete(f.outOfDepth, u)
	if prev, ok := f.seen[u]; !ok || depth < prev {
		f.seen[u] = depth
	}
	return true
}

func (f *frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// DepthLimited reports whether any in-scope URL is still refused for depth.
func (f *frontier) DepthLimited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outOfDepth) > 0
}

func (f *frontier) Seen(u util.NormalizedURL) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[u]
	return ok
}
