package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DomainLimiterConfig controls per-host pacing and adaptive throttling.
type DomainLimiterConfig struct {
	BaseDelay             time.Duration // spacing used when robots.txt sets no Crawl-delay
	DelayStep             time.Duration // added on each rate-limited response
	SuccessProbeThreshold int           // successes before stepping the delay back down
	MaxAdaptiveDelay      time.Duration
	PerHostConcurrency    int
}

// DefaultDomainLimiterConfig returns conservative defaults.
func DefaultDomainLimiterConfig() DomainLimiterConfig {
	return DomainLimiterConfig{
		BaseDelay:             200 * time.Millisecond,
		DelayStep:             time.Second,
		SuccessProbeThreshold: 20,
		MaxAdaptiveDelay:      60 * time.Second,
		PerHostConcurrency:    2,
	}
}

// DomainLimiter coordinates request pacing across workers for each host.
// Fetch starts against one host are spaced by at least its delay and at most
// PerHostConcurrency fetches run against it at once. Hosts are independent.
type DomainLimiter struct {
	cfg DomainLimiterConfig

	mu      sync.Mutex
	domains map[string]*domainState
}

// DomainPermit is returned by Acquire and must be released after the request completes.
type DomainPermit struct {
	domain string
	state  *domainState
	cfg    DomainLimiterConfig
}

type domainState struct {
	mu            sync.Mutex
	limiter       *rate.Limiter
	sem           *semaphore.Weighted
	baseDelay     time.Duration
	adaptiveDelay time.Duration
	successStreak int
}

// NewDomainLimiter creates a limiter; non-positive concurrency is treated as 1.
func NewDomainLimiter(cfg DomainLimiterConfig) *DomainLimiter {
	if cfg.PerHostConcurrency <= 0 {
		cfg.PerHostConcurrency = 1
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	return &DomainLimiter{
		cfg:     cfg,
		domains: make(map[string]*domainState),
	}
}

func everyDelay(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

func (dl *DomainLimiter) getOrCreateState(domain string) *domainState {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if state, ok := dl.domains[domain]; ok {
		return state
	}

	state := &domainState{
		limiter:       rate.NewLimiter(everyDelay(dl.cfg.BaseDelay), 1),
		sem:           semaphore.NewWeighted(int64(dl.cfg.PerHostConcurrency)),
		baseDelay:     dl.cfg.BaseDelay,
		adaptiveDelay: dl.cfg.BaseDelay,
	}
	dl.domains[domain] = state
	return state
}

// UpdateRobotsDelay raises the host's base delay to a robots.txt Crawl-delay.
// A delay below the configured default is ignored.
func (dl *DomainLimiter) UpdateRobotsDelay(domain string, delay time.Duration) {
	state := dl.getOrCreateState(domain)
	state.mu.Lock()
	defer state.mu.Unlock()

	if delay <= state.baseDelay {
		return
	}
	if delay > dl.cfg.MaxAdaptiveDelay {
		delay = dl.cfg.MaxAdaptiveDelay
	}
	state.baseDelay = delay
	if state.adaptiveDelay < delay {
		state.adaptiveDelay = delay
		state.limiter.SetLimit(everyDelay(delay))
	}
}

// Delay returns the spacing currently enforced for domain.
func (dl *DomainLimiter) Delay(domain string) time.Duration {
	state := dl.getOrCreateState(domain)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.adaptiveDelay
}

// Acquire waits for a concurrency slot and for the host's next start time.
func (dl *DomainLimiter) Acquire(ctx context.Context, domain string) (*DomainPermit, error) {
	state := dl.getOrCreateState(domain)

	if err := state.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := state.limiter.Wait(ctx); err != nil {
		state.sem.Release(1)
		return nil, err
	}

	return &DomainPermit{domain: domain, state: state, cfg: dl.cfg}, nil
}

// Release returns the slot. A rate-limited response (429/503) steps the
// host's delay up; a run of successes steps it back towards the base delay.
func (p *DomainPermit) Release(rateLimited bool) {
	if p == nil || p.state == nil {
		return
	}
	state := p.state
	state.sem.Release(1)

	state.mu.Lock()
	defer state.mu.Unlock()

	if rateLimited {
		state.successStreak = 0
		next := state.adaptiveDelay + p.cfg.DelayStep
		if next > p.cfg.MaxAdaptiveDelay {
			next = p.cfg.MaxAdaptiveDelay
		}
		if next != state.adaptiveDelay {
			state.adaptiveDelay = next
			state.limiter.SetLimit(everyDelay(next))
			log.Warn().
				Str("domain", p.domain).
				Dur("delay", next).
				Msg("Host is rate limiting, increasing delay")
		}
		return
	}

	state.successStreak++
	if state.successStreak < p.cfg.SuccessProbeThreshold || state.adaptiveDelay <= state.baseDelay {
		return
	}
	state.successStreak = 0
	next := state.adaptiveDelay - p.cfg.DelayStep
	if next < state.baseDelay {
		next = state.baseDelay
	}
	state.adaptiveDelay = next
	state.limiter.SetLimit(everyDelay(next))
	log.Debug().
		Str("domain", p.domain).
		Dur("delay", next).
		Msg("Reducing host delay after successful requests")
}
