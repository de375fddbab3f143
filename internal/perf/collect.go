package perf

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Harvey-AU/site-audit/internal/util"
)

// collectConcurrency bounds parallel provider calls; lab runs are slow and quota bound.
const collectConcurrency = 2

// Collect asks p for metrics on at most limit of urls, in order. Pages the
// provider has nothing for are left out of the result; other errors are
// logged and skipped. A nil provider or a non-positive limit yields an
// empty map.
func Collect(ctx context.Context, p Provider, urls []util.NormalizedURL, device Device, limit int) map[util.NormalizedURL]Metrics {
	out := make(map[util.NormalizedURL]Metrics)
	if p == nil || limit <= 0 || len(urls) == 0 {
		return out
	}
	if len(urls) > limit {
		urls = urls[:limit]
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectConcurrency)

	for _, u := range urls {
		g.Go(func() error {
			m, err := p.GetMetrics(gctx, u, device)
			if err != nil {
				if errors.Is(err, ErrUnavailable) {
					log.Debug().Str("url", u.String()).Err(err).Msg("No performance metrics for page")
				} else {
					log.Warn().Str("url", u.String()).Err(err).Msg("Performance metrics request failed")
				}
				return nil
			}
			mu.Lock()
			out[u] = m
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Int("requested", len(urls)).
		Int("received", len(out)).
		Msg("Collected performance metrics")
	return out
}
