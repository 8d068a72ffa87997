package monitor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/scheduler"
)

// ConcurrentBatchProber adapts any scheduler.Prober into a
// scheduler.BatchProber by fanning a batch out into bounded-concurrency
// individual probes. No platform in this corpus exposes a genuine
// combined-request status API, so this is the only BatchProber most
// platforms get — PlatformActor still gets to batch its pending
// requests and amortize its flush timer, even though the prober itself
// makes one request per streamer.
type ConcurrentBatchProber struct {
	Prober scheduler.Prober

	// MaxConcurrency bounds how many probes run at once; defaults to
	// config.DefaultBatchProbeConcurrency when <= 0.
	MaxConcurrency int
}

// ProbeBatch runs one Probe per item, bounded to MaxConcurrency at a
// time, and collects every result — including per-item errors, which
// never abort sibling probes in the same batch.
func (b *ConcurrentBatchProber) ProbeBatch(ctx context.Context, items []scheduler.BatchProbeItem) map[string]scheduler.BatchProbeResult {
	results := make(map[string]scheduler.BatchProbeResult, len(items))
	if len(items) == 0 {
		return results
	}

	limit := b.MaxConcurrency
	if limit <= 0 {
		limit = config.DefaultBatchProbeConcurrency
	}

	var mu sync.Mutex
	sem := make(chan struct{}, limit)
	g, gctx := errgroup.WithContext(ctx)

	for _, it := range items {
		item := it
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			status, err := b.Prober.Probe(gctx, item.Meta, item.Cfg)
			mu.Lock()
			results[item.StreamerID] = scheduler.BatchProbeResult{Status: status, Err: err}
			mu.Unlock()
			// Never propagate a per-item error through the errgroup: one
			// failing streamer must not cancel its siblings' probes.
			return nil
		})
	}
	_ = g.Wait()

	return results
}
