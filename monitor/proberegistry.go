package monitor

import (
	"sync"

	"github.com/streamrec/core/scheduler"
)

// ProbeRegistry implements scheduler.ProbeRegistry: a single Detector
// already knows how to probe any platform (it dispatches internally
// through its own Registry by meta.PlatformID), so the only thing left
// to decide per platform is whether the Supervisor should batch that
// platform's streamers through a shared ConcurrentBatchProber or probe
// each one directly.
type ProbeRegistry struct {
	Detector *Detector

	// BatchConcurrency bounds each platform's ConcurrentBatchProber;
	// <= 0 falls back to config.DefaultBatchProbeConcurrency.
	BatchConcurrency int

	mu           sync.Mutex
	batchCapable map[string]bool
	batchProbers map[string]*ConcurrentBatchProber
}

// NewProbeRegistry builds a ProbeRegistry backed by detector. No
// platform is batch-capable until MarkBatchCapable names it.
func NewProbeRegistry(detector *Detector) *ProbeRegistry {
	return &ProbeRegistry{
		Detector:     detector,
		batchCapable: make(map[string]bool),
		batchProbers: make(map[string]*ConcurrentBatchProber),
	}
}

// MarkBatchCapable routes platform's streamers through a shared
// ConcurrentBatchProber instead of one direct Prober each.
func (r *ProbeRegistry) MarkBatchCapable(platform string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchCapable[platform] = true
}

// ProberFor returns Detector for any platform not marked batch
// capable; a batch-capable platform is only ever probed through
// BatchProberFor, so it reports false here.
func (r *ProbeRegistry) ProberFor(platform string) (scheduler.Prober, bool) {
	r.mu.Lock()
	batch := r.batchCapable[platform]
	r.mu.Unlock()
	if batch {
		return nil, false
	}
	return r.Detector, true
}

// BatchProberFor lazily builds and caches one ConcurrentBatchProber per
// batch-capable platform, so every streamer on that platform shares the
// same round-robin batching window.
func (r *ProbeRegistry) BatchProberFor(platform string) (scheduler.BatchProber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.batchCapable[platform] {
		return nil, false
	}
	if bp, ok := r.batchProbers[platform]; ok {
		return bp, true
	}
	bp := &ConcurrentBatchProber{Prober: r.Detector, MaxConcurrency: r.BatchConcurrency}
	r.batchProbers[platform] = bp
	return bp, true
}

var _ scheduler.ProbeRegistry = (*ProbeRegistry)(nil)
