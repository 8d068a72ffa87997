package jobqueue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/streamrec/core/log"
)

// ThrottleEventKind distinguishes the two backpressure notifications the
// controller emits.
type ThrottleEventKind string

const (
	ThrottleActivated   ThrottleEventKind = "activated"
	ThrottleDeactivated ThrottleEventKind = "deactivated"
)

// ThrottleEvent is published whenever the controller's throttled state
// flips; only the fields relevant to Kind are populated.
type ThrottleEvent struct {
	Kind ThrottleEventKind

	QueueDepth int

	// Activated
	NewLimit      int
	OriginalLimit int

	// Deactivated
	RestoredLimit int
}

// Throttleable is the subset of Pool the controller needs; satisfied by
// *Pool directly, so tests can swap in a fake without running a real
// pool.
type Throttleable interface {
	Depth() int
	Limit() int
	OriginalLimit() int
	SetLimit(n int)
}

// ThrottleController samples a Pool's queue depth on an interval and
// reduces/restores its concurrency limit with hysteresis: a critical
// threshold triggers a reduction, a lower warning threshold triggers a
// restore, and the band between the two is intentionally inert so normal
// queue-depth noise never flaps the limit back and forth.
type ThrottleController struct {
	Pool               Throttleable
	CheckInterval      time.Duration
	ReductionFactor    float64
	CriticalThreshold  int
	WarningThreshold   int
	Disabled           bool
	OnEvent            func(ThrottleEvent)

	throttled atomic.Bool
}

// Run samples on CheckInterval until ctx is cancelled. A disabled
// controller never samples and never emits, per "if disabled in config,
// never emits".
func (c *ThrottleController) Run(ctx context.Context) {
	if c.Disabled {
		return
	}
	interval := c.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *ThrottleController) sample() {
	depth := c.Pool.Depth()
	switch {
	case depth > c.CriticalThreshold && !c.throttled.Load():
		original := c.Pool.OriginalLimit()
		factor := c.ReductionFactor
		if factor <= 0 || factor >= 1 {
			factor = 0.5
		}
		newLimit := int(float64(original) * factor)
		if newLimit < 1 {
			newLimit = 1
		}
		c.Pool.SetLimit(newLimit)
		c.throttled.Store(true)
		log.LogNoRequestID("jobqueue: throttle activated", "queue_depth", depth, "new_limit", newLimit, "original_limit", original)
		c.emit(ThrottleEvent{Kind: ThrottleActivated, QueueDepth: depth, NewLimit: newLimit, OriginalLimit: original})
	case depth < c.WarningThreshold && c.throttled.Load():
		restored := c.Pool.OriginalLimit()
		c.Pool.SetLimit(restored)
		c.throttled.Store(false)
		log.LogNoRequestID("jobqueue: throttle deactivated", "queue_depth", depth, "restored_limit", restored)
		c.emit(ThrottleEvent{Kind: ThrottleDeactivated, QueueDepth: depth, RestoredLimit: restored})
	}
}

func (c *ThrottleController) emit(ev ThrottleEvent) {
	if c.OnEvent != nil {
		c.OnEvent(ev)
	}
}

// Throttled reports the controller's current state; exposed for tests
// and for a status endpoint to surface without needing the event stream.
func (c *ThrottleController) Throttled() bool {
	return c.throttled.Load()
}
