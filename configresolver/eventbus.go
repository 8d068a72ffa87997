package configresolver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/log"
)

// ConfigEventKind classifies which config layer changed.
type ConfigEventKind int

const (
	GlobalUpdated ConfigEventKind = iota
	PlatformUpdated
	TemplateUpdated
	EngineUpdated
	StreamerUpdated
)

// ConfigUpdateEvent is published on an invalidation. It is a plain
// comparable struct so the coalescer can dedupe by value.
type ConfigUpdateEvent struct {
	Kind         ConfigEventKind
	PlatformID   string
	TemplateName string
	StreamerID   string
}

// EventBus is a coalescing broadcast channel for ConfigUpdateEvent: a
// short window batches bursts of invalidations so a reload storm
// (e.g. a template edit touching 500 streamers) doesn't wake every
// subscriber 500 times.
type EventBus struct {
	window   time.Duration
	incoming chan ConfigUpdateEvent

	mu   sync.Mutex
	subs []chan ConfigUpdateEvent
}

// NewEventBus builds a bus with the given coalescing window;
// window<=0 uses config.ConfigEventCoalesceWindow.
func NewEventBus(window time.Duration) *EventBus {
	if window <= 0 {
		window = config.ConfigEventCoalesceWindow
	}
	return &EventBus{window: window, incoming: make(chan ConfigUpdateEvent, 256)}
}

// Publish enqueues ev for the next coalescing flush. Never blocks: a
// full backlog drops the event rather than stalling the caller.
func (b *EventBus) Publish(ev ConfigUpdateEvent) {
	select {
	case b.incoming <- ev:
	default:
		log.LogNoRequestID("configresolver: dropping event, bus backlog full", "kind", ev.Kind)
	}
}

// Subscribe returns a channel of coalesced events; the caller should
// keep draining it, since a full subscriber channel drops events.
func (b *EventBus) Subscribe() <-chan ConfigUpdateEvent {
	ch := make(chan ConfigUpdateEvent, 32)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Run drains incoming events, coalescing bursts within window into one
// flush, until ctx is cancelled. Callers typically run this under an
// errgroup alongside Queue.Run.
func (b *EventBus) Run(ctx context.Context) {
	var bucket []ConfigUpdateEvent
	timer := time.NewTimer(b.window)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.incoming:
			bucket = append(bucket, ev)
			if !armed {
				timer.Reset(b.window)
				armed = true
			}
		case <-timer.C:
			armed = false
			b.flush(bucket)
			bucket = nil
		}
	}
}

// flush applies the coalescing rule: a GlobalUpdated anywhere in the
// window supersedes every other event in that flush; otherwise events
// are deduplicated by value, preserving first-seen order.
func (b *EventBus) flush(bucket []ConfigUpdateEvent) {
	if len(bucket) == 0 {
		return
	}
	for _, ev := range bucket {
		if ev.Kind == GlobalUpdated {
			b.deliver([]ConfigUpdateEvent{{Kind: GlobalUpdated}})
			return
		}
	}
	seen := make(map[ConfigUpdateEvent]struct{}, len(bucket))
	deduped := make([]ConfigUpdateEvent, 0, len(bucket))
	for _, ev := range bucket {
		if _, ok := seen[ev]; ok {
			continue
		}
		seen[ev] = struct{}{}
		deduped = append(deduped, ev)
	}
	b.deliver(deduped)
}

// deliver fans events out to every subscriber concurrently; a
// subscriber whose channel is full drops that event rather than
// stalling delivery to everyone else.
func (b *EventBus) deliver(events []ConfigUpdateEvent) {
	b.mu.Lock()
	subs := make([]chan ConfigUpdateEvent, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	g := new(errgroup.Group)
	for _, ch := range subs {
		ch := ch
		g.Go(func() error {
			for _, ev := range events {
				select {
				case ch <- ev:
				default:
					log.LogNoRequestID("configresolver: dropping event, subscriber channel full", "kind", ev.Kind)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
