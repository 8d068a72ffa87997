package scheduler

import (
	"context"
	"time"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
)

// BatchProbeItem is one streamer queued into a batch round.
type BatchProbeItem struct {
	StreamerID string
	Meta       model.StreamerMetadata
	Cfg        model.MergedConfig
}

// BatchProbeResult is one streamer's outcome within a batch round;
// partial failures are expected and mapped back per streamer.
type BatchProbeResult struct {
	Status model.LiveStatus
	Err    error
}

// BatchProber probes every queued streamer for one platform in a
// single round trip. Implemented by package monitor.
type BatchProber interface {
	ProbeBatch(ctx context.Context, items []BatchProbeItem) map[string]BatchProbeResult
}

type platformMsgKind int

const (
	platformMsgRequestCheck platformMsgKind = iota
	platformMsgConfigUpdate
	platformMsgStop
	platformMsgGetState
)

type pendingRequest struct {
	streamerID string
	meta       model.StreamerMetadata
	cfg        model.MergedConfig
	replyTo    chan<- streamerMessage
}

// PlatformActorState is a snapshot for GetState.
type PlatformActorState struct {
	PendingCount int
	LastFlush    time.Time
}

type platformMessage struct {
	kind  platformMsgKind
	req   pendingRequest
	cfg   model.MergedConfig
	reply chan PlatformActorState
}

// PlatformActor buffers RequestCheck messages for one batch-capable
// platform and flushes a batch when either BatchWindow has elapsed
// since the first queued request or MaxBatchSize is reached.
type PlatformActor struct {
	Platform     string
	Prober       BatchProber
	BatchWindow  time.Duration
	MaxBatchSize int

	mailbox chan platformMessage
	stopped chan struct{}

	cfg       model.MergedConfig
	lastFlush time.Time
}

// NewPlatformActor constructs a batching coordinator for one platform.
func NewPlatformActor(platform string, prober BatchProber, cfg model.MergedConfig) *PlatformActor {
	window := cfg.BatchWindow
	if window <= 0 {
		window = config.DefaultBatchWindow
	}
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = config.DefaultMaxBatchSize
	}
	return &PlatformActor{
		Platform:     platform,
		Prober:       prober,
		BatchWindow:  window,
		MaxBatchSize: maxBatch,
		mailbox:      make(chan platformMessage, config.DefaultActorMailboxSize),
		stopped:      make(chan struct{}),
		cfg:          cfg,
	}
}

// requestCheck queues streamerID into the current batch; the result is
// delivered asynchronously to replyTo as a msgBatchResult, matching
// §4.1's RequestCheck/BatchResult mailbox round trip rather than a
// blocking call.
func (p *PlatformActor) requestCheck(streamerID string, meta model.StreamerMetadata, cfg model.MergedConfig, replyTo chan<- streamerMessage) {
	msg := platformMessage{kind: platformMsgRequestCheck, req: pendingRequest{streamerID: streamerID, meta: meta, cfg: cfg, replyTo: replyTo}}
	select {
	case p.mailbox <- msg:
	case <-p.stopped:
	}
}

// UpdateConfig delivers a freshly resolved MergedConfig (batch window
// and max batch size take effect on the next flush decision).
func (p *PlatformActor) UpdateConfig(cfg model.MergedConfig) {
	select {
	case p.mailbox <- platformMessage{kind: platformMsgConfigUpdate, cfg: cfg}:
	case <-p.stopped:
	}
}

// Stop asks the actor to exit its run loop, failing any still-queued
// requests with context.Canceled.
func (p *PlatformActor) Stop() {
	select {
	case p.mailbox <- platformMessage{kind: platformMsgStop}:
	case <-p.stopped:
	}
}

// GetState returns a snapshot of the actor's batching state.
func (p *PlatformActor) GetState(ctx context.Context) (PlatformActorState, error) {
	reply := make(chan PlatformActorState, 1)
	select {
	case p.mailbox <- platformMessage{kind: platformMsgGetState, reply: reply}:
	case <-p.stopped:
		return PlatformActorState{}, context.Canceled
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return PlatformActorState{}, ctx.Err()
	}
}

// Run is the actor's cooperative message loop; call it in its own
// goroutine.
func (p *PlatformActor) Run(ctx context.Context) {
	defer close(p.stopped)

	var (
		pending []pendingRequest
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			p.failPending(pending, ctx.Err())
			return

		case msg := <-p.mailbox:
			switch msg.kind {
			case platformMsgStop:
				p.failPending(pending, context.Canceled)
				return
			case platformMsgConfigUpdate:
				p.cfg = msg.cfg
				if msg.cfg.BatchWindow > 0 {
					p.BatchWindow = msg.cfg.BatchWindow
				}
				if msg.cfg.MaxBatchSize > 0 {
					p.MaxBatchSize = msg.cfg.MaxBatchSize
				}
			case platformMsgGetState:
				msg.reply <- PlatformActorState{PendingCount: len(pending), LastFlush: p.lastFlush}
			case platformMsgRequestCheck:
				pending = append(pending, msg.req)
				if timer == nil {
					timer = time.NewTimer(p.BatchWindow)
					timerC = timer.C
				}
				if len(pending) >= p.MaxBatchSize {
					p.flush(ctx, pending)
					pending = nil
					stopTimer()
				}
			}

		case <-timerC:
			p.flush(ctx, pending)
			pending = nil
			stopTimer()
		}
	}
}

func (p *PlatformActor) flush(ctx context.Context, pending []pendingRequest) {
	if len(pending) == 0 {
		return
	}
	p.lastFlush = config.Clock.GetTime()

	items := make([]BatchProbeItem, len(pending))
	for i, req := range pending {
		items[i] = BatchProbeItem{StreamerID: req.streamerID, Meta: req.meta, Cfg: req.cfg}
	}
	results := p.Prober.ProbeBatch(ctx, items)

	for _, req := range pending {
		res, ok := results[req.streamerID]
		if !ok {
			res = BatchProbeResult{Err: context.DeadlineExceeded}
			log.LogNoRequestID("scheduler: batch probe returned no result for streamer", "platform", p.Platform, "streamer_id", req.streamerID)
		}
		p.deliver(req.replyTo, streamerMessage{kind: msgBatchResult, status: res.Status, err: res.Err})
	}
}

func (p *PlatformActor) failPending(pending []pendingRequest, err error) {
	for _, req := range pending {
		p.deliver(req.replyTo, streamerMessage{kind: msgBatchResult, err: err})
	}
}

// deliver is a best-effort, non-blocking send: if the target actor's
// mailbox is full or it has already stopped, the result is dropped
// rather than wedging this platform actor's own loop.
func (p *PlatformActor) deliver(to chan<- streamerMessage, msg streamerMessage) {
	select {
	case to <- msg:
	default:
		log.LogNoRequestID("scheduler: dropping batch result, target actor mailbox full or stopped")
	}
}
