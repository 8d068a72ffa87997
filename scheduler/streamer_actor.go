// Package scheduler implements the per-streamer/per-platform actor
// scheduling that decides when and how to probe streamers, delegating
// to the live-session orchestrator (package session) once a probe comes
// back Live.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/engine"
	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/session"
)

// Prober probes one streamer directly; used when its platform doesn't
// support batch detection. Implemented by package monitor.
type Prober interface {
	Probe(ctx context.Context, meta model.StreamerMetadata, cfg model.MergedConfig) (model.LiveStatus, error)
}

// StreamerActorState is the actor's mutable scheduling state, per §4.1.
type StreamerActorState struct {
	StreamerState model.StreamerState
	NextCheck     time.Time
	OfflineCount  int
	WasLive       bool
	LastCheck     time.Time
	ErrorCount    int
}

type msgKind int

const (
	msgCheckStatus msgKind = iota
	msgConfigUpdate
	msgProbeResult
	msgBatchResult
	msgDownloadEnded
	msgStop
	msgGetState
)

type streamerMessage struct {
	kind   msgKind
	cfg    model.MergedConfig
	status model.LiveStatus
	err    error
	ended  session.DownloadEnded
	reply  chan StreamerActorState
}

// StreamerActor is one per streamer: a single-threaded cooperative task
// that owns StreamerActorState and decides when the streamer is next
// due for a probe.
type StreamerActor struct {
	StreamerID   string
	Meta         model.StreamerMetadata
	BatchCapable bool

	// Exactly one of Prober/Platform is set, selected by BatchCapable.
	Prober   Prober
	Platform *PlatformActor

	Orchestrator *session.Orchestrator

	mailbox chan streamerMessage
	stopped chan struct{}

	cfg   model.MergedConfig
	state StreamerActorState

	sessionCancel context.CancelFunc
}

// NewStreamerActor builds an actor in StateNotLive, due for an
// immediate first probe.
func NewStreamerActor(meta model.StreamerMetadata, cfg model.MergedConfig, orch *session.Orchestrator) *StreamerActor {
	return &StreamerActor{
		StreamerID:   meta.ID,
		Meta:         meta,
		Orchestrator: orch,
		mailbox:      make(chan streamerMessage, config.DefaultActorMailboxSize),
		stopped:      make(chan struct{}),
		cfg:          cfg,
		state: StreamerActorState{
			StreamerState: model.StateNotLive,
			NextCheck:     config.Clock.GetTime(),
		},
	}
}

// NotifyDownloadEnded implements session.EndNotifier: RunSession calls
// this from its own goroutine when a live session ends, and it's
// delivered back into the actor's single-consumer mailbox like any
// other message.
func (a *StreamerActor) NotifyDownloadEnded(ended session.DownloadEnded) {
	a.send(streamerMessage{kind: msgDownloadEnded, ended: ended})
}

// send enqueues a message, dropping it only if the actor has already
// stopped (mailbox closed actors are never reused).
func (a *StreamerActor) send(msg streamerMessage) {
	select {
	case a.mailbox <- msg:
	case <-a.stopped:
	}
}

// CheckStatus requests an out-of-band probe (e.g. manually triggered).
func (a *StreamerActor) CheckStatus() { a.send(streamerMessage{kind: msgCheckStatus}) }

// UpdateConfig delivers a freshly resolved MergedConfig.
func (a *StreamerActor) UpdateConfig(cfg model.MergedConfig) {
	a.send(streamerMessage{kind: msgConfigUpdate, cfg: cfg})
}

// Stop asks the actor to exit its run loop after its current message.
func (a *StreamerActor) Stop() { a.send(streamerMessage{kind: msgStop}) }

// GetState returns a snapshot of the actor's scheduling state.
func (a *StreamerActor) GetState(ctx context.Context) (StreamerActorState, error) {
	reply := make(chan StreamerActorState, 1)
	a.send(streamerMessage{kind: msgGetState, reply: reply})
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return StreamerActorState{}, ctx.Err()
	case <-a.stopped:
		return StreamerActorState{}, fmt.Errorf("scheduler: actor %s has stopped", a.StreamerID)
	}
}

// Run is the actor's cooperative message loop; call it in its own
// goroutine. It returns once ctx is cancelled or a Stop message is
// processed, cancelling any in-flight live session first.
func (a *StreamerActor) Run(ctx context.Context) {
	defer close(a.stopped)
	ticker := time.NewTicker(config.DefaultActorTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.cancelSession()
			return
		case msg := <-a.mailbox:
			if !a.handle(ctx, msg) {
				a.cancelSession()
				return
			}
		case <-ticker.C:
			a.maybeProbe(ctx)
		}
	}
}

// handle processes one message, returning false if the actor should
// stop its run loop.
func (a *StreamerActor) handle(ctx context.Context, msg streamerMessage) bool {
	switch msg.kind {
	case msgStop:
		return false
	case msgGetState:
		msg.reply <- a.state
		return true
	case msgConfigUpdate:
		a.cfg = msg.cfg
		return true
	case msgCheckStatus:
		a.maybeProbe(ctx)
		return true
	case msgProbeResult:
		a.onProbeResult(ctx, msg.status, msg.err)
		return true
	case msgBatchResult:
		a.onProbeResult(ctx, msg.status, msg.err)
		return true
	case msgDownloadEnded:
		a.onDownloadEnded(msg.ended)
		return true
	}
	return true
}

// maybeProbe fires a probe if one is due; it never blocks the mailbox
// loop, since the probe itself (and the batch round trip) completes
// asynchronously and reports back via msgProbeResult/msgBatchResult.
func (a *StreamerActor) maybeProbe(ctx context.Context) {
	now := config.Clock.GetTime()
	if !a.dueFor(now) {
		return
	}
	a.state.LastCheck = now

	if a.BatchCapable {
		if a.Platform == nil {
			log.LogNoRequestID("scheduler: streamer marked batch-capable with no platform actor", "streamer_id", a.StreamerID)
			return
		}
		a.Platform.requestCheck(a.StreamerID, a.Meta, a.cfg, a.mailbox)
		return
	}
	if a.Prober == nil {
		log.LogNoRequestID("scheduler: streamer has no prober configured", "streamer_id", a.StreamerID)
		return
	}
	go func() {
		status, err := a.Prober.Probe(ctx, a.Meta, a.cfg)
		a.send(streamerMessage{kind: msgProbeResult, status: status, err: err})
	}()
}

// dueFor reports whether next_check has elapsed and the streamer isn't
// currently disabled, per §4.1's scheduling policy, and whether a Live
// streamer should never be (re-)probed directly (the download is the
// source of truth while live).
func (a *StreamerActor) dueFor(now time.Time) bool {
	if a.state.StreamerState == model.StateLive {
		return false
	}
	if a.state.StreamerState.IsFatal() {
		return false
	}
	if !a.Meta.IsProbeAllowed(now) {
		return false
	}
	return !a.state.NextCheck.After(now)
}

// onProbeResult applies one probe outcome: updates StreamerActorState
// per the scheduling policy and, on Live, hands off to the session
// orchestrator.
func (a *StreamerActor) onProbeResult(ctx context.Context, status model.LiveStatus, err error) {
	now := config.Clock.GetTime()
	if err != nil {
		a.state.ErrorCount++
		a.state.StreamerState = model.StateError
		a.Meta.ConsecutiveErrorCount = a.state.ErrorCount
		a.Meta.DisabledUntil = now.Add(backoffFor(a.cfg, a.state.ErrorCount))
		a.state.NextCheck = now.Add(time.Duration(a.cfg.CheckIntervalSecs) * time.Second)
		log.LogNoRequestID("scheduler: probe failed", "streamer_id", a.StreamerID, "error_count", a.state.ErrorCount, "err", err)
		return
	}
	a.state.ErrorCount = 0
	a.Meta.ConsecutiveErrorCount = 0

	switch status.Kind {
	case model.LiveStatusLive:
		a.state.StreamerState = model.StateLive
		a.state.WasLive = true
		a.state.OfflineCount = 0
		a.Meta.LastLiveTime = now
		a.startSession(ctx, status.Resolved)
		return

	case model.LiveStatusOffline:
		a.state.StreamerState = model.StateNotLive
		a.scheduleAfterOffline(now)

	case model.LiveStatusFiltered:
		a.state.StreamerState = model.StateOutOfSchedule
		if !status.NextMatchTime.IsZero() {
			a.state.NextCheck = status.NextMatchTime
		} else {
			a.state.NextCheck = now.Add(time.Duration(a.cfg.CheckIntervalSecs) * time.Second)
		}

	case model.LiveStatusNotFound:
		a.state.StreamerState = model.StateNotFound

	default:
		if status.Kind.IsFatal() {
			a.state.StreamerState = model.StateFatalError
		} else {
			a.state.StreamerState = model.StateError
			a.state.NextCheck = now.Add(time.Duration(a.cfg.CheckIntervalSecs) * time.Second)
		}
	}
}

// scheduleAfterOffline implements the "fast re-detect loop for flaky
// restarts" rule: keep polling at the fast offline interval until
// offline_check_count consecutive Offline results have been seen, then
// fall back to the slow steady-state interval.
func (a *StreamerActor) scheduleAfterOffline(now time.Time) {
	if a.state.WasLive {
		a.state.OfflineCount++
		if a.state.OfflineCount < a.cfg.OfflineCheckCount {
			a.state.NextCheck = now.Add(time.Duration(a.cfg.OfflineCheckIntervalSecs) * time.Second)
			return
		}
		a.state.WasLive = false
		a.state.OfflineCount = 0
	}
	a.state.NextCheck = now.Add(time.Duration(a.cfg.CheckIntervalSecs) * time.Second)
}

// startSession launches the live-session orchestrator in its own
// goroutine, parented to a cancellation token this actor owns so Stop
// (or a subsequent DownloadEnded) can tear it down. While a session is
// running, the actor schedules no further probes; RunSession's eventual
// DownloadEnded message is what re-arms scheduling.
func (a *StreamerActor) startSession(parent context.Context, info model.StreamInfo) {
	sessCtx, cancel := context.WithCancel(parent)
	a.sessionCancel = cancel
	go func() {
		if err := a.Orchestrator.RunSession(sessCtx, a.StreamerID, info, a.cfg, a); err != nil {
			log.LogNoRequestID("scheduler: live session ended with error", "streamer_id", a.StreamerID, "err", err)
		}
	}()
}

func (a *StreamerActor) cancelSession() {
	if a.sessionCancel != nil {
		a.sessionCancel()
		a.sessionCancel = nil
	}
}

// onDownloadEnded re-arms scheduling once a live session's download
// loop has returned, per §4.1: "scheduling is only re-armed by
// DownloadEnded."
func (a *StreamerActor) onDownloadEnded(ended session.DownloadEnded) {
	a.sessionCancel = nil
	now := config.Clock.GetTime()
	switch ended.Reason {
	case session.EndError:
		a.state.ErrorCount++
		a.state.StreamerState = model.StateError
	default:
		a.state.StreamerState = model.StateNotLive
	}
	a.state.WasLive = true
	a.state.OfflineCount = 0
	// Bypasses the normal offline-interval wait: a session ending (on
	// error or otherwise) must be reconciled with one immediate probe,
	// not delayed behind OfflineCheckIntervalSecs.
	a.state.NextCheck = now
}

// backoffFor computes a transient-probe-error backoff off the
// streamer's own retry policy, reusing engine.DelayForAttempt's curve
// rather than inventing a second backoff implementation.
func backoffFor(cfg model.MergedConfig, errorCount int) time.Duration {
	return engine.DelayForAttempt(cfg.RetryPolicy, errorCount)
}
