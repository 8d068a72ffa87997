// Package session wires the download-engine abstraction (package engine)
// and the segment/config data model (package model) together for one
// streamer's live session: engine selection with circuit-breaker
// fail-fast, SegmentEvent consumption into LiveSession/Segment rows,
// danmu start/finalize, post-processing job enqueue, and retry across
// transient engine failures.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/engine"
	"github.com/streamrec/core/engine/breaker"
	"github.com/streamrec/core/errors"
	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
)

// SessionRepository persists LiveSession/Segment state. Implemented by
// the storage layer; consumed here as an interface so RunSession never
// depends on a concrete store.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *model.LiveSession) error
	UpdateSession(ctx context.Context, s *model.LiveSession) error
	PutSegment(ctx context.Context, sessionID string, seg model.Segment) error
}

// DanmuHandle is a running per-segment chat capture.
type DanmuHandle interface {
	// Finalize flushes and closes the capture once the segment's media
	// file is itself closed, so the two files cover the same interval.
	Finalize(ctx context.Context) error
}

// DanmuService starts chat capture alongside a segment's media download.
type DanmuService interface {
	Start(ctx context.Context, info model.StreamInfo, cfg model.DanmuConfig, segmentPath string) (DanmuHandle, error)
}

// JobEnqueuer submits a segment's post-processing DAG, instantiated from
// its event-hook template, to the job queue.
type JobEnqueuer interface {
	EnqueueSegmentJobs(ctx context.Context, tmpl model.EventHookTemplate, sess *model.LiveSession, seg model.Segment) error
}

// EndReason classifies why RunSession returned, so the owning actor can
// decide whether to re-probe immediately or apply its offline backoff.
type EndReason int

const (
	// EndNormal is a clean engine exit (EventDownloadCompleted).
	EndNormal EndReason = iota
	// EndSourceUnavailable is the stream itself ending (e.g. the
	// streamer went offline mid-download); treated the same as a normal
	// end, not as a failure to retry.
	EndSourceUnavailable
	// EndError is a retry-exhausted or non-retriable engine failure.
	EndError
	// EndCancelled means the caller's context was cancelled.
	EndCancelled
)

func (r EndReason) String() string {
	switch r {
	case EndNormal:
		return "normal"
	case EndSourceUnavailable:
		return "source_unavailable"
	case EndError:
		return "error"
	case EndCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DownloadEnded is sent to the owning StreamerActor's mailbox once a
// session's download loop returns, the only channel through which
// session and scheduler talk.
type DownloadEnded struct {
	StreamerID string
	SessionID  string
	Reason     EndReason
	Err        error
	EndedAt    time.Time
}

// EndNotifier is the owning actor's mailbox. Implemented by
// scheduler.StreamerActor.
type EndNotifier interface {
	NotifyDownloadEnded(DownloadEnded)
}

// Orchestrator wires the engine registry, per-EngineKey circuit
// breakers, and the session/segment/danmu/job side effects together.
// One Orchestrator is shared across all streamers; everything specific
// to a single live session lives on RunSession's stack, not here.
type Orchestrator struct {
	Engines  map[model.EngineType]engine.DownloadEngine
	Breakers *breaker.Manager
	Sessions SessionRepository
	Danmu    DanmuService
	Jobs     JobEnqueuer
}

// RunSession drives one Live observation end to end: engine selection,
// circuit-breaker fail-fast, engine start, SegmentEvent consumption, and
// retrying the engine across transient failures per cfg's retry policy.
// It blocks until the session ends for good and always notifies
// notifier exactly once before returning.
func (o *Orchestrator) RunSession(ctx context.Context, streamerID string, info model.StreamInfo, cfg model.MergedConfig, notifier EndNotifier) error {
	sess := &model.LiveSession{
		SessionID:  uuid.NewString(),
		StreamerID: streamerID,
		StartedAt:  config.Clock.GetTime(),
		Title:      info.Title,
		Category:   info.Category,
	}
	if o.Sessions != nil {
		if err := o.Sessions.CreateSession(ctx, sess); err != nil {
			log.LogNoRequestID("session: persisting session create failed", "streamer_id", streamerID, "err", err)
		}
	}

	eng, ok := o.Engines[cfg.Engine]
	if !ok {
		err := fmt.Errorf("session: no registered engine for %q", cfg.Engine)
		o.finish(ctx, sess, notifier, EndError, err)
		return err
	}
	key := model.EngineKey{EngineType: cfg.Engine, ConfigID: cfg.EngineConfigID}

	attempt := 0
	for {
		brk := o.Breakers.Get(key)
		if !brk.Allow() {
			log.LogNoRequestID("session: circuit open, failing fast", "streamer_id", streamerID, "engine_key", key.String())
			o.finish(ctx, sess, notifier, EndError, errors.ErrCircuitOpen)
			return errors.ErrCircuitOpen
		}

		reason, runErr := o.runOnce(ctx, info, cfg, eng, sess)
		if runErr == nil {
			brk.RecordSuccess()
		} else {
			brk.RecordFailure()
		}

		if reason != EndError {
			o.finish(ctx, sess, notifier, reason, runErr)
			return runErr
		}

		attempt++
		if attempt > cfg.RetryPolicy.MaxRetries {
			o.finish(ctx, sess, notifier, EndError, runErr)
			return runErr
		}
		delay := engine.DelayForAttempt(cfg.RetryPolicy, attempt)
		log.LogNoRequestID("session: retrying after engine failure", "streamer_id", streamerID, "session_id", sess.SessionID, "attempt", attempt, "delay", delay.String(), "err", runErr)
		select {
		case <-ctx.Done():
			o.finish(ctx, sess, notifier, EndCancelled, ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce starts eng once and consumes its SegmentEvent stream into
// sess, returning once the engine's Start call returns. The channel is
// closed by the engine only after every event for this invocation (in
// particular the SegmentCompleted that must precede a DownloadFailed)
// has been sent, so ranging over it in order already honors the
// ordering invariant without any extra bookkeeping here.
func (o *Orchestrator) runOnce(ctx context.Context, info model.StreamInfo, cfg model.MergedConfig, eng engine.DownloadEngine, sess *model.LiveSession) (EndReason, error) {
	channelSize := cfg.ChannelSize
	if channelSize <= 0 {
		channelSize = config.DefaultPipelineChannelSize
	}

	handle := &engine.DownloadHandle{
		URL:                info.URL,
		OutputDir:          cfg.OutputFolder,
		FilenameTemplate:   cfg.FilenameTemplate,
		OutputFormat:       cfg.OutputFormat,
		MaxSegmentBytes:    cfg.MaxSegmentBytes,
		MaxSegmentDur:      cfg.MaxSegmentDuration,
		Cookies:            mergeStrMaps(cfg.Cookies, info.Cookies),
		ExtraHeaders:       mergeStrMaps(cfg.ExtraHeaders, info.ExtraHeaders),
		Proxy:              cfg.Proxy,
		ProcessStopGrace:   config.ProcessStopGracePeriod,
		Events:             make(chan engine.SegmentEvent, channelSize),
	}

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- eng.Start(ctx, handle) }()

	var (
		currentSegIdx = -1
		currentDanmu  DanmuHandle
		// Defaults to a retriable kind: every engine's contract is to
		// emit a DownloadFailed event whenever Start returns a non-nil
		// error, so this only matters if that contract is ever violated,
		// and a retry is the safer failure mode than silently treating
		// an unclassified error as a normal stream end.
		lastFailKind = engine.FailureNetworkError
	)

	for ev := range handle.Events {
		switch ev.Kind {
		case engine.EventSegmentStarted:
			seg := model.Segment{
				SegmentID: uuid.NewString(),
				SessionID: sess.SessionID,
				Index:     sess.NextSegmentIndex(),
				Path:      ev.Path,
				StartedAt: ev.StartedAt,
				Status:    model.SegmentOpen,
			}
			sess.Segments = append(sess.Segments, seg)
			currentSegIdx = len(sess.Segments) - 1
			if o.Sessions != nil {
				if err := o.Sessions.PutSegment(ctx, sess.SessionID, seg); err != nil {
					log.LogNoRequestID("session: persisting segment open failed", "session_id", sess.SessionID, "err", err)
				}
			}
			if danmuSampled(cfg.Danmu, seg.Index) && o.Danmu != nil {
				h, err := o.Danmu.Start(ctx, info, cfg.Danmu, ev.Path)
				if err != nil {
					log.LogNoRequestID("session: danmu start failed", "session_id", sess.SessionID, "path", ev.Path, "err", err)
				} else {
					currentDanmu = h
				}
			}

		case engine.EventSegmentCompleted:
			if currentSegIdx < 0 || currentSegIdx >= len(sess.Segments) {
				break
			}
			seg := &sess.Segments[currentSegIdx]
			seg.Bytes = ev.Bytes
			seg.DurationSecs = ev.DurationSecs
			seg.FirstKeyframePTS = ev.FirstPTS
			seg.LastPTS = ev.LastPTS
			seg.Status = model.SegmentCompleted
			sess.Stats.TotalBytes += ev.Bytes
			sess.Stats.TotalDurationSecs += ev.DurationSecs
			sess.Stats.TotalSegments++

			if currentDanmu != nil {
				if err := currentDanmu.Finalize(ctx); err != nil {
					log.LogNoRequestID("session: danmu finalize failed", "session_id", sess.SessionID, "path", seg.Path, "err", err)
				}
				currentDanmu = nil
			}
			if o.Sessions != nil {
				if err := o.Sessions.PutSegment(ctx, sess.SessionID, *seg); err != nil {
					log.LogNoRequestID("session: persisting segment close failed", "session_id", sess.SessionID, "err", err)
				}
			}
			if o.Jobs != nil && len(cfg.EventHook.Nodes) > 0 {
				if err := o.Jobs.EnqueueSegmentJobs(ctx, cfg.EventHook, sess, *seg); err != nil {
					log.LogNoRequestID("session: enqueuing segment jobs failed", "session_id", sess.SessionID, "segment_id", seg.SegmentID, "err", err)
				}
			}

		case engine.EventDownloadFailed:
			lastFailKind = ev.FailureKind

		case engine.EventProgress, engine.EventDownloadCompleted:
			// Progress is consumed by the status monitor's liveness
			// check, not by session bookkeeping; DownloadCompleted
			// carries no new information beyond the channel closing.
		}
	}

	startErr := <-startErrCh
	if startErr == nil {
		return EndNormal, nil
	}
	switch lastFailKind {
	case engine.FailureSourceUnavailable:
		return EndSourceUnavailable, startErr
	case engine.FailureCancelled:
		return EndCancelled, startErr
	default:
		return EndError, startErr
	}
}

func (o *Orchestrator) finish(ctx context.Context, sess *model.LiveSession, notifier EndNotifier, reason EndReason, err error) {
	now := config.Clock.GetTime()
	sess.EndedAt = &now
	if o.Sessions != nil {
		if uerr := o.Sessions.UpdateSession(ctx, sess); uerr != nil {
			log.LogNoRequestID("session: persisting session end failed", "session_id", sess.SessionID, "err", uerr)
		}
	}
	if notifier != nil {
		notifier.NotifyDownloadEnded(DownloadEnded{
			StreamerID: sess.StreamerID,
			SessionID:  sess.SessionID,
			Reason:     reason,
			Err:        err,
			EndedAt:    now,
		})
	}
}

// danmuSampled reports whether segment index i should get a danmu
// capture under cfg: every segment if SampleEveryN is unset, else every
// Nth one.
func danmuSampled(cfg model.DanmuConfig, i int) bool {
	if !cfg.Enabled {
		return false
	}
	if cfg.SampleEveryN <= 0 {
		return true
	}
	return i%cfg.SampleEveryN == 0
}

// mergeStrMaps overlays override onto base, favoring override's values;
// used to let a freshly-resolved StreamInfo's cookies/headers win over
// the streamer's static configured ones.
func mergeStrMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
