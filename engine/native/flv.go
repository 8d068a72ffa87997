package native

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/streamrec/core/codec/flv"
	"github.com/streamrec/core/engine"
	pflv "github.com/streamrec/core/pipeline"
	ppflv "github.com/streamrec/core/pipeline/flv"
)

// runFLV decodes an FLV byte stream tag-by-tag, pipes it through the
// duplicate-filter/continuity/metadata/splitter pipeline, and writes
// each resulting segment to disk. It implements the stream-consume
// contract: on a read error, any segment still open is flushed
// (SegmentCompleted emitted) before DownloadFailed goes out.
func (e *Engine) runFLV(ctx context.Context, r *bufio.Reader, handle *engine.DownloadHandle) error {
	in := make(chan pflv.Result[ppflv.Data], e.ChannelSize)

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- decodeFLVInto(ctx, r, in)
	}()

	w := newFLVWriter(handle)
	// MetadataProjector's onClose runs inside its own pipeline-stage
	// goroutine, ahead of (not synchronized with) the writer below, which
	// only sees the corresponding EndOfSequence once it drains through the
	// remaining stages. Hand stats off through a FIFO so closeSegment pairs
	// each popped entry with the file it just actually closed.
	//
	// SegmentSplitter only emits EndOfSequence markers; HeaderSynthesizer
	// turns each one into a fresh header for whatever comes next, so it
	// must sit downstream of the splitter. MetadataProjector resets its
	// byte/keyframe accounting on every header it sees (real or
	// synthesized), so it runs last, immediately before the writer.
	stages := []pflv.Processor[ppflv.Data]{
		ppflv.NewDuplicateTagFilter(e.DuplicateFilterWindow, e.ReplayBackjumpThresholdMs),
		ppflv.NewContinuityGuard(e.ReplayBackjumpThresholdMs),
		ppflv.NewSegmentSplitter(handle.MaxSegmentBytes, handle.MaxSegmentDur),
		ppflv.NewHeaderSynthesizer(),
		ppflv.NewMetadataProjector(w.enqueueStats),
	}

	out := pflv.Run(ctx, in, e.ChannelSize, stages...)
	drainErr := pflv.Drain(out, func(d ppflv.Data) error {
		return w.consume(d)
	})

	readErr := <-readErrCh
	if drainErr == nil {
		drainErr = readErr
	}

	if drainErr != nil {
		if err := w.flushOpenSegment(); err != nil {
			drainErr = err
		}
		kind := classifyReadFailure(drainErr, ctx)
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: kind, Message: drainErr.Error()}
		return drainErr
	}

	if err := w.flushOpenSegment(); err != nil {
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureDecodeError, Message: err.Error()}
		return err
	}
	handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadCompleted, TotalSegments: w.index + 1}
	return nil
}

// classifyReadFailure maps a read-loop error to a FailureKind: a clean
// EOF means the remote end just stopped sending (streamer went
// offline), not a decode problem, so the orchestrator should treat it
// as a normal session end rather than retrying against a broken parse.
func classifyReadFailure(err error, ctx context.Context) engine.FailureKind {
	if ctx.Err() != nil {
		return engine.FailureCancelled
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return engine.FailureSourceUnavailable
	}
	return engine.FailureDecodeError
}

// decodeFLVInto reads a raw FLV stream and forwards each header/tag as a
// pipeline item, honoring ctx cancellation between tags.
func decodeFLVInto(ctx context.Context, r *bufio.Reader, out chan<- pflv.Result[ppflv.Data]) error {
	defer close(out)

	header, err := flv.DecodeHeader(r)
	if err != nil {
		return fmt.Errorf("engine/native: decoding flv header: %w", err)
	}
	if err := sendFLV(ctx, out, pflv.Ok(ppflv.HeaderData(header))); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tag, err := flv.ReadTag(r)
		if err != nil {
			return fmt.Errorf("engine/native: reading flv tag: %w", err)
		}
		if _, err := flv.ReadPreviousTagSize(r); err != nil {
			return fmt.Errorf("engine/native: reading previous tag size: %w", err)
		}
		if err := sendFLV(ctx, out, pflv.Ok(ppflv.TagData(tag))); err != nil {
			return err
		}
	}
}

func sendFLV(ctx context.Context, out chan<- pflv.Result[ppflv.Data], r pflv.Result[ppflv.Data]) error {
	select {
	case out <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flvWriter writes the pipeline's output Data stream to successive
// segment files, emitting SegmentStarted/SegmentCompleted on
// handle.Events as segments open and close.
type flvWriter struct {
	handle *engine.DownloadHandle
	index  int

	f         *os.File
	path      string
	startedAt time.Time

	statsMu    sync.Mutex
	statsQueue []ppflv.SegmentStats
}

func newFLVWriter(handle *engine.DownloadHandle) *flvWriter {
	return &flvWriter{handle: handle, index: -1}
}

// enqueueStats is MetadataProjector's onClose callback; it runs in the
// projector's own pipeline-stage goroutine, so it only hands stats off
// through a mutex-guarded FIFO rather than touching file state directly.
func (w *flvWriter) enqueueStats(stats ppflv.SegmentStats) {
	w.statsMu.Lock()
	w.statsQueue = append(w.statsQueue, stats)
	w.statsMu.Unlock()
}

func (w *flvWriter) popStats() (ppflv.SegmentStats, bool) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	if len(w.statsQueue) == 0 {
		return ppflv.SegmentStats{}, false
	}
	stats := w.statsQueue[0]
	w.statsQueue = w.statsQueue[1:]
	return stats, true
}

func (w *flvWriter) segmentPath() string {
	return filepath.Join(w.handle.OutputDir, fmt.Sprintf("%s_%03d.flv", w.handle.FilenameTemplate, w.index))
}

func (w *flvWriter) consume(d ppflv.Data) error {
	switch d.Kind {
	case ppflv.KindHeader:
		if w.f != nil {
			if err := w.closeSegment(); err != nil {
				return err
			}
		}
		return w.openSegment(d)
	case ppflv.KindTag:
		return w.writeTag(d)
	case ppflv.KindEndOfSequence:
		return w.closeSegment()
	}
	return nil
}

func (w *flvWriter) openSegment(d ppflv.Data) error {
	w.index++
	w.path = w.segmentPath()
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("engine/native: creating segment file: %w", err)
	}
	w.f = f
	w.startedAt = time.Now()

	enc := d.Header.Encode()
	if _, err := w.f.Write(enc[:]); err != nil {
		return err
	}
	if err := flv.WritePreviousTagSize(w.f, 0); err != nil {
		return err
	}
	w.handle.Events <- engine.SegmentEvent{Kind: engine.EventSegmentStarted, Path: w.path, Index: w.index, StartedAt: w.startedAt}
	return nil
}

func (w *flvWriter) writeTag(d ppflv.Data) error {
	if w.f == nil {
		return fmt.Errorf("engine/native: tag arrived before a segment header")
	}
	return flv.WriteTag(w.f, d.Tag)
}

func (w *flvWriter) closeSegment() error {
	if w.f == nil {
		return nil
	}
	path, started := w.path, w.startedAt
	info, statErr := w.f.Stat()
	var size int64
	if statErr == nil {
		size = info.Size()
	}
	if err := w.f.Close(); err != nil {
		w.f = nil
		return err
	}
	w.f = nil

	if stats, ok := w.popStats(); ok {
		w.applyMetadata(path, stats)
	}

	w.handle.Events <- engine.SegmentEvent{
		Kind: engine.EventSegmentCompleted, Path: path, Bytes: size,
		DurationSecs: time.Since(started).Seconds(),
	}
	return nil
}

// applyMetadata rewrites a just-closed segment's onMetaData tag, after
// the writer has already closed its own handle on the file.
func (w *flvWriter) applyMetadata(path string, stats ppflv.SegmentStats) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = ppflv.ApplyToFile(f, stats)
}

// flushOpenSegment closes any still-open segment; used by the
// stream-consume contract before a DownloadFailed event is emitted.
func (w *flvWriter) flushOpenSegment() error {
	return w.closeSegment()
}
