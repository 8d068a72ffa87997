package flv

import (
	"context"

	"github.com/streamrec/core/pipeline"
)

// ContinuityGuard keeps output tag timestamps monotonically
// non-decreasing across a source's hiccups. Two kinds of backward jump
// are distinguished: a large one (more than backjumpThresholdMs below the
// max timestamp seen so far) is treated as the source looping back to
// replay already-sent content, and is absorbed by shifting every
// subsequent timestamp forward by a fixed offset so the stream continues
// right after the last emitted timestamp; a small one is assumed to be
// jitter and is simply normalized forward to the last max (no lasting
// offset is established).
type ContinuityGuard struct {
	backjumpThresholdMs uint32

	hasSeen          bool
	maxTimestampSeen uint32
	inReplayMode     bool
	offsetMs         int64
}

func NewContinuityGuard(backjumpThresholdMs uint32) *ContinuityGuard {
	return &ContinuityGuard{backjumpThresholdMs: backjumpThresholdMs}
}

func (g *ContinuityGuard) Name() string { return "flv.continuity_guard" }

func (g *ContinuityGuard) reset() {
	g.hasSeen = false
	g.maxTimestampSeen = 0
	g.inReplayMode = false
	g.offsetMs = 0
}

func (g *ContinuityGuard) Process(_ context.Context, in Data, emit func(Data) error) error {
	if in.Kind != KindTag {
		if in.Kind == KindHeader {
			g.reset()
		}
		return emit(in)
	}

	ts := in.Tag.Header.TimestampMs
	adjusted := applyOffset(ts, g.offsetMs)

	switch {
	case !g.hasSeen:
		g.hasSeen = true
	case g.maxTimestampSeen > adjusted && g.maxTimestampSeen-adjusted > g.backjumpThresholdMs:
		// Large backward jump: establish a new offset that continues
		// right after the last timestamp we emitted.
		g.offsetMs += int64(g.maxTimestampSeen) + 1 - int64(adjusted)
		adjusted = applyOffset(ts, g.offsetMs)
		g.inReplayMode = true
	case g.maxTimestampSeen > adjusted:
		// Small backward jump (jitter): clamp forward without changing
		// the lasting offset.
		adjusted = g.maxTimestampSeen
	}

	if adjusted > g.maxTimestampSeen {
		g.maxTimestampSeen = adjusted
	}

	out := in.Tag
	out.Header.TimestampMs = adjusted
	return emit(TagData(out))
}

func applyOffset(ts uint32, offsetMs int64) uint32 {
	v := int64(ts) + offsetMs
	if v < 0 {
		return 0
	}
	return uint32(v)
}

func (g *ContinuityGuard) Finish(context.Context, func(Data) error) error { return nil }

var _ pipeline.Processor[Data] = (*ContinuityGuard)(nil)
