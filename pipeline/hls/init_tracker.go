package hls

import (
	"context"

	"github.com/streamrec/core/codec/mp4"
	"github.com/streamrec/core/pipeline"
)

// InitSegmentTracker parses each initialization segment's moov box to
// identify the codecs present (AV1/H.264/H.265/AAC/AC-3) and keeps the
// most recent one's parsed InitSegmentInfo and raw bytes available to
// downstream stages (MediaSegmentValidator in particular), via Current.
// All items pass through unchanged.
type InitSegmentTracker struct {
	currentBytes []byte
	currentInfo  mp4.InitSegmentInfo
	haveCurrent  bool
}

func NewInitSegmentTracker() *InitSegmentTracker {
	return &InitSegmentTracker{}
}

func (t *InitSegmentTracker) Name() string { return "hls.init_segment_tracker" }

// Current returns the most recently seen initialization segment's raw
// bytes and parsed info, and whether one has been seen yet.
func (t *InitSegmentTracker) Current() ([]byte, mp4.InitSegmentInfo, bool) {
	return t.currentBytes, t.currentInfo, t.haveCurrent
}

func (t *InitSegmentTracker) Process(_ context.Context, in Data, emit func(Data) error) error {
	if in.Kind == KindM4sData && in.IsInit {
		t.currentBytes = in.Bytes
		t.currentInfo = mp4.ParseInitSegment(in.Bytes)
		t.haveCurrent = true
	}
	return emit(in)
}

func (t *InitSegmentTracker) Finish(context.Context, func(Data) error) error { return nil }

var _ pipeline.Processor[Data] = (*InitSegmentTracker)(nil)
