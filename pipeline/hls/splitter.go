package hls

import (
	"context"
	"time"

	"github.com/streamrec/core/pipeline"
)

// SegmentSplitter bounds an output file by cumulative byte size and/or
// wall-clock duration. Unlike the FLV splitter, HLS segments already
// arrive as complete, independently-decodable units (TS segments are
// self-contained; fMP4 segments align to the init segment's track
// layout), so a cut never needs to wait for an in-segment boundary: it
// happens between two whole segments, right before the one that would
// push the running file over a limit.
type SegmentSplitter struct {
	maxBytes    int64
	maxDuration time.Duration

	bytesSoFar    int64
	durationSoFar float64
}

func NewSegmentSplitter(maxBytes int64, maxDuration time.Duration) *SegmentSplitter {
	return &SegmentSplitter{maxBytes: maxBytes, maxDuration: maxDuration}
}

func (s *SegmentSplitter) Name() string { return "hls.segment_splitter" }

func (s *SegmentSplitter) Process(_ context.Context, in Data, emit func(Data) error) error {
	if in.Kind == KindEndMarker {
		s.bytesSoFar = 0
		s.durationSoFar = 0
		return emit(in)
	}

	size := int64(len(in.Bytes))
	exceeded := s.bytesSoFar > 0 &&
		((s.maxBytes > 0 && s.bytesSoFar+size > s.maxBytes) ||
			(s.maxDuration > 0 && time.Duration((s.durationSoFar+in.Segment.DurationSecs)*float64(time.Second)) > s.maxDuration))

	if exceeded {
		if err := emit(EndMarker()); err != nil {
			return err
		}
		s.bytesSoFar = 0
		s.durationSoFar = 0
	}

	s.bytesSoFar += size
	s.durationSoFar += in.Segment.DurationSecs
	return emit(in)
}

func (s *SegmentSplitter) Finish(_ context.Context, emit func(Data) error) error {
	if s.bytesSoFar > 0 {
		return emit(EndMarker())
	}
	return nil
}

var _ pipeline.Processor[Data] = (*SegmentSplitter)(nil)

// SegmentLimiter caps the number of segments accumulated into one output
// file, independent of size/duration — a hard backstop against
// pathologically small HLS segments producing unbounded file-descriptor
// churn downstream.
type SegmentLimiter struct {
	maxSegments int
	count       int
}

func NewSegmentLimiter(maxSegments int) *SegmentLimiter {
	return &SegmentLimiter{maxSegments: maxSegments}
}

func (l *SegmentLimiter) Name() string { return "hls.segment_limiter" }

func (l *SegmentLimiter) Process(_ context.Context, in Data, emit func(Data) error) error {
	if in.Kind == KindEndMarker {
		l.count = 0
		return emit(in)
	}

	if l.maxSegments > 0 && l.count >= l.maxSegments {
		if err := emit(EndMarker()); err != nil {
			return err
		}
		l.count = 0
	}

	l.count++
	return emit(in)
}

func (l *SegmentLimiter) Finish(_ context.Context, emit func(Data) error) error {
	if l.count > 0 {
		return emit(EndMarker())
	}
	return nil
}

var _ pipeline.Processor[Data] = (*SegmentLimiter)(nil)
