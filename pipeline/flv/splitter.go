package flv

import (
	"context"
	"time"

	"github.com/streamrec/core/codec/flv"
	"github.com/streamrec/core/pipeline"
)

// SegmentSplitter bounds output segments by byte size and/or wall-clock
// duration. Once a limit is exceeded it doesn't cut mid-stream: it waits
// for the next video keyframe tag (so every segment is independently
// decodable from its first frame) and emits an EndOfSequence marker right
// before that tag, which HeaderSynthesizer turns into a fresh header for
// the next segment.
type SegmentSplitter struct {
	maxBytes    int64
	maxDuration time.Duration

	bytesSoFar   int64
	firstTsMs    uint32
	haveTs       bool
	pendingSplit bool
}

func NewSegmentSplitter(maxBytes int64, maxDuration time.Duration) *SegmentSplitter {
	return &SegmentSplitter{maxBytes: maxBytes, maxDuration: maxDuration}
}

func (s *SegmentSplitter) Name() string { return "flv.segment_splitter" }

func (s *SegmentSplitter) reset(ts uint32) {
	s.bytesSoFar = 0
	s.firstTsMs = ts
	s.haveTs = true
	s.pendingSplit = false
}

func (s *SegmentSplitter) Process(_ context.Context, in Data, emit func(Data) error) error {
	if in.Kind != KindTag {
		if in.Kind == KindHeader {
			s.haveTs = false
			s.bytesSoFar = 0
			s.pendingSplit = false
		}
		return emit(in)
	}

	tag := in.Tag
	size := int64(flv.TagHeaderSize) + int64(len(tag.Data)) + int64(flv.PrevTagSizeSize)
	ts := tag.Header.TimestampMs
	if !s.haveTs {
		s.reset(ts)
	}

	elapsed := time.Duration(ts-s.firstTsMs) * time.Millisecond
	if (s.maxBytes > 0 && s.bytesSoFar+size > s.maxBytes) || (s.maxDuration > 0 && elapsed >= s.maxDuration) {
		s.pendingSplit = true
	}

	if s.pendingSplit && tag.Header.Type == flv.TagVideo && flv.IsVideoKeyFrame(tag.Data) {
		if err := emit(EndOfSequence()); err != nil {
			return err
		}
		s.reset(ts)
	}

	s.bytesSoFar += size
	return emit(in)
}

func (s *SegmentSplitter) Finish(_ context.Context, emit func(Data) error) error {
	if s.haveTs {
		return emit(EndOfSequence())
	}
	return nil
}

var _ pipeline.Processor[Data] = (*SegmentSplitter)(nil)
