package hls

import (
	"context"
	"fmt"

	"github.com/streamrec/core/codec/mp4"
	"github.com/streamrec/core/pipeline"
)

// MediaSegmentValidator walks each fMP4 media segment's moof/traf/tfhd/trun
// boxes for the AV1 tracks named by the initialization segment (supplied
// by an upstream InitSegmentTracker) and validates every sample's OBU
// stream against ISOBMFF OBU conformance rules. Segments with no AV1
// track are a no-op pass-through. Non-AV1 codecs aren't re-parsed here:
// the container-level box structure (not the codec bitstream) is the
// extent of what this stage checks for them.
type MediaSegmentValidator struct {
	tracker *InitSegmentTracker
	opts    mp4.Av1ValidationOptions
}

func NewMediaSegmentValidator(tracker *InitSegmentTracker, opts mp4.Av1ValidationOptions) *MediaSegmentValidator {
	return &MediaSegmentValidator{tracker: tracker, opts: opts}
}

func (v *MediaSegmentValidator) Name() string { return "hls.media_segment_validator" }

func (v *MediaSegmentValidator) Process(_ context.Context, in Data, emit func(Data) error) error {
	if in.Kind != KindM4sData || in.IsInit {
		return emit(in)
	}

	initBytes, _, haveInit := v.tracker.Current()
	if haveInit {
		if _, err := mp4.ValidateAV1MediaSegmentAgainstInitWithOptions(initBytes, in.Bytes, v.opts); err != nil {
			return fmt.Errorf("hls: segment %s: %w", in.Segment.URI, err)
		}
	}
	return emit(in)
}

func (v *MediaSegmentValidator) Finish(context.Context, func(Data) error) error { return nil }

var _ pipeline.Processor[Data] = (*MediaSegmentValidator)(nil)
