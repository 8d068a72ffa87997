package flv

import (
	"context"

	"github.com/streamrec/core/codec/amf0"
	"github.com/streamrec/core/codec/flv"
	"github.com/streamrec/core/pipeline"
)

// KeyframeEntry is one entry of the keyframe byte-offset index collected
// during a segment, mirroring the `keyframes` array most FLV players
// expect inside onMetaData.
type KeyframeEntry struct {
	TimestampMs  uint32
	FilePosition int64
}

// SegmentStats is what MetadataProjector has collected by the time a
// segment closes: enough to rewrite that segment's onMetaData tag.
type SegmentStats struct {
	DurationSecs float64
	FileSizeBytes int64
	Keyframes    []KeyframeEntry
}

// MetadataProjector tracks running size/duration/keyframe statistics as
// tags flow through and, on each EndOfSequence marker, hands the
// collected SegmentStats for the segment that just closed to onClose so
// the caller can rewrite that segment file's onMetaData tag (via
// ApplyToFile, after the file has been fully flushed to disk).
type MetadataProjector struct {
	onClose func(SegmentStats)

	bytesSoFar int64
	firstTsMs  uint32
	lastTsMs   uint32
	haveTs     bool
	keyframes  []KeyframeEntry
}

func NewMetadataProjector(onClose func(SegmentStats)) *MetadataProjector {
	return &MetadataProjector{onClose: onClose}
}

func (p *MetadataProjector) Name() string { return "flv.metadata_projector" }

func (p *MetadataProjector) reset() {
	p.bytesSoFar = 0
	p.firstTsMs = 0
	p.lastTsMs = 0
	p.haveTs = false
	p.keyframes = nil
}

func (p *MetadataProjector) Process(_ context.Context, in Data, emit func(Data) error) error {
	switch in.Kind {
	case KindHeader:
		p.reset()
		// The header itself plus its trailing PreviousTagSize0.
		p.bytesSoFar += int64(flv.HeaderSize + flv.PrevTagSizeSize)
		return emit(in)
	case KindEndOfSequence:
		if p.onClose != nil {
			p.onClose(p.snapshot())
		}
		return emit(in)
	}

	tag := in.Tag
	tagSize := int64(flv.TagHeaderSize) + int64(len(tag.Data)) + int64(flv.PrevTagSizeSize)
	offset := p.bytesSoFar
	p.bytesSoFar += tagSize

	if !p.haveTs {
		p.firstTsMs = tag.Header.TimestampMs
		p.haveTs = true
	}
	p.lastTsMs = tag.Header.TimestampMs

	if tag.Header.Type == flv.TagVideo && flv.IsVideoKeyFrame(tag.Data) {
		p.keyframes = append(p.keyframes, KeyframeEntry{TimestampMs: tag.Header.TimestampMs, FilePosition: offset})
	}

	return emit(in)
}

func (p *MetadataProjector) snapshot() SegmentStats {
	var duration float64
	if p.haveTs && p.lastTsMs >= p.firstTsMs {
		duration = float64(p.lastTsMs-p.firstTsMs) / 1000.0
	}
	return SegmentStats{
		DurationSecs:  duration,
		FileSizeBytes: p.bytesSoFar,
		Keyframes:     p.keyframes,
	}
}

func (p *MetadataProjector) Finish(_ context.Context, _ func(Data) error) error {
	if p.onClose != nil {
		p.onClose(p.snapshot())
	}
	return nil
}

var _ pipeline.Processor[Data] = (*MetadataProjector)(nil)

// ApplyToFile rewrites a closed segment file's onMetaData tag with the
// collected stats, building the keyframe filepositions/times arrays
// alongside the duration/filesize scalars. It's a no-op (ok=false) if the
// file has no onMetaData tag to rewrite.
func ApplyToFile(f flv.RandomAccessFile, stats SegmentStats) (ok bool, err error) {
	times := make([]amf0.Value, len(stats.Keyframes))
	positions := make([]amf0.Value, len(stats.Keyframes))
	for i, k := range stats.Keyframes {
		times[i] = amf0.Number(float64(k.TimestampMs) / 1000.0)
		positions[i] = amf0.Number(float64(k.FilePosition))
	}

	props := []amf0.Property{
		{Key: "duration", Value: amf0.Number(stats.DurationSecs)},
		{Key: "filesize", Value: amf0.Number(float64(stats.FileSizeBytes))},
		{Key: "keyframes", Value: amf0.Object([]amf0.Property{
			{Key: "times", Value: amf0.StrictArray(times)},
			{Key: "filepositions", Value: amf0.StrictArray(positions)},
		})},
	}

	payload, err := flv.EncodeOnMetaData(props)
	if err != nil {
		return false, err
	}
	return flv.RewriteOnMetaData(f, payload, 0)
}
