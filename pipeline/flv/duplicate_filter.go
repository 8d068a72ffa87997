package flv

import (
	"context"
	"hash/crc32"

	"github.com/streamrec/core/pipeline"
)

// tagKey identifies an exact-duplicate candidate: the full
// (tag_type, timestamp_ms, crc32(payload), payload_len) tuple, mixed down
// to 64 bits.
type tagKey uint64

// fingerprintKey identifies a tag's content regardless of timestamp:
// (tag_type, crc32(payload), payload_len). Used only once replay mode has
// been entered, to recognize a previously-seen tag replayed at a shifted
// timestamp.
type fingerprintKey uint64

// mix64 is a SplitMix64-style finalizer, used to spread the tuple hash
// across the full 64-bit key space.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

func computeTagKey(tagType byte, timestampMs uint32, crc uint32, length int) tagKey {
	h := uint64(tagType)
	h = h*1099511628211 + uint64(timestampMs)
	h = h*1099511628211 + uint64(crc)
	h = h*1099511628211 + uint64(length)
	return tagKey(mix64(h))
}

func computeFingerprintKey(tagType byte, crc uint32, length int) fingerprintKey {
	h := uint64(tagType)
	h = h*1099511628211 + uint64(crc)
	h = h*1099511628211 + uint64(length)
	return fingerprintKey(mix64(h))
}

type seenEntry struct {
	key         tagKey
	fingerprint fingerprintKey
	seq         uint64
}

type fingerprintSighting struct {
	timestampMs uint32
	seq         uint64
}

// DuplicateTagFilter drops exact-duplicate A/V media tags within a
// rolling window, and — once a large backward timestamp jump signals a
// replayed loop of already-recorded content — drops tags that match a
// previously seen tag's content at a constant timestamp offset. Script
// tags and codec sequence headers always pass through unfiltered.
type DuplicateTagFilter struct {
	windowCapacity            int
	replayBackjumpThresholdMs uint32

	window              []seenEntry
	keySet              map[tagKey]struct{}
	fingerprintLastSeen map[fingerprintKey]fingerprintSighting
	seqCounter          uint64

	maxTimestampSeen uint32
	hasSeenAny       bool

	inReplayMode     bool
	haveReplayOffset bool
	replayOffsetMs   int64 // such that int64(incoming_ts) + offset == the matched original timestamp
}

// NewDuplicateTagFilter builds a filter with the given rolling-window
// capacity (in tags) and the backward-jump threshold (in milliseconds)
// that triggers replay mode.
func NewDuplicateTagFilter(windowCapacity int, replayBackjumpThresholdMs uint32) *DuplicateTagFilter {
	f := &DuplicateTagFilter{
		windowCapacity:            windowCapacity,
		replayBackjumpThresholdMs: replayBackjumpThresholdMs,
	}
	f.reset()
	return f
}

func (f *DuplicateTagFilter) Name() string { return "flv.duplicate_tag_filter" }

func (f *DuplicateTagFilter) reset() {
	f.window = f.window[:0]
	f.keySet = make(map[tagKey]struct{})
	f.fingerprintLastSeen = make(map[fingerprintKey]fingerprintSighting)
	f.seqCounter = 0
	f.maxTimestampSeen = 0
	f.hasSeenAny = false
	f.inReplayMode = false
	f.haveReplayOffset = false
	f.replayOffsetMs = 0
}

func (f *DuplicateTagFilter) Process(_ context.Context, in Data, emit func(Data) error) error {
	switch in.Kind {
	case KindHeader:
		f.reset()
		return emit(in)
	case KindEndOfSequence:
		return emit(in)
	}

	if !in.IsMediaTag() || in.IsSequenceHeader() {
		return emit(in)
	}

	tag := in.Tag
	crc := crc32.ChecksumIEEE(tag.Data)
	length := len(tag.Data)
	ts := tag.Header.TimestampMs
	tagType := byte(tag.Header.Type)

	key := computeTagKey(tagType, ts, crc, length)
	if _, exists := f.keySet[key]; exists {
		return nil // exact duplicate: drop
	}

	// Replay-mode detection uses the max timestamp seen *before* this
	// tag, so a replayed tag can't mask its own backward jump by having
	// already updated the max.
	prevMax := f.maxTimestampSeen
	if f.hasSeenAny && prevMax > ts && prevMax-ts > f.replayBackjumpThresholdMs {
		f.inReplayMode = true
	}

	fp := computeFingerprintKey(tagType, crc, length)

	if f.inReplayMode {
		if last, ok := f.fingerprintLastSeen[fp]; ok {
			if !f.haveReplayOffset {
				f.replayOffsetMs = int64(last.timestampMs) - int64(ts)
				f.haveReplayOffset = true
			}
			if int64(ts)+f.replayOffsetMs == int64(last.timestampMs) {
				return nil // consistent replay of already-seen content: drop
			}
		}
	}

	if !f.hasSeenAny || ts > f.maxTimestampSeen {
		f.maxTimestampSeen = ts
	}
	f.hasSeenAny = true

	f.seqCounter++
	entry := seenEntry{key: key, fingerprint: fp, seq: f.seqCounter}
	f.window = append(f.window, entry)
	f.keySet[key] = struct{}{}
	f.fingerprintLastSeen[fp] = fingerprintSighting{timestampMs: ts, seq: f.seqCounter}

	if len(f.window) > f.windowCapacity {
		oldest := f.window[0]
		f.window = f.window[1:]
		delete(f.keySet, oldest.key)
		// Only evict the fingerprint entry if nothing newer has since
		// overwritten it — preserves fingerprint memory longer than
		// exact-key memory, since replay matching needs to look further
		// back than exact dedup does.
		if last, ok := f.fingerprintLastSeen[oldest.fingerprint]; ok && last.seq == oldest.seq {
			delete(f.fingerprintLastSeen, oldest.fingerprint)
		}
	}

	return emit(in)
}

func (f *DuplicateTagFilter) Finish(context.Context, func(Data) error) error { return nil }

var _ pipeline.Processor[Data] = (*DuplicateTagFilter)(nil)
