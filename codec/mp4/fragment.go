package mp4

import (
	"fmt"
	"sort"

	"github.com/streamrec/core/codec/av1"
)

// Av1ValidationOptions is the AV1 sample conformance policy applied to
// each sample extracted from a media fragment.
type Av1ValidationOptions struct {
	EnforceShouldNotObus bool
	EnforceReservedObus  bool
}

// DefaultAv1ValidationOptions matches the conformance profile a
// conservative live-recording pipeline wants: reject OBUs the AV1/ISOBMFF
// binding says SHOULD NOT appear in samples, but tolerate reserved types
// for forward compatibility.
func DefaultAv1ValidationOptions() Av1ValidationOptions {
	return Av1ValidationOptions{EnforceShouldNotObus: true, EnforceReservedObus: false}
}

// Av1MediaValidationSummary reports how much of a media fragment was
// checked: tracks and samples that were actually AV1.
type Av1MediaValidationSummary struct {
	CheckedTracks  int
	CheckedSamples int
}

// ValidateAV1MediaSegmentAgainstInit detects AV1 track ids from an init
// segment, then validates every AV1 sample in a media fragment against
// them.
func ValidateAV1MediaSegmentAgainstInit(initSegment, mediaSegment []byte, enforceShouldNotObus bool) (Av1MediaValidationSummary, error) {
	return ValidateAV1MediaSegmentAgainstInitWithOptions(initSegment, mediaSegment, Av1ValidationOptions{
		EnforceShouldNotObus: enforceShouldNotObus,
	})
}

func ValidateAV1MediaSegmentAgainstInitWithOptions(initSegment, mediaSegment []byte, opts Av1ValidationOptions) (Av1MediaValidationSummary, error) {
	trackIDs := ExtractAV1TrackIDsFromInit(initSegment)
	return ValidateAV1MediaSegmentWithTrackIDsAndOptions(mediaSegment, trackIDs, opts)
}

// ValidateAV1MediaSegmentWithTrackIDs validates using pre-extracted AV1
// track ids, avoiding repeated init-segment parsing across many media
// segments from the same init.
func ValidateAV1MediaSegmentWithTrackIDs(mediaSegment []byte, av1TrackIDs []uint32, enforceShouldNotObus bool) (Av1MediaValidationSummary, error) {
	return ValidateAV1MediaSegmentWithTrackIDsAndOptions(mediaSegment, av1TrackIDs, Av1ValidationOptions{
		EnforceShouldNotObus: enforceShouldNotObus,
	})
}

func ValidateAV1MediaSegmentWithTrackIDsAndOptions(mediaSegment []byte, av1TrackIDs []uint32, opts Av1ValidationOptions) (Av1MediaValidationSummary, error) {
	if len(av1TrackIDs) == 0 {
		return Av1MediaValidationSummary{}, nil
	}
	sorted := sort.SliceIsSorted(av1TrackIDs, func(i, j int) bool { return av1TrackIDs[i] < av1TrackIDs[j] })
	return validateAV1TracksInFragment(mediaSegment, av1TrackIDs, sorted, opts)
}

func findChildBoxRange(data []byte, start, end int, target [4]byte) (int, int, bool) {
	b, ok := findFirstBox(data, start, end, target)
	if !ok {
		return 0, 0, false
	}
	return b.bodyStart, b.bodyEnd, true
}

func parseTkhdTrackID(data []byte, start, end int) (uint32, bool) {
	body := data[start:end]
	if len(body) < 4 {
		return 0, false
	}
	switch body[0] {
	case 0:
		if len(body) < 16 {
			return 0, false
		}
		return beUint32(body[12:16]), true
	case 1:
		if len(body) < 24 {
			return 0, false
		}
		return beUint32(body[20:24]), true
	default:
		return 0, false
	}
}

func stsdHasAV01(data []byte, start, end int) bool {
	if end-start < 8 {
		return false
	}
	header := data[start:end]
	entryCount := int(beUint32(header[4:8]))
	offset := start + 8
	for i := 0; i < entryCount; i++ {
		b, ok := boxAt(data, offset, end)
		if !ok {
			break
		}
		if b.fourcc == [4]byte{'a', 'v', '0', '1'} {
			return true
		}
		offset = b.end
	}
	return false
}

func trackIsAV1(data []byte, trakStart, trakEnd int) (uint32, bool) {
	tkhdStart, tkhdEnd, ok := findChildBoxRange(data, trakStart, trakEnd, [4]byte{'t', 'k', 'h', 'd'})
	if !ok {
		return 0, false
	}
	trackID, ok := parseTkhdTrackID(data, tkhdStart, tkhdEnd)
	if !ok {
		return 0, false
	}

	mdiaStart, mdiaEnd, ok := findChildBoxRange(data, trakStart, trakEnd, [4]byte{'m', 'd', 'i', 'a'})
	if !ok {
		return 0, false
	}
	minfStart, minfEnd, ok := findChildBoxRange(data, mdiaStart, mdiaEnd, [4]byte{'m', 'i', 'n', 'f'})
	if !ok {
		return 0, false
	}
	stblStart, stblEnd, ok := findChildBoxRange(data, minfStart, minfEnd, [4]byte{'s', 't', 'b', 'l'})
	if !ok {
		return 0, false
	}
	stsdStart, stsdEnd, ok := findChildBoxRange(data, stblStart, stblEnd, [4]byte{'s', 't', 's', 'd'})
	if !ok {
		return 0, false
	}

	if stsdHasAV01(data, stsdStart, stsdEnd) {
		return trackID, true
	}
	return 0, false
}

// ExtractAV1TrackIDsFromInit returns the sorted, deduplicated set of
// track ids whose stsd declares an av01 sample entry.
func ExtractAV1TrackIDsFromInit(data []byte) []uint32 {
	var ids []uint32

	offset := 0
	for offset < len(data) {
		b, ok := boxAt(data, offset, len(data))
		if !ok {
			break
		}
		if b.fourcc == [4]byte{'m', 'o', 'o', 'v'} {
			moovOffset := b.bodyStart
			moovEnd := b.end
			for moovOffset < moovEnd {
				child, ok := boxAt(data, moovOffset, moovEnd)
				if !ok {
					break
				}
				if child.fourcc == [4]byte{'t', 'r', 'a', 'k'} {
					if trackID, isAV1 := trackIsAV1(data, child.bodyStart, child.end); isAV1 {
						ids = append(ids, trackID)
					}
				}
				moovOffset = child.end
			}
		}
		offset = b.end
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ids = dedupUint32(ids)
	return ids
}

func dedupUint32(in []uint32) []uint32 {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

type tfhdInfo struct {
	trackID           uint32
	baseDataOffset    int64
	defaultSampleSize *uint32
}

const (
	tfhdBaseDataOffsetPresent     = 0x000001
	tfhdSampleDescriptionIndex    = 0x000002
	tfhdDefaultSampleDuration     = 0x000008
	tfhdDefaultSampleSizePresent  = 0x000010
	tfhdDefaultSampleFlagsPresent = 0x000020
)

func parseTfhd(data []byte, start, end, moofStart int) (tfhdInfo, error) {
	body := data[start:end]
	if len(body) < 8 {
		return tfhdInfo{}, fmt.Errorf("mp4: tfhd box too short")
	}

	flags := uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
	trackID := beUint32(body[4:8])

	idx := 8
	info := tfhdInfo{trackID: trackID, baseDataOffset: int64(moofStart)}

	if flags&tfhdBaseDataOffsetPresent != 0 {
		if idx+8 > len(body) {
			return tfhdInfo{}, fmt.Errorf("mp4: tfhd missing base_data_offset")
		}
		info.baseDataOffset = int64(beUint64(body[idx : idx+8]))
		idx += 8
	}
	if flags&tfhdSampleDescriptionIndex != 0 {
		idx += 4
	}
	if flags&tfhdDefaultSampleDuration != 0 {
		idx += 4
	}
	if flags&tfhdDefaultSampleSizePresent != 0 {
		if idx+4 > len(body) {
			return tfhdInfo{}, fmt.Errorf("mp4: tfhd missing default_sample_size")
		}
		size := beUint32(body[idx : idx+4])
		info.defaultSampleSize = &size
		idx += 4
	}
	if flags&tfhdDefaultSampleFlagsPresent != 0 {
		idx += 4
	}

	if idx > len(body) {
		return tfhdInfo{}, fmt.Errorf("mp4: tfhd fields exceed box size")
	}
	return info, nil
}

type trunValidationState struct {
	nextSampleOffset *int
	checkedSamples   int
}

const (
	trunDataOffsetPresent       = 0x000001
	trunFirstSampleFlagsPresent = 0x000004
	trunSampleDurationPresent   = 0x000100
	trunSampleSizePresent       = 0x000200
	trunSampleFlagsPresent      = 0x000400
	trunSampleCtoPresent        = 0x000800
)

func parseTrunAndValidateSamples(data []byte, start, end int, info tfhdInfo, mdatStart, mdatEnd int, opts Av1ValidationOptions, state *trunValidationState) error {
	body := data[start:end]
	if len(body) < 8 {
		return fmt.Errorf("mp4: trun box too short")
	}

	flags := uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
	sampleCount := int(beUint32(body[4:8]))

	idx := 8
	var dataOffset *int32
	if flags&trunDataOffsetPresent != 0 {
		if idx+4 > len(body) {
			return fmt.Errorf("mp4: trun missing data_offset")
		}
		v := int32(beUint32(body[idx : idx+4]))
		dataOffset = &v
		idx += 4
	}
	if flags&trunFirstSampleFlagsPresent != 0 {
		if idx+4 > len(body) {
			return fmt.Errorf("mp4: trun missing first_sample_flags")
		}
		idx += 4
	}

	hasSampleDuration := flags&trunSampleDurationPresent != 0
	hasSampleSize := flags&trunSampleSizePresent != 0
	hasSampleFlags := flags&trunSampleFlagsPresent != 0
	hasSampleCto := flags&trunSampleCtoPresent != 0

	var sampleOffset int
	switch {
	case dataOffset != nil:
		off := info.baseDataOffset + int64(*dataOffset)
		if off < 0 {
			return fmt.Errorf("mp4: computed av1 sample offset is negative")
		}
		sampleOffset = int(off)
	case state.nextSampleOffset != nil:
		sampleOffset = *state.nextSampleOffset
	default:
		return fmt.Errorf("mp4: av1 trun without data_offset and unknown running sample offset")
	}

	for i := 0; i < sampleCount; i++ {
		if hasSampleDuration {
			if idx+4 > len(body) {
				return fmt.Errorf("mp4: trun sample duration overflows box")
			}
			idx += 4
		}

		var sampleSize uint32
		if hasSampleSize {
			if idx+4 > len(body) {
				return fmt.Errorf("mp4: trun sample size overflows box")
			}
			sampleSize = beUint32(body[idx : idx+4])
			idx += 4
		} else if info.defaultSampleSize != nil {
			sampleSize = *info.defaultSampleSize
		} else {
			return fmt.Errorf("mp4: trun sample has no explicit size and tfhd has no default_sample_size")
		}

		sampleEnd := sampleOffset + int(sampleSize)
		if sampleOffset < mdatStart || sampleEnd > mdatEnd {
			return fmt.Errorf("mp4: av1 sample range [%d..%d) is outside mdat [%d..%d)", sampleOffset, sampleEnd, mdatStart, mdatEnd)
		}

		if err := av1.ValidateSample(data[sampleOffset:sampleEnd], av1.SampleValidationOptions{
			EnforceShouldNotObus: opts.EnforceShouldNotObus,
			EnforceReservedObus:  opts.EnforceReservedObus,
		}); err != nil {
			return fmt.Errorf("mp4: av1 sample conformance failure on track %d: %w", info.trackID, err)
		}

		state.checkedSamples++
		sampleOffset = sampleEnd

		if hasSampleFlags {
			if idx+4 > len(body) {
				return fmt.Errorf("mp4: trun sample flags overflows box")
			}
			idx += 4
		}
		if hasSampleCto {
			if idx+4 > len(body) {
				return fmt.Errorf("mp4: trun sample composition time overflows box")
			}
			idx += 4
		}
	}

	state.nextSampleOffset = &sampleOffset
	return nil
}

func containsUint32(sorted []uint32, ascending bool, v uint32) bool {
	if ascending {
		i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= v })
		return i < len(sorted) && sorted[i] == v
	}
	for _, id := range sorted {
		if id == v {
			return true
		}
	}
	return false
}

type pendingTrun struct{ start, end int }

func validateAV1TracksInFragment(data []byte, av1TrackIDs []uint32, trackIDsSorted bool, opts Av1ValidationOptions) (Av1MediaValidationSummary, error) {
	var moofStart, moofBodyStart, moofEnd int
	haveMoof := false
	var mdatStart, mdatEnd int
	haveMdat := false

	topOffset := 0
	for topOffset < len(data) {
		b, ok := boxAt(data, topOffset, len(data))
		if !ok {
			break
		}
		if b.fourcc == [4]byte{'m', 'o', 'o', 'f'} && !haveMoof {
			moofStart, moofBodyStart, moofEnd = b.start, b.bodyStart, b.end
			haveMoof = true
		} else if b.fourcc == [4]byte{'m', 'd', 'a', 't'} && !haveMdat {
			mdatStart, mdatEnd = b.bodyStart, b.bodyEnd
			haveMdat = true
		}
		topOffset = b.end
	}

	if !haveMoof || !haveMdat {
		return Av1MediaValidationSummary{}, nil
	}

	var summary Av1MediaValidationSummary
	moofOffset := moofBodyStart
	for moofOffset < moofEnd {
		child, ok := boxAt(data, moofOffset, moofEnd)
		if !ok {
			break
		}

		if child.fourcc == [4]byte{'t', 'r', 'a', 'f'} {
			trafStart, trafEnd := child.bodyStart, child.end

			var tfhd *tfhdInfo
			isAV1Track := false
			countedTrack := false
			trunState := trunValidationState{checkedSamples: summary.CheckedSamples}
			var pendingTruns []pendingTrun

			trafOffset := trafStart
			for trafOffset < trafEnd {
				trafChild, ok := boxAt(data, trafOffset, trafEnd)
				if !ok {
					break
				}

				switch trafChild.fourcc {
				case [4]byte{'t', 'f', 'h', 'd'}:
					parsed, err := parseTfhd(data, trafChild.bodyStart, trafChild.end, moofStart)
					if err != nil {
						return Av1MediaValidationSummary{}, err
					}
					isAV1Track = containsUint32(av1TrackIDs, trackIDsSorted, parsed.trackID)

					if isAV1Track && !countedTrack {
						summary.CheckedTracks++
						countedTrack = true
					}
					if isAV1Track {
						for _, p := range pendingTruns {
							if err := parseTrunAndValidateSamples(data, p.start, p.end, parsed, mdatStart, mdatEnd, opts, &trunState); err != nil {
								return Av1MediaValidationSummary{}, err
							}
						}
						pendingTruns = nil
					}
					tfhd = &parsed
				case [4]byte{'t', 'r', 'u', 'n'}:
					if tfhd != nil {
						if isAV1Track {
							if err := parseTrunAndValidateSamples(data, trafChild.bodyStart, trafChild.end, *tfhd, mdatStart, mdatEnd, opts, &trunState); err != nil {
								return Av1MediaValidationSummary{}, err
							}
						}
					} else {
						pendingTruns = append(pendingTruns, pendingTrun{trafChild.bodyStart, trafChild.end})
					}
				}

				trafOffset = trafChild.end
			}

			if isAV1Track && tfhd != nil {
				for _, p := range pendingTruns {
					if err := parseTrunAndValidateSamples(data, p.start, p.end, *tfhd, mdatStart, mdatEnd, opts, &trunState); err != nil {
						return Av1MediaValidationSummary{}, err
					}
				}
			}

			summary.CheckedSamples = trunState.checkedSamples
		}

		moofOffset = child.end
	}

	return summary, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
