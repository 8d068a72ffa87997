package mp4

// containerBoxes are the box FourCCs we descend into while looking for
// stsd entries in an init segment's moov tree.
var containerBoxes = [][4]byte{
	{'m', 'o', 'o', 'v'},
	{'t', 'r', 'a', 'k'},
	{'m', 'd', 'i', 'a'},
	{'m', 'i', 'n', 'f'},
	{'s', 't', 'b', 'l'},
}

func isContainerBox(fourcc [4]byte) bool {
	for _, c := range containerBoxes {
		if c == fourcc {
			return true
		}
	}
	return false
}

// visualSampleEntryHeader is the number of bytes in a VisualSampleEntry
// body (ISO 14496-12) before its child boxes begin: 6 reserved + 2
// data_ref_idx + 16 pre-defined/reserved + 2 width + 2 height + 4
// horiz_res + 4 vert_res + 4 reserved + 2 frame_count + 32
// compressor_name + 2 depth + 2 pre-defined = 78. The 8-byte box header
// is not part of this count; configBoxPayload adds it separately.
const visualSampleEntryHeader = 78

// InitSegmentInfo summarizes the codec sample entries found while
// walking an fMP4 init segment's moov tree.
type InitSegmentInfo struct {
	HasAV1  bool
	HasH264 bool
	HasH265 bool
	HasAAC  bool
	HasAC3  bool

	AV1CData []byte
	AVCCData []byte
	HVCCData []byte
}

// ParseInitSegment walks an fMP4 init segment and reports which codecs
// its sample entries declare.
func ParseInitSegment(data []byte) InitSegmentInfo {
	var info InitSegmentInfo
	walkBoxes(data, 0, len(data), &info)
	return info
}

func walkBoxes(data []byte, start, end int, info *InitSegmentInfo) {
	offset := start
	for offset < end {
		b, ok := boxAt(data, offset, end)
		if !ok {
			break
		}
		switch {
		case isContainerBox(b.fourcc):
			walkBoxes(data, b.bodyStart, b.bodyEnd, info)
		case b.fourcc == [4]byte{'s', 't', 's', 'd'}:
			parseStsd(data, b.bodyStart, b.bodyEnd, info)
		}
		offset = b.end
	}
}

// parseStsd parses a Sample Description box: a FullBox (4 bytes
// version+flags, 4 bytes entry_count) followed by entry_count sample
// entry boxes.
func parseStsd(data []byte, start, end int, info *InitSegmentInfo) {
	if end-start < 8 {
		return
	}
	header := data[start:end]
	entryCount := int(beUint32(header[4:8]))
	offset := start + 8

	for i := 0; i < entryCount; i++ {
		if offset+8 > end {
			break
		}
		b, ok := boxAt(data, offset, end)
		if !ok {
			break
		}

		switch b.fourcc {
		case [4]byte{'a', 'v', '0', '1'}:
			info.HasAV1 = true
			info.AV1CData = configBoxPayload(data, b, [4]byte{'a', 'v', '1', 'C'})
		case [4]byte{'a', 'v', 'c', '1'}, [4]byte{'a', 'v', 'c', '3'}:
			info.HasH264 = true
			info.AVCCData = configBoxPayload(data, b, [4]byte{'a', 'v', 'c', 'C'})
		case [4]byte{'h', 'v', 'c', '1'}, [4]byte{'h', 'e', 'v', '1'}:
			info.HasH265 = true
			info.HVCCData = configBoxPayload(data, b, [4]byte{'h', 'v', 'c', 'C'})
		case [4]byte{'m', 'p', '4', 'a'}:
			info.HasAAC = true
		case [4]byte{'a', 'c', '-', '3'}, [4]byte{'e', 'c', '-', '3'}:
			info.HasAC3 = true
		}

		offset = b.end
	}
}

func configBoxPayload(data []byte, entry box, target [4]byte) []byte {
	innerOffset := entry.headerSize + visualSampleEntryHeader
	size := int(entry.size)
	if innerOffset >= size {
		return nil
	}
	innerStart := entry.start + innerOffset
	return findFirstBoxPayload(data, innerStart, entry.end, target)
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
