package mp4

import "encoding/binary"

func makeBox(fourcc [4]byte, body []byte) []byte {
	out := make([]byte, 0, 8+len(body))
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(8+len(body)))
	out = append(out, sizeBuf[:]...)
	out = append(out, fourcc[:]...)
	out = append(out, body...)
	return out
}

func makeFullboxBody(content []byte) []byte {
	out := make([]byte, 4, 4+len(content))
	return append(out, content...)
}

func makeVisualSampleEntry(fourcc [4]byte, childBoxes []byte) []byte {
	body := make([]byte, visualSampleEntryHeader, visualSampleEntryHeader+len(childBoxes))
	body = append(body, childBoxes...)
	return makeBox(fourcc, body)
}

func makeAudioSampleEntry(fourcc [4]byte, childBoxes []byte) []byte {
	const audioSampleEntryHeader = 20
	body := make([]byte, audioSampleEntryHeader, audioSampleEntryHeader+len(childBoxes))
	body = append(body, childBoxes...)
	return makeBox(fourcc, body)
}

func makeTkhd(trackID uint32) []byte {
	body := make([]byte, 16)
	binary.BigEndian.PutUint32(body[12:16], trackID)
	return makeBox([4]byte{'t', 'k', 'h', 'd'}, body)
}

func wrapMoovTrak(trackID uint32, sampleEntry []byte) []byte {
	stsdBody := makeFullboxBody(append(uint32Bytes(1), sampleEntry...))
	stsd := makeBox([4]byte{'s', 't', 's', 'd'}, stsdBody)
	stbl := makeBox([4]byte{'s', 't', 'b', 'l'}, stsd)
	minf := makeBox([4]byte{'m', 'i', 'n', 'f'}, stbl)
	mdia := makeBox([4]byte{'m', 'd', 'i', 'a'}, minf)
	trakBody := append(makeTkhd(trackID), mdia...)
	trak := makeBox([4]byte{'t', 'r', 'a', 'k'}, trakBody)
	return makeBox([4]byte{'m', 'o', 'o', 'v'}, trak)
}

func uint32Bytes(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// makeMediaSegmentForTrack builds a moof/traf/tfhd/trun + mdat fragment
// containing a single sample (sampleData) for trackID, with base-data-
// offset defaulting to the moof start and the trun's data_offset pointing
// at the mdat payload.
func makeMediaSegmentForTrack(trackID uint32, sampleData []byte) []byte {
	mdat := makeBox([4]byte{'m', 'd', 'a', 't'}, sampleData)

	// tfhd: version=0, flags = default-sample-size-present(0x000010)
	tfhdFlags := uint32(0x000010)
	tfhdBody := make([]byte, 0, 4+4+4)
	tfhdBody = append(tfhdBody, 0, byte(tfhdFlags>>16), byte(tfhdFlags>>8), byte(tfhdFlags))
	tfhdBody = append(tfhdBody, uint32Bytes(trackID)...)
	tfhdBody = append(tfhdBody, uint32Bytes(uint32(len(sampleData)))...)
	tfhd := makeBox([4]byte{'t', 'f', 'h', 'd'}, tfhdBody)

	// trun: version=0, flags = data-offset-present(0x000001); data_offset
	// patched below once the enclosing moof's length is known.
	trunFlags := uint32(0x000001)
	trunBody := make([]byte, 0, 4+4+4)
	trunBody = append(trunBody, 0, byte(trunFlags>>16), byte(trunFlags>>8), byte(trunFlags))
	trunBody = append(trunBody, uint32Bytes(1)...) // sample_count=1
	trunBody = append(trunBody, 0, 0, 0, 0)         // data_offset placeholder
	trun := makeBox([4]byte{'t', 'r', 'u', 'n'}, trunBody)

	trafBody := append(append([]byte{}, tfhd...), trun...)
	traf := makeBox([4]byte{'t', 'r', 'a', 'f'}, trafBody)
	moof := makeBox([4]byte{'m', 'o', 'o', 'f'}, traf)

	// data_offset is relative to base_data_offset, which here defaults to
	// the moof box's own start (offset 0 in this fragment buffer), so it
	// equals the mdat box's body offset directly.
	dataOffset := uint32(len(moof) + 8) // +8 for the mdat box header
	dataOffsetPos := len(moof) - 4
	binary.BigEndian.PutUint32(moof[dataOffsetPos:dataOffsetPos+4], dataOffset)

	out := append([]byte{}, moof...)
	out = append(out, mdat...)
	return out
}

func makeInitWithVideoSampleEntry(trackID uint32, fourcc [4]byte) []byte {
	sampleEntry := makeVisualSampleEntry(fourcc, nil)
	return wrapMoovTrak(trackID, sampleEntry)
}
