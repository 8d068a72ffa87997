package mp4

import "testing"

func TestReadBoxHeaderBasic(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x10, 'f', 't', 'y', 'p', 0, 0, 0, 0, 0, 0, 0, 0}
	size, fourcc, headerSize, ok := readBoxHeader(data)
	if !ok || size != 16 || fourcc != ([4]byte{'f', 't', 'y', 'p'}) || headerSize != 8 {
		t.Fatalf("got size=%d fourcc=%q headerSize=%d ok=%v", size, fourcc, headerSize, ok)
	}
}

func TestReadBoxHeaderExtendedSize(t *testing.T) {
	data := append([]byte{0x00, 0x00, 0x00, 0x01, 'm', 'o', 'o', 'v'}, uint64Bytes24()...)
	data = append(data, make([]byte, 8)...)
	size, fourcc, headerSize, ok := readBoxHeader(data)
	if !ok || size != 24 || fourcc != ([4]byte{'m', 'o', 'o', 'v'}) || headerSize != 16 {
		t.Fatalf("got size=%d fourcc=%q headerSize=%d ok=%v", size, fourcc, headerSize, ok)
	}
}

func uint64Bytes24() []byte {
	return []byte{0, 0, 0, 0, 0, 0, 0, 24}
}

func TestReadBoxHeaderSizeZero(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x00, 't', 'e', 's', 't', 1, 2, 3}
	size, fourcc, headerSize, ok := readBoxHeader(data)
	if !ok || size != 11 || fourcc != ([4]byte{'t', 'e', 's', 't'}) || headerSize != 8 {
		t.Fatalf("got size=%d fourcc=%q headerSize=%d ok=%v", size, fourcc, headerSize, ok)
	}
}

func TestReadBoxHeaderTooShort(t *testing.T) {
	if _, _, _, ok := readBoxHeader(make([]byte, 7)); ok {
		t.Fatal("expected not ok")
	}
	if _, _, _, ok := readBoxHeader(nil); ok {
		t.Fatal("expected not ok")
	}
}

func TestParseInitSegmentEmpty(t *testing.T) {
	info := ParseInitSegment(nil)
	if info.HasAV1 || info.HasH264 || info.HasH265 || info.HasAAC || info.HasAC3 {
		t.Fatalf("got %+v", info)
	}
	if info.AV1CData != nil || info.AVCCData != nil || info.HVCCData != nil {
		t.Fatalf("got %+v", info)
	}
}

func TestParseInitSegmentWithH264(t *testing.T) {
	data := makeInitWithVideoSampleEntry(1, [4]byte{'a', 'v', 'c', '1'})
	info := ParseInitSegment(data)
	if !info.HasH264 || info.HasAV1 || info.HasH265 {
		t.Fatalf("got %+v", info)
	}
	if info.AVCCData != nil {
		t.Fatalf("expected no avcC box, got %v", info.AVCCData)
	}
}

func TestParseInitSegmentWithH265(t *testing.T) {
	data := makeInitWithVideoSampleEntry(1, [4]byte{'h', 'v', 'c', '1'})
	info := ParseInitSegment(data)
	if !info.HasH265 || info.HasAV1 || info.HasH264 {
		t.Fatalf("got %+v", info)
	}
}

func TestParseInitSegmentWithAV1AndAV1C(t *testing.T) {
	av1cPayload := []byte{0x81, 0x04, 0x0C, 0x00}
	av1cBox := makeBox([4]byte{'a', 'v', '1', 'C'}, av1cPayload)
	sampleEntry := makeVisualSampleEntry([4]byte{'a', 'v', '0', '1'}, av1cBox)
	data := wrapMoovTrak(1, sampleEntry)

	info := ParseInitSegment(data)
	if !info.HasAV1 || info.HasH264 || info.HasH265 {
		t.Fatalf("got %+v", info)
	}
	if info.AV1CData == nil {
		t.Fatal("expected av1C payload")
	}
	if string(info.AV1CData) != string(av1cPayload) {
		t.Fatalf("got %v, want %v", info.AV1CData, av1cPayload)
	}
}

func TestParseInitSegmentWithH264AndAvcC(t *testing.T) {
	avccPayload := []byte{0x01, 0x64, 0x00, 0x1f, 0xff, 0xe1, 0x00, 0x04, 0xaa, 0xbb, 0xcc, 0xdd}
	avccBox := makeBox([4]byte{'a', 'v', 'c', 'C'}, avccPayload)
	sampleEntry := makeVisualSampleEntry([4]byte{'a', 'v', 'c', '1'}, avccBox)
	data := wrapMoovTrak(1, sampleEntry)

	info := ParseInitSegment(data)
	if !info.HasH264 {
		t.Fatalf("got %+v", info)
	}
	if string(info.AVCCData) != string(avccPayload) {
		t.Fatalf("got %v, want %v", info.AVCCData, avccPayload)
	}
}

func TestParseInitSegmentWithAudio(t *testing.T) {
	sampleEntry := makeAudioSampleEntry([4]byte{'m', 'p', '4', 'a'}, nil)
	data := wrapMoovTrak(1, sampleEntry)

	info := ParseInitSegment(data)
	if !info.HasAAC || info.HasAV1 {
		t.Fatalf("got %+v", info)
	}
}
