package av1

import (
	"bytes"
	"testing"
)

func makeObu(obuType ObuType, data []byte) Obu {
	size := uint64(len(data))
	return Obu{
		Header: Header{Type: obuType, Size: &size},
		Data:   append([]byte(nil), data...),
	}
}

func dataEq(a, b []byte) bool { return bytes.Equal(a, b) }

// TestAnnexBSingleTUSingleFUSingleOBU is spec scenario 4.
func TestAnnexBSingleTUSingleFUSingleOBU(t *testing.T) {
	obu := makeObu(ObuSequenceHeader, []byte("seqhdr"))
	tu := TemporalUnit{FrameUnits: []FrameUnit{{Obus: []Obu{obu}}}}

	var buf bytes.Buffer
	written, err := WriteTemporalUnit(&buf, tu)
	if err != nil {
		t.Fatal(err)
	}
	if written != buf.Len() {
		t.Fatalf("written=%d, buf.Len()=%d", written, buf.Len())
	}

	r := NewReader(buf.Bytes())
	parsed, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsEmpty() {
		t.Fatal("expected reader exhausted")
	}
	if len(parsed.FrameUnits) != 1 || len(parsed.FrameUnits[0].Obus) != 1 {
		t.Fatalf("got %+v", parsed)
	}
	got := parsed.FrameUnits[0].Obus[0]
	if got.Header.Type != ObuSequenceHeader || !dataEq(got.Data, []byte("seqhdr")) {
		t.Fatalf("got %+v", got)
	}
}

func TestAnnexBMultipleFrameUnits(t *testing.T) {
	tu := TemporalUnit{FrameUnits: []FrameUnit{
		{Obus: []Obu{makeObu(ObuFrameHeader, []byte("fh"))}},
		{Obus: []Obu{makeObu(ObuTileGroup, []byte("tiles"))}},
	}}

	var buf bytes.Buffer
	if _, err := WriteTemporalUnit(&buf, tu); err != nil {
		t.Fatal(err)
	}

	r := NewReader(buf.Bytes())
	parsed, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsEmpty() {
		t.Fatal("expected reader exhausted")
	}
	if len(parsed.FrameUnits) != 2 {
		t.Fatalf("got %d frame units", len(parsed.FrameUnits))
	}
	if parsed.FrameUnits[0].Obus[0].Header.Type != ObuFrameHeader || !dataEq(parsed.FrameUnits[0].Obus[0].Data, []byte("fh")) {
		t.Fatalf("fu0 = %+v", parsed.FrameUnits[0])
	}
	if parsed.FrameUnits[1].Obus[0].Header.Type != ObuTileGroup || !dataEq(parsed.FrameUnits[1].Obus[0].Data, []byte("tiles")) {
		t.Fatalf("fu1 = %+v", parsed.FrameUnits[1])
	}
}

func TestAnnexBMultipleTemporalUnits(t *testing.T) {
	tu1 := TemporalUnit{FrameUnits: []FrameUnit{{Obus: []Obu{makeObu(ObuFrame, []byte("frame1"))}}}}
	tu2 := TemporalUnit{FrameUnits: []FrameUnit{{Obus: []Obu{makeObu(ObuFrame, []byte("frame2"))}}}}

	var buf bytes.Buffer
	if _, err := WriteTemporalUnit(&buf, tu1); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteTemporalUnit(&buf, tu2); err != nil {
		t.Fatal(err)
	}

	r := NewReader(buf.Bytes())
	p1, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !dataEq(p1.FrameUnits[0].Obus[0].Data, []byte("frame1")) {
		t.Fatalf("tu1 = %+v", p1)
	}
	p2, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !dataEq(p2.FrameUnits[0].Obus[0].Data, []byte("frame2")) {
		t.Fatalf("tu2 = %+v", p2)
	}
	if !r.IsEmpty() {
		t.Fatal("expected reader exhausted")
	}
}

func TestAnnexBEmptyStream(t *testing.T) {
	r := NewReader(nil)
	if !r.IsEmpty() {
		t.Fatal("expected empty reader to report empty")
	}
}

func TestAnnexBObuWithExtension(t *testing.T) {
	size := uint64(3)
	obu := Obu{
		Header: Header{
			Type:      ObuMetadata,
			Size:      &size,
			Extension: &ExtensionHeader{TemporalID: 2, SpatialID: 1},
		},
		Data: []byte("ext"),
	}
	tu := TemporalUnit{FrameUnits: []FrameUnit{{Obus: []Obu{obu}}}}

	var buf bytes.Buffer
	if _, err := WriteTemporalUnit(&buf, tu); err != nil {
		t.Fatal(err)
	}

	r := NewReader(buf.Bytes())
	parsed, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	got := parsed.FrameUnits[0].Obus[0]
	if got.Header.Type != ObuMetadata {
		t.Fatalf("type = %v", got.Header.Type)
	}
	if got.Header.Extension == nil || got.Header.Extension.TemporalID != 2 || got.Header.Extension.SpatialID != 1 {
		t.Fatalf("extension = %+v", got.Header.Extension)
	}
	if !dataEq(got.Data, []byte("ext")) {
		t.Fatalf("data = %q", got.Data)
	}
}

func TestAnnexBMultipleObusPerFrameUnit(t *testing.T) {
	fu := FrameUnit{Obus: []Obu{
		makeObu(ObuFrameHeader, []byte("header")),
		makeObu(ObuTileGroup, []byte("tiles_data")),
	}}
	tu := TemporalUnit{FrameUnits: []FrameUnit{fu}}

	var buf bytes.Buffer
	if _, err := WriteTemporalUnit(&buf, tu); err != nil {
		t.Fatal(err)
	}

	r := NewReader(buf.Bytes())
	parsed, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed.FrameUnits[0].Obus) != 2 {
		t.Fatalf("got %d obus", len(parsed.FrameUnits[0].Obus))
	}
	if parsed.FrameUnits[0].Obus[0].Header.Type != ObuFrameHeader || !dataEq(parsed.FrameUnits[0].Obus[0].Data, []byte("header")) {
		t.Fatalf("obu0 = %+v", parsed.FrameUnits[0].Obus[0])
	}
	if parsed.FrameUnits[0].Obus[1].Header.Type != ObuTileGroup || !dataEq(parsed.FrameUnits[0].Obus[1].Data, []byte("tiles_data")) {
		t.Fatalf("obu1 = %+v", parsed.FrameUnits[0].Obus[1])
	}
}

// TestAnnexBObuWithSizeFieldSet builds a stream where the inner OBU has
// obu_has_size_field=1, tolerated per the Annex B framing even though the
// writer always emits obu_has_size_field=0.
func TestAnnexBObuWithSizeFieldSet(t *testing.T) {
	payload := []byte("data")

	// type=SequenceHeader(1), ext=0, has_size=1, reserved=0: 0b0_0001_0_1_0 = 0x0A.
	obuHeaderByte := byte(0x0A)
	obuSizeLeb128 := []byte{byte(len(payload))}
	obuLength := 1 + len(obuSizeLeb128) + len(payload)

	var frameUnitPayload bytes.Buffer
	if _, err := WriteLEB128(&frameUnitPayload, uint64(obuLength)); err != nil {
		t.Fatal(err)
	}
	frameUnitPayload.WriteByte(obuHeaderByte)
	frameUnitPayload.Write(obuSizeLeb128)
	frameUnitPayload.Write(payload)

	var temporalUnitPayload bytes.Buffer
	if _, err := WriteLEB128(&temporalUnitPayload, uint64(frameUnitPayload.Len())); err != nil {
		t.Fatal(err)
	}
	temporalUnitPayload.Write(frameUnitPayload.Bytes())

	var buf bytes.Buffer
	if _, err := WriteLEB128(&buf, uint64(temporalUnitPayload.Len())); err != nil {
		t.Fatal(err)
	}
	buf.Write(temporalUnitPayload.Bytes())

	r := NewReader(buf.Bytes())
	parsed, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed.FrameUnits) != 1 || len(parsed.FrameUnits[0].Obus) != 1 {
		t.Fatalf("got %+v", parsed)
	}
	obu := parsed.FrameUnits[0].Obus[0]
	if obu.Header.Type != ObuSequenceHeader {
		t.Fatalf("type = %v", obu.Header.Type)
	}
	if obu.Header.Size == nil || *obu.Header.Size != 4 {
		t.Fatalf("size = %v", obu.Header.Size)
	}
	if !dataEq(obu.Data, payload) {
		t.Fatalf("data = %q", obu.Data)
	}
}

func TestLEB128RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16384, leb128MaxValue}
	for _, v := range values {
		var buf bytes.Buffer
		if _, err := WriteLEB128(&buf, v); err != nil {
			t.Fatal(err)
		}
		got, err := ReadLEB128(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Fatalf("got %d, want %d", got, v)
		}
	}
}

func TestLEB128Overflow(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteLEB128(&buf, leb128MaxValue+1); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadLEB128(&buf); err != ErrLEB128Overflow {
		t.Fatalf("got %v, want ErrLEB128Overflow", err)
	}
}
