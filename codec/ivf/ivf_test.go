package ivf

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func testHeader() Header {
	return Header{
		Version:             0,
		Width:               1920,
		Height:              1080,
		TimebaseNumerator:   1,
		TimebaseDenominator: 30,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := testHeader()
	var buf bytes.Buffer
	if err := h.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != HeaderSize {
		t.Fatalf("got %d bytes, want %d", buf.Len(), HeaderSize)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestHeaderByteLayout(t *testing.T) {
	h := testHeader()
	var buf bytes.Buffer
	if err := h.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if string(b[0:4]) != "DKIF" {
		t.Fatalf("signature = %q", b[0:4])
	}
	if string(b[8:12]) != "av01" {
		t.Fatalf("fourcc = %q", b[8:12])
	}
	if got := binary.LittleEndian.Uint32(b[16:20]); got != 30 {
		t.Fatalf("denominator at offset 16 = %d, want 30", got)
	}
	if got := binary.LittleEndian.Uint32(b[20:24]); got != 1 {
		t.Fatalf("numerator at offset 20 = %d, want 1", got)
	}
}

func TestHeaderInvalidSignature(t *testing.T) {
	data := append([]byte("XXXX"), make([]byte, HeaderSize-4)...)
	_, err := Decode(bytes.NewReader(data))
	if _, ok := err.(*ErrInvalidSignature); !ok {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}
}

func TestHeaderInvalidCodec(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	var u16b [2]byte
	binary.LittleEndian.PutUint16(u16b[:], 0)
	buf.Write(u16b[:])
	binary.LittleEndian.PutUint16(u16b[:], 32)
	buf.Write(u16b[:])
	buf.WriteString("VP80")
	buf.Write(make([]byte, 16))

	_, err := Decode(&buf)
	if _, ok := err.(*ErrInvalidCodec); !ok {
		t.Fatalf("got %v, want ErrInvalidCodec", err)
	}
}

func TestHeaderAcceptsUppercaseFourCC(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	writeU16(&buf, 0)
	writeU16(&buf, 32)
	buf.WriteString("AV01")
	writeU16(&buf, 1920)
	writeU16(&buf, 1080)
	writeU32(&buf, 30)
	writeU32(&buf, 1)
	writeU32(&buf, 0)
	writeU32(&buf, 0)

	h, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.Width != 1920 || h.Height != 1080 {
		t.Fatalf("got %+v", h)
	}
}

func TestHeaderUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	writeU16(&buf, 1)
	buf.Write(make([]byte, 24))
	_, err := Decode(&buf)
	if e, ok := err.(*ErrUnsupportedVersion); !ok || e.Got != 1 {
		t.Fatalf("got %v, want ErrUnsupportedVersion(1)", err)
	}
}

func TestHeaderZeroTimebase(t *testing.T) {
	build := func(num, den uint32) *bytes.Buffer {
		var buf bytes.Buffer
		buf.WriteString("DKIF")
		writeU16(&buf, 0)
		writeU16(&buf, 32)
		buf.WriteString("av01")
		writeU16(&buf, 1920)
		writeU16(&buf, 1080)
		writeU32(&buf, den)
		writeU32(&buf, num)
		writeU32(&buf, 0)
		writeU32(&buf, 0)
		return &buf
	}
	if _, err := Decode(build(1, 0)); err == nil {
		t.Fatal("expected error for zero denominator")
	}
	if _, err := Decode(build(0, 30)); err == nil {
		t.Fatal("expected error for zero numerator")
	}
}

func TestFrameHeaderRoundTrip(t *testing.T) {
	fh := FrameHeader{FrameSize: 1234, PTS: 42}
	var buf bytes.Buffer
	if err := fh.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != FrameHeaderSize {
		t.Fatalf("got %d bytes, want %d", buf.Len(), FrameHeaderSize)
	}
	got, err := DecodeFrameHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != fh {
		t.Fatalf("got %+v, want %+v", got, fh)
	}
}

func TestDecodeFrame(t *testing.T) {
	payload := []byte("OBU data here")
	var buf bytes.Buffer
	fh := FrameHeader{FrameSize: uint32(len(payload)), PTS: 100}
	if err := fh.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	buf.Write(payload)

	frame, pos, err := DecodeFrame(buf.Bytes(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Header.PTS != 100 || !bytes.Equal(frame.Data, payload) {
		t.Fatalf("got %+v", frame)
	}
	if pos != buf.Len() {
		t.Fatalf("pos = %d, want %d", pos, buf.Len())
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	fh := FrameHeader{FrameSize: 100, PTS: 0}
	if err := fh.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("short")

	_, _, err := DecodeFrame(buf.Bytes(), 0)
	e, ok := err.(*ErrUnexpectedEOF)
	if !ok || e.Expected != 100 || e.Actual != 5 {
		t.Fatalf("got %v, want ErrUnexpectedEOF{100,5}", err)
	}
}

// TestWriterFinalize is spec scenario 3: build a header, write two frames,
// finalize, reparse and check frame_count plus the offset-16/20 fields.
func TestWriterFinalize(t *testing.T) {
	buf := newSeekableBuffer()
	w, err := NewWriter(buf, testHeader())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrame(0, []byte("frame0")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFrame(1, []byte("frame1")); err != nil {
		t.Fatal(err)
	}
	if w.FrameCount() != 2 {
		t.Fatalf("FrameCount() = %d, want 2", w.FrameCount())
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	if got := binary.LittleEndian.Uint32(data[16:20]); got != 30 {
		t.Fatalf("bytes[16:20] = %d, want 30", got)
	}
	if got := binary.LittleEndian.Uint32(data[20:24]); got != 1 {
		t.Fatalf("bytes[20:24] = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 2 {
		t.Fatalf("frame_count = %d, want 2", got)
	}

	r := bytes.NewReader(data)
	header, err := Decode(r)
	if err != nil {
		t.Fatal(err)
	}
	if header.FrameCount != 2 {
		t.Fatalf("reparsed frame_count = %d", header.FrameCount)
	}

	rest := data[HeaderSize:]
	frame0, pos, err := DecodeFrame(rest, 0)
	if err != nil {
		t.Fatal(err)
	}
	if frame0.Header.PTS != 0 || string(frame0.Data) != "frame0" {
		t.Fatalf("frame0 = %+v", frame0)
	}
	frame1, _, err := DecodeFrame(rest, pos)
	if err != nil {
		t.Fatal(err)
	}
	if frame1.Header.PTS != 1 || string(frame1.Data) != "frame1" {
		t.Fatalf("frame1 = %+v", frame1)
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// seekableBuffer is a minimal io.Writer + io.Seeker over a growable byte
// slice, standing in for an *os.File in these in-memory tests.
type seekableBuffer struct {
	data []byte
	pos  int64
}

func newSeekableBuffer() *seekableBuffer { return &seekableBuffer{} }

func (b *seekableBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		b.pos = offset
	case 1:
		b.pos += offset
	case 2:
		b.pos = int64(len(b.data)) + offset
	}
	return b.pos, nil
}

func (b *seekableBuffer) Bytes() []byte { return b.data }
