package flv

import (
	"bytes"
	"io"
	"testing"

	"github.com/streamrec/core/codec/amf0"
)

// memFile is a minimal in-memory RandomAccessFile for exercising the
// script-tag rewriter without touching the filesystem.
type memFile struct {
	data []byte
	pos  int64
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:end], p)
	return len(p), nil
}

func (m *memFile) Read(p []byte) (int, error) {
	n, err := m.ReadAt(p, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *memFile) Write(p []byte) (int, error) {
	n, err := m.WriteAt(p, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.data)) + offset
	}
	return m.pos, nil
}

func (m *memFile) Truncate(size int64) error {
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

// buildFixture writes a header, a placeholder onMetaData script tag, and
// a trailing video tag, returning the file plus the tail bytes (the
// trailing video tag) for byte-identity comparisons.
func buildFixture(t *testing.T, metaProps []amf0.Property) (*memFile, []byte) {
	t.Helper()
	var buf bytes.Buffer
	h := Header{HasVideo: true}
	enc := h.Encode()
	buf.Write(enc[:])
	if err := WritePreviousTagSize(&buf, 0); err != nil {
		t.Fatal(err)
	}

	payload, err := EncodeOnMetaData(metaProps)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteTag(&buf, Tag{Header: TagHeader{Type: TagScriptData, TimestampMs: 0}, Data: payload}); err != nil {
		t.Fatal(err)
	}

	tailStart := buf.Len()
	if err := WriteTag(&buf, Tag{Header: TagHeader{Type: TagVideo, TimestampMs: 40}, Data: []byte{0x17, 0x01, 0x02, 0x03}}); err != nil {
		t.Fatal(err)
	}
	full := buf.Bytes()
	tail := append([]byte(nil), full[tailStart:]...)
	return &memFile{data: append([]byte(nil), full...)}, tail
}

func TestRewriteOnMetaDataSameSize(t *testing.T) {
	props := []amf0.Property{{Key: "duration", Value: amf0.Number(0)}}
	f, tail := buildFixture(t, props)

	newProps := []amf0.Property{{Key: "duration", Value: amf0.Number(9)}}
	newPayload, err := EncodeOnMetaData(newProps)
	if err != nil {
		t.Fatal(err)
	}

	originalLen := len(f.data)
	ok, err := RewriteOnMetaData(f, newPayload, 0)
	if err != nil || !ok {
		t.Fatalf("RewriteOnMetaData: ok=%v err=%v", ok, err)
	}
	if len(f.data) != originalLen {
		t.Fatalf("file length changed: %d -> %d", originalLen, len(f.data))
	}
	if !bytes.Equal(f.data[len(f.data)-len(tail):], tail) {
		t.Fatal("tail bytes not byte-identical for same-size rewrite")
	}
	assertReparsesToOnMetaData(t, f, newProps)
}

func TestRewriteOnMetaDataLarger(t *testing.T) {
	props := []amf0.Property{{Key: "duration", Value: amf0.Number(0)}}
	f, tail := buildFixture(t, props)

	newProps := []amf0.Property{
		{Key: "duration", Value: amf0.Number(120.5)},
		{Key: "width", Value: amf0.Number(1920)},
		{Key: "height", Value: amf0.Number(1080)},
	}
	newPayload, err := EncodeOnMetaData(newProps)
	if err != nil {
		t.Fatal(err)
	}

	originalLen := len(f.data)
	ok, err := RewriteOnMetaData(f, newPayload, 0)
	if err != nil || !ok {
		t.Fatalf("RewriteOnMetaData: ok=%v err=%v", ok, err)
	}
	delta := len(f.data) - originalLen
	if delta <= 0 {
		t.Fatalf("expected file to grow, delta=%d", delta)
	}
	if !bytes.Equal(f.data[len(f.data)-len(tail):], tail) {
		t.Fatal("tail bytes not byte-identical after growing rewrite")
	}
	assertReparsesToOnMetaData(t, f, newProps)
}

func TestRewriteOnMetaDataSmaller(t *testing.T) {
	props := []amf0.Property{
		{Key: "duration", Value: amf0.Number(120.5)},
		{Key: "width", Value: amf0.Number(1920)},
		{Key: "height", Value: amf0.Number(1080)},
	}
	f, tail := buildFixture(t, props)

	newProps := []amf0.Property{{Key: "duration", Value: amf0.Number(9)}}
	newPayload, err := EncodeOnMetaData(newProps)
	if err != nil {
		t.Fatal(err)
	}

	originalLen := len(f.data)
	ok, err := RewriteOnMetaData(f, newPayload, 0)
	if err != nil || !ok {
		t.Fatalf("RewriteOnMetaData: ok=%v err=%v", ok, err)
	}
	delta := originalLen - len(f.data)
	if delta <= 0 {
		t.Fatalf("expected file to shrink, shrink=%d", delta)
	}
	if !bytes.Equal(f.data[len(f.data)-len(tail):], tail) {
		t.Fatal("tail bytes not byte-identical after shrinking rewrite")
	}
	assertReparsesToOnMetaData(t, f, newProps)
}

func TestRewriteOnMetaDataNotFound(t *testing.T) {
	var buf bytes.Buffer
	h := Header{HasVideo: true}
	enc := h.Encode()
	buf.Write(enc[:])
	_ = WritePreviousTagSize(&buf, 0)
	_ = WriteTag(&buf, Tag{Header: TagHeader{Type: TagVideo}, Data: []byte{1, 2, 3}})
	f := &memFile{data: append([]byte(nil), buf.Bytes()...)}

	ok, err := RewriteOnMetaData(f, []byte{0x02, 0x00, 0x00}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false when no onMetaData tag exists")
	}
}

func assertReparsesToOnMetaData(t *testing.T, f *memFile, want []amf0.Property) {
	t.Helper()
	r := bytes.NewReader(f.data)
	if _, err := DecodeHeader(r); err != nil {
		t.Fatalf("re-decoding header: %v", err)
	}
	if _, err := ReadPreviousTagSize(r); err != nil {
		t.Fatalf("re-decoding PreviousTagSize0: %v", err)
	}
	tag, err := ReadTag(r)
	if err != nil {
		t.Fatalf("re-decoding script tag: %v", err)
	}
	if !tag.IsScriptData() {
		t.Fatalf("expected script data tag, got %s", tag.Header.Type)
	}
	d := amf0.NewDecoder(tag.Data)
	name, err := d.Decode()
	if err != nil || name.String != OnMetaDataName {
		t.Fatalf("expected onMetaData name, got %+v err=%v", name, err)
	}
	obj, err := d.Decode()
	if err != nil {
		t.Fatalf("decoding metadata object: %v", err)
	}
	wantVal := amf0.Object(want)
	if !obj.Equal(wantVal) {
		t.Fatalf("got %+v, want %+v", obj, wantVal)
	}
}
