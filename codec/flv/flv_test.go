package flv

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{HasVideo: true, HasAudio: true}
	enc := h.Encode()
	got, err := DecodeHeader(bytes.NewReader(enc[:]))
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestHeaderBadSignature(t *testing.T) {
	_, err := DecodeHeader(bytes.NewReader([]byte("NOTFLV\x00\x00\x00\x00\x00")))
	if err == nil {
		t.Fatal("expected error for bad signature")
	}
}

func TestTagHeaderRoundTrip(t *testing.T) {
	h := TagHeader{Type: TagVideo, DataSize: 42, TimestampMs: 0x01020304, StreamID: 0}
	var buf bytes.Buffer
	if err := EncodeTagHeader(&buf, h); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeTagHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestTagRoundTrip(t *testing.T) {
	tag := Tag{Header: TagHeader{Type: TagAudio, TimestampMs: 100}, Data: []byte("payload")}
	var buf bytes.Buffer
	if err := WriteTag(&buf, tag); err != nil {
		t.Fatal(err)
	}

	got, err := ReadTag(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.Type != tag.Header.Type || got.Header.TimestampMs != tag.Header.TimestampMs || !bytes.Equal(got.Data, tag.Data) {
		t.Fatalf("got %+v, want %+v", got, tag)
	}

	prevSize, err := ReadPreviousTagSize(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if want := uint32(TagHeaderSize + len(tag.Data)); prevSize != want {
		t.Fatalf("prevSize = %d, want %d", prevSize, want)
	}
}

func TestIsVideoKeyFrame(t *testing.T) {
	if !IsVideoKeyFrame([]byte{0x17, 0, 0, 0}) {
		t.Fatal("expected keyframe nibble 1 to be a keyframe")
	}
	if IsVideoKeyFrame([]byte{0x27, 0, 0, 0}) {
		t.Fatal("expected keyframe nibble 2 to not be a keyframe")
	}
	if IsVideoKeyFrame(nil) {
		t.Fatal("expected empty payload to not be a keyframe")
	}
}
