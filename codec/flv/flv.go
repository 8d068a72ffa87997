// Package flv decodes and encodes the FLV container at the tag level:
// the file header, the 11-byte tag header, and the trailing
// PreviousTagSize field. Payload bytes (audio/video/script data) are
// carried as opaque slices; codec/amf0 decodes script-tag payloads.
package flv

import (
	"encoding/binary"
	"fmt"
	"io"
)

// TagType is the FLV tag type byte (low 5 bits of the on-wire byte; the
// high 3 bits are filter/reserved and always written zero here).
type TagType byte

const (
	TagAudio      TagType = 8
	TagVideo      TagType = 9
	TagScriptData TagType = 18
)

func (t TagType) String() string {
	switch t {
	case TagAudio:
		return "Audio"
	case TagVideo:
		return "Video"
	case TagScriptData:
		return "ScriptData"
	default:
		return fmt.Sprintf("TagType(%d)", byte(t))
	}
}

const (
	// HeaderSize is the on-wire size of the FLV file header (before the
	// first PreviousTagSize0).
	HeaderSize = 9
	// PrevTagSizeSize is the width of the trailing PreviousTagSize field.
	PrevTagSizeSize = 4
	// TagHeaderSize is the width of one tag's header (type + data size +
	// timestamp + stream id).
	TagHeaderSize = 11
)

// Header is the 9-byte FLV file header.
type Header struct {
	HasVideo bool
	HasAudio bool
}

// Encode returns the 9-byte wire form: "FLV", version 1, type flags,
// data-offset (always 9, since no extra header bytes are ever emitted).
func (h Header) Encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	copy(b[0:3], "FLV")
	b[3] = 1 // version
	var flags byte
	if h.HasAudio {
		flags |= 0x04
	}
	if h.HasVideo {
		flags |= 0x01
	}
	b[4] = flags
	binary.BigEndian.PutUint32(b[5:9], HeaderSize)
	return b
}

// DecodeHeader reads and validates the 9-byte FLV file header. It does not
// consume the following PreviousTagSize0 field.
func DecodeHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, fmt.Errorf("flv: reading header: %w", err)
	}
	if string(b[0:3]) != "FLV" {
		return Header{}, fmt.Errorf("flv: bad signature %q", b[0:3])
	}
	dataOffset := binary.BigEndian.Uint32(b[5:9])
	if dataOffset < HeaderSize {
		return Header{}, fmt.Errorf("flv: data offset %d smaller than header size", dataOffset)
	}
	// Skip any extra header bytes a nonstandard writer inserted.
	if extra := int64(dataOffset) - HeaderSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return Header{}, fmt.Errorf("flv: skipping extended header: %w", err)
		}
	}
	return Header{
		HasAudio: b[4]&0x04 != 0,
		HasVideo: b[4]&0x01 != 0,
	}, nil
}

// TagHeader is the fixed 11-byte tag header. Timestamp combines the
// 24-bit field and its extension byte into a single 32-bit value (the
// extension forms the high 8 bits, matching the on-wire layout).
type TagHeader struct {
	Type        TagType
	DataSize    uint32 // 24-bit on the wire
	TimestampMs uint32
	StreamID    uint32 // 24-bit on the wire, always 0
}

// Tag is a decoded tag header plus its payload.
type Tag struct {
	Header TagHeader
	Data   []byte
}

func (t Tag) IsScriptData() bool { return t.Header.Type == TagScriptData }

func putU24BE(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getU24BE(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// EncodeTagHeader writes the 11-byte tag header.
func EncodeTagHeader(w io.Writer, h TagHeader) error {
	var b [TagHeaderSize]byte
	b[0] = byte(h.Type)
	putU24BE(b[1:4], h.DataSize)
	putU24BE(b[4:7], h.TimestampMs&0x00ffffff)
	b[7] = byte(h.TimestampMs >> 24)
	putU24BE(b[8:11], h.StreamID)
	_, err := w.Write(b[:])
	return err
}

// DecodeTagHeader reads the 11-byte tag header.
func DecodeTagHeader(r io.Reader) (TagHeader, error) {
	var b [TagHeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return TagHeader{}, err
	}
	ts := getU24BE(b[4:7]) | uint32(b[7])<<24
	return TagHeader{
		Type:        TagType(b[0] & 0x1f),
		DataSize:    getU24BE(b[1:4]),
		TimestampMs: ts,
		StreamID:    getU24BE(b[8:11]),
	}, nil
}

// ReadPreviousTagSize reads the 4-byte field that trails every tag.
func ReadPreviousTagSize(r io.Reader) (uint32, error) {
	var b [PrevTagSizeSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// WritePreviousTagSize writes the 4-byte field that trails every tag.
func WritePreviousTagSize(w io.Writer, size uint32) error {
	var b [PrevTagSizeSize]byte
	binary.BigEndian.PutUint32(b[:], size)
	_, err := w.Write(b[:])
	return err
}

// ReadTag reads one tag's header and payload. It does not consume the
// trailing PreviousTagSize; callers scanning a full file call
// ReadPreviousTagSize immediately after.
func ReadTag(r io.Reader) (Tag, error) {
	header, err := DecodeTagHeader(r)
	if err != nil {
		return Tag{}, err
	}
	data := make([]byte, header.DataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return Tag{}, fmt.Errorf("flv: reading tag payload: %w", err)
	}
	return Tag{Header: header, Data: data}, nil
}

// WriteTag writes a tag header, its payload, and the trailing
// PreviousTagSize field that names this tag's own total size.
func WriteTag(w io.Writer, t Tag) error {
	header := t.Header
	header.DataSize = uint32(len(t.Data))
	if err := EncodeTagHeader(w, header); err != nil {
		return err
	}
	if _, err := w.Write(t.Data); err != nil {
		return err
	}
	return WritePreviousTagSize(w, TagHeaderSize+uint32(len(t.Data)))
}

// IsVideoKeyFrame reports whether a video tag's payload starts with a
// keyframe FrameType nibble (1).
func IsVideoKeyFrame(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	return payload[0]>>4 == 1
}
