// Package av1 decodes and encodes AV1 Open Bitstream Units and the
// Annex B length-delimited framing used to carry them (temporal units of
// frame units of OBUs, each LEB128-size-prefixed).
package av1

import (
	"fmt"
	"io"
)

// ObuType is an AV1 Open Bitstream Unit type, per the AV1 bitstream spec.
type ObuType byte

const (
	ObuSequenceHeader      ObuType = 1
	ObuTemporalDelimiter   ObuType = 2
	ObuFrameHeader         ObuType = 3
	ObuTileGroup           ObuType = 4
	ObuMetadata            ObuType = 5
	ObuFrame               ObuType = 6
	ObuRedundantFrameHeader ObuType = 7
	ObuTileList            ObuType = 8
	ObuPadding             ObuType = 15
)

// ExtensionHeader is the optional second OBU header byte carrying
// temporal/spatial layer ids.
type ExtensionHeader struct {
	TemporalID uint8
	SpatialID  uint8
}

// Header is an OBU's header: type, optional extension (temporal/spatial
// scalability), and an optional explicit size field.
//
// Size distinguishes "no size field on the wire" (nil; common, the Annex B
// framing's obu_length implies the payload size) from "size field present
// and must equal the framing-derived payload size" (non-nil) — both are legal
// inputs per the Annex B spec, the decoder tolerates either.
type Header struct {
	Type      ObuType
	Extension *ExtensionHeader
	Size      *uint64
}

// HeaderSize returns the on-wire size of this header, excluding payload.
func (h Header) HeaderSize() int {
	n := 1
	if h.Extension != nil {
		n++
	}
	if h.Size != nil {
		n += leb128Size(*h.Size)
	}
	return n
}

// ParseHeader reads one OBU header from r.
func ParseHeader(r io.Reader) (Header, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, err
	}
	obuType := ObuType((b[0] >> 3) & 0x0f)
	extFlag := (b[0] >> 2) & 1
	hasSize := (b[0] >> 1) & 1

	h := Header{Type: obuType}
	if extFlag != 0 {
		var eb [1]byte
		if _, err := io.ReadFull(r, eb[:]); err != nil {
			return Header{}, err
		}
		h.Extension = &ExtensionHeader{
			TemporalID: (eb[0] >> 5) & 0x07,
			SpatialID:  (eb[0] >> 3) & 0x03,
		}
	}
	if hasSize != 0 {
		size, err := ReadLEB128(r)
		if err != nil {
			return Header{}, err
		}
		h.Size = &size
	}
	return h, nil
}

// Mux writes this header, exactly as configured (does not recompute
// Size; callers that want obu_has_size_field=0 pass a Header with
// Size == nil, which is what the Annex B writer always does).
func (h Header) Mux(w io.Writer) (int, error) {
	var typeByte byte
	typeByte |= byte(h.Type&0x0f) << 3
	if h.Extension != nil {
		typeByte |= 1 << 2
	}
	if h.Size != nil {
		typeByte |= 1 << 1
	}
	n := 0
	if _, err := w.Write([]byte{typeByte}); err != nil {
		return n, err
	}
	n++
	if h.Extension != nil {
		eb := (h.Extension.TemporalID&0x07)<<5 | (h.Extension.SpatialID&0x03)<<3
		if _, err := w.Write([]byte{eb}); err != nil {
			return n, err
		}
		n++
	}
	if h.Size != nil {
		written, err := WriteLEB128(w, *h.Size)
		if err != nil {
			return n, err
		}
		n += written
	}
	return n, nil
}

// Obu is a parsed Open Bitstream Unit: header plus payload bytes. The
// Annex B Reader copies each payload out of its input into a new slice;
// Data does not alias the source buffer.
type Obu struct {
	Header Header
	Data   []byte
}

// ErrLEB128Overflow is returned when a decoded LEB128 value exceeds the
// AV1 spec's 32-bit conformance limit.
var ErrLEB128Overflow = fmt.Errorf("av1: leb128 value exceeds 32 bits")

const leb128MaxValue = (uint64(1) << 32) - 1

// ReadLEB128 decodes an unsigned LEB128 integer, per the AV1 spec (up to
// 8 bytes; the 8th byte's continuation bit is ignored, matching the
// reference decoder's loop bound).
func ReadLEB128(r io.Reader) (uint64, error) {
	var result uint64
	var b [1]byte
	for i := 0; i < 8; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		result |= uint64(b[0]&0x7f) << (uint(i) * 7)
		if b[0]&0x80 == 0 {
			if result > leb128MaxValue {
				return 0, ErrLEB128Overflow
			}
			return result, nil
		}
	}
	if result > leb128MaxValue {
		return 0, ErrLEB128Overflow
	}
	return result, nil
}

// leb128Size returns the number of bytes WriteLEB128 would emit for v.
func leb128Size(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// WriteLEB128 encodes v as unsigned LEB128.
func WriteLEB128(w io.Writer, v uint64) (int, error) {
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return n, err
		}
		n++
		if v == 0 {
			return n, nil
		}
	}
}
