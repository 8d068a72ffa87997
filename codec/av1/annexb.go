package av1

import (
	"bytes"
	"fmt"
	"io"
)

// FrameUnit is one or more OBUs that together represent a single frame's
// data (frame header + tile groups, or a single Frame OBU).
type FrameUnit struct {
	Obus []Obu
}

// TemporalUnit is all data associated with one presentation time: one or
// more frame units.
type TemporalUnit struct {
	FrameUnits []FrameUnit
}

// ErrTemporalUnitSizeMismatch is returned when a temporal unit's declared
// LEB128 size doesn't match the bytes actually consumed parsing it.
type ErrTemporalUnitSizeMismatch struct{ Declared, Consumed uint64 }

func (e *ErrTemporalUnitSizeMismatch) Error() string {
	return fmt.Sprintf("av1: temporal unit size mismatch: declared %d, consumed %d", e.Declared, e.Consumed)
}

// ErrFrameUnitSizeMismatch covers both the frame-unit-level declared-vs-
// consumed mismatch and the inner obu_size-vs-obu_length mismatch.
type ErrFrameUnitSizeMismatch struct{ Declared, Consumed uint64 }

func (e *ErrFrameUnitSizeMismatch) Error() string {
	return fmt.Sprintf("av1: frame unit size mismatch: declared %d, consumed %d", e.Declared, e.Consumed)
}

// Reader parses a sequence of temporal units from a borrowed byte slice,
// one at a time, Annex B-framed.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// IsEmpty reports whether every byte has been consumed.
func (r *Reader) IsEmpty() bool {
	return r.pos >= len(r.data)
}

// Next parses the next temporal unit, or returns io.EOF once the input
// is exhausted.
func (r *Reader) Next() (TemporalUnit, error) {
	if r.IsEmpty() {
		return TemporalUnit{}, io.EOF
	}
	br := bytes.NewReader(r.data[r.pos:])
	tu, consumed, err := parseTemporalUnit(br)
	if err != nil {
		return TemporalUnit{}, err
	}
	r.pos += consumed
	return tu, nil
}

func parseTemporalUnit(r *bytes.Reader) (TemporalUnit, int, error) {
	startLen := r.Len()
	tuSize, err := ReadLEB128(r)
	if err != nil {
		return TemporalUnit{}, 0, err
	}
	tuStart := startLen - r.Len()

	var frameUnits []FrameUnit
	for (startLen-r.Len())-tuStart < int(tuSize) {
		fu, err := parseFrameUnit(r)
		if err != nil {
			return TemporalUnit{}, 0, err
		}
		frameUnits = append(frameUnits, fu)
	}

	consumed := (startLen - r.Len()) - tuStart
	if uint64(consumed) != tuSize {
		return TemporalUnit{}, 0, &ErrTemporalUnitSizeMismatch{Declared: tuSize, Consumed: uint64(consumed)}
	}
	return TemporalUnit{FrameUnits: frameUnits}, startLen - r.Len(), nil
}

func parseFrameUnit(r *bytes.Reader) (FrameUnit, error) {
	startLen := r.Len()
	fuSize, err := ReadLEB128(r)
	if err != nil {
		return FrameUnit{}, err
	}
	fuStart := startLen - r.Len()

	var obus []Obu
	for (startLen-r.Len())-fuStart < int(fuSize) {
		obuLength, err := ReadLEB128(r)
		if err != nil {
			return FrameUnit{}, err
		}
		obuStart := r.Len()

		header, err := ParseHeader(r)
		if err != nil {
			return FrameUnit{}, err
		}
		headerBytesConsumed := uint64(obuStart - r.Len())
		if headerBytesConsumed > obuLength {
			return FrameUnit{}, &ErrFrameUnitSizeMismatch{Declared: obuLength, Consumed: headerBytesConsumed}
		}
		payloadSize := obuLength - headerBytesConsumed

		if header.Size != nil && *header.Size != payloadSize {
			return FrameUnit{}, &ErrFrameUnitSizeMismatch{Declared: *header.Size, Consumed: payloadSize}
		}

		if uint64(r.Len()) < payloadSize {
			return FrameUnit{}, fmt.Errorf("av1: unexpected eof: expected %d bytes, got %d", payloadSize, r.Len())
		}
		data := make([]byte, payloadSize)
		if _, err := io.ReadFull(r, data); err != nil {
			return FrameUnit{}, err
		}
		obus = append(obus, Obu{Header: header, Data: data})
	}

	consumed := (startLen - r.Len()) - fuStart
	if uint64(consumed) != fuSize {
		return FrameUnit{}, &ErrFrameUnitSizeMismatch{Declared: fuSize, Consumed: uint64(consumed)}
	}
	return FrameUnit{Obus: obus}, nil
}

// WriteTemporalUnit writes tu in Annex B format and returns the total
// bytes written.
func WriteTemporalUnit(w io.Writer, tu TemporalUnit) (int, error) {
	var payloadSize uint64
	for _, fu := range tu.FrameUnits {
		payloadSize += frameUnitEncodedSize(fu)
	}
	total, err := WriteLEB128(w, payloadSize)
	if err != nil {
		return total, err
	}
	for _, fu := range tu.FrameUnits {
		n, err := WriteFrameUnit(w, fu)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteFrameUnit writes fu in Annex B format and returns the total bytes
// written. Every OBU is written with obu_has_size_field=0, per the Annex
// B writer convention.
func WriteFrameUnit(w io.Writer, fu FrameUnit) (int, error) {
	payloadSize := frameUnitPayloadSize(fu)
	total, err := WriteLEB128(w, payloadSize)
	if err != nil {
		return total, err
	}
	for _, obu := range fu.Obus {
		n, err := writeAnnexBObu(w, obu)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeAnnexBObu(w io.Writer, obu Obu) (int, error) {
	headerNoSize := Header{Type: obu.Header.Type, Extension: obu.Header.Extension}
	obuLength := uint64(headerNoSize.HeaderSize()) + uint64(len(obu.Data))

	total, err := WriteLEB128(w, obuLength)
	if err != nil {
		return total, err
	}
	n, err := headerNoSize.Mux(w)
	total += n
	if err != nil {
		return total, err
	}
	if _, err := w.Write(obu.Data); err != nil {
		return total, err
	}
	total += len(obu.Data)
	return total, nil
}

func frameUnitEncodedSize(fu FrameUnit) uint64 {
	payload := frameUnitPayloadSize(fu)
	return uint64(leb128Size(payload)) + payload
}

func frameUnitPayloadSize(fu FrameUnit) uint64 {
	var total uint64
	for _, obu := range fu.Obus {
		headerNoSize := Header{Type: obu.Header.Type, Extension: obu.Header.Extension}
		obuLength := uint64(headerNoSize.HeaderSize()) + uint64(len(obu.Data))
		total += uint64(leb128Size(obuLength)) + obuLength
	}
	return total
}
