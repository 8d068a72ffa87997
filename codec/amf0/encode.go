package amf0

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encoder writes AMF0 values to an io.Writer.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) writeMarker(m Marker) error {
	_, err := e.w.Write([]byte{byte(m)})
	return err
}

func (e *Encoder) writeU16BE(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := e.w.Write(b[:])
	return err
}

func (e *Encoder) writeU32BE(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := e.w.Write(b[:])
	return err
}

func (e *Encoder) writeI16BE(v int16) error {
	return e.writeU16BE(uint16(v))
}

func (e *Encoder) writeF64BE(v float64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	_, err := e.w.Write(b[:])
	return err
}

func (e *Encoder) writeString(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("amf0: string too long for short-string encoding (%d bytes)", len(s))
	}
	if err := e.writeU16BE(uint16(len(s))); err != nil {
		return err
	}
	_, err := e.w.Write([]byte(s))
	return err
}

func (e *Encoder) writeObjectEnd() error {
	_, err := e.w.Write([]byte{0x00, 0x00, byte(MarkerObjectEnd)})
	return err
}

// Encode writes v in its tagged form, dispatching on v.Kind.
func (e *Encoder) Encode(v Value) error {
	switch v.Kind {
	case KindNumber:
		return e.EncodeNumber(v.Number)
	case KindBoolean:
		return e.EncodeBoolean(v.Boolean)
	case KindString:
		return e.EncodeString(v.String)
	case KindLongString:
		return e.EncodeLongString(v.String)
	case KindObject:
		return e.EncodeObject(v.Object)
	case KindEcmaArray:
		return e.EncodeEcmaArray(v.Object)
	case KindStrictArray:
		return e.EncodeStrictArray(v.StrictArray)
	case KindNull:
		return e.writeMarker(MarkerNull)
	case KindUndefined:
		return e.writeMarker(MarkerUndefined)
	case KindDate:
		return e.EncodeDate(v.DateTime, v.DateTimezone)
	default:
		return fmt.Errorf("amf0: cannot encode value of kind %d", v.Kind)
	}
}

func (e *Encoder) EncodeNumber(n float64) error {
	if err := e.writeMarker(MarkerNumber); err != nil {
		return err
	}
	return e.writeF64BE(n)
}

func (e *Encoder) EncodeBoolean(b bool) error {
	if err := e.writeMarker(MarkerBoolean); err != nil {
		return err
	}
	v := byte(0)
	if b {
		v = 1
	}
	_, err := e.w.Write([]byte{v})
	return err
}

func (e *Encoder) EncodeString(s string) error {
	if err := e.writeMarker(MarkerString); err != nil {
		return err
	}
	return e.writeString(s)
}

func (e *Encoder) EncodeLongString(s string) error {
	if err := e.writeMarker(MarkerLongString); err != nil {
		return err
	}
	if err := e.writeU32BE(uint32(len(s))); err != nil {
		return err
	}
	_, err := e.w.Write([]byte(s))
	return err
}

func (e *Encoder) EncodeObject(props []Property) error {
	if err := e.writeMarker(MarkerObject); err != nil {
		return err
	}
	for _, p := range props {
		if err := e.writeString(p.Key); err != nil {
			return err
		}
		if err := e.Encode(p.Value); err != nil {
			return err
		}
	}
	return e.writeObjectEnd()
}

// EncodeEcmaArray writes the 4-byte count prefix and properties; per the
// wire format the object-end terminator is optional on input, so the
// writer omits it.
func (e *Encoder) EncodeEcmaArray(props []Property) error {
	if err := e.writeMarker(MarkerEcmaArray); err != nil {
		return err
	}
	if err := e.writeU32BE(uint32(len(props))); err != nil {
		return err
	}
	for _, p := range props {
		if err := e.writeString(p.Key); err != nil {
			return err
		}
		if err := e.Encode(p.Value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) EncodeStrictArray(values []Value) error {
	if err := e.writeMarker(MarkerStrictArray); err != nil {
		return err
	}
	if err := e.writeU32BE(uint32(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) EncodeDate(timestamp float64, timezone int16) error {
	if err := e.writeMarker(MarkerDate); err != nil {
		return err
	}
	if err := e.writeF64BE(timestamp); err != nil {
		return err
	}
	return e.writeI16BE(timezone)
}
