// Package amf0 decodes and encodes Action Message Format 0 values, the
// metadata encoding used by FLV onMetaData script tags.
package amf0

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Marker is the one-byte AMF0 type tag.
type Marker byte

const (
	MarkerNumber      Marker = 0x00
	MarkerBoolean     Marker = 0x01
	MarkerString      Marker = 0x02
	MarkerObject      Marker = 0x03
	MarkerNull        Marker = 0x05
	MarkerUndefined   Marker = 0x06
	MarkerEcmaArray   Marker = 0x08
	MarkerObjectEnd   Marker = 0x09
	MarkerStrictArray Marker = 0x0a
	MarkerDate        Marker = 0x0b
	MarkerLongString  Marker = 0x0c
)

func (m Marker) String() string {
	switch m {
	case MarkerNumber:
		return "Number"
	case MarkerBoolean:
		return "Boolean"
	case MarkerString:
		return "String"
	case MarkerObject:
		return "Object"
	case MarkerNull:
		return "Null"
	case MarkerUndefined:
		return "Undefined"
	case MarkerEcmaArray:
		return "EcmaArray"
	case MarkerObjectEnd:
		return "ObjectEnd"
	case MarkerStrictArray:
		return "StrictArray"
	case MarkerDate:
		return "Date"
	case MarkerLongString:
		return "LongString"
	default:
		return fmt.Sprintf("Marker(0x%02x)", byte(m))
	}
}

// Kind discriminates the concrete type held by a Value.
type Kind int

const (
	KindNumber Kind = iota
	KindBoolean
	KindString
	KindObject
	KindNull
	KindUndefined
	KindEcmaArray
	KindStrictArray
	KindDate
	KindLongString
)

// Property is one (key, value) pair of an Object or EcmaArray, in the order
// it was decoded.
type Property struct {
	Key   string
	Value Value
}

// Value is an AMF0 value. Exactly one field is meaningful, selected by Kind.
// String/LongString hold a copy of the decoded bytes: Go strings can't
// borrow a mutable buffer the way the reference decoder's Cow<str> does, so
// the zero-copy guarantee from the wire format is given up at the string
// boundary only; Object/StrictArray/EcmaArray still just slice the already
// decoded Value slice/properties, no extra copying there.
type Value struct {
	Kind        Kind
	Number      float64
	Boolean     bool
	String      string
	Object      []Property
	StrictArray []Value
	DateTime    float64
	DateTimezone int16
}

func Number(v float64) Value  { return Value{Kind: KindNumber, Number: v} }
func Boolean(v bool) Value    { return Value{Kind: KindBoolean, Boolean: v} }
func String(v string) Value   { return Value{Kind: KindString, String: v} }
func LongString(v string) Value {
	return Value{Kind: KindLongString, String: v}
}
func Null() Value      { return Value{Kind: KindNull} }
func Undefined() Value { return Value{Kind: KindUndefined} }
func Object(props []Property) Value {
	return Value{Kind: KindObject, Object: props}
}
func EcmaArray(props []Property) Value {
	return Value{Kind: KindEcmaArray, Object: props}
}
func StrictArray(values []Value) Value {
	return Value{Kind: KindStrictArray, StrictArray: values}
}
func Date(timestamp float64, timezone int16) Value {
	return Value{Kind: KindDate, DateTime: timestamp, DateTimezone: timezone}
}

// Equal reports deep equality, used by round-trip tests.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Number == other.Number
	case KindBoolean:
		return v.Boolean == other.Boolean
	case KindString, KindLongString:
		return v.String == other.String
	case KindNull, KindUndefined:
		return true
	case KindDate:
		return v.DateTime == other.DateTime && v.DateTimezone == other.DateTimezone
	case KindObject, KindEcmaArray:
		if len(v.Object) != len(other.Object) {
			return false
		}
		for i := range v.Object {
			if v.Object[i].Key != other.Object[i].Key || !v.Object[i].Value.Equal(other.Object[i].Value) {
				return false
			}
		}
		return true
	case KindStrictArray:
		if len(v.StrictArray) != len(other.StrictArray) {
			return false
		}
		for i := range v.StrictArray {
			if !v.StrictArray[i].Equal(other.StrictArray[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ReadError is the error kind returned by Decoder. UnknownMarker and
// UnsupportedType carry the offending marker byte/value.
type ReadError struct {
	Kind    ReadErrorKind
	Marker  Marker
	Byte    byte
	Wrapped error
}

type ReadErrorKind int

const (
	ErrIO ReadErrorKind = iota
	ErrUnknownMarker
	ErrUnsupportedType
	ErrWrongType
)

func (e *ReadError) Error() string {
	switch e.Kind {
	case ErrIO:
		return fmt.Sprintf("amf0: io error: %v", e.Wrapped)
	case ErrUnknownMarker:
		return fmt.Sprintf("amf0: unknown marker 0x%02x", e.Byte)
	case ErrUnsupportedType:
		return fmt.Sprintf("amf0: unsupported type %s", e.Marker)
	case ErrWrongType:
		return fmt.Sprintf("amf0: wrong type: %v", e.Wrapped)
	default:
		return "amf0: read error"
	}
}

func (e *ReadError) Unwrap() error { return e.Wrapped }

func ioErr(err error) *ReadError { return &ReadError{Kind: ErrIO, Wrapped: err} }

var errUnexpectedEOF = io.ErrUnexpectedEOF

// WrongTypeError describes a decode_with_type mismatch.
type WrongTypeError struct {
	Expected Marker
	Got      Marker
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Expected, e.Got)
}

// Decoder reads AMF0 values from a borrowed byte slice. It never copies the
// input; only decoded string values are copied out of it.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder wraps data for decoding. The slice must outlive the decoder.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// IsEmpty reports whether the decoder has consumed all of its input.
func (d *Decoder) IsEmpty() bool {
	return d.pos >= len(d.data)
}

func (d *Decoder) readBytes(n int) ([]byte, error) {
	end := d.pos + n
	if end > len(d.data) {
		return nil, ioErr(errUnexpectedEOF)
	}
	b := d.data[d.pos:end]
	d.pos = end
	return b, nil
}

func (d *Decoder) readU8() (byte, error) {
	b, err := d.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) readU16BE() (uint16, error) {
	b, err := d.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) readU32BE() (uint32, error) {
	b, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) readU24BE() (uint32, error) {
	b, err := d.readBytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

func (d *Decoder) readI16BE() (int16, error) {
	b, err := d.readBytes(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (d *Decoder) readF64BE() (float64, error) {
	b, err := d.readBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// DecodeAll reads values until the input is exhausted or an error occurs,
// returning everything decoded so far alongside the error (if any). A
// caller that only cares about full success should check err == nil.
func (d *Decoder) DecodeAll() ([]Value, error) {
	var results []Value
	for !d.IsEmpty() {
		v, err := d.Decode()
		if err != nil {
			return results, err
		}
		results = append(results, v)
	}
	return results, nil
}

// Decode reads the next value from the stream.
func (d *Decoder) Decode() (Value, error) {
	markerByte, err := d.readU8()
	if err != nil {
		return Value{}, err
	}
	marker := Marker(markerByte)

	switch marker {
	case MarkerNumber:
		n, err := d.readF64BE()
		if err != nil {
			return Value{}, err
		}
		return Number(n), nil
	case MarkerBoolean:
		b, err := d.readU8()
		if err != nil {
			return Value{}, err
		}
		return Boolean(b != 0), nil
	case MarkerString:
		s, err := d.readString()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case MarkerObject:
		props, err := d.readObject()
		if err != nil {
			return Value{}, err
		}
		return Object(props), nil
	case MarkerNull:
		return Null(), nil
	case MarkerUndefined:
		return Undefined(), nil
	case MarkerEcmaArray:
		props, err := d.readEcmaArray()
		if err != nil {
			return Value{}, err
		}
		return EcmaArray(props), nil
	case MarkerLongString:
		s, err := d.readLongString()
		if err != nil {
			return Value{}, err
		}
		return LongString(s), nil
	case MarkerStrictArray:
		values, err := d.readStrictArray()
		if err != nil {
			return Value{}, err
		}
		return StrictArray(values), nil
	case MarkerDate:
		return d.readDate()
	default:
		return Value{}, &ReadError{Kind: ErrUnknownMarker, Byte: markerByte}
	}
}

// DecodeWithType peeks the next marker without advancing on mismatch, and
// fails with a WrongType error if it doesn't match expected.
func (d *Decoder) DecodeWithType(expected Marker) (Value, error) {
	if d.pos >= len(d.data) {
		return Value{}, ioErr(errUnexpectedEOF)
	}
	got := Marker(d.data[d.pos])
	if got != expected {
		return Value{}, &ReadError{Kind: ErrWrongType, Wrapped: &WrongTypeError{Expected: expected, Got: got}}
	}
	return d.Decode()
}

func (d *Decoder) readString() (string, error) {
	n, err := d.readU16BE()
	if err != nil {
		return "", err
	}
	b, err := d.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) readLongString() (string, error) {
	n, err := d.readU32BE()
	if err != nil {
		return "", err
	}
	b, err := d.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// isObjectEndMarker peeks three bytes for the 00 00 09 terminator, restoring
// the cursor if it isn't there.
func (d *Decoder) isObjectEndMarker() (bool, error) {
	if d.pos+3 > len(d.data) {
		return false, nil
	}
	saved := d.pos
	v, err := d.readU24BE()
	if err != nil {
		return false, err
	}
	if v == uint32(MarkerObjectEnd) {
		return true, nil
	}
	d.pos = saved
	return false, nil
}

func (d *Decoder) readObject() ([]Property, error) {
	var props []Property
	for {
		end, err := d.isObjectEndMarker()
		if err != nil {
			return nil, err
		}
		if end {
			break
		}
		key, err := d.readString()
		if err != nil {
			return nil, err
		}
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		props = append(props, Property{Key: key, Value: val})
	}
	return props, nil
}

func (d *Decoder) readEcmaArray() ([]Property, error) {
	count, err := d.readU32BE()
	if err != nil {
		return nil, err
	}
	props := make([]Property, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := d.readString()
		if err != nil {
			return nil, err
		}
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		props = append(props, Property{Key: key, Value: val})
	}
	// The object-end terminator is optional here; consume it if present.
	if _, err := d.isObjectEndMarker(); err != nil {
		return nil, err
	}
	return props, nil
}

func (d *Decoder) readStrictArray() ([]Value, error) {
	count, err := d.readU32BE()
	if err != nil {
		return nil, err
	}
	values := make([]Value, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (d *Decoder) readDate() (Value, error) {
	timestamp, err := d.readF64BE()
	if err != nil {
		return Value{}, err
	}
	timezone, err := d.readI16BE()
	if err != nil {
		return Value{}, err
	}
	return Date(timestamp, timezone), nil
}
