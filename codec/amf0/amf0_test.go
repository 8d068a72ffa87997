package amf0

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestDecodeBoolean(t *testing.T) {
	d := NewDecoder([]byte{0x01, 0x01})
	v, err := d.DecodeWithType(MarkerBoolean)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(Boolean(true)) {
		t.Fatalf("got %+v", v)
	}
}

func TestDecodeNumber(t *testing.T) {
	buf := []byte{0x00}
	var num bytes.Buffer
	if err := NewEncoder(&num).writeF64BE(772.161); err != nil {
		t.Fatal(err)
	}
	buf = append(buf, num.Bytes()...)

	d := NewDecoder(buf)
	v, err := d.DecodeWithType(MarkerNumber)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(Number(772.161)) {
		t.Fatalf("got %+v", v)
	}
}

func TestDecodeString(t *testing.T) {
	buf := append([]byte{0x02, 0x00, 0x0b}, []byte("Hello World")...)
	d := NewDecoder(buf)
	v, err := d.DecodeWithType(MarkerString)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(String("Hello World")) {
		t.Fatalf("got %+v", v)
	}
}

func TestDecodeLongString(t *testing.T) {
	buf := append([]byte{0x0c, 0x00, 0x00, 0x00, 0x0b}, []byte("Hello World")...)
	d := NewDecoder(buf)
	v, err := d.DecodeWithType(MarkerLongString)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(LongString("Hello World")) {
		t.Fatalf("got %+v", v)
	}
}

func TestDecodeObject(t *testing.T) {
	buf := []byte{0x03, 0x00, 0x04}
	buf = append(buf, []byte("test")...)
	buf = append(buf, 0x05)             // null
	buf = append(buf, 0x00, 0x00, 0x09) // object end
	d := NewDecoder(buf)
	v, err := d.DecodeWithType(MarkerObject)
	if err != nil {
		t.Fatal(err)
	}
	want := Object([]Property{{Key: "test", Value: Null()}})
	if !v.Equal(want) {
		t.Fatalf("got %+v, want %+v", v, want)
	}
}

func TestDecodeEcmaArray(t *testing.T) {
	buf := []byte{0x08, 0x00, 0x00, 0x00, 0x01}
	buf = append(buf, 0x00, 0x04)
	buf = append(buf, []byte("test")...)
	buf = append(buf, 0x05)
	d := NewDecoder(buf)
	v, err := d.DecodeWithType(MarkerEcmaArray)
	if err != nil {
		t.Fatal(err)
	}
	want := EcmaArray([]Property{{Key: "test", Value: Null()}})
	if !v.Equal(want) {
		t.Fatalf("got %+v, want %+v", v, want)
	}
}

func TestDecodeEcmaArrayWithObjectEnd(t *testing.T) {
	buf := []byte{0x08, 0x00, 0x00, 0x00, 0x01}
	buf = append(buf, 0x00, 0x04)
	buf = append(buf, []byte("test")...)
	buf = append(buf, 0x05)
	buf = append(buf, 0x00, 0x00, 0x09)
	d := NewDecoder(buf)
	v, err := d.DecodeWithType(MarkerEcmaArray)
	if err != nil {
		t.Fatal(err)
	}
	want := EcmaArray([]Property{{Key: "test", Value: Null()}})
	if !v.Equal(want) {
		t.Fatalf("got %+v, want %+v", v, want)
	}
	if !d.IsEmpty() {
		t.Fatal("expected decoder to be empty after consuming optional object-end")
	}
}

func TestDecodeStrictArray(t *testing.T) {
	buf := []byte{0x0a, 0x00, 0x00, 0x00, 0x03}
	var num bytes.Buffer
	_ = NewEncoder(&num).writeF64BE(1.0)
	buf = append(buf, 0x00)
	buf = append(buf, num.Bytes()...)
	buf = append(buf, 0x01, 0x01)
	buf = append(buf, 0x02, 0x00, 0x04)
	buf = append(buf, []byte("test")...)

	d := NewDecoder(buf)
	v, err := d.DecodeWithType(MarkerStrictArray)
	if err != nil {
		t.Fatal(err)
	}
	want := StrictArray([]Value{Number(1.0), Boolean(true), String("test")})
	if !v.Equal(want) {
		t.Fatalf("got %+v, want %+v", v, want)
	}
}

func TestDecodeUndefined(t *testing.T) {
	d := NewDecoder([]byte{0x06})
	v, err := d.DecodeWithType(MarkerUndefined)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(Undefined()) {
		t.Fatalf("got %+v", v)
	}
}

func TestDecodeInvalidMarker(t *testing.T) {
	d := NewDecoder([]byte{0xff})
	_, err := d.Decode()
	var rerr *ReadError
	if !errors.As(err, &rerr) || rerr.Kind != ErrUnknownMarker {
		t.Fatalf("expected ErrUnknownMarker, got %v", err)
	}
}

// TestMultiValueDecode is spec scenario 1: decode_all over a mixed stream.
func TestMultiValueDecode(t *testing.T) {
	var buf bytes.Buffer
	_ = NewEncoder(&buf).EncodeNumber(772.161)
	buf.Write([]byte{0x01, 0x01})
	buf.Write([]byte{0x02, 0x00, 0x0b})
	buf.Write([]byte("Hello World"))
	buf.Write([]byte{0x03, 0x00, 0x04})
	buf.Write([]byte("test"))
	buf.Write([]byte{0x05})
	buf.Write([]byte{0x00, 0x00, 0x09})

	d := NewDecoder(buf.Bytes())
	values, err := d.DecodeAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 4 {
		t.Fatalf("got %d values, want 4", len(values))
	}
	if !values[0].Equal(Number(772.161)) ||
		!values[1].Equal(Boolean(true)) ||
		!values[2].Equal(String("Hello World")) ||
		!values[3].Equal(Object([]Property{{Key: "test", Value: Null()}})) {
		t.Fatalf("unexpected values: %+v", values)
	}
}

// TestDecodeAllWithError checks partial-success semantics: prior values are
// returned alongside the error that stopped decoding.
func TestDecodeAllWithError(t *testing.T) {
	var buf bytes.Buffer
	_ = NewEncoder(&buf).EncodeNumber(772.161)
	buf.Write([]byte{0x01, 0x01})
	buf.WriteByte(0xff)

	d := NewDecoder(buf.Bytes())
	values, err := d.DecodeAll()
	if len(values) != 2 {
		t.Fatalf("got %d values, want 2", len(values))
	}
	var rerr *ReadError
	if !errors.As(err, &rerr) || rerr.Kind != ErrUnknownMarker || rerr.Byte != 0xff {
		t.Fatalf("expected UnknownMarker(0xff), got %v", err)
	}
}

// TestTruncatedInput is spec scenario 2.
func TestTruncatedInput(t *testing.T) {
	truncated := []byte{0x00, 0x40, 0x59, 0x00}
	d := NewDecoder(truncated)
	_, err := d.Decode()
	var rerr *ReadError
	if !errors.As(err, &rerr) || rerr.Kind != ErrIO || !errors.Is(rerr.Wrapped, io.ErrUnexpectedEOF) {
		t.Fatalf("expected Io(UnexpectedEof), got %v", err)
	}

	empty := NewDecoder(nil)
	if !empty.IsEmpty() {
		t.Fatal("expected empty decoder to report empty")
	}

	truncatedStr := []byte{0x02, 0x00, 0x0b, 'H', 'e', 'l'}
	d2 := NewDecoder(truncatedStr)
	_, err = d2.Decode()
	if !errors.As(err, &rerr) || rerr.Kind != ErrIO {
		t.Fatalf("expected Io error for truncated string, got %v", err)
	}
}

func TestDateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).EncodeDate(1234567890.0, -300); err != nil {
		t.Fatal(err)
	}
	d := NewDecoder(buf.Bytes())
	v, err := d.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(Date(1234567890.0, -300)) {
		t.Fatalf("got %+v", v)
	}
	if !d.IsEmpty() {
		t.Fatal("expected decoder exhausted")
	}
}

func TestEcmaArrayRoundTrip(t *testing.T) {
	props := []Property{
		{Key: "duration", Value: Number(120.5)},
		{Key: "width", Value: Number(1920.0)},
	}
	var buf bytes.Buffer
	if err := NewEncoder(&buf).EncodeEcmaArray(props); err != nil {
		t.Fatal(err)
	}
	d := NewDecoder(buf.Bytes())
	v, err := d.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(EcmaArray(props)) {
		t.Fatalf("got %+v", v)
	}
	if !d.IsEmpty() {
		t.Fatal("expected decoder exhausted")
	}
}

// TestRoundTripLaw checks decode(encode(v)) == v across every Kind, the
// general law the wire format requires.
func TestRoundTripLaw(t *testing.T) {
	values := []Value{
		Number(3.5),
		Boolean(true),
		Boolean(false),
		String("hello"),
		LongString("a long string"),
		Null(),
		Undefined(),
		Object([]Property{{Key: "a", Value: Number(1)}, {Key: "b", Value: Boolean(true)}}),
		EcmaArray([]Property{{Key: "x", Value: String("y")}}),
		StrictArray([]Value{Number(1), String("two"), Null()}),
		Date(42.0, 60),
	}
	for _, v := range values {
		var buf bytes.Buffer
		if err := NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encode %+v: %v", v, err)
		}
		d := NewDecoder(buf.Bytes())
		got, err := d.Decode()
		if err != nil {
			t.Fatalf("decode %+v: %v", v, err)
		}
		if !got.Equal(v) {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", got, v)
		}
		if !d.IsEmpty() {
			t.Fatalf("decoder not exhausted after decoding %+v", v)
		}
	}
}
