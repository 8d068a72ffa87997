package flv

import (
	"bytes"
	"fmt"
	"io"

	"github.com/streamrec/core/codec/amf0"
)

// OnMetaDataName is the AMF0 string preceding the metadata object in the
// onMetaData script tag.
const OnMetaDataName = "onMetaData"

// RandomAccessFile is the subset of *os.File the script-tag rewriter needs:
// seekable reads and writes, plus the ability to grow the file up-front
// before shifting content forward.
type RandomAccessFile interface {
	io.ReaderAt
	io.WriterAt
	io.ReadWriteSeeker
	Truncate(size int64) error
}

// FindOnMetaData scans tags starting at the first tag after the file
// header + PreviousTagSize0 (offset HeaderSize+PrevTagSizeSize) and
// returns the byte range of the first onMetaData script tag: its start
// offset, the offset where the following tag begins, and its decoded
// timestamp. ok is false if no onMetaData tag is found, in which case
// callers should treat this as a no-op rather than an error (tolerant of
// nonstandard captures, matching the scanning tool's own behavior).
func FindOnMetaData(f RandomAccessFile) (tagStart, nextTagStart int64, timestampMs uint32, payload []byte, ok bool, err error) {
	if _, err = f.Seek(HeaderSize+PrevTagSizeSize, io.SeekStart); err != nil {
		return 0, 0, 0, nil, false, err
	}
	for {
		pos, posErr := f.Seek(0, io.SeekCurrent)
		if posErr != nil {
			return 0, 0, 0, nil, false, posErr
		}
		tag, readErr := ReadTag(f)
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return 0, 0, 0, nil, false, nil
		}
		if readErr != nil {
			return 0, 0, 0, nil, false, readErr
		}
		if _, readErr = ReadPreviousTagSize(f); readErr != nil {
			return 0, 0, 0, nil, false, readErr
		}
		nextPos, posErr := f.Seek(0, io.SeekCurrent)
		if posErr != nil {
			return 0, 0, 0, nil, false, posErr
		}

		if !tag.IsScriptData() {
			continue
		}
		name, ok2 := decodeScriptName(tag.Data)
		if !ok2 || name != OnMetaDataName {
			continue
		}
		return pos, nextPos, tag.Header.TimestampMs, tag.Data, true, nil
	}
}

func decodeScriptName(payload []byte) (string, bool) {
	d := amf0.NewDecoder(payload)
	v, err := d.Decode()
	if err != nil || v.Kind != amf0.KindString {
		return "", false
	}
	return v.String, true
}

// RewriteOnMetaData replaces the first onMetaData script tag's payload
// with newPayload (already AMF0-encoded: name string + data object),
// shifting the rest of the file if the new payload is a different size
// than the original. Returns ok=false (without modifying the file) if no
// onMetaData tag was found.
func RewriteOnMetaData(f RandomAccessFile, newPayload []byte, timestampMs uint32) (ok bool, err error) {
	tagStart, nextTagStart, foundTimestamp, _, found, err := FindOnMetaData(f)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if timestampMs == 0 {
		timestampMs = foundTimestamp
	}

	totalSize, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return false, err
	}

	newTag := Tag{
		Header: TagHeader{Type: TagScriptData, TimestampMs: timestampMs},
		Data:   newPayload,
	}
	newNextTagStart := tagStart + TagHeaderSize + int64(len(newPayload)) + PrevTagSizeSize
	sizeDiff := newNextTagStart - nextTagStart

	switch {
	case sizeDiff == 0:
		if _, err := f.Seek(tagStart, io.SeekStart); err != nil {
			return false, err
		}
		if err := WriteTag(f, newTag); err != nil {
			return false, err
		}
	case sizeDiff > 0:
		if err := f.Truncate(totalSize + sizeDiff); err != nil {
			return false, err
		}
		if err := shiftForward(f, nextTagStart, totalSize, sizeDiff); err != nil {
			return false, err
		}
		if _, err := f.Seek(tagStart, io.SeekStart); err != nil {
			return false, err
		}
		if err := WriteTag(f, newTag); err != nil {
			return false, err
		}
	default:
		if _, err := f.Seek(tagStart, io.SeekStart); err != nil {
			return false, err
		}
		if err := WriteTag(f, newTag); err != nil {
			return false, err
		}
		if err := shiftBackward(f, nextTagStart, newNextTagStart, totalSize); err != nil {
			return false, err
		}
		if err := f.Truncate(totalSize + sizeDiff); err != nil {
			return false, err
		}
	}
	return true, nil
}

const shiftChunkSize = 32 * 1024

// shiftForward moves the region [from, totalSize) to [from+delta, totalSize+delta),
// copying highest offsets first so the overlapping source and destination
// never clobber unread source bytes.
func shiftForward(f RandomAccessFile, from, totalSize, delta int64) error {
	buf := make([]byte, shiftChunkSize)
	pos := totalSize
	for pos > from {
		n := int64(len(buf))
		if pos-from < n {
			n = pos - from
		}
		start := pos - n
		if _, err := f.ReadAt(buf[:n], start); err != nil && err != io.EOF {
			return fmt.Errorf("flv: shiftForward read: %w", err)
		}
		if _, err := f.WriteAt(buf[:n], start+delta); err != nil {
			return fmt.Errorf("flv: shiftForward write: %w", err)
		}
		pos = start
	}
	return nil
}

// shiftBackward moves the region [from, totalSize) to [to, totalSize-(from-to)),
// copying lowest offsets first.
func shiftBackward(f RandomAccessFile, from, to, totalSize int64) error {
	buf := make([]byte, shiftChunkSize)
	delta := from - to
	pos := from
	for pos < totalSize {
		n := int64(len(buf))
		if totalSize-pos < n {
			n = totalSize - pos
		}
		if _, err := f.ReadAt(buf[:n], pos); err != nil && err != io.EOF {
			return fmt.Errorf("flv: shiftBackward read: %w", err)
		}
		if _, err := f.WriteAt(buf[:n], pos-delta); err != nil {
			return fmt.Errorf("flv: shiftBackward write: %w", err)
		}
		pos += n
	}
	return nil
}

// EncodeOnMetaData builds the AMF0 payload for an onMetaData script tag:
// the "onMetaData" name string followed by an Object of properties, in
// the order given.
func EncodeOnMetaData(props []amf0.Property) ([]byte, error) {
	var buf bytes.Buffer
	enc := amf0.NewEncoder(&buf)
	if err := enc.EncodeString(OnMetaDataName); err != nil {
		return nil, err
	}
	if err := enc.EncodeObject(props); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
