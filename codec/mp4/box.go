// Package mp4 provides minimal ISOBMFF box walking for fMP4 init segments
// and media fragments: enough to detect codec sample entries in a moov
// tree and to locate AV1 sample byte ranges inside a moof/mdat pair.
package mp4

import "encoding/binary"

// box is one parsed ISOBMFF box: its FourCC plus the byte offsets of its
// header, body, and end within the enclosing buffer.
type box struct {
	fourcc     [4]byte
	start      int
	headerSize int
	bodyStart  int
	bodyEnd    int
	end        int
	size       uint64
}

// readBoxHeader parses a box size + FourCC at the start of data, handling
// the 64-bit extended-size form (size field == 1, followed by an 8-byte
// largesize) and the to-end-of-buffer form (size field == 0).
func readBoxHeader(data []byte) (size uint64, fourcc [4]byte, headerSize int, ok bool) {
	if len(data) < 8 {
		return 0, fourcc, 0, false
	}
	size32 := binary.BigEndian.Uint32(data[0:4])
	copy(fourcc[:], data[4:8])

	switch size32 {
	case 1:
		if len(data) < 16 {
			return 0, fourcc, 0, false
		}
		return binary.BigEndian.Uint64(data[8:16]), fourcc, 16, true
	case 0:
		return uint64(len(data)), fourcc, 8, true
	default:
		return uint64(size32), fourcc, 8, true
	}
}

// boxAt parses one box starting at offset start within data[:end], or
// reports false if the bytes remaining don't hold a valid box header or
// the declared size runs past end.
func boxAt(data []byte, start, end int) (box, bool) {
	if start >= end || start < 0 || end > len(data) {
		return box{}, false
	}
	size, fourcc, headerSize, ok := readBoxHeader(data[start:end])
	if !ok || size < uint64(headerSize) {
		return box{}, false
	}
	boxEnd := start + int(size)
	if boxEnd > end || boxEnd < start {
		return box{}, false
	}
	return box{
		fourcc:     fourcc,
		start:      start,
		headerSize: headerSize,
		bodyStart:  start + headerSize,
		bodyEnd:    boxEnd,
		end:        boxEnd,
		size:       size,
	}, true
}

// findFirstBox scans direct children of [start, end) for the first box
// whose FourCC matches target.
func findFirstBox(data []byte, start, end int, target [4]byte) (box, bool) {
	offset := start
	for offset < end {
		b, ok := boxAt(data, offset, end)
		if !ok {
			break
		}
		if b.fourcc == target {
			return b, true
		}
		offset = b.end
	}
	return box{}, false
}

// findFirstBoxPayload returns the body bytes of the first direct child
// box matching target, or nil if not found.
func findFirstBoxPayload(data []byte, start, end int, target [4]byte) []byte {
	b, ok := findFirstBox(data, start, end, target)
	if !ok {
		return nil
	}
	return data[b.bodyStart:b.bodyEnd]
}

func fourCCString(fourcc [4]byte) string {
	out := make([]byte, 4)
	for i, c := range fourcc {
		if c >= 0x20 && c < 0x7f {
			out[i] = c
		} else {
			out[i] = '?'
		}
	}
	return string(out)
}
