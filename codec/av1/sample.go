package av1

import (
	"bytes"
	"fmt"
	"io"
)

// SampleValidationOptions controls which OBU conformance rules
// ValidateSample enforces for an AV1 sample embedded in an ISOBMFF
// container (an fMP4 mdat payload).
type SampleValidationOptions struct {
	// EnforceShouldNotObus rejects OBU types the AV1-in-ISOBMFF binding
	// says SHOULD NOT appear in sample data (temporal delimiters and
	// redundant frame headers: both are redundant once framing and
	// random-access points are tracked by the container).
	EnforceShouldNotObus bool
	// EnforceReservedObus rejects OBU types reserved by the AV1 spec
	// (9-14) rather than treating them as forward-compatible no-ops.
	EnforceReservedObus bool
}

// ErrDisallowedObu is returned when a sample contains an OBU type this
// conformance profile rejects.
type ErrDisallowedObu struct {
	Type ObuType
}

func (e *ErrDisallowedObu) Error() string {
	return fmt.Sprintf("av1: disallowed obu in isobmff sample: %s", obuTypeName(e.Type))
}

func obuTypeName(t ObuType) string {
	switch t {
	case ObuSequenceHeader:
		return "OBU_SEQUENCE_HEADER"
	case ObuTemporalDelimiter:
		return "OBU_TEMPORAL_DELIMITER"
	case ObuFrameHeader:
		return "OBU_FRAME_HEADER"
	case ObuTileGroup:
		return "OBU_TILE_GROUP"
	case ObuMetadata:
		return "OBU_METADATA"
	case ObuFrame:
		return "OBU_FRAME"
	case ObuRedundantFrameHeader:
		return "OBU_REDUNDANT_FRAME_HEADER"
	case ObuTileList:
		return "OBU_TILE_LIST"
	case ObuPadding:
		return "OBU_PADDING"
	default:
		return fmt.Sprintf("OBU_RESERVED_%d", t)
	}
}

func isReservedObuType(t ObuType) bool {
	return t >= 9 && t <= 14
}

// ValidateSample walks the OBUs in an ISOBMFF AV1 sample (one or more
// OBUs concatenated, each size-delimited except optionally the last) and
// rejects any that violate opts.
func ValidateSample(data []byte, opts SampleValidationOptions) error {
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		obuStart := r.Len()
		header, err := ParseHeader(r)
		if err != nil {
			return err
		}
		headerBytes := obuStart - r.Len()

		var payloadSize int
		if header.Size != nil {
			payloadSize = int(*header.Size)
		} else {
			payloadSize = r.Len()
		}
		if payloadSize > r.Len() {
			return fmt.Errorf("av1: obu payload size %d exceeds remaining sample bytes %d", payloadSize, r.Len())
		}
		if _, err := io.CopyN(io.Discard, r, int64(payloadSize)); err != nil {
			return err
		}
		_ = headerBytes

		if opts.EnforceShouldNotObus && (header.Type == ObuTemporalDelimiter || header.Type == ObuRedundantFrameHeader) {
			return &ErrDisallowedObu{Type: header.Type}
		}
		if opts.EnforceReservedObus && isReservedObuType(header.Type) {
			return &ErrDisallowedObu{Type: header.Type}
		}
	}
	return nil
}
