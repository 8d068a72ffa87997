// Package flv implements the FLV streaming-media pipeline: a chain of
// pipeline.Processor[Data] stages operating on FLV tags as they arrive
// from a download engine, before they're written to a segment file.
package flv

import (
	"github.com/streamrec/core/codec/flv"
)

// Kind discriminates the variants of Data.
type Kind int

const (
	KindHeader Kind = iota
	KindTag
	KindEndOfSequence
)

// Data is the FLV in-flight pipeline record: a sum type over the FLV
// file header, one tag, or an end-of-sequence marker closing a segment.
type Data struct {
	Kind   Kind
	Header flv.Header
	Tag    flv.Tag
}

func HeaderData(h flv.Header) Data { return Data{Kind: KindHeader, Header: h} }
func TagData(t flv.Tag) Data       { return Data{Kind: KindTag, Tag: t} }
func EndOfSequence() Data          { return Data{Kind: KindEndOfSequence} }

func (d Data) IsMediaTag() bool {
	return d.Kind == KindTag && (d.Tag.Header.Type == flv.TagAudio || d.Tag.Header.Type == flv.TagVideo)
}

func (d Data) IsSequenceHeader() bool {
	if !d.IsMediaTag() || len(d.Tag.Data) == 0 {
		return false
	}
	switch d.Tag.Header.Type {
	case flv.TagVideo:
		// AVC/HEVC/AV1 sequence/config packets carry AVCPacketType==0 in
		// the second payload byte for the codecs this pipeline cares
		// about (codec id in the low nibble of the first byte, packet
		// type in the second byte for AVC-family payloads).
		return len(d.Tag.Data) >= 2 && d.Tag.Data[1] == 0
	case flv.TagAudio:
		// AAC sequence header: SoundFormat==10 (AAC) and AACPacketType==0.
		return len(d.Tag.Data) >= 2 && d.Tag.Data[0]>>4 == 10 && d.Tag.Data[1] == 0
	}
	return false
}
