// Package hls implements the HLS streaming-media pipeline: a chain of
// pipeline.Processor[Data] stages operating on TS/fMP4 segments as they
// arrive from the HLS downloader, before they're concatenated into an
// output file.
package hls

// Kind discriminates the variants of Data.
type Kind int

const (
	KindTsData Kind = iota
	KindM4sData
	KindEndMarker
)

// MediaSegment names the playlist entry a TsData/M4sData item came from,
// carried through the pipeline for logging and for the segment splitter's
// duration accounting.
type MediaSegment struct {
	URI             string
	DurationSecs    float64
	SequenceNumber  int
	Discontinuity   bool
}

// Data is the HLS in-flight pipeline record: a sum type over an MPEG-TS
// segment, an fMP4 segment (optionally an initialization segment), or an
// end marker closing an output file.
type Data struct {
	Kind    Kind
	Segment MediaSegment
	Bytes   []byte
	IsInit  bool // true when Kind==KindM4sData and Bytes is an initialization segment (moov, no mdat)
}

func TsData(seg MediaSegment, b []byte) Data {
	return Data{Kind: KindTsData, Segment: seg, Bytes: b}
}

func M4sData(seg MediaSegment, b []byte, isInit bool) Data {
	return Data{Kind: KindM4sData, Segment: seg, Bytes: b, IsInit: isInit}
}

func EndMarker() Data { return Data{Kind: KindEndMarker} }
