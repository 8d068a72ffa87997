package flv

import (
	"context"

	"github.com/streamrec/core/codec/flv"
	"github.com/streamrec/core/pipeline"
)

// HeaderSynthesizer guarantees every output segment opens with a fresh
// FLV header: it passes the first Header it sees through untouched, then
// synthesizes one of its own right after any EndOfSequence marker so a
// new segment (started by SegmentSplitter upstream) always begins with
// a valid header rather than mid-stream tags.
type HeaderSynthesizer struct {
	lastHeader   flv.Header
	haveHeader   bool
	needsHeader  bool
}

func NewHeaderSynthesizer() *HeaderSynthesizer {
	return &HeaderSynthesizer{needsHeader: true}
}

func (s *HeaderSynthesizer) Name() string { return "flv.header_synthesizer" }

func (s *HeaderSynthesizer) Process(_ context.Context, in Data, emit func(Data) error) error {
	switch in.Kind {
	case KindHeader:
		s.lastHeader = in.Header
		s.haveHeader = true
		s.needsHeader = false
		return emit(in)
	case KindEndOfSequence:
		s.needsHeader = true
		return emit(in)
	}

	if s.needsHeader && s.haveHeader {
		s.needsHeader = false
		if err := emit(HeaderData(s.lastHeader)); err != nil {
			return err
		}
	}
	return emit(in)
}

func (s *HeaderSynthesizer) Finish(context.Context, func(Data) error) error { return nil }

var _ pipeline.Processor[Data] = (*HeaderSynthesizer)(nil)
