package hls

import (
	"context"

	"github.com/streamrec/core/pipeline"
)

// Defragmenter guarantees every fMP4 output file opens with an
// initialization segment: analogous to the FLV pipeline's
// HeaderSynthesizer. TS segments are self-contained and pass through
// untouched.
type Defragmenter struct {
	lastInit   Data
	haveInit   bool
	needsInit  bool
}

func NewDefragmenter() *Defragmenter {
	return &Defragmenter{needsInit: true}
}

func (d *Defragmenter) Name() string { return "hls.defragmenter" }

func (d *Defragmenter) Process(_ context.Context, in Data, emit func(Data) error) error {
	switch in.Kind {
	case KindEndMarker:
		d.needsInit = true
		return emit(in)
	case KindTsData:
		return emit(in)
	}

	if in.IsInit {
		d.lastInit = in
		d.haveInit = true
		d.needsInit = false
		return emit(in)
	}

	if d.needsInit && d.haveInit {
		d.needsInit = false
		if err := emit(d.lastInit); err != nil {
			return err
		}
	}
	return emit(in)
}

func (d *Defragmenter) Finish(context.Context, func(Data) error) error { return nil }

var _ pipeline.Processor[Data] = (*Defragmenter)(nil)
