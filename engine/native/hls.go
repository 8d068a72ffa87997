package native

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/engine"
	phls "github.com/streamrec/core/pipeline"
	pphls "github.com/streamrec/core/pipeline/hls"
)

// runHLS resolves the initial response as a master or media playlist,
// then polls the media playlist for new segments, fetching each one (and
// any fMP4 initialization segment it references) and feeding it through
// the init-tracking/validation/splitting/defragmentation pipeline before
// writing output files. Same stream-consume contract as runFLV: any open
// output file is flushed before DownloadFailed goes out.
func (e *Engine) runHLS(ctx context.Context, br *bufio.Reader, resp *http.Response, handle *engine.DownloadHandle) error {
	playlist, listType, err := m3u8.DecodeFrom(br, true)
	if err != nil {
		err = fmt.Errorf("engine/native: decoding playlist: %w", err)
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureDecodeError, Message: err.Error()}
		return err
	}

	fetcher := &hlsFetcher{client: e.HTTPClient}

	var mediaURL *url.URL
	var media *m3u8.MediaPlaylist

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		variant := pickVariant(master)
		if variant == nil {
			err := fmt.Errorf("engine/native: master playlist has no variants")
			handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureDecodeError, Message: err.Error()}
			return err
		}
		mediaURL, err = resolveURL(resp.Request.URL, variant.URI)
		if err != nil {
			handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureDecodeError, Message: err.Error()}
			return err
		}
		media, err = fetcher.fetchMediaPlaylist(ctx, mediaURL)
		if err != nil {
			handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureNetworkError, Message: err.Error()}
			return err
		}
	case m3u8.MEDIA:
		mediaURL = resp.Request.URL
		media = playlist.(*m3u8.MediaPlaylist)
	default:
		err := fmt.Errorf("engine/native: unrecognized playlist type")
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureDecodeError, Message: err.Error()}
		return err
	}

	in := make(chan phls.Result[pphls.Data], e.ChannelSize)
	fetchErrCh := make(chan error, 1)
	go func() {
		fetchErrCh <- fetcher.poll(ctx, mediaURL, media, in)
	}()

	tracker := pphls.NewInitSegmentTracker()
	w := newHLSWriter(handle)

	// SegmentSplitter/SegmentLimiter are the only stages that emit
	// EndMarker, so Defragmenter (which reacts to it the same way FLV's
	// HeaderSynthesizer reacts to EndOfSequence) must sit downstream of
	// both, mirroring the FLV pipeline's stage-ordering fix.
	stages := []phls.Processor[pphls.Data]{
		tracker,
		pphls.NewMediaSegmentValidator(tracker, e.Av1Options),
		pphls.NewSegmentSplitter(handle.MaxSegmentBytes, handle.MaxSegmentDur),
		pphls.NewSegmentLimiter(handle.MaxSegmentsPerFile),
		pphls.NewDefragmenter(),
	}

	out := phls.Run(ctx, in, e.ChannelSize, stages...)
	drainErr := phls.Drain(out, func(d pphls.Data) error {
		return w.consume(d)
	})

	fetchErr := <-fetchErrCh
	if drainErr == nil {
		drainErr = fetchErr
	}

	if drainErr != nil {
		if err := w.flushOpenSegment(); err != nil {
			drainErr = err
		}
		kind := classifyReadFailure(drainErr, ctx)
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: kind, Message: drainErr.Error()}
		return drainErr
	}

	if err := w.flushOpenSegment(); err != nil {
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureDecodeError, Message: err.Error()}
		return err
	}
	handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadCompleted, TotalSegments: w.index + 1}
	return nil
}

// pickVariant picks the highest-bandwidth rendition, matching "best"
// quality selection semantics rather than always taking the first entry.
func pickVariant(mp *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range mp.Variants {
		if v == nil {
			continue
		}
		if best == nil || v.VariantParams.Bandwidth > best.VariantParams.Bandwidth {
			best = v
		}
	}
	return best
}

func resolveURL(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("engine/native: parsing URL %q: %w", ref, err)
	}
	return base.ResolveReference(u), nil
}

// classifySegmentKind picks TsData vs M4sData by file extension; HLS
// doesn't carry an explicit content-type per segment, so the URI is the
// only signal available before the bytes are fetched.
func classifySegmentKind(uri string) pphls.Kind {
	clean := uri
	if i := strings.IndexByte(clean, '?'); i >= 0 {
		clean = clean[:i]
	}
	switch strings.ToLower(path.Ext(clean)) {
	case ".m4s", ".mp4", ".m4v", ".m4a", ".cmfv", ".cmfa":
		return pphls.KindM4sData
	default:
		return pphls.KindTsData
	}
}

// hlsFetcher holds the per-download HTTP state (the client plus the most
// recently fetched init segment URL, so a repeated EXT-X-MAP isn't
// refetched every time the playlist is reloaded).
type hlsFetcher struct {
	client      *http.Client
	lastInitURL string
}

func (f *hlsFetcher) fetchBytes(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("engine/native: fetching %s: status %d", u, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (f *hlsFetcher) fetchMediaPlaylist(ctx context.Context, u *url.URL) (*m3u8.MediaPlaylist, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, fmt.Errorf("engine/native: decoding media playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("engine/native: expected media playlist at %s, got master", u)
	}
	return playlist.(*m3u8.MediaPlaylist), nil
}

// poll walks the media playlist's segment list, fetching every segment
// not yet seen (by sequence number), then reloads the playlist after
// config.DefaultHLSPollInterval — unless it's a closed (VOD/EVENT)
// playlist, which is drained exactly once.
func (f *hlsFetcher) poll(ctx context.Context, mediaURL *url.URL, first *m3u8.MediaPlaylist, out chan<- phls.Result[pphls.Data]) error {
	defer close(out)

	var lastSeq uint64
	haveLast := false
	pl := first

	for {
		for _, seg := range pl.GetAllSegments() {
			if haveLast && seg.SeqId <= lastSeq {
				continue
			}
			if err := f.emitSegment(ctx, mediaURL, pl, seg, out); err != nil {
				return err
			}
			lastSeq = seg.SeqId
			haveLast = true
		}

		if pl.Closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.DefaultHLSPollInterval):
		}

		next, err := f.fetchMediaPlaylist(ctx, mediaURL)
		if err != nil {
			return err
		}
		pl = next
	}
}

func (f *hlsFetcher) emitSegment(ctx context.Context, mediaURL *url.URL, pl *m3u8.MediaPlaylist, seg *m3u8.MediaSegment, out chan<- phls.Result[pphls.Data]) error {
	info := pphls.MediaSegment{
		URI:            seg.URI,
		DurationSecs:   seg.Duration,
		SequenceNumber: int(seg.SeqId),
		Discontinuity:  seg.Discontinuity,
	}

	kind := classifySegmentKind(seg.URI)

	if kind == pphls.KindM4sData {
		mapRef := seg.Map
		if mapRef == nil {
			mapRef = pl.Map
		}
		if mapRef != nil {
			initURL, err := resolveURL(mediaURL, mapRef.URI)
			if err != nil {
				return err
			}
			if initURL.String() != f.lastInitURL {
				data, err := f.fetchBytes(ctx, initURL)
				if err != nil {
					return fmt.Errorf("engine/native: fetching init segment: %w", err)
				}
				if err := sendHLS(ctx, out, phls.Ok(pphls.M4sData(info, data, true))); err != nil {
					return err
				}
				f.lastInitURL = initURL.String()
			}
		}
	}

	segURL, err := resolveURL(mediaURL, seg.URI)
	if err != nil {
		return err
	}
	data, err := f.fetchBytes(ctx, segURL)
	if err != nil {
		return fmt.Errorf("engine/native: fetching segment %s: %w", seg.URI, err)
	}

	var item pphls.Data
	if kind == pphls.KindM4sData {
		item = pphls.M4sData(info, data, false)
	} else {
		item = pphls.TsData(info, data)
	}
	return sendHLS(ctx, out, phls.Ok(item))
}

func sendHLS(ctx context.Context, out chan<- phls.Result[pphls.Data], r phls.Result[pphls.Data]) error {
	select {
	case out <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hlsWriter writes the pipeline's output Data stream to successive
// segment files: a TsData/M4sData item opens a file on demand (if none
// is open) and appends to it; an EndMarker closes it.
type hlsWriter struct {
	handle *engine.DownloadHandle
	index  int

	f         *os.File
	path      string
	startedAt time.Time
}

func newHLSWriter(handle *engine.DownloadHandle) *hlsWriter {
	return &hlsWriter{handle: handle, index: -1}
}

func (w *hlsWriter) consume(d pphls.Data) error {
	switch d.Kind {
	case pphls.KindEndMarker:
		return w.closeSegment()
	case pphls.KindTsData:
		return w.writeData("ts", d.Bytes)
	case pphls.KindM4sData:
		return w.writeData("m4s", d.Bytes)
	}
	return nil
}

func (w *hlsWriter) writeData(ext string, b []byte) error {
	if w.f == nil {
		if err := w.openSegment(ext); err != nil {
			return err
		}
	}
	if _, err := w.f.Write(b); err != nil {
		return fmt.Errorf("engine/native: writing segment data: %w", err)
	}
	return nil
}

func (w *hlsWriter) openSegment(ext string) error {
	w.index++
	w.path = filepath.Join(w.handle.OutputDir, fmt.Sprintf("%s_%03d.%s", w.handle.FilenameTemplate, w.index, ext))
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("engine/native: creating segment file: %w", err)
	}
	w.f = f
	w.startedAt = time.Now()
	w.handle.Events <- engine.SegmentEvent{Kind: engine.EventSegmentStarted, Path: w.path, Index: w.index, StartedAt: w.startedAt}
	return nil
}

func (w *hlsWriter) closeSegment() error {
	if w.f == nil {
		return nil
	}
	path, started := w.path, w.startedAt
	info, statErr := w.f.Stat()
	var size int64
	if statErr == nil {
		size = info.Size()
	}
	if err := w.f.Close(); err != nil {
		w.f = nil
		return err
	}
	w.f = nil
	w.handle.Events <- engine.SegmentEvent{
		Kind: engine.EventSegmentCompleted, Path: path, Bytes: size,
		DurationSecs: time.Since(started).Seconds(),
	}
	return nil
}

// flushOpenSegment closes any still-open segment; used by the
// stream-consume contract before a DownloadFailed event is emitted.
func (w *hlsWriter) flushOpenSegment() error {
	return w.closeSegment()
}
