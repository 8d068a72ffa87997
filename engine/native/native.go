// Package native implements engine.DownloadEngine without shelling out
// to ffmpeg or streamlink: it speaks HLS and FLV itself, sniffing the
// protocol off the resolved URL's response, and pipes the decoded
// stream through pipeline/flv or pipeline/hls before writing segments
// to disk.
package native

import (
	"bufio"
	"context"
	"fmt"
	"net/http"

	"github.com/streamrec/core/codec/mp4"
	"github.com/streamrec/core/config"
	"github.com/streamrec/core/engine"
	"github.com/streamrec/core/model"
)

// Protocol is the sniffed wire format of the resolved stream.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolFLV
	ProtocolHLS
)

// Engine drives HLS/FLV ingestion directly, without an external process.
type Engine struct {
	HTTPClient                *http.Client
	ChannelSize               int
	DuplicateFilterWindow     int
	ReplayBackjumpThresholdMs uint32
	Av1Options                mp4.Av1ValidationOptions
}

func New() *Engine {
	return &Engine{
		HTTPClient:                http.DefaultClient,
		ChannelSize:               config.DefaultPipelineChannelSize,
		DuplicateFilterWindow:     config.DefaultDuplicateFilterWindowCapacity,
		ReplayBackjumpThresholdMs: config.DefaultReplayBackjumpThresholdMs,
		Av1Options:                mp4.DefaultAv1ValidationOptions(),
	}
}

var _ engine.DownloadEngine = (*Engine)(nil)

func (e *Engine) EngineType() model.EngineType { return model.EngineNative }

func (e *Engine) IsAvailable() bool { return true }

func (e *Engine) Version() (string, bool) { return "native", true }

// Stop is a no-op: cancelling handle's context drives shutdown for both
// the HLS and FLV ingestion loops.
func (e *Engine) Stop(ctx context.Context, handle *engine.DownloadHandle) error { return nil }

func (e *Engine) Start(ctx context.Context, handle *engine.DownloadHandle) error {
	defer close(handle.Events)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, handle.URL, nil)
	if err != nil {
		return fmt.Errorf("engine/native: building request: %w", err)
	}
	for k, v := range handle.ExtraHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range handle.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureNetworkError, Message: err.Error()}
		return err
	}
	defer resp.Body.Close()

	br := bufio.NewReaderSize(resp.Body, 64*1024)
	proto, err := sniffProtocol(br, resp.Header.Get("Content-Type"))
	if err != nil {
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureDecodeError, Message: err.Error()}
		return err
	}

	switch proto {
	case ProtocolFLV:
		return e.runFLV(ctx, br, handle)
	case ProtocolHLS:
		return e.runHLS(ctx, br, resp, handle)
	default:
		err := fmt.Errorf("engine/native: could not determine stream protocol")
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureDecodeError, Message: err.Error()}
		return err
	}
}

// sniffProtocol peeks the leading bytes of the response without
// consuming them, so the caller's decoder still sees a full stream.
func sniffProtocol(br *bufio.Reader, contentType string) (Protocol, error) {
	head, err := br.Peek(9)
	if err != nil && len(head) == 0 {
		return ProtocolUnknown, fmt.Errorf("engine/native: reading stream header: %w", err)
	}
	if len(head) >= 3 && head[0] == 'F' && head[1] == 'L' && head[2] == 'V' {
		return ProtocolFLV, nil
	}
	if len(head) >= 7 && string(head[:7]) == "#EXTM3U" {
		return ProtocolHLS, nil
	}
	switch contentType {
	case "video/x-flv":
		return ProtocolFLV, nil
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl":
		return ProtocolHLS, nil
	}
	return ProtocolUnknown, fmt.Errorf("engine/native: unrecognized stream signature %q", string(head))
}
