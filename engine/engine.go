// Package engine defines the DownloadEngine contract shared by the
// ffmpeg, streamlink, and native engines, plus the SegmentEvent stream
// that is the authoritative channel back to the live-session
// orchestrator (package session).
package engine

import (
	"context"
	"time"

	"github.com/streamrec/core/model"
)

// DownloadEngine is implemented by each concrete engine
// (engine/ffmpeg, engine/streamlink, engine/native).
type DownloadEngine interface {
	EngineType() model.EngineType
	// Start begins downloading per handle and blocks until the download
	// ends (normally, on cancellation, or on unrecoverable error),
	// emitting SegmentEvents on handle.Events as it goes.
	Start(ctx context.Context, handle *DownloadHandle) error
	// Stop asks a running download to end. The ffmpeg, streamlink and
	// native engines implement it as a no-op: cancelling the context
	// passed to Start is what ends a download (for the process engines,
	// SIGINT, then a hard kill after handle's grace period elapses).
	Stop(ctx context.Context, handle *DownloadHandle) error
	IsAvailable() bool
	Version() (string, bool)
}

// DownloadHandle bundles everything one engine invocation needs plus the
// bounded event channel it reports through.
type DownloadHandle struct {
	URL              string
	OutputDir        string
	FilenameTemplate string
	OutputFormat     model.OutputFormat
	MaxSegmentBytes  int64
	MaxSegmentDur    time.Duration
	// MaxSegmentsPerFile bounds the number of HLS media segments folded
	// into one output file; ignored by the ffmpeg/streamlink engines,
	// which segment by -segment_time/-fs instead. Zero means unbounded.
	MaxSegmentsPerFile int
	Cookies          map[string]string
	ExtraHeaders     map[string]string
	Proxy            string
	ProcessStopGrace time.Duration

	// Events is the bounded SegmentEvent stream; the engine is the sole
	// sender, closed when Start returns.
	Events chan SegmentEvent
}

// EventKind discriminates SegmentEvent variants.
type EventKind int

const (
	EventSegmentStarted EventKind = iota
	EventSegmentCompleted
	EventProgress
	EventDownloadCompleted
	EventDownloadFailed
)

// FailureKind classifies a DownloadFailed event for the orchestrator's
// ordering/retry decisions.
type FailureKind int

const (
	FailureSourceUnavailable FailureKind = iota
	FailureNetworkError
	FailureAuthError
	FailureDecodeError
	FailureCancelled
)

// SegmentEvent is the sum type of everything an engine reports during a
// download. Only the fields relevant to Kind are populated.
type SegmentEvent struct {
	Kind EventKind

	// SegmentStarted / SegmentCompleted
	Path         string
	Index        int
	StartedAt    time.Time
	Bytes        int64
	DurationSecs float64
	FirstPTS     int64
	LastPTS      int64

	// Progress
	BytesDownloaded int64

	// DownloadCompleted
	TotalBytes        int64
	TotalDurationSecs float64
	TotalSegments     int

	// DownloadFailed
	FailureKind FailureKind
	Message     string
}
