// Package model holds the shared entity types: streamer metadata, merged
// config, live sessions, segments, jobs, and the DAG template they flow
// through. These are plain data types — the packages that own their
// lifecycle (scheduler, session, jobqueue) live elsewhere.
package model

import "time"

// StreamerState is the single source of truth for "should we probe this
// streamer". It is never inferred from "is there a running download" —
// that's reconciled explicitly via DownloadEnded.
type StreamerState string

const (
	StateLive          StreamerState = "live"
	StateNotLive       StreamerState = "not_live"
	StateOutOfSchedule StreamerState = "out_of_schedule"
	StateError         StreamerState = "error"
	StateNotFound      StreamerState = "not_found"
	StateFatalError    StreamerState = "fatal_error"
	StateDisabled      StreamerState = "disabled"
)

// IsFatal reports whether the state is a sticky, manually-cleared state
// that must stop further scheduling.
func (s StreamerState) IsFatal() bool {
	switch s {
	case StateNotFound, StateFatalError, StateDisabled:
		return true
	default:
		return false
	}
}

// StreamerMetadata is the (id, name, platform, url, state, ...) record
// owned by the metadata store.
type StreamerMetadata struct {
	ID                    string
	Name                  string
	PlatformID            string
	TemplateName          string // empty if the streamer has no template layer
	URL                   string
	State                 StreamerState
	Priority              int
	ConsecutiveErrorCount int
	DisabledUntil         time.Time
	LastLiveTime          time.Time
}

// IsProbeAllowed reports whether disabled_until has passed as of now:
// while it is in the future, actors must not probe this streamer.
func (m StreamerMetadata) IsProbeAllowed(now time.Time) bool {
	return !m.DisabledUntil.After(now)
}

// LiveStatusKind is the sum type a status probe resolves to.
type LiveStatusKind string

const (
	LiveStatusLive                LiveStatusKind = "live"
	LiveStatusOffline             LiveStatusKind = "offline"
	LiveStatusFiltered            LiveStatusKind = "filtered"
	LiveStatusNotFound            LiveStatusKind = "not_found"
	LiveStatusBanned              LiveStatusKind = "banned"
	LiveStatusAgeRestricted       LiveStatusKind = "age_restricted"
	LiveStatusRegionLocked        LiveStatusKind = "region_locked"
	LiveStatusPrivate             LiveStatusKind = "private"
	LiveStatusUnsupportedPlatform LiveStatusKind = "unsupported_platform"
)

// IsFatal reports whether kind is one of the six sticky extractor
// outcomes that must stop further scheduling until manually cleared.
func (k LiveStatusKind) IsFatal() bool {
	switch k {
	case LiveStatusNotFound, LiveStatusBanned, LiveStatusAgeRestricted,
		LiveStatusRegionLocked, LiveStatusPrivate, LiveStatusUnsupportedPlatform:
		return true
	default:
		return false
	}
}

// LiveStatus is one probe's result. Only the fields relevant to Kind
// are populated: Resolved/Candidates/ViewerCount/AvatarURL for Live,
// FilterReason/NextMatchTime for Filtered.
type LiveStatus struct {
	Kind LiveStatusKind

	// Live
	Resolved     StreamInfo   // the one candidate get_url resolved to a concrete URL
	Candidates   []StreamInfo // the full ranked candidate list, pre-resolution
	ViewerCount  int64
	AvatarURL    string
	StartedAt    time.Time
	DanmuEnabled bool // whether the session orchestrator should start the danmu side-channel

	// Filtered
	FilterReason  string
	NextMatchTime time.Time
}

// StreamInfo is the resolved, ready-to-download source a monitor's Live
// observation carries: the actual media URL (which may differ from
// StreamerMetadata.URL, e.g. a platform page URL vs. a resolved HLS/FLV
// playback URL) plus whatever request-level state the extractor already
// negotiated, so the session orchestrator never has to re-resolve it.
type StreamInfo struct {
	URL          string
	Title        string
	Category     string
	Cookies      map[string]string
	ExtraHeaders map[string]string
	ResolvedAt   time.Time
}
