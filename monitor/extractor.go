// Package monitor implements the status-detector/monitor that decides
// whether a streamer is live, offline, filtered, or fatally errored:
// resolving a per-platform Extractor, selecting and resolving one
// concrete stream from the candidates it offers, and running the
// result through the streamer's filter chain.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/streamrec/core/model"
)

// ExtractedMedia is the raw result of probing one streamer's channel
// page, before stream selection/resolution or filtering are applied.
type ExtractedMedia struct {
	IsLive      bool
	Title       string
	Category    string
	ViewerCount int64
	AvatarURL   string
	StartedAt   time.Time
	Streams     []Candidate
	Headers     map[string]string
}

// ExtractError classifies a platform extractor failure so Detector can
// map it to the right model.LiveStatusKind. Any error that doesn't
// unwrap to an ExtractError is treated as transient and bubbled up to
// the caller for a retry, per the error taxonomy's "transient network"
// recovery.
type ExtractError int

const (
	ExtractErrTransient ExtractError = iota
	ExtractErrNotFound
	ExtractErrBanned
	ExtractErrAgeRestricted
	ExtractErrRegionLocked
	ExtractErrPrivate
)

func (e ExtractError) Error() string {
	switch e {
	case ExtractErrNotFound:
		return "monitor: streamer not found on platform"
	case ExtractErrBanned:
		return "monitor: streamer is banned on platform"
	case ExtractErrAgeRestricted:
		return "monitor: content is age-restricted"
	case ExtractErrRegionLocked:
		return "monitor: content is region-locked"
	case ExtractErrPrivate:
		return "monitor: content is private"
	default:
		return "monitor: transient extractor error"
	}
}

// Extractor resolves one platform's live status and stream URLs.
// Implemented per-platform outside this package (one concrete type per
// supported site); Detector only ever consumes the interface.
type Extractor interface {
	// SupportsURL reports whether url belongs to this extractor's
	// platform.
	SupportsURL(url string) bool
	// ExtractRoomID derives the platform-specific room/channel id from
	// url; ok is false for any url SupportsURL rejects — the two must
	// always agree.
	ExtractRoomID(url string) (id string, ok bool)
	// Extract probes the streamer's current status.
	Extract(ctx context.Context, meta model.StreamerMetadata) (ExtractedMedia, error)
	// ResolveURL fills in cand.URL with the concrete, ready-to-download
	// media URL. Some platforms require a follow-up request per
	// candidate (e.g. a room-token URL that must be exchanged for a
	// signed CDN URL); others can leave cand.URL untouched and return
	// nil immediately.
	ResolveURL(ctx context.Context, cand *Candidate) error
}

// Registry maps a platform id to its Extractor.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register associates platform with ext, replacing any prior entry.
func (r *Registry) Register(platform string, ext Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[platform] = ext
}

// Get returns the Extractor registered for platform, if any.
func (r *Registry) Get(platform string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.extractors[platform]
	return ext, ok
}

// ForURL finds the extractor whose SupportsURL accepts url, used as a
// fallback when a streamer's platform id hasn't been resolved yet.
func (r *Registry) ForURL(url string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ext := range r.extractors {
		if ext.SupportsURL(url) {
			return ext, true
		}
	}
	return nil, false
}
