package model

import "time"

// SegmentStatus tracks a Segment's lifecycle within its session.
type SegmentStatus string

const (
	SegmentOpen      SegmentStatus = "open"
	SegmentCompleted SegmentStatus = "completed"
	SegmentFailed    SegmentStatus = "failed"
)

// Segment is one output file in a session's ordered sequence. Segments
// are atomic for the job queue: a job references whole segments, never
// partial ones.
type Segment struct {
	SegmentID        string
	SessionID        string
	Index            int
	Path             string
	StartedAt        time.Time
	DurationSecs     float64
	Bytes            int64
	FirstKeyframePTS int64
	LastPTS          int64
	Status           SegmentStatus
}

// SessionStats aggregates chat/session-level counters across segments:
// danmu files are captured per-segment, but the message count rolls up
// to the whole session.
type SessionStats struct {
	TotalBytes        int64
	TotalDurationSecs float64
	TotalSegments     int
	DanmuMessageCount int64
}

// LiveSession is the interval during which a streamer is continuously
// being recorded.
type LiveSession struct {
	SessionID  string
	StreamerID string
	StartedAt  time.Time
	Title      string
	Category   string
	EndedAt    *time.Time
	Stats      SessionStats

	Segments []Segment
}

// NextSegmentIndex returns the index the next segment in this session
// must carry: strictly monotonically increasing.
func (s *LiveSession) NextSegmentIndex() int {
	return len(s.Segments)
}
