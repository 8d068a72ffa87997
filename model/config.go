package model

import "time"

// OutputFormat is the container format a session is recorded into.
type OutputFormat string

const (
	FormatFLV OutputFormat = "flv"
	FormatTS  OutputFormat = "ts"
	FormatMP4 OutputFormat = "mp4"
	FormatMKV OutputFormat = "mkv"
)

// EngineType names a concrete DownloadEngine implementation.
type EngineType string

const (
	EngineFFmpeg     EngineType = "ffmpeg"
	EngineStreamlink EngineType = "streamlink"
	EngineNative     EngineType = "native"
)

// EngineKey is the circuit-breaker and (optionally) rate-limit isolation
// key: (engine_type, Option<engine_config_id_or_override_hash>). An empty
// ConfigID means "the global default instance shared by all plain users
// of that engine type".
type EngineKey struct {
	EngineType EngineType
	ConfigID   string // empty means "no override" (global default)
}

func (k EngineKey) String() string {
	if k.ConfigID == "" {
		return string(k.EngineType) + ":default"
	}
	return string(k.EngineType) + ":" + k.ConfigID
}

// RetryConfig governs both engine-start retries and job-queue retries.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	UseJitter         bool
}

// StreamSelectionCriteria ranks candidate streams when an extractor
// reports multiple qualities/codecs for a live channel.
type StreamSelectionCriteria struct {
	PreferredQuality string
	PreferredCodecs  []string
	PreferredFormats []string
}

// EventHookTemplate names the DAG template to instantiate on segment/
// session completion.
type EventHookTemplate struct {
	Name  string
	Nodes []DagNodeTemplate
}

// DanmuConfig controls the chat/danmu side-channel.
type DanmuConfig struct {
	Enabled        bool
	SampleEveryN   int
	WebsocketProxy string
}

// MergedConfig is the fully resolved configuration for one streamer,
// computed by configresolver from four layers: global -> platform ->
// template -> streamer-specific.
type MergedConfig struct {
	StreamerID string

	OutputFolder        string
	FilenameTemplate    string
	OutputFormat        OutputFormat
	MaxSegmentBytes     int64
	MaxSegmentDuration  time.Duration
	ChannelSize         int

	RetryPolicy    RetryConfig
	Engine         EngineType
	EngineConfigID string // feeds EngineKey.ConfigID; empty = default
	Proxy          string
	Cookies        map[string]string
	ExtraHeaders   map[string]string

	Danmu     DanmuConfig
	EventHook EventHookTemplate

	Selection StreamSelectionCriteria

	CheckIntervalSecs        int
	OfflineCheckIntervalSecs int
	OfflineCheckCount        int
	BatchWindow              time.Duration
	MaxBatchSize             int

	CPUPoolConcurrency int
	IOPoolConcurrency  int
}

// ConfigLayer identifies which of the four merge layers a field override
// came from, used by the resolver's merge and by invalidation routing.
type ConfigLayer int

const (
	LayerGlobal ConfigLayer = iota
	LayerPlatform
	LayerTemplate
	LayerStreamer
)
