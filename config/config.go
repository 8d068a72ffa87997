package config

import "time"

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// Path to the ffmpeg/streamlink/DanmakuFactory binaries we shell out to
var PathBinDir = "/usr/local/bin"

// Default interval between probes for a streamer that isn't live
const DefaultCheckIntervalSecs = 120

// Fast re-detect interval used right after a streamer goes offline
const DefaultOfflineCheckIntervalSecs = 15

// Number of consecutive offline probes before falling back to the slow interval
const DefaultOfflineCheckCount = 3

// Batch window for platform actors that support batched status checks
const DefaultBatchWindow = 200 * time.Millisecond

const DefaultMaxBatchSize = 50

// Bound on concurrent per-streamer probes when a platform has no real
// combined-request batch API and ConcurrentBatchProber fans a batch out
// into individual Prober calls instead
const DefaultBatchProbeConcurrency = 8

// Default segment size caps for the download engines
const DefaultMaxSegmentDurationSecs = 1800
const DefaultMaxSegmentBytes = 4 * 1024 * 1024 * 1024 // 4 GiB

// Hard cap on a single config resolution
const ConfigResolveTimeout = 30 * time.Second

// Coalescing window for the config event bus
const ConfigEventCoalesceWindow = 100 * time.Millisecond

// Default sizes for the bounded pipeline/job-queue channels
const DefaultPipelineChannelSize = 64
const DefaultCPUQueueSize = 32
const DefaultIOQueueSize = 64

// FLV duplicate-tag filter tunables
const DefaultDuplicateFilterWindowCapacity = 8192
const DefaultReplayBackjumpThresholdMs = 2000

// Default polling interval for the native engine's HLS media-playlist refresh
const DefaultHLSPollInterval = 2 * time.Second

// Default cap on segments accumulated into one HLS output file before a cut
const DefaultHLSMaxSegmentsPerFile = 0

// Default circuit breaker tunables
const DefaultFailureThreshold = 5
const DefaultSuccessThreshold = 2
const DefaultHalfOpenFailureThreshold = 2
const DefaultBreakerCooldown = 30 * time.Second

// Default retry policy
const DefaultMaxRetries = 6
const DefaultInitialDelay = 1 * time.Second
const DefaultMaxDelay = 60 * time.Second
const DefaultBackoffMultiplier = 2.0

// Bounded mailbox size for scheduler actors (StreamerActor/PlatformActor)
const DefaultActorMailboxSize = 32

// How often a StreamerActor wakes on its own to check whether its next
// scheduled probe is due, independent of any incoming mailbox message
const DefaultActorTickInterval = 1 * time.Second

// Default throttle controller tunables
const DefaultThrottleCheckInterval = 5 * time.Second
const DefaultThrottleReductionFactor = 0.5
const DefaultThrottleCriticalThreshold = 256
const DefaultThrottleWarningThreshold = 64

// Graceful stop grace period before a download engine process is killed
const ProcessStopGracePeriod = 10 * time.Second

// The maximum allowed size of a single output segment file, across all formats
const MaxInputFileSizeBytes = 30 * 1024 * 1024 * 1024 // 30 GiB

// Danmu websocket reconnect tunables
const DefaultDanmuMaxReconnectAttempts = 10
const DefaultDanmuBaseReconnectDelay = 1 * time.Second
const DefaultDanmuMaxReconnectDelay = 60 * time.Second

// Danmu websocket dial and handshake timeout
const DefaultDanmuDialTimeout = 10 * time.Second
