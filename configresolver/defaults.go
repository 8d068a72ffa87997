package configresolver

import (
	"context"
	"time"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/model"
)

// ConfigRepository is the four-layer source of truth the resolver reads
// through. A missing layer (no platform/template override configured)
// is reported by returning a zero Override, not an error.
type ConfigRepository interface {
	Global(ctx context.Context) (Override, error)
	Platform(ctx context.Context, platformID string) (Override, error)
	Template(ctx context.Context, templateName string) (Override, error)
	Streamer(ctx context.Context, streamerID string) (Override, error)
}

// StreamerLookup resolves the platform/template a streamer belongs to,
// so the resolver knows which platform/template layers to read. A
// narrower consumer-side cut of the full streamer metadata store, the
// same way jobqueue.JobRepository only asks for what jobqueue needs.
type StreamerLookup interface {
	Get(ctx context.Context, streamerID string) (model.StreamerMetadata, error)
}

func defaultMergedConfig() model.MergedConfig {
	return model.MergedConfig{
		MaxSegmentBytes:    config.DefaultMaxSegmentBytes,
		MaxSegmentDuration: config.DefaultMaxSegmentDurationSecs * time.Second,
		ChannelSize:        config.DefaultPipelineChannelSize,
		OutputFormat:       model.FormatFLV,
		Engine:             model.EngineFFmpeg,
		RetryPolicy: model.RetryConfig{
			MaxRetries:        config.DefaultMaxRetries,
			InitialDelay:      config.DefaultInitialDelay,
			MaxDelay:          config.DefaultMaxDelay,
			BackoffMultiplier: config.DefaultBackoffMultiplier,
		},
		CheckIntervalSecs:        config.DefaultCheckIntervalSecs,
		OfflineCheckIntervalSecs: config.DefaultOfflineCheckIntervalSecs,
		OfflineCheckCount:        config.DefaultOfflineCheckCount,
		BatchWindow:              config.DefaultBatchWindow,
		MaxBatchSize:             config.DefaultMaxBatchSize,
		CPUPoolConcurrency:       1,
		IOPoolConcurrency:        1,
	}
}
