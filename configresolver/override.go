// Package configresolver merges the four config layers (global,
// platform, template, streamer) into one MergedConfig per streamer,
// caches the result with in-flight dedup, and fans out invalidation as
// coalesced ConfigUpdateEvents.
package configresolver

import (
	"time"

	"github.com/streamrec/core/model"
)

// Override is one layer's partial view of MergedConfig: every field is
// optional, and a present field always wins over a less specific layer.
// Maps (Cookies, ExtraHeaders) are merged key-by-key rather than
// wholesale replaced, so a streamer-level header addition doesn't drop
// headers set at the global layer.
type Override struct {
	OutputFolder       *string
	FilenameTemplate   *string
	OutputFormat       *model.OutputFormat
	MaxSegmentBytes    *int64
	MaxSegmentDuration *time.Duration
	ChannelSize        *int

	RetryPolicy    *model.RetryConfig
	Engine         *model.EngineType
	EngineConfigID *string
	Proxy          *string
	Cookies        map[string]string
	ExtraHeaders   map[string]string

	Danmu     *model.DanmuConfig
	EventHook *model.EventHookTemplate

	Selection *model.StreamSelectionCriteria

	CheckIntervalSecs        *int
	OfflineCheckIntervalSecs *int
	OfflineCheckCount        *int
	BatchWindow              *time.Duration
	MaxBatchSize             *int

	CPUPoolConcurrency *int
	IOPoolConcurrency  *int
}

// apply layers o onto base in place: every non-nil field of o replaces
// base's current value, implementing the "deepest non-None override
// wins" merge rule one layer at a time.
func apply(base *model.MergedConfig, o Override) {
	if o.OutputFolder != nil {
		base.OutputFolder = *o.OutputFolder
	}
	if o.FilenameTemplate != nil {
		base.FilenameTemplate = *o.FilenameTemplate
	}
	if o.OutputFormat != nil {
		base.OutputFormat = *o.OutputFormat
	}
	if o.MaxSegmentBytes != nil {
		base.MaxSegmentBytes = *o.MaxSegmentBytes
	}
	if o.MaxSegmentDuration != nil {
		base.MaxSegmentDuration = *o.MaxSegmentDuration
	}
	if o.ChannelSize != nil {
		base.ChannelSize = *o.ChannelSize
	}
	if o.RetryPolicy != nil {
		base.RetryPolicy = *o.RetryPolicy
	}
	if o.Engine != nil {
		base.Engine = *o.Engine
	}
	if o.EngineConfigID != nil {
		base.EngineConfigID = *o.EngineConfigID
	}
	if o.Proxy != nil {
		base.Proxy = *o.Proxy
	}
	if len(o.Cookies) > 0 {
		base.Cookies = mergeStrings(base.Cookies, o.Cookies)
	}
	if len(o.ExtraHeaders) > 0 {
		base.ExtraHeaders = mergeStrings(base.ExtraHeaders, o.ExtraHeaders)
	}
	if o.Danmu != nil {
		base.Danmu = *o.Danmu
	}
	if o.EventHook != nil {
		base.EventHook = *o.EventHook
	}
	if o.Selection != nil {
		base.Selection = *o.Selection
	}
	if o.CheckIntervalSecs != nil {
		base.CheckIntervalSecs = *o.CheckIntervalSecs
	}
	if o.OfflineCheckIntervalSecs != nil {
		base.OfflineCheckIntervalSecs = *o.OfflineCheckIntervalSecs
	}
	if o.OfflineCheckCount != nil {
		base.OfflineCheckCount = *o.OfflineCheckCount
	}
	if o.BatchWindow != nil {
		base.BatchWindow = *o.BatchWindow
	}
	if o.MaxBatchSize != nil {
		base.MaxBatchSize = *o.MaxBatchSize
	}
	if o.CPUPoolConcurrency != nil {
		base.CPUPoolConcurrency = *o.CPUPoolConcurrency
	}
	if o.IOPoolConcurrency != nil {
		base.IOPoolConcurrency = *o.IOPoolConcurrency
	}
}

func mergeStrings(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
