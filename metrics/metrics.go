package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics groups the request-count/duration/retry metrics shared by
// every outbound HTTP client (probe, object store).
type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type SchedulerMetrics struct {
	ActiveStreamerActors prometheus.Gauge
	ActivePlatformActors prometheus.Gauge
	ProbesTotal          *prometheus.CounterVec
	BatchSize            prometheus.Histogram
}

type EngineMetrics struct {
	SegmentsStarted   *prometheus.CounterVec
	SegmentsCompleted *prometheus.CounterVec
	DownloadFailures  *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
}

type PipelineMetrics struct {
	DuplicateTagsDropped *prometheus.CounterVec
	ChannelDepth         *prometheus.GaugeVec
}

type JobQueueMetrics struct {
	QueueDepth      *prometheus.GaugeVec
	JobsTotal       *prometheus.CounterVec
	ThrottleActive  prometheus.Gauge
	ConcurrencyCap  prometheus.Gauge
	JobDurationSecs *prometheus.HistogramVec
}

type CoreMetrics struct {
	Version prometheus.Counter

	ObjectStoreClient ClientMetrics
	ProbeClient       ClientMetrics

	Scheduler SchedulerMetrics
	Engine    EngineMetrics
	Pipeline  PipelineMetrics
	JobQueue  JobQueueMetrics
}

func newClientMetrics(name string) ClientMetrics {
	return ClientMetrics{
		RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: name + "_retry_count",
			Help: "Number of retries attempted on the last request, per host",
		}, []string{"host"}),
		FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_failure_count",
			Help: "Count of failed requests, by host and status",
		}, []string{"host", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: name + "_request_duration_seconds",
			Help: "Duration of requests, by host",
		}, []string{"host"}),
	}
}

func NewMetrics() *CoreMetrics {
	return &CoreMetrics{
		Version: promauto.NewCounter(prometheus.CounterOpts{
			Name: "version",
			Help: "Incremented once on process startup; labelled via Version var at registration time",
		}),
		ObjectStoreClient: newClientMetrics("object_store_client"),
		ProbeClient:       newClientMetrics("probe_client"),
		Scheduler: SchedulerMetrics{
			ActiveStreamerActors: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "scheduler_active_streamer_actors",
				Help: "Number of currently spawned StreamerActors",
			}),
			ActivePlatformActors: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "scheduler_active_platform_actors",
				Help: "Number of currently spawned PlatformActors",
			}),
			ProbesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "scheduler_probes_total",
				Help: "Count of status probes, by platform and result",
			}, []string{"platform", "result"}),
			BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "scheduler_batch_size",
				Help:    "Distribution of flushed PlatformActor batch sizes",
				Buckets: prometheus.LinearBuckets(1, 5, 10),
			}),
		},
		Engine: EngineMetrics{
			SegmentsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "engine_segments_started_total",
				Help: "Count of SegmentStarted events, by engine type",
			}, []string{"engine"}),
			SegmentsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "engine_segments_completed_total",
				Help: "Count of SegmentCompleted events, by engine type",
			}, []string{"engine"}),
			DownloadFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "engine_download_failures_total",
				Help: "Count of DownloadFailed events, by engine type and failure kind",
			}, []string{"engine", "kind"}),
			BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "engine_circuit_breaker_state",
				Help: "Current breaker state (0=Closed 1=HalfOpen 2=Open), by engine key",
			}, []string{"engine_key"}),
		},
		Pipeline: PipelineMetrics{
			DuplicateTagsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pipeline_duplicate_tags_dropped_total",
				Help: "Count of FLV tags dropped by the duplicate filter, by reason",
			}, []string{"reason"}),
			ChannelDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pipeline_channel_depth",
				Help: "Current depth of a bounded pipeline channel, by processor stage",
			}, []string{"stage"}),
		},
		JobQueue: JobQueueMetrics{
			QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "jobqueue_depth",
				Help: "Current queue depth, by pool (cpu/io)",
			}, []string{"pool"}),
			JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "jobqueue_jobs_total",
				Help: "Count of jobs by kind and terminal status",
			}, []string{"kind", "status"}),
			ThrottleActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "jobqueue_throttle_active",
				Help: "1 if the throttle controller has reduced download concurrency",
			}),
			ConcurrencyCap: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "jobqueue_download_concurrency_cap",
				Help: "Current effective max_concurrent_downloads limit",
			}),
			JobDurationSecs: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name: "jobqueue_job_duration_seconds",
				Help: "Duration of completed jobs, by kind",
			}, []string{"kind"}),
		},
	}
}

// Metrics is the process-wide metrics registry, exposed as a package-
// level singleton.
var Metrics = NewMetrics()
