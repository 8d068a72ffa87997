// Command recorder wires the scheduler, config resolver, job queue,
// danmu capture, and metrics server together and runs the supervisor
// until signalled to stop. It is the thin composition root over the
// rest of this module; streamer registration and the platform
// extractor/danmu protocol set are supplied by the embedding
// deployment (see storage.Memory* for the default, database-free
// backing used when no real repositories are configured).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/configresolver"
	"github.com/streamrec/core/danmu"
	"github.com/streamrec/core/engine"
	"github.com/streamrec/core/engine/breaker"
	"github.com/streamrec/core/engine/ffmpeg"
	"github.com/streamrec/core/engine/native"
	"github.com/streamrec/core/engine/streamlink"
	"github.com/streamrec/core/jobqueue"
	"github.com/streamrec/core/metrics"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/monitor"
	"github.com/streamrec/core/scheduler"
	"github.com/streamrec/core/session"
	"github.com/streamrec/core/storage"
)

func main() {
	fs := flag.NewFlagSet("recorder", flag.ExitOnError)

	metricsPort := fs.Int("metrics-port", 9090, "port to serve Prometheus metrics on")
	dbConnStr := fs.String("db-connection-string", "", "Postgres connection string for job/session persistence; empty disables persistence")
	dbMaxConns := fs.Int("db-max-connections", 4, "maximum open connections to the persistence DB")
	cpuConcurrency := fs.Int("cpu-concurrency", 4, "maximum concurrent CPU-pool jobs (remux/burn-subs/danmaku-factory)")
	ioConcurrency := fs.Int("io-concurrency", 8, "maximum concurrent IO-pool jobs (upload)")
	defaultProbeRate := fs.Float64("default-probe-rate", 1.0, "default per-platform probe rate limit, in probes/sec")
	configTTL := fs.Duration("config-ttl", 5*time.Minute, "merged config cache TTL; 0 disables expiry (explicit invalidation only)")
	dagRetries := fs.Int("dag-max-retries", config.DefaultMaxRetries, "max retries for each post-processing DAG node")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("RECORDER"),
	); err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return metrics.ListenAndServe(*metricsPort)
	})

	db, err := storage.OpenPostgres(*dbConnStr, *dbMaxConns)
	if err != nil {
		glog.Fatalf("error opening persistence db: %s", err)
	}
	var jobRepo jobqueue.JobRepository
	var sessionRepo session.SessionRepository
	if db != nil {
		jobRepo = storage.NewPostgresJobRepository(db)
		sessionRepo = storage.NewPostgresSessionRepository(db)
		defer db.Close()
	} else {
		glog.Infof("no db-connection-string set, job/session persistence is disabled")
	}

	processors := jobqueue.NewRegistry()
	processors.Register(jobqueue.RemuxProcessor{})
	processors.Register(jobqueue.DanmakuFactoryProcessor{})
	processors.Register(jobqueue.BurnSubsProcessor{})
	processors.Register(jobqueue.UploadProcessor{})
	queue := jobqueue.NewQueue(*cpuConcurrency, *ioConcurrency, processors, jobRepo)
	group.Go(func() error {
		queue.Run(ctx)
		return nil
	})
	enqueuer := jobqueue.NewEnqueuer(queue, model.RetryConfig{
		MaxRetries:        *dagRetries,
		InitialDelay:      config.DefaultInitialDelay,
		MaxDelay:          config.DefaultMaxDelay,
		BackoffMultiplier: config.DefaultBackoffMultiplier,
		UseJitter:         true,
	})

	bus := configresolver.NewEventBus(config.ConfigEventCoalesceWindow)
	group.Go(func() error {
		bus.Run(ctx)
		return nil
	})

	configRepo := storage.NewMemoryConfigRepository()
	streamerLookup := storage.NewMemoryStreamerLookup()
	resolver := configresolver.NewResolver(configRepo, streamerLookup, *configTTL)
	resolver.Events = bus

	extractors := monitor.NewRegistry()
	filters := storage.NewMemoryFilterProvider()
	detector := monitor.NewDetector(extractors, filters, rate.Limit(*defaultProbeRate))
	detector.Credentials = storage.NewMemoryCredentialStore()
	probeRegistry := monitor.NewProbeRegistry(detector)

	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold:         config.DefaultFailureThreshold,
		SuccessThreshold:         config.DefaultSuccessThreshold,
		HalfOpenFailureThreshold: config.DefaultHalfOpenFailureThreshold,
		Cooldown:                 config.DefaultBreakerCooldown,
	})

	danmuRegistry := danmu.NewRegistry()
	danmuService := danmu.NewService(danmuRegistry)

	orch := &session.Orchestrator{
		Engines: map[model.EngineType]engine.DownloadEngine{
			model.EngineFFmpeg:     ffmpeg.New(),
			model.EngineStreamlink: streamlink.New(),
			model.EngineNative:     native.New(),
		},
		Breakers: breakers,
		Sessions: sessionRepo,
		Danmu:    danmuService,
		Jobs:     enqueuer,
	}

	supervisor := scheduler.NewSupervisor(ctx, orch, probeRegistry)

	glog.Infof("recorder started: registering streamers, extractors, and danmu protocols is left to the embedding deployment")

	group.Go(func() error {
		return handleSignals(ctx)
	})

	if err := group.Wait(); err != nil {
		glog.Errorf("recorder shutting down: %s", err)
	}
	if err := supervisor.Stop(); err != nil {
		glog.Errorf("error stopping supervisor: %s", err)
	}
	fmt.Println("recorder stopped")
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
