package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streamrec/core/engine"
	"github.com/streamrec/core/engine/breaker"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/session"
)

type fakeProber struct {
	results []model.LiveStatus
	errs    []error
	calls   int32
}

func (f *fakeProber) Probe(ctx context.Context, meta model.StreamerMetadata, cfg model.MergedConfig) (model.LiveStatus, error) {
	i := int(atomic.AddInt32(&f.calls, 1)) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return model.LiveStatus{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return model.LiveStatus{Kind: model.LiveStatusOffline}, nil
}

type fakeBatchProber struct {
	mu    sync.Mutex
	calls [][]BatchProbeItem
}

func (f *fakeBatchProber) ProbeBatch(ctx context.Context, items []BatchProbeItem) map[string]BatchProbeResult {
	f.mu.Lock()
	f.calls = append(f.calls, items)
	f.mu.Unlock()
	out := make(map[string]BatchProbeResult, len(items))
	for _, it := range items {
		out[it.StreamerID] = BatchProbeResult{Status: model.LiveStatus{Kind: model.LiveStatusOffline}}
	}
	return out
}

type fakeSchedEngine struct {
	typ       model.EngineType
	startFunc func(ctx context.Context, h *engine.DownloadHandle) error
}

func (f *fakeSchedEngine) EngineType() model.EngineType { return f.typ }
func (f *fakeSchedEngine) IsAvailable() bool            { return true }
func (f *fakeSchedEngine) Version() (string, bool)      { return "fake", true }
func (f *fakeSchedEngine) Stop(ctx context.Context, h *engine.DownloadHandle) error { return nil }
func (f *fakeSchedEngine) Start(ctx context.Context, h *engine.DownloadHandle) error {
	return f.startFunc(ctx, h)
}

type fakeRegistry struct {
	batch map[string]BatchProber
	plain map[string]Prober
}

func (r *fakeRegistry) ProberFor(platform string) (Prober, bool) {
	p, ok := r.plain[platform]
	return p, ok
}

func (r *fakeRegistry) BatchProberFor(platform string) (BatchProber, bool) {
	p, ok := r.batch[platform]
	return p, ok
}

func TestDueForScheduling(t *testing.T) {
	now := time.Now()
	a := &StreamerActor{state: StreamerActorState{StreamerState: model.StateNotLive, NextCheck: now.Add(-time.Second)}}
	if !a.dueFor(now) {
		t.Fatal("expected due when NextCheck has passed")
	}

	a.state.StreamerState = model.StateLive
	if a.dueFor(now) {
		t.Fatal("live streamers must never be directly probed")
	}

	a.state.StreamerState = model.StateFatalError
	if a.dueFor(now) {
		t.Fatal("fatal states must stop scheduling")
	}

	a.state.StreamerState = model.StateNotLive
	a.Meta.DisabledUntil = now.Add(time.Minute)
	if a.dueFor(now) {
		t.Fatal("disabled_until in the future must block probing")
	}
}

func TestScheduleAfterOfflineFastRedetectThenSteady(t *testing.T) {
	cfg := model.MergedConfig{CheckIntervalSecs: 120, OfflineCheckIntervalSecs: 15, OfflineCheckCount: 3}
	a := &StreamerActor{cfg: cfg}
	now := time.Now()
	a.state.WasLive = true

	a.scheduleAfterOffline(now)
	if a.state.OfflineCount != 1 || !a.state.WasLive {
		t.Fatalf("expected fast redetect after first offline probe, got %+v", a.state)
	}
	if want := now.Add(15 * time.Second); !a.state.NextCheck.Equal(want) {
		t.Fatalf("expected NextCheck %v, got %v", want, a.state.NextCheck)
	}

	a.scheduleAfterOffline(now)
	a.scheduleAfterOffline(now)
	if a.state.WasLive {
		t.Fatal("expected was_live to reset after offline_check_count consecutive offline probes")
	}
	if want := now.Add(120 * time.Second); !a.state.NextCheck.Equal(want) {
		t.Fatalf("expected steady-state NextCheck %v, got %v", want, a.state.NextCheck)
	}
}

func TestOnProbeResultTransitions(t *testing.T) {
	cfg := model.MergedConfig{
		CheckIntervalSecs: 60,
		RetryPolicy:       model.RetryConfig{InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2},
	}
	a := &StreamerActor{cfg: cfg, Meta: model.StreamerMetadata{ID: "s1"}}
	ctx := context.Background()

	a.onProbeResult(ctx, model.LiveStatus{}, fmt.Errorf("boom"))
	if a.state.StreamerState != model.StateError || a.state.ErrorCount != 1 {
		t.Fatalf("expected StateError with error_count 1, got %+v", a.state)
	}

	a.onProbeResult(ctx, model.LiveStatus{Kind: model.LiveStatusNotFound}, nil)
	if a.state.StreamerState != model.StateNotFound || a.state.ErrorCount != 0 {
		t.Fatalf("expected StateNotFound and error count reset, got %+v", a.state)
	}

	a.state.StreamerState = model.StateNotLive
	a.onProbeResult(ctx, model.LiveStatus{Kind: model.LiveStatusBanned}, nil)
	if a.state.StreamerState != model.StateFatalError {
		t.Fatalf("expected a fatal LiveStatusKind to map to StateFatalError, got %v", a.state.StreamerState)
	}

	a.state.StreamerState = model.StateNotLive
	next := time.Now().Add(time.Hour)
	a.onProbeResult(ctx, model.LiveStatus{Kind: model.LiveStatusFiltered, NextMatchTime: next}, nil)
	if a.state.StreamerState != model.StateOutOfSchedule || !a.state.NextCheck.Equal(next) {
		t.Fatalf("expected StateOutOfSchedule honoring NextMatchTime, got %+v", a.state)
	}
}

func TestLiveProbeStartsSessionAndReArmsOnDownloadEnded(t *testing.T) {
	prober := &fakeProber{results: []model.LiveStatus{
		{Kind: model.LiveStatusLive, Resolved: model.StreamInfo{URL: "https://example.invalid/live.flv"}},
	}}
	eng := &fakeSchedEngine{typ: model.EngineFFmpeg, startFunc: func(ctx context.Context, h *engine.DownloadHandle) error {
		defer close(h.Events)
		h.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: engine.FailureSourceUnavailable}
		return fmt.Errorf("stream ended")
	}}
	orch := &session.Orchestrator{
		Engines:  map[model.EngineType]engine.DownloadEngine{model.EngineFFmpeg: eng},
		Breakers: breaker.NewManager(breaker.Config{FailureThreshold: 5, SuccessThreshold: 1, HalfOpenFailureThreshold: 1, Cooldown: time.Second}),
	}
	cfg := model.MergedConfig{
		Engine:                   model.EngineFFmpeg,
		ChannelSize:              4,
		CheckIntervalSecs:        120,
		OfflineCheckIntervalSecs: 15,
		OfflineCheckCount:        3,
		RetryPolicy:              model.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1},
	}
	a := NewStreamerActor(model.StreamerMetadata{ID: "s1", PlatformID: "p1"}, cfg, orch)
	a.Prober = prober

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.CheckStatus()

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := a.GetState(context.Background())
		if err != nil {
			t.Fatalf("GetState: %v", err)
		}
		if st.StreamerState == model.StateNotLive && st.WasLive {
			if st.NextCheck.After(time.Now()) {
				t.Fatalf("expected NextCheck to be immediately due after DownloadEnded, got %+v", st)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for re-arm after DownloadEnded, last state %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPlatformActorFlushesAtMaxBatchSize(t *testing.T) {
	prober := &fakeBatchProber{}
	pa := NewPlatformActor("twitch", prober, model.MergedConfig{BatchWindow: time.Hour, MaxBatchSize: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pa.Run(ctx)

	reply := make(chan streamerMessage, 2)
	pa.requestCheck("s1", model.StreamerMetadata{ID: "s1"}, model.MergedConfig{}, reply)
	pa.requestCheck("s2", model.StreamerMetadata{ID: "s2"}, model.MergedConfig{}, reply)

	for i := 0; i < 2; i++ {
		select {
		case msg := <-reply:
			if msg.kind != msgBatchResult {
				t.Fatalf("expected msgBatchResult, got %v", msg.kind)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for batch result after reaching max batch size")
		}
	}

	prober.mu.Lock()
	defer prober.mu.Unlock()
	if len(prober.calls) != 1 || len(prober.calls[0]) != 2 {
		t.Fatalf("expected one batched call of size 2, got %+v", prober.calls)
	}
}

func TestPlatformActorFlushesOnWindowElapsed(t *testing.T) {
	prober := &fakeBatchProber{}
	pa := NewPlatformActor("twitch", prober, model.MergedConfig{BatchWindow: 20 * time.Millisecond, MaxBatchSize: 50})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pa.Run(ctx)

	reply := make(chan streamerMessage, 1)
	pa.requestCheck("s1", model.StreamerMetadata{ID: "s1"}, model.MergedConfig{}, reply)

	select {
	case msg := <-reply:
		if msg.kind != msgBatchResult {
			t.Fatalf("expected msgBatchResult, got %v", msg.kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for window-triggered flush")
	}
}

func TestSupervisorSpawnRemoveLifecycle(t *testing.T) {
	prober := &fakeProber{}
	registry := &fakeRegistry{plain: map[string]Prober{"p1": prober}}
	orch := &session.Orchestrator{
		Breakers: breaker.NewManager(breaker.Config{FailureThreshold: 5, SuccessThreshold: 1, HalfOpenFailureThreshold: 1, Cooldown: time.Second}),
	}

	sup := NewSupervisor(context.Background(), orch, registry)
	events := sup.SubscribeEvents()

	meta := model.StreamerMetadata{ID: "s1", PlatformID: "p1"}
	cfg := model.MergedConfig{CheckIntervalSecs: 120}
	if err := sup.SpawnStreamer(meta, cfg); err != nil {
		t.Fatalf("SpawnStreamer: %v", err)
	}
	if err := sup.SpawnStreamer(meta, cfg); err == nil {
		t.Fatal("expected an error spawning a second actor for the same streamer")
	}
	if got := sup.ActiveTaskCount(); got != 1 {
		t.Fatalf("expected 1 active task, got %d", got)
	}

	select {
	case ev := <-events:
		if ev.Kind != EventSpawned || ev.StreamerID != "s1" {
			t.Fatalf("expected a spawn event for s1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the spawn event")
	}

	if err := sup.RemoveStreamer("s1"); err != nil {
		t.Fatalf("RemoveStreamer: %v", err)
	}
	if got := sup.ActiveTaskCount(); got != 0 {
		t.Fatalf("expected 0 active tasks after removal, got %d", got)
	}

	select {
	case ev := <-events:
		if ev.Kind != EventRemoved || ev.StreamerID != "s1" {
			t.Fatalf("expected a removed event for s1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the removed event")
	}

	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
