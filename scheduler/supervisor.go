package scheduler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/session"
)

// ProbeRegistry resolves how one platform is probed: a direct Prober
// for platforms with no batch endpoint, or a BatchProber shared by
// every streamer on a batch-capable platform.
type ProbeRegistry interface {
	ProberFor(platform string) (Prober, bool)
	BatchProberFor(platform string) (BatchProber, bool)
}

// EventKind classifies a Supervisor lifecycle event.
type EventKind int

const (
	EventSpawned EventKind = iota
	EventRemoved
)

// Event is published to every subscriber on actor spawn/removal.
type Event struct {
	Kind       EventKind
	StreamerID string
	PlatformID string
}

type managedActor struct {
	actor  *StreamerActor
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the live task-set of StreamerActors and the
// per-platform PlatformActors they batch through. It is the single
// root of the cancellation token tree every actor (and, transitively,
// every live session it starts) is parented to: cancelling the
// Supervisor tears down every streamer and every in-flight download.
//
// Invariants: at most one StreamerActor per streamer, at most one
// PlatformActor per platform, and an actor crash never replays the
// message it crashed on — a removed streamer always restarts from
// fresh StreamerActorState.
type Supervisor struct {
	Orchestrator *session.Orchestrator
	Registry     ProbeRegistry

	root       context.Context
	cancelRoot context.CancelFunc

	mu        sync.Mutex
	actors    map[string]*managedActor
	platforms map[string]*managedPlatform
	subs      []chan Event
}

type managedPlatform struct {
	actor *PlatformActor
	done  chan struct{}
}

// NewSupervisor builds a Supervisor rooted at parent; cancelling parent
// (or calling Stop) tears down every actor it owns.
func NewSupervisor(parent context.Context, orch *session.Orchestrator, registry ProbeRegistry) *Supervisor {
	root, cancel := context.WithCancel(parent)
	return &Supervisor{
		Orchestrator: orch,
		Registry:     registry,
		root:         root,
		cancelRoot:   cancel,
		actors:       make(map[string]*managedActor),
		platforms:    make(map[string]*managedPlatform),
	}
}

// SpawnStreamer starts a new StreamerActor for meta, due for an
// immediate first probe. It is a no-op error if the streamer already
// has an actor.
func (s *Supervisor) SpawnStreamer(meta model.StreamerMetadata, cfg model.MergedConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actors[meta.ID]; exists {
		return fmt.Errorf("scheduler: streamer %s already has an actor", meta.ID)
	}

	a := NewStreamerActor(meta, cfg, s.Orchestrator)
	if bp, ok := s.Registry.BatchProberFor(meta.PlatformID); ok {
		a.BatchCapable = true
		a.Platform = s.platformActorLocked(meta.PlatformID, bp, cfg)
	} else if p, ok := s.Registry.ProberFor(meta.PlatformID); ok {
		a.Prober = p
	} else {
		return fmt.Errorf("scheduler: no prober registered for platform %q", meta.PlatformID)
	}

	actorCtx, cancel := context.WithCancel(s.root)
	done := make(chan struct{})
	s.actors[meta.ID] = &managedActor{actor: a, cancel: cancel, done: done}

	go func() {
		defer close(done)
		a.Run(actorCtx)
	}()

	s.publish(Event{Kind: EventSpawned, StreamerID: meta.ID, PlatformID: meta.PlatformID})
	return nil
}

// platformActorLocked returns the PlatformActor for platform, creating
// and starting it on first use. Caller must hold s.mu.
func (s *Supervisor) platformActorLocked(platform string, prober BatchProber, cfg model.MergedConfig) *PlatformActor {
	if mp, ok := s.platforms[platform]; ok {
		return mp.actor
	}
	pa := NewPlatformActor(platform, prober, cfg)
	ctx, cancel := context.WithCancel(s.root)
	done := make(chan struct{})
	s.platforms[platform] = &managedPlatform{actor: pa, done: done}
	go func() {
		defer close(done)
		defer cancel()
		pa.Run(ctx)
	}()
	return pa
}

// RemoveStreamer stops streamerID's actor and waits for its run loop to
// exit, so a subsequent SpawnStreamer for the same id never races a
// not-yet-torn-down predecessor.
func (s *Supervisor) RemoveStreamer(streamerID string) error {
	s.mu.Lock()
	m, ok := s.actors[streamerID]
	if ok {
		delete(s.actors, streamerID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("scheduler: no actor for streamer %s", streamerID)
	}
	m.cancel()
	<-m.done
	s.publish(Event{Kind: EventRemoved, StreamerID: streamerID})
	return nil
}

// ActiveTaskCount returns the number of streamers currently scheduled.
func (s *Supervisor) ActiveTaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors)
}

// SubscribeEvents returns a channel of lifecycle events; the caller
// should keep draining it promptly, since a full channel drops events
// rather than blocking the Supervisor.
func (s *Supervisor) SubscribeEvents() <-chan Event {
	ch := make(chan Event, 32)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Supervisor) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			log.LogNoRequestID("scheduler: dropping event, subscriber channel full", "streamer_id", ev.StreamerID)
		}
	}
}

// Stop tears down every streamer and platform actor concurrently and
// waits for them all to exit before returning.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	actors := make([]*managedActor, 0, len(s.actors))
	for id, m := range s.actors {
		actors = append(actors, m)
		delete(s.actors, id)
	}
	platforms := make([]*managedPlatform, 0, len(s.platforms))
	for id, p := range s.platforms {
		platforms = append(platforms, p)
		delete(s.platforms, id)
	}
	s.mu.Unlock()

	s.cancelRoot()

	g := new(errgroup.Group)
	for _, m := range actors {
		m := m
		g.Go(func() error {
			<-m.done
			return nil
		})
	}
	for _, p := range platforms {
		p := p
		g.Go(func() error {
			<-p.done
			return nil
		})
	}
	return g.Wait()
}
