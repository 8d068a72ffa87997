// Package breaker implements the per-EngineKey circuit breaker that
// protects the download engines from hammering a source that's
// persistently failing.
package breaker

import (
	"sync"
	"time"

	"github.com/streamrec/core/model"
)

// State is one of the three circuit-breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a single breaker instance.
type Config struct {
	FailureThreshold         int
	SuccessThreshold         int
	HalfOpenFailureThreshold int
	Cooldown                 time.Duration
}

// Breaker is one engine key's circuit breaker. Safe for concurrent use.
type Breaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	consecutiveFails int
	consecutiveOK    int
	openedAt         time.Time
}

func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// Allow reports whether a call may proceed. Open transitions
// automatically to HalfOpen once Cooldown has elapsed since it opened.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.Cooldown {
		b.state = HalfOpen
		b.consecutiveOK = 0
		b.consecutiveFails = 0
	}
	return b.state != Open
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.consecutiveOK++
		if b.consecutiveOK >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveOK = 0
			b.consecutiveFails = 0
		}
	case Closed:
		b.consecutiveFails = 0
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.open()
		}
	case HalfOpen:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.HalfOpenFailureThreshold {
			b.open()
		}
	}
}

func (b *Breaker) open() {
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFails = 0
	b.consecutiveOK = 0
}

// Manager keys breakers by model.EngineKey so a custom engine config's
// breaker is isolated from the global default instance's fate.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	breakers map[model.EngineKey]*Breaker
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[model.EngineKey]*Breaker)}
}

func (m *Manager) Get(key model.EngineKey) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[key]
	if !ok {
		b = New(m.cfg)
		m.breakers[key] = b
	}
	return b
}
