package breaker

import (
	"testing"
	"time"

	"github.com/streamrec/core/model"
)

func testConfig() Config {
	return Config{
		FailureThreshold:         3,
		SuccessThreshold:         2,
		HalfOpenFailureThreshold: 1,
		Cooldown:                 20 * time.Millisecond,
	}
}

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("expected breaker to allow call %d before opening", i)
		}
		b.RecordFailure()
	}
	if b.State() != Open {
		t.Fatalf("expected breaker to be Open, got %v", b.State())
	}
	if b.Allow() {
		t.Fatal("expected Open breaker to reject calls")
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	if b.State() != Open {
		t.Fatalf("expected Open, got %v", b.State())
	}

	time.Sleep(cfg.Cooldown + 5*time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected breaker to allow a probe call after cooldown")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after cooldown, got %v", b.State())
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	time.Sleep(cfg.Cooldown + 5*time.Millisecond)
	b.Allow() // transitions to HalfOpen

	for i := 0; i < cfg.SuccessThreshold; i++ {
		b.RecordSuccess()
	}
	if b.State() != Closed {
		t.Fatalf("expected Closed after success_threshold successes, got %v", b.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	time.Sleep(cfg.Cooldown + 5*time.Millisecond)
	b.Allow() // -> HalfOpen

	b.RecordFailure() // HalfOpenFailureThreshold is 1
	if b.State() != Open {
		t.Fatalf("expected breaker to reopen after a half-open failure, got %v", b.State())
	}
}

func TestManagerIsolatesBreakersByEngineKey(t *testing.T) {
	m := NewManager(testConfig())
	k1 := model.EngineKey{EngineType: model.EngineFFmpeg, ConfigID: "a"}
	k2 := model.EngineKey{EngineType: model.EngineFFmpeg, ConfigID: "b"}

	b1 := m.Get(k1)
	for i := 0; i < testConfig().FailureThreshold; i++ {
		b1.Allow()
		b1.RecordFailure()
	}
	if b1.State() != Open {
		t.Fatalf("expected b1 to be Open, got %v", b1.State())
	}

	b2 := m.Get(k2)
	if b2.State() != Closed {
		t.Fatalf("expected b2 to be unaffected (Closed), got %v", b2.State())
	}
	if m.Get(k1) != b1 {
		t.Fatal("expected Get to return the same breaker instance for the same key")
	}
}
