// Package resilience gathers the cross-cutting protection primitives
// shared by the engines and the monitor: the circuit breaker lives in
// engine/breaker (it's engine-key scoped, so it stays next to the
// engines it guards) and the retry backoff calculator lives in
// package engine (retry.go); this package adds the one piece that belongs to
// neither: the consumer-side credential refresh contact point a probe
// needs before it can hit an authenticated platform.
package resilience

import (
	"context"
	"time"
)

// Credentials is the cookie/header material a platform probe or
// engine start needs. ExpiresAt is the zero time when the store has
// no expiry information for this platform.
type Credentials struct {
	Cookies   map[string]string
	Headers   map[string]string
	ExpiresAt time.Time
}

// Expired reports whether c is stale as of now. Credentials with a
// zero ExpiresAt are treated as never expiring.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now)
}

// CredentialStore is the consumer-side refresh contact point: it does
// not implement the refresh state machine (that's an external
// collaborator, same as ConfigRepository/StreamerRepository), but a
// probe must be able to ask for the current credentials and trigger a
// refresh when they're stale.
type CredentialStore interface {
	// Get returns the current credentials for platformID; ok is false
	// if the platform needs no credentials or none have been issued yet.
	Get(ctx context.Context, platformID string) (Credentials, bool, error)
	// Refresh asks the external refresh mechanism to rotate
	// platformID's credentials. Best-effort from the caller's
	// perspective: a failed refresh just means the next probe tries
	// again with whatever credentials Get still returns.
	Refresh(ctx context.Context, platformID string) error
}
