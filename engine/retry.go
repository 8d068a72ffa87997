package engine

import (
	"math/rand"
	"time"

	"github.com/streamrec/core/model"
)

// DelayForAttempt computes the backoff delay before retry attempt n
// (1-indexed): min(max_delay, initial * multiplier^(n-1)), plus up to 25%
// jitter if the policy enables it.
func DelayForAttempt(cfg model.RetryConfig, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(cfg.InitialDelay)
	for i := 1; i < n; i++ {
		delay *= cfg.BackoffMultiplier
		if time.Duration(delay) >= cfg.MaxDelay {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.UseJitter {
		jitter := delay * 0.25 * rand.Float64()
		delay += jitter
	}
	return time.Duration(delay)
}
