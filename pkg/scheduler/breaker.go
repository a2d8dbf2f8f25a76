package scheduler

import (
	"sync"
	"time"

	"github.com/xandeum/ingestor/pkg/wait"
)

// CircuitBreaker suspends ingestion cycle triggers after a run of
// consecutive cycle failures, per §4.8. It reuses pkg/wait's backoff
// strategy with a zero growth factor, which turns it into a fixed cooldown
// instead of an exponential one: every trip waits exactly `cooldown`.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold   int
	consecutive int
	tripped     bool
	backoff     *wait.BackoffStrategy
}

// NewCircuitBreaker creates a breaker that trips after threshold
// consecutive failures and holds for cooldown before allowing a retry.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		backoff:   wait.NewBackoff(cooldown, 0, cooldown),
	}
}

// Allow reports whether a new cycle may run. Once tripped, it stays closed
// until the cooldown window elapses.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		return true
	}
	return b.backoff.Active()
}

// RecordFailure increments the consecutive-failure count and trips the
// breaker once it reaches the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.tripped = true
		b.backoff.Backoff()
	}
}

// RecordSuccess clears the breaker entirely; any success resets the count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.tripped = false
	b.backoff.Reset()
}

// Failures reports the current consecutive-failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}
