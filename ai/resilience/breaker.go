package resilience

import (
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
// The numeric values are exported as a gauge.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after Threshold consecutive failures and rejects
// calls until Cooldown has passed. Then a single probe is let through:
// success closes the breaker, failure opens it again.
type CircuitBreaker struct {
	now       func() time.Time
	onChange  func(BreakerState)
	openedAt  time.Time
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	state     BreakerState
	probing   bool
}

// NewCircuitBreaker creates a closed breaker. A threshold <= 0 disables it.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnStateChange registers a callback invoked on every transition.
func (b *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// State returns the current state, moving open to half-open once the cooldown elapsed.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Allow reports whether a call may proceed. Callers that were allowed must
// report the outcome with Success or Failure.
func (b *CircuitBreaker) Allow() error {
	if b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case BreakerOpen:
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *CircuitBreaker) Success() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.setState(BreakerClosed)
}

func (b *CircuitBreaker) Failure() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.probing = false
		b.openedAt = b.now()
		b.setState(BreakerOpen)
	}
}

// advance must be called with mu held.
func (b *CircuitBreaker) advance() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.setState(BreakerHalfOpen)
	}
}

// setState must be called with mu held.
func (b *CircuitBreaker) setState(state BreakerState) {
	if b.state == state {
		return
	}
	b.state = state
	if b.onChange != nil {
		b.onChange(state)
	}
}
