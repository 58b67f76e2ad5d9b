package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Policy.
type Config struct {
	Retry            RetryConfig
	BreakerThreshold int
	BreakerCooldown  time.Duration
	RatePerSecond    float64 // <= 0 disables rate limiting
	RateBurst        int
}

// DefaultConfig returns the policy settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Retry:            DefaultRetryConfig(),
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
		RatePerSecond:    10,
		RateBurst:        20,
	}
}

// Policy guards calls to one provider: every attempt waits for the rate
// limiter and passes the circuit breaker; transient failures are retried.
type Policy struct {
	limiter *rate.Limiter
	breaker *CircuitBreaker
	retry   RetryConfig
}

// NewPolicy creates a Policy from cfg.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{
		breaker: NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		retry:   cfg.Retry,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return p
}

// Breaker exposes the circuit breaker so callers can observe its state.
func (p *Policy) Breaker() *CircuitBreaker {
	return p.breaker
}

// Do runs fn under the policy.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return Retry(ctx, p.retry, func(ctx context.Context) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := p.breaker.Allow(); err != nil {
			return err
		}
		if err := fn(ctx); err != nil {
			// Permanent errors such as bad input say nothing about provider health.
			if ShouldRetry(err) {
				p.breaker.Failure()
			} else {
				p.breaker.Success()
			}
			return err
		}
		p.breaker.Success()
		return nil
	})
}
