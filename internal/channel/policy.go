package channel

import "time"

const (
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 5
)

// ReconnectPolicy computes capped exponential reconnect delays.
type ReconnectPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy returns the 1s base, 30s cap, 5 attempt policy.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Base:        defaultBaseDelay,
		Max:         defaultMaxDelay,
		MaxAttempts: defaultMaxAttempts,
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.Base <= 0 {
		p.Base = defaultBaseDelay
	}
	if p.Max <= 0 {
		p.Max = defaultMaxDelay
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	return p
}

// Backoff returns min(Base*2^attempt, Max) for a zero-based attempt.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.Base
	for i := 0; i < attempt; i++ {
		if delay >= p.Max {
			return p.Max
		}
		delay *= 2
	}
	if delay > p.Max {
		return p.Max
	}
	return delay
}

// Allow reports whether another reconnect may be scheduled after attempts
// have already been scheduled.
func (p ReconnectPolicy) Allow(attempts int) bool {
	return attempts < p.MaxAttempts
}
