package streaming

import "time"

// Retry defaults
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultCapDelay    = 10 * time.Second
)

// RetryPolicy decides whether and when to retry a failed attempt
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration
}

// DefaultRetryPolicy returns the default policy: 3 attempts, 1s base, 10s cap
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		CapDelay:    DefaultCapDelay,
	}
}

// NextDelay returns min(base * 2^attempt, cap)
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.CapDelay; i++ {
		delay *= 2
	}
	if delay > p.CapDelay {
		delay = p.CapDelay
	}
	return delay
}

// IsRetryable reports whether a failure of this kind is worth another attempt
func (p RetryPolicy) IsRetryable(kind ErrorKind) bool {
	switch kind {
	case KindNetwork, KindAbort, KindStallTimeout:
		return true
	default:
		return false
	}
}

// ShouldRetry reports whether the budget has attempts left
func (p RetryPolicy) ShouldRetry(b Budget) bool {
	return b.Attempt < b.MaxAttempts
}

// NewBudget returns a fresh budget for this policy
func (p RetryPolicy) NewBudget() Budget {
	return Budget{MaxAttempts: p.MaxAttempts}
}

// Budget counts consecutive failed attempts. It never resets itself; the
// controller resets it on Connected, Play and Stop.
type Budget struct {
	Attempt     int
	MaxAttempts int
}
