// Package backoff computes the retry window a failed job must wait out
// before the scheduler considers it again.
package backoff

import (
	"time"
)

// Default policy values
const (
	DefaultBase = 5 * time.Second
	DefaultMax  = 10 * time.Minute
)

// Policy is an exponential window keyed by the job's attempt count.
// Window(n) = min(Base * 2^n, Max).
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// NewPolicy creates a policy, falling back to defaults for non-positive values
func NewPolicy(base, maxWindow time.Duration) Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if maxWindow <= 0 {
		maxWindow = DefaultMax
	}
	return Policy{Base: base, Max: maxWindow}
}

// Window returns how long after its last attempt a job with the given
// attempt count stays ineligible. Zero attempts yields Base.
func (p Policy) Window(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if p.Base <= 0 {
		return 0
	}

	d := p.Base
	for i := 0; i < attempts; i++ {
		d *= 2
		// doubling past Max or overflowing both end at the cap
		if (p.Max > 0 && d >= p.Max) || d <= 0 {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Eligible reports whether a job last attempted at lastAttempt may run at now
func (p Policy) Eligible(attempts int, lastAttempt *time.Time, now time.Time) bool {
	if lastAttempt == nil {
		return true
	}
	return !now.Before(lastAttempt.Add(p.Window(attempts)))
}
