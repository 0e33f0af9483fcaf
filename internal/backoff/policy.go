// Package backoff provides exponential backoff with jitter for retrying
// transient failures, chiefly LLM requests inside an agent turn.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// Compute calculates the backoff duration for a given attempt number.
// Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided random
// value in [0.0, 1.0). Useful for deterministic tests.
//
// base = InitialMs * Factor^(attempt-1); the result is
// min(MaxMs, base + base*Jitter*randomValue), rounded to milliseconds.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy returns a general-purpose policy.
// Initial: 100ms, Max: 30s, Factor: 2, Jitter: 10%
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 100,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// LLMPolicy returns the policy used for model request retries. Additive
// jitter spreads each sleep uniformly over [base, 2*base], which keeps
// concurrent sessions from retrying in lockstep after a shared provider
// hiccup.
// Initial: 500ms, Max: 10s, Factor: 2, Jitter: 100%
func LLMPolicy() Policy {
	return Policy{
		InitialMs: 500,
		MaxMs:     10000,
		Factor:    2,
		Jitter:    1.0,
	}
}
