// Package circuitbreaker implements a failure-counting circuit breaker with
// exponential backoff of the recovery window.
//
// The breaker trips open after FailureThreshold recorded failures. While open
// it rejects calls with ErrOpenState until the current reset timeout elapses,
// then admits exactly one recovery trial (half-open). A successful trial fully
// resets the breaker; a failed trial reopens it and multiplies the reset
// timeout by BackoffFactor, capped at MaxResetTimeout, so repeated trips back
// off instead of hammering a failing resource at a fixed interval.
package circuitbreaker
