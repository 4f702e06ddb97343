package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-resilience/resilience/log"
)

// breaker is the mutex-protected state machine behind the Breaker interface.
//
// The guarded operation runs outside the lock; admission (beforeCall) and
// bookkeeping (afterCall) each run under it. A generation counter ties every
// admitted call to the state it was admitted under, so results of calls that
// straddle a state transition are discarded instead of corrupting the counts.
type breaker struct {
	mu     sync.Mutex
	cfg    Config
	logger log.Logger

	state        State
	failures     uint32
	lastFailure  time.Time
	resetTimeout time.Duration
	generation   uint64

	// trialInFlight is true while the single half-open trial is running.
	// Concurrent callers arriving in that window are rejected, which keeps
	// the recovery probe to exactly one call per window.
	trialInFlight bool

	// now is the clock source, overridable in tests.
	now func() time.Time
}

var _ Breaker = (*breaker)(nil)

func (b *breaker) Execute(ctx context.Context, op func() error) error {
	if op == nil {
		return ErrNilOperation
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	generation, err := b.beforeCall(ctx)
	if err != nil {
		return err
	}

	// A panicking operation counts as a failure; without this a half-open
	// trial that panics would leave trialInFlight set and wedge the breaker.
	defer func() {
		if r := recover(); r != nil {
			b.afterCall(ctx, generation, fmt.Errorf("panic: %v", r))

			panic(r)
		}
	}()

	opErr := op()

	b.afterCall(ctx, generation, opErr)

	return opErr
}

func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

func (b *breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Counts{
		Failures:            b.failures,
		CurrentResetTimeout: b.resetTimeout,
	}
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reset(context.Background())
}

// beforeCall decides whether the call is admitted and returns the generation
// it was admitted under.
func (b *breaker) beforeCall(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			b.logger.Log(ctx, log.LevelWarn, "circuit is open, call rejected",
				log.Duration("reset_timeout", b.resetTimeout))

			return 0, ErrOpenState
		}

		// Reset timeout elapsed: admit exactly one recovery trial.
		b.transition(ctx, StateHalfOpen)
		b.trialInFlight = true

		return b.generation, nil

	case StateHalfOpen:
		if b.trialInFlight {
			b.logger.Log(ctx, log.LevelWarn, "recovery trial in flight, call rejected")

			return 0, ErrOpenState
		}

		b.trialInFlight = true

		return b.generation, nil

	default:
		return b.generation, nil
	}
}

// afterCall records the outcome of an admitted call. Outcomes from calls
// admitted under an older generation are dropped.
func (b *breaker) afterCall(ctx context.Context, generation uint64, opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation {
		return
	}

	if opErr != nil {
		b.recordFailure(ctx, opErr)

		return
	}

	// Success in the closed state needs no bookkeeping; the failure counter
	// is only cleared by a full reset out of half-open.
	if b.state != StateClosed {
		b.reset(ctx)
	}
}

func (b *breaker) recordFailure(ctx context.Context, opErr error) {
	b.failures++
	b.lastFailure = b.now()

	b.logger.Log(ctx, log.LevelError, "failure recorded",
		log.Err(opErr),
		log.Int("failure_count", int(b.failures)))

	if b.failures < b.cfg.FailureThreshold {
		return
	}

	b.trip(ctx)
}

// trip opens the circuit and grows the reset timeout exponentially, capped at
// MaxResetTimeout.
func (b *breaker) trip(ctx context.Context) {
	b.transition(ctx, StateOpen)

	next := time.Duration(float64(b.resetTimeout) * b.cfg.BackoffFactor)
	if next > b.cfg.MaxResetTimeout || next <= 0 {
		next = b.cfg.MaxResetTimeout
	}

	b.resetTimeout = next

	b.logger.Log(ctx, log.LevelError, "circuit opened",
		log.Int("failure_count", int(b.failures)),
		log.Duration("next_reset_timeout", b.resetTimeout))
}

// reset restores the breaker to its initial closed state. Caller must hold the lock.
func (b *breaker) reset(ctx context.Context) {
	b.failures = 0
	b.lastFailure = time.Time{}
	b.resetTimeout = b.cfg.ResetTimeout
	b.transition(ctx, StateClosed)

	b.logger.Log(ctx, log.LevelInfo, "circuit reset to closed state")
}

// transition moves the state machine, bumps the generation, and clears the
// trial flag. Caller must hold the lock.
func (b *breaker) transition(ctx context.Context, to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	b.generation++
	b.trialInFlight = false

	b.logger.Log(ctx, log.LevelInfo, "circuit state changed",
		log.String("from", string(from)),
		log.String("to", string(to)))
}
