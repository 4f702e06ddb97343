package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/LerianStudio/lib-resilience/resilience/internal/nilcheck"
	"github.com/LerianStudio/lib-resilience/resilience/log"
)

// State represents circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Errors returned by the breaker itself, as opposed to errors propagated from
// the guarded operation. Callers discriminate with errors.Is.
var (
	// ErrOpenState is returned when the breaker rejects a call without
	// attempting the guarded operation.
	ErrOpenState = errors.New("circuitbreaker: circuit breaker is open")

	// ErrNilOperation is returned when Execute is called with a nil operation.
	ErrNilOperation = errors.New("circuitbreaker: operation is nil")

	// ErrInvalidConfig is returned by New for out-of-range configuration.
	ErrInvalidConfig = errors.New("circuitbreaker: invalid configuration")
)

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of recorded failures that trips the
	// breaker open.
	FailureThreshold uint32

	// ResetTimeout is the initial wait after tripping before a recovery
	// trial is allowed.
	ResetTimeout time.Duration

	// MaxResetTimeout caps the growth of the reset timeout.
	MaxResetTimeout time.Duration

	// BackoffFactor multiplies the current reset timeout on every trip.
	// Must be >= 1.0.
	BackoffFactor float64
}

// DefaultConfig provides balanced settings for most guarded resources.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		MaxResetTimeout:  5 * time.Minute,
		BackoffFactor:    1.5,
	}
}

func (c Config) validate() error {
	if c.FailureThreshold == 0 {
		return errors.Join(ErrInvalidConfig, errors.New("failure threshold must be positive"))
	}

	if c.ResetTimeout <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("reset timeout must be positive"))
	}

	if c.MaxResetTimeout < c.ResetTimeout {
		return errors.Join(ErrInvalidConfig, errors.New("max reset timeout must be >= reset timeout"))
	}

	if c.BackoffFactor < 1.0 {
		return errors.Join(ErrInvalidConfig, errors.New("backoff factor must be >= 1.0"))
	}

	return nil
}

// Counts is a snapshot of the breaker's failure bookkeeping.
type Counts struct {
	// Failures is the number of failures recorded since the last full reset.
	Failures uint32

	// CurrentResetTimeout is the wait currently required before a recovery
	// trial; it grows by BackoffFactor on every trip, capped at
	// MaxResetTimeout.
	CurrentResetTimeout time.Duration
}

// Breaker guards calls against a single failing resource.
//
// The breaker is resource-agnostic: it sees the guarded operation only as a
// function returning an error, and never inspects its semantics beyond
// success or failure.
type Breaker interface {
	// Execute runs op under breaker protection. It returns ErrOpenState when
	// the breaker rejects the call without attempting op, and the operation's
	// own error otherwise. The breaker never swallows operation errors.
	Execute(ctx context.Context, op func() error) error

	// State returns the current breaker state.
	State() State

	// Counts returns a snapshot of the breaker's bookkeeping.
	Counts() Counts

	// Reset forces the breaker back to the closed state. Intended for
	// operational recovery, not for normal control flow.
	Reset()
}

// Option configures a breaker created by New.
type Option func(*options)

type options struct {
	logger log.Logger
}

// WithLogger sets a structured logger for state transition events.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if !nilcheck.IsNil(logger) {
			o.logger = logger
		}
	}
}

// New creates a circuit breaker with the given configuration.
//
//nolint:ireturn
func New(cfg Config, opts ...Option) (Breaker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: log.NewNop()}
	for _, o := range opts {
		o(&opt)
	}

	return &breaker{
		cfg:          cfg,
		logger:       opt.logger.With(log.String("component", "circuitbreaker")),
		state:        StateClosed,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
	}, nil
}
