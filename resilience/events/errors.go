package events

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for constructor and registry misuse.
var (
	// ErrNoGenerator is returned (wrapped in *PublishError) when a publish
	// names an event type with no registered generator.
	ErrNoGenerator = errors.New("events: no generator registered for event type")

	// ErrBrokerRequired is returned by constructors given a nil broker.
	ErrBrokerRequired = errors.New("events: broker is required")

	// ErrBreakerRequired is returned by constructors given a nil circuit breaker.
	ErrBreakerRequired = errors.New("events: circuit breaker is required")
)

// PublishError reports a failed publish or producer startup, carrying the
// event type and routing context alongside the root cause. The root cause is
// reachable through errors.Is/As: breaker rejections, generator failures, and
// transport failures all stay distinguishable.
type PublishError struct {
	EventType   string
	RoutingKey  string
	RoutingKeys []string
	Err         error
}

func (e *PublishError) Error() string {
	var ctxParts []string

	if e.EventType != "" {
		ctxParts = append(ctxParts, "event_type="+e.EventType)
	}

	if e.RoutingKey != "" {
		ctxParts = append(ctxParts, "routing_key="+e.RoutingKey)
	}

	if len(e.RoutingKeys) > 0 {
		ctxParts = append(ctxParts, "routing_keys="+strings.Join(e.RoutingKeys, ","))
	}

	if len(ctxParts) == 0 {
		return fmt.Sprintf("failed to publish event: %v", e.Err)
	}

	return fmt.Sprintf("failed to publish event (%s): %v", strings.Join(ctxParts, ", "), e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// EventHandlingError reports a subscriber startup or consume failure.
type EventHandlingError struct {
	Queue       string
	RoutingKeys []string
	Err         error
}

func (e *EventHandlingError) Error() string {
	return fmt.Sprintf("failed to handle events (queue=%s, routing_keys=%s): %v",
		e.Queue, strings.Join(e.RoutingKeys, ","), e.Err)
}

func (e *EventHandlingError) Unwrap() error {
	return e.Err
}
