package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-resilience/resilience/circuitbreaker"
	"github.com/LerianStudio/lib-resilience/resilience/internal/nilcheck"
	"github.com/LerianStudio/lib-resilience/resilience/log"
)

// Subscriber consumes events from a queue and routes them to registered
// handlers, deciding per message whether to acknowledge, requeue, or drop.
//
// Outbound calls to the broker (the connect in Start) run through the circuit
// breaker; inbound message handling does not, since the breaker protects the
// broker, not the handlers.
type Subscriber struct {
	broker  Broker
	breaker circuitbreaker.Breaker
	logger  log.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewSubscriber creates an event subscriber.
func NewSubscriber(broker Broker, breaker circuitbreaker.Breaker, opts ...Option) (*Subscriber, error) {
	if nilcheck.IsNil(broker) {
		return nil, ErrBrokerRequired
	}

	if nilcheck.IsNil(breaker) {
		return nil, ErrBreakerRequired
	}

	opt := options{logger: log.NewNop()}
	for _, o := range opts {
		o(&opt)
	}

	return &Subscriber{
		broker:   broker,
		breaker:  breaker,
		logger:   opt.logger.With(log.String("component", "event_subscriber")),
		handlers: make(map[string]Handler),
	}, nil
}

// RegisterHandler registers a handler for an event type, replacing any
// existing one.
func (s *Subscriber) RegisterHandler(eventType string, handler Handler) {
	s.mu.Lock()
	s.handlers[eventType] = handler
	s.mu.Unlock()

	s.logger.Log(context.Background(), log.LevelInfo, "registered event handler",
		log.String("event_type", eventType))
}

// Start connects through the circuit breaker and consumes from queueName
// bound to the routing keys. It blocks until the context is cancelled (which
// returns nil) or the transport fails (which returns *EventHandlingError).
func (s *Subscriber) Start(ctx context.Context, queueName string, routingKeys []string) error {
	err := s.breaker.Execute(ctx, func() error {
		return s.broker.Connect(ctx)
	})
	if err != nil {
		return s.startFailed(ctx, queueName, routingKeys, err)
	}

	err = s.broker.Consume(ctx, queueName, routingKeys, s.processMessage)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return s.startFailed(ctx, queueName, routingKeys, err)
	}

	return nil
}

func (s *Subscriber) startFailed(ctx context.Context, queueName string, routingKeys []string, err error) error {
	s.logger.Log(ctx, log.LevelError, "error starting event subscriber",
		log.Err(err),
		log.String("queue_name", queueName),
		log.Strings("routing_keys", routingKeys))

	return &EventHandlingError{Queue: queueName, RoutingKeys: routingKeys, Err: err}
}

// processMessage is the per-message callback handed to the broker.
func (s *Subscriber) processMessage(ctx context.Context, delivery Delivery) {
	outcome := s.dispatch(ctx, delivery.Body())
	s.settle(ctx, delivery, outcome)
}

// dispatch parses the payload, routes it to the registered handler, and
// returns the outcome for the message. It never touches the transport.
func (s *Subscriber) dispatch(ctx context.Context, body []byte) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Log(ctx, log.LevelError, "unexpected error processing message",
				log.Err(fmt.Errorf("panic: %v", r)))

			outcome = OutcomeFatal
		}
	}()

	event, err := ParseEvent(body)
	if err != nil {
		s.logger.Log(ctx, log.LevelError, "received malformed message", log.Err(err))

		return OutcomeDiscarded
	}

	eventType := event.Type()

	s.mu.RLock()
	handler := s.handlers[eventType]
	s.mu.RUnlock()

	if handler == nil {
		s.logger.Log(ctx, log.LevelWarn, "no handler for event type",
			log.String("event_type", eventType))

		return OutcomeDiscarded
	}

	if err := handler.Handle(ctx, event); err != nil {
		s.logger.Log(ctx, log.LevelError, "handler error for event type",
			log.String("event_type", eventType),
			log.Err(err))

		return OutcomeRetryable
	}

	return OutcomeProcessed
}

// settle translates an outcome into the corresponding acknowledgment.
func (s *Subscriber) settle(ctx context.Context, delivery Delivery, outcome Outcome) {
	var err error

	switch outcome {
	case OutcomeProcessed, OutcomeDiscarded:
		err = delivery.Ack()
	case OutcomeRetryable:
		err = delivery.Nack(true)
	case OutcomeFatal:
		err = delivery.Nack(false)
	}

	if err != nil {
		s.logger.Log(ctx, log.LevelError, "failed to settle message",
			log.String("outcome", outcome.String()),
			log.Err(err))
	}
}
