package events

import (
	"context"
	"sync"

	"github.com/LerianStudio/lib-resilience/resilience/circuitbreaker"
	"github.com/LerianStudio/lib-resilience/resilience/internal/nilcheck"
	"github.com/LerianStudio/lib-resilience/resilience/log"
)

// Option configures a Producer or Subscriber.
type Option func(*options)

type options struct {
	logger log.Logger
}

// WithLogger sets a structured logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if !nilcheck.IsNil(logger) {
			o.logger = logger
		}
	}
}

// Producer publishes generated events through a circuit-breaker-guarded broker.
//
// Generators are registered per event type before Start; registration after
// Start is permitted and safe, but the registry is expected to be stable in
// the steady state.
type Producer struct {
	broker  Broker
	breaker circuitbreaker.Breaker
	logger  log.Logger

	mu         sync.RWMutex
	generators map[string]Generator
}

// NewProducer creates an event producer.
func NewProducer(broker Broker, breaker circuitbreaker.Breaker, opts ...Option) (*Producer, error) {
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

	return &Producer{
		broker:     broker,
		breaker:    breaker,
		logger:     opt.logger.With(log.String("component", "event_producer")),
		generators: make(map[string]Generator),
	}, nil
}

// RegisterGenerator registers a generator for an event type, replacing any
// existing one.
func (p *Producer) RegisterGenerator(eventType string, generator Generator) {
	p.mu.Lock()
	p.generators[eventType] = generator
	p.mu.Unlock()

	p.logger.Log(context.Background(), log.LevelInfo, "registered event generator",
		log.String("event_type", eventType))
}

// Start prepares the broker connection through the circuit breaker.
func (p *Producer) Start(ctx context.Context, routingKeys []string) error {
	err := p.breaker.Execute(ctx, func() error {
		return p.broker.Connect(ctx)
	})
	if err != nil {
		p.logger.Log(ctx, log.LevelError, "error starting event producer",
			log.Err(err),
			log.Strings("routing_keys", routingKeys))

		return &PublishError{RoutingKeys: routingKeys, Err: err}
	}

	return nil
}

// Publish generates and publishes an event of the given type.
//
// The registered generator produces the base event, additional data is merged
// on top (additional keys win on conflict), and the type key is forced to
// eventType before the breaker-guarded broker publish. Every failure along
// that path surfaces as a *PublishError carrying the event type and routing
// key; the root cause stays reachable through errors.Is/As.
func (p *Producer) Publish(ctx context.Context, eventType, routingKey string, additional Event) error {
	p.mu.RLock()
	generator := p.generators[eventType]
	p.mu.RUnlock()

	if generator == nil {
		return p.publishFailed(ctx, eventType, routingKey, ErrNoGenerator)
	}

	event, err := generator()
	if err != nil {
		return p.publishFailed(ctx, eventType, routingKey, err)
	}

	if event == nil {
		event = Event{}
	}

	for key, value := range additional {
		event[key] = value
	}

	event[TypeKey] = eventType

	err = p.breaker.Execute(ctx, func() error {
		return p.broker.Publish(ctx, routingKey, event)
	})
	if err != nil {
		return p.publishFailed(ctx, eventType, routingKey, err)
	}

	p.logger.Log(ctx, log.LevelInfo, "event published successfully",
		log.String("event_type", eventType),
		log.String("routing_key", routingKey))

	return nil
}

// publishFailed logs the failure with its context and wraps it as a *PublishError.
func (p *Producer) publishFailed(ctx context.Context, eventType, routingKey string, err error) error {
	p.logger.Log(ctx, log.LevelError, "error publishing event",
		log.String("event_type", eventType),
		log.String("routing_key", routingKey),
		log.Err(err))

	return &PublishError{EventType: eventType, RoutingKey: routingKey, Err: err}
}
