package events

import "context"

// Broker is the message transport capability required by the producer and
// subscriber. Implementations own the underlying connection and channel;
// a single Broker value must not be shared across goroutines without
// external synchronization.
type Broker interface {
	// Connect establishes the transport connection. Idempotent.
	Connect(ctx context.Context) error

	// Disconnect closes the transport connection. Idempotent; a no-op when
	// already disconnected.
	Disconnect(ctx context.Context) error

	// Publish transmits an event under the given routing key.
	Publish(ctx context.Context, routingKey string, event Event) error

	// Consume binds queueName to the routing keys and invokes fn once per
	// delivered message, sequentially, with manual acknowledgment control.
	// It blocks until the context is cancelled or the transport fails.
	Consume(ctx context.Context, queueName string, routingKeys []string, fn DeliveryFunc) error
}

// Delivery is a single inbound message with manual acknowledgment control.
type Delivery interface {
	// Body returns the raw payload bytes.
	Body() []byte

	// Ack acknowledges the message, removing it from the queue.
	Ack() error

	// Nack negatively acknowledges the message. With requeue the message is
	// redelivered later; without it the message is dropped (or dead-lettered
	// when the queue has a dead-letter exchange).
	Nack(requeue bool) error
}

// DeliveryFunc is the per-message callback supplied to Broker.Consume.
type DeliveryFunc func(ctx context.Context, delivery Delivery)

// Handler processes a single event. Returning an error marks the event as
// retryable; the subscriber requeues it for a future delivery.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Generator produces the base payload for one event type. It is invoked on
// every publish of that type.
type Generator func() (Event, error)
