package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-resilience/resilience/backoff"
	"github.com/LerianStudio/lib-resilience/resilience/events"
	"github.com/LerianStudio/lib-resilience/resilience/internal/nilcheck"
	"github.com/LerianStudio/lib-resilience/resilience/log"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Errors surfaced by the broker.
var (
	// ErrNotConnected is returned when publish or consume is attempted
	// without an open channel.
	ErrNotConnected = errors.New("rabbitmq: channel is not open")

	// ErrConsumerClosed is returned when the delivery stream ends because
	// the channel or connection was closed underneath the consumer.
	ErrConsumerClosed = errors.New("rabbitmq: consumer channel closed")
)

const (
	exchangeKind = "topic"

	// reconnectBackoffBase and reconnectBackoffCap bound the delay enforced
	// between failed connect attempts, preventing reconnect storms when the
	// broker is down.
	reconnectBackoffBase = 500 * time.Millisecond
	reconnectBackoffCap  = 30 * time.Second
)

// Channel is the subset of AMQP channel operations the broker needs.
// *amqp.Channel satisfies it; tests substitute a fake.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
	IsClosed() bool
}

// Broker implements events.Broker on top of AMQP 0-9-1.
//
// The connection and channel are owned by the component that called Connect
// and must not be used concurrently from multiple goroutines; the mutex only
// protects the broker's own bookkeeping, not channel operations in flight.
type Broker struct {
	mu        sync.Mutex
	cfg       Config
	logger    log.Logger
	conn      *amqp.Connection
	channel   Channel
	connected bool
	dlq       *DLQTopologyConfig

	// Injectable transport hooks, defaulted in applyDefaults.
	dialer         func(uri string) (*amqp.Connection, error)
	channelFactory func(conn *amqp.Connection) (Channel, error)
	connCloser     func(conn *amqp.Connection) error
	connClosed     func(conn *amqp.Connection) bool

	// Reconnect rate-limiting state.
	lastConnectAttempt time.Time
	connectAttempts    int

	tracer       trace.Tracer
	connFailures metric.Int64Counter
}

var _ events.Broker = (*Broker)(nil)

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets a structured logger for broker operations.
func WithLogger(logger log.Logger) Option {
	return func(b *Broker) {
		if !nilcheck.IsNil(logger) {
			b.logger = logger
		}
	}
}

// WithDeadLetterTopology declares a dead-letter exchange and queue on connect
// and points consumed queues at the DLX, so messages nacked without requeue
// are retained instead of dropped.
func WithDeadLetterTopology(opts ...DLQOption) Option {
	return func(b *Broker) {
		cfg := defaultDLQConfig()
		for _, o := range opts {
			o(&cfg)
		}

		b.dlq = &cfg
	}
}

// New creates a RabbitMQ broker for the given connection settings.
func New(cfg Config, opts ...Option) *Broker {
	b := &Broker{
		cfg:    cfg.withDefaults(),
		logger: log.NewNop(),
		tracer: otel.Tracer("rabbitmq"),
	}

	for _, o := range opts {
		o(b)
	}

	b.logger = b.logger.With(log.String("component", "rabbitmq"))

	counter, err := otel.Meter("rabbitmq").Int64Counter(
		"rabbitmq_connection_failures_total",
		metric.WithDescription("Total number of rabbitmq connection failures"),
		metric.WithUnit("1"),
	)
	if err == nil {
		b.connFailures = counter
	}

	return b
}

// applyDefaults fills the transport hooks with the real AMQP implementations.
// Caller must hold the lock.
func (b *Broker) applyDefaults() {
	if b.dialer == nil {
		b.dialer = amqp.Dial
	}

	if b.channelFactory == nil {
		b.channelFactory = func(conn *amqp.Connection) (Channel, error) {
			return conn.Channel()
		}
	}

	if b.connCloser == nil {
		b.connCloser = func(conn *amqp.Connection) error {
			return conn.Close()
		}
	}

	if b.connClosed == nil {
		b.connClosed = func(conn *amqp.Connection) bool {
			return conn.IsClosed()
		}
	}
}

// Connect establishes the connection, opens a channel, and declares the
// event exchange (durable topic). Idempotent: a healthy existing channel is
// reused. Failed attempts are rate-limited with exponential backoff.
func (b *Broker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}

	ctx, span := b.tracer.Start(ctx, "rabbitmq.connect")
	defer span.End()

	span.SetAttributes(attribute.String("messaging.system", "rabbitmq"))

	b.mu.Lock()

	b.applyDefaults()

	if b.connected && b.channel != nil && !b.channel.IsClosed() {
		b.mu.Unlock()

		return nil
	}

	if err := b.checkReconnectDelay(); err != nil {
		b.mu.Unlock()
		spanError(span, err)

		return err
	}

	b.lastConnectAttempt = time.Now()

	uri := b.cfg.URI()
	dialer := b.dialer
	channelFactory := b.channelFactory
	connCloser := b.connCloser
	b.mu.Unlock()

	b.logger.Log(ctx, log.LevelInfo, "connecting to rabbitmq",
		log.String("host", b.cfg.Host),
		log.Int("port", b.cfg.Port))

	conn, err := dialer(uri)
	if err != nil {
		b.recordConnectionFailure(ctx, "connect")
		b.logger.Log(ctx, log.LevelError, "failed to connect to rabbitmq", log.Err(err))

		wrapped := fmt.Errorf("rabbitmq connection failed: %w", err)
		spanError(span, wrapped)

		return wrapped
	}

	ch, err := channelFactory(conn)
	if err != nil {
		_ = connCloser(conn)

		b.recordConnectionFailure(ctx, "channel")
		b.logger.Log(ctx, log.LevelError, "failed to open channel on rabbitmq", log.Err(err))

		wrapped := fmt.Errorf("failed to open channel on rabbitmq: %w", err)
		spanError(span, wrapped)

		return wrapped
	}

	if err := b.declareTopology(ch); err != nil {
		_ = connCloser(conn)

		b.logger.Log(ctx, log.LevelError, "failed to declare topology on rabbitmq", log.Err(err))
		spanError(span, err)

		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.channel = ch
	b.connected = true
	b.connectAttempts = 0
	b.mu.Unlock()

	b.logger.Log(ctx, log.LevelInfo, "connected to rabbitmq",
		log.String("exchange", b.cfg.Exchange))

	return nil
}

// checkReconnectDelay enforces exponential backoff between failed connect
// attempts. Caller must hold the lock.
func (b *Broker) checkReconnectDelay() error {
	if b.connectAttempts == 0 {
		return nil
	}

	delay := backoff.ExponentialWithJitter(reconnectBackoffBase, b.connectAttempts)
	if delay > reconnectBackoffCap {
		delay = reconnectBackoffCap
	}

	if elapsed := time.Since(b.lastConnectAttempt); elapsed < delay {
		return fmt.Errorf("rabbitmq connect: rate-limited (next attempt in %s)", delay-elapsed)
	}

	return nil
}

// declareTopology declares the event exchange and, when configured, the
// dead-letter topology.
func (b *Broker) declareTopology(ch Channel) error {
	if err := ch.ExchangeDeclare(b.cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", b.cfg.Exchange, err)
	}

	if b.dlq != nil {
		if err := DeclareDLQTopology(ch, withDLQConfig(*b.dlq)); err != nil {
			return err
		}
	}

	return nil
}

// Disconnect closes the channel and connection. Idempotent; a no-op when
// already disconnected.
func (b *Broker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil
	}

	if b.channel != nil && !b.channel.IsClosed() {
		if err := b.channel.Close(); err != nil {
			b.logger.Log(ctx, log.LevelWarn, "failed to close rabbitmq channel", log.Err(err))
		}
	}

	if b.conn != nil && b.connClosed != nil && !b.connClosed(b.conn) {
		if err := b.connCloser(b.conn); err != nil {
			b.logger.Log(ctx, log.LevelWarn, "failed to close rabbitmq connection", log.Err(err))
		}
	}

	b.connected = false
	b.channel = nil
	b.conn = nil

	b.logger.Log(ctx, log.LevelInfo, "rabbitmq connection closed")

	return nil
}

// Publish transmits an event to the configured exchange under routingKey.
// The payload is JSON, persistent, and tagged with a unique message id.
func (b *Broker) Publish(ctx context.Context, routingKey string, event events.Event) error {
	ctx, span := b.tracer.Start(ctx, "rabbitmq.publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination.name", b.cfg.Exchange),
		attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
	)

	ch, err := b.openChannel()
	if err != nil {
		spanError(span, err)

		return err
	}

	body, err := event.Marshal()
	if err != nil {
		spanError(span, err)

		return err
	}

	err = ch.PublishWithContext(ctx, b.cfg.Exchange, routingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		b.logger.Log(ctx, log.LevelError, "failed to publish message",
			log.String("routing_key", routingKey),
			log.Err(err))

		wrapped := fmt.Errorf("message publication failed: %w", err)
		spanError(span, wrapped)

		return wrapped
	}

	b.logger.Log(ctx, log.LevelInfo, "published message",
		log.String("routing_key", routingKey),
		log.Int("message_size", len(body)))

	return nil
}

// Consume declares a durable queue bound to the routing keys and delivers
// messages to fn one at a time with manual acknowledgment. It blocks until
// the context is cancelled or the delivery stream closes.
func (b *Broker) Consume(ctx context.Context, queueName string, routingKeys []string, fn events.DeliveryFunc) error {
	ch, err := b.openChannel()
	if err != nil {
		return err
	}

	var queueArgs amqp.Table
	if b.dlq != nil {
		queueArgs = amqp.Table{"x-dead-letter-exchange": b.dlq.DLXExchangeName}
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, queueArgs); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queueName, err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(queueName, key, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q to %q: %w", queueName, key, err)
		}
	}

	// One unacked message at a time: the callback decides ack/requeue/drop
	// per message, so deliveries must stay sequential.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming from %q: %w", queueName, err)
	}

	b.logger.Log(ctx, log.LevelInfo, "started consuming",
		log.String("queue_name", queueName),
		log.Strings("routing_keys", routingKeys))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return ErrConsumerClosed
			}

			fn(ctx, &amqpDelivery{delivery: delivery})
		}
	}
}

// openChannel returns the current channel or ErrNotConnected.
func (b *Broker) openChannel() (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel == nil || b.channel.IsClosed() {
		return nil, ErrNotConnected
	}

	return b.channel, nil
}

func (b *Broker) recordConnectionFailure(ctx context.Context, operation string) {
	b.mu.Lock()
	b.connected = false
	b.connectAttempts++
	b.mu.Unlock()

	if b.connFailures != nil {
		b.connFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}
}

// amqpDelivery adapts an amqp.Delivery to events.Delivery.
type amqpDelivery struct {
	delivery amqp.Delivery
}

func (d *amqpDelivery) Body() []byte {
	return d.delivery.Body
}

func (d *amqpDelivery) Ack() error {
	return d.delivery.Ack(false)
}

func (d *amqpDelivery) Nack(requeue bool) error {
	return d.delivery.Nack(false, requeue)
}

// spanError records err on the span and marks it failed.
func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
