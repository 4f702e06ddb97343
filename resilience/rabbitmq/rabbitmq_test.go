//go:build unit

package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/LerianStudio/lib-resilience/resilience/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	exchange   string
	routingKey string
	mandatory  bool
	msg        amqp.Publishing
}

type exchangeDecl struct {
	name    string
	kind    string
	durable bool
}

type queueDecl struct {
	name    string
	durable bool
	args    amqp.Table
}

type queueBind struct {
	queue    string
	key      string
	exchange string
}

type fakeChannel struct {
	closed bool

	exchangeErr error
	queueErr    error
	bindErr     error
	qosErr      error
	publishErr  error
	consumeErr  error

	exchanges []exchangeDecl
	queues    []queueDecl
	binds     []queueBind
	published []publishCall

	qosPrefetch int
	deliveries  chan amqp.Delivery
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if c.exchangeErr != nil {
		return c.exchangeErr
	}

	c.exchanges = append(c.exchanges, exchangeDecl{name: name, kind: kind, durable: durable})

	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if c.queueErr != nil {
		return amqp.Queue{}, c.queueErr
	}

	c.queues = append(c.queues, queueDecl{name: name, durable: durable, args: args})

	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	if c.bindErr != nil {
		return c.bindErr
	}

	c.binds = append(c.binds, queueBind{queue: name, key: key, exchange: exchange})

	return nil
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	if c.qosErr != nil {
		return c.qosErr
	}

	c.qosPrefetch = prefetchCount

	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, mandatory, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}

	c.published = append(c.published, publishCall{
		exchange:   exchange,
		routingKey: key,
		mandatory:  mandatory,
		msg:        msg,
	})

	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}

	return c.deliveries, nil
}

func (c *fakeChannel) Close() error {
	c.closed = true

	return nil
}

func (c *fakeChannel) IsClosed() bool {
	return c.closed
}

// fakeAcknowledger records ack/nack calls made through amqp.Delivery.
type fakeAcknowledger struct {
	acks     int
	nacks    int
	requeues []bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.acks++

	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeues = append(a.requeues, requeue)

	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error {
	return nil
}

// newTestBroker wires a broker to a fake channel without touching the network.
func newTestBroker(t *testing.T, ch *fakeChannel, opts ...Option) *Broker {
	t.Helper()

	b := New(Config{}, opts...)
	b.dialer = func(string) (*amqp.Connection, error) {
		return &amqp.Connection{}, nil
	}
	b.channelFactory = func(*amqp.Connection) (Channel, error) {
		return ch, nil
	}
	b.connCloser = func(*amqp.Connection) error {
		return nil
	}
	b.connClosed = func(*amqp.Connection) bool {
		return true
	}

	return b
}

func TestConnectDeclaresExchange(t *testing.T) {
	ch := &fakeChannel{}
	broker := newTestBroker(t, ch)

	require.NoError(t, broker.Connect(context.Background()))

	require.Len(t, ch.exchanges, 1)
	assert.Equal(t, DefaultExchange, ch.exchanges[0].name)
	assert.Equal(t, "topic", ch.exchanges[0].kind)
	assert.True(t, ch.exchanges[0].durable)
}

func TestConnectIsIdempotent(t *testing.T) {
	ch := &fakeChannel{}
	broker := newTestBroker(t, ch)

	dials := 0
	broker.dialer = func(string) (*amqp.Connection, error) {
		dials++

		return &amqp.Connection{}, nil
	}

	require.NoError(t, broker.Connect(context.Background()))
	require.NoError(t, broker.Connect(context.Background()))

	assert.Equal(t, 1, dials)
}

func TestConnectDialFailure(t *testing.T) {
	broker := newTestBroker(t, &fakeChannel{})

	dialErr := errors.New("connection refused")
	broker.dialer = func(string) (*amqp.Connection, error) {
		return nil, dialErr
	}

	err := broker.Connect(context.Background())
	require.ErrorIs(t, err, dialErr)
	assert.Equal(t, 1, broker.connectAttempts)
}

func TestConnectChannelFailure(t *testing.T) {
	broker := newTestBroker(t, &fakeChannel{})

	closed := 0
	broker.connCloser = func(*amqp.Connection) error {
		closed++

		return nil
	}
	broker.channelFactory = func(*amqp.Connection) (Channel, error) {
		return nil, errors.New("channel refused")
	}

	err := broker.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, closed, "connection should be closed when the channel cannot open")
}

func TestConnectWithDeadLetterTopology(t *testing.T) {
	ch := &fakeChannel{}
	broker := newTestBroker(t, ch, WithDeadLetterTopology())

	require.NoError(t, broker.Connect(context.Background()))

	require.Len(t, ch.exchanges, 2)
	assert.Equal(t, defaultDLXExchangeName, ch.exchanges[1].name)

	require.Len(t, ch.queues, 1)
	assert.Equal(t, defaultDLQName, ch.queues[0].name)
	assert.True(t, ch.queues[0].durable)

	require.Len(t, ch.binds, 1)
	assert.Equal(t, defaultDLQBindingKey, ch.binds[0].key)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ch := &fakeChannel{}
	broker := newTestBroker(t, ch)

	require.NoError(t, broker.Connect(context.Background()))
	require.NoError(t, broker.Disconnect(context.Background()))
	assert.True(t, ch.closed)

	require.NoError(t, broker.Disconnect(context.Background()))
}

func TestPublishRequiresConnection(t *testing.T) {
	broker := New(Config{})

	err := broker.Publish(context.Background(), "order.created", events.Event{"type": "order.created"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestPublishMessageProperties(t *testing.T) {
	ch := &fakeChannel{}
	broker := newTestBroker(t, ch)
	require.NoError(t, broker.Connect(context.Background()))

	event := events.Event{"type": "order.created", "amount": float64(10)}
	require.NoError(t, broker.Publish(context.Background(), "order.created", event))

	require.Len(t, ch.published, 1)
	call := ch.published[0]

	assert.Equal(t, DefaultExchange, call.exchange)
	assert.Equal(t, "order.created", call.routingKey)
	assert.True(t, call.mandatory)
	assert.Equal(t, "application/json", call.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), call.msg.DeliveryMode)
	assert.NotEmpty(t, call.msg.MessageId)

	var decoded events.Event

	require.NoError(t, json.Unmarshal(call.msg.Body, &decoded))
	assert.Equal(t, event, decoded)
}

func TestPublishWrapsBrokerError(t *testing.T) {
	pubErr := errors.New("channel gone")
	ch := &fakeChannel{publishErr: pubErr}
	broker := newTestBroker(t, ch)
	require.NoError(t, broker.Connect(context.Background()))

	err := broker.Publish(context.Background(), "order.created", events.Event{"type": "order.created"})
	require.ErrorIs(t, err, pubErr)
}

func TestConsumeTopologyAndDelivery(t *testing.T) {
	deliveries := make(chan amqp.Delivery, 1)
	ch := &fakeChannel{deliveries: deliveries}
	broker := newTestBroker(t, ch)
	require.NoError(t, broker.Connect(context.Background()))

	ack := &fakeAcknowledger{}
	deliveries <- amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(`{"type":"order.created"}`),
	}

	received := make(chan []byte, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- broker.Consume(ctx, "orders", []string{"order.*"}, func(_ context.Context, d events.Delivery) {
			received <- d.Body()
			_ = d.Ack()
		})
	}()

	select {
	case body := <-received:
		assert.JSONEq(t, `{"type":"order.created"}`, string(body))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consume to stop")
	}

	assert.Equal(t, 1, ack.acks)
	assert.Equal(t, 1, ch.qosPrefetch)

	require.Len(t, ch.queues, 1)
	assert.Equal(t, "orders", ch.queues[0].name)
	assert.True(t, ch.queues[0].durable)
	assert.Nil(t, ch.queues[0].args)

	require.Len(t, ch.binds, 1)
	assert.Equal(t, "order.*", ch.binds[0].key)
	assert.Equal(t, DefaultExchange, ch.binds[0].exchange)
}

func TestConsumeQueueGetsDeadLetterArg(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	ch := &fakeChannel{deliveries: deliveries}
	broker := newTestBroker(t, ch, WithDeadLetterTopology(WithDLXExchangeName("orders.dlx")))
	require.NoError(t, broker.Connect(context.Background()))

	close(deliveries)

	err := broker.Consume(context.Background(), "orders", []string{"order.*"}, func(context.Context, events.Delivery) {})
	require.ErrorIs(t, err, ErrConsumerClosed)

	// The consumed queue is declared after the DLQ itself.
	require.Len(t, ch.queues, 2)
	assert.Equal(t, "orders", ch.queues[1].name)
	assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "orders.dlx"}, ch.queues[1].args)
}

func TestConsumeStopsWhenStreamCloses(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	ch := &fakeChannel{deliveries: deliveries}
	broker := newTestBroker(t, ch)
	require.NoError(t, broker.Connect(context.Background()))

	close(deliveries)

	err := broker.Consume(context.Background(), "orders", []string{"#"}, func(context.Context, events.Delivery) {})
	require.ErrorIs(t, err, ErrConsumerClosed)
}

func TestDeliveryNackRequeue(t *testing.T) {
	ack := &fakeAcknowledger{}
	d := &amqpDelivery{delivery: amqp.Delivery{Acknowledger: ack}}

	require.NoError(t, d.Nack(true))
	require.NoError(t, d.Nack(false))

	assert.Equal(t, []bool{true, false}, ack.requeues)
}
