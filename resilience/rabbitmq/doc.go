// Package rabbitmq implements the events.Broker capability on AMQP 0-9-1.
//
// Events are published as persistent JSON messages to a durable topic
// exchange; consumption uses durable queues with manual acknowledgment so the
// subscriber keeps full control over retry and discard policy. An optional
// dead-letter topology retains messages nacked without requeue.
package rabbitmq
