// Package events provides publish/subscribe orchestration guarded by a
// circuit breaker.
//
// Producer generates and publishes typed events; Subscriber consumes them,
// routes each message to a registered handler, and applies a per-message
// acknowledgment policy: processed and undeliverable messages are acked,
// handler failures are requeued, and dispatch faults are dropped without
// requeue. The transport is abstracted behind the Broker interface; the
// rabbitmq package provides the AMQP implementation.
package events
