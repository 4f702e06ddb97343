package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultDLXExchangeName = "events.dlx"
	defaultDLQName         = "events.dlq"
	defaultDLQBindingKey   = "#"
)

// DLQTopologyConfig defines exchange/queue names for the dead-letter topology.
type DLQTopologyConfig struct {
	DLXExchangeName string
	DLQName         string
	BindingKey      string
	QueueMessageTTL time.Duration
	QueueMaxLength  int64
}

func defaultDLQConfig() DLQTopologyConfig {
	return DLQTopologyConfig{
		DLXExchangeName: defaultDLXExchangeName,
		DLQName:         defaultDLQName,
		BindingKey:      defaultDLQBindingKey,
	}
}

// DLQOption configures dead-letter topology declaration.
type DLQOption func(*DLQTopologyConfig)

// WithDLXExchangeName overrides the dead-letter exchange name.
func WithDLXExchangeName(name string) DLQOption {
	return func(cfg *DLQTopologyConfig) {
		if name != "" {
			cfg.DLXExchangeName = name
		}
	}
}

// WithDLQName overrides the dead-letter queue name.
func WithDLQName(name string) DLQOption {
	return func(cfg *DLQTopologyConfig) {
		if name != "" {
			cfg.DLQName = name
		}
	}
}

// WithDLQBindingKey overrides the queue binding key to the DLX.
func WithDLQBindingKey(bindingKey string) DLQOption {
	return func(cfg *DLQTopologyConfig) {
		if bindingKey != "" {
			cfg.BindingKey = bindingKey
		}
	}
}

// WithDLQMessageTTL sets x-message-ttl for the dead-letter queue.
func WithDLQMessageTTL(ttl time.Duration) DLQOption {
	return func(cfg *DLQTopologyConfig) {
		if ttl > 0 {
			cfg.QueueMessageTTL = ttl
		}
	}
}

// WithDLQMaxLength sets x-max-length for the dead-letter queue.
func WithDLQMaxLength(maxLength int64) DLQOption {
	return func(cfg *DLQTopologyConfig) {
		if maxLength > 0 {
			cfg.QueueMaxLength = maxLength
		}
	}
}

// withDLQConfig replaces the whole config; used internally by the broker.
func withDLQConfig(config DLQTopologyConfig) DLQOption {
	return func(cfg *DLQTopologyConfig) {
		*cfg = config
	}
}

// DeclareDLQTopology declares the dead-letter exchange, queue, and binding.
// Queues consumed with WithDeadLetterTopology route their requeue=false nacks
// here instead of dropping them.
func DeclareDLQTopology(ch Channel, opts ...DLQOption) error {
	cfg := defaultDLQConfig()
	for _, o := range opts {
		o(&cfg)
	}

	if err := ch.ExchangeDeclare(cfg.DLXExchangeName, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange %q: %w", cfg.DLXExchangeName, err)
	}

	var args amqp.Table

	if cfg.QueueMessageTTL > 0 || cfg.QueueMaxLength > 0 {
		args = amqp.Table{}

		if cfg.QueueMessageTTL > 0 {
			args["x-message-ttl"] = cfg.QueueMessageTTL.Milliseconds()
		}

		if cfg.QueueMaxLength > 0 {
			args["x-max-length"] = cfg.QueueMaxLength
		}
	}

	if _, err := ch.QueueDeclare(cfg.DLQName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %q: %w", cfg.DLQName, err)
	}

	if err := ch.QueueBind(cfg.DLQName, cfg.BindingKey, cfg.DLXExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue %q: %w", cfg.DLQName, err)
	}

	return nil
}
