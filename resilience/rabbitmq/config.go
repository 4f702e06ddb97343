package rabbitmq

import (
	"fmt"
	"net/url"
)

// Default connection settings for local development.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 5672
	DefaultUser     = "guest"
	DefaultPass     = "guest"
	DefaultVHost    = "/"
	DefaultExchange = "event_exchange"
)

// Config holds RabbitMQ connection settings. The event exchange is declared
// as a durable topic exchange on connect.
type Config struct {
	Host     string
	Port     int
	User     string `json:"-"`
	Pass     string `json:"-"`
	VHost    string
	Exchange string
}

// DefaultConfig returns connection settings for a local broker.
func DefaultConfig() Config {
	return Config{
		Host:     DefaultHost,
		Port:     DefaultPort,
		User:     DefaultUser,
		Pass:     DefaultPass,
		VHost:    DefaultVHost,
		Exchange: DefaultExchange,
	}
}

// withDefaults fills zero-valued fields with the local development defaults.
func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}

	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.User == "" {
		c.User = DefaultUser
	}

	if c.Pass == "" {
		c.Pass = DefaultPass
	}

	if c.VHost == "" {
		c.VHost = DefaultVHost
	}

	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}

	return c
}

// URI builds the AMQP connection string. Credentials are escaped with the
// userinfo rules (a space becomes %20, never +) and the vhost is path-escaped,
// so the default vhost "/" becomes the canonical "%2F" form.
func (c Config) URI() string {
	return fmt.Sprintf("amqp://%s@%s:%d/%s",
		url.UserPassword(c.User, c.Pass).String(),
		c.Host,
		c.Port,
		url.PathEscape(c.VHost))
}
