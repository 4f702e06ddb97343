package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/LerianStudio/lib-resilience/resilience/circuitbreaker"
	"github.com/LerianStudio/lib-resilience/resilience/rabbitmq"
)

// Environment variable names read by Load.
const (
	envRabbitHost     = "RABBITMQ_HOST"
	envRabbitPort     = "RABBITMQ_PORT"
	envRabbitUser     = "RABBITMQ_USERNAME"
	envRabbitPass     = "RABBITMQ_PASSWORD"
	envRabbitVHost    = "RABBITMQ_VHOST"
	envRabbitExchange = "RABBITMQ_EVENT_EXCHANGE"

	envCircuitFailureThreshold = "CIRCUIT_FAILURE_THRESHOLD"
	envCircuitResetTimeout     = "CIRCUIT_RESET_TIMEOUT"
	envCircuitMaxResetTimeout  = "CIRCUIT_MAX_RESET_TIMEOUT"
	envCircuitBackoffFactor    = "CIRCUIT_BACKOFF_FACTOR"
)

// Config aggregates the settings for the messaging stack.
type Config struct {
	RabbitMQ rabbitmq.Config
	Circuit  circuitbreaker.Config
}

// LoadDotEnv loads a .env file into the process environment when one exists.
// A missing file is not an error; real environment variables always win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		_ = godotenv.Load()

		return
	}

	_ = godotenv.Load(paths...)
}

// Load reads configuration from environment variables, falling back to the
// documented defaults. Timeouts are expressed as seconds and may be
// fractional, so CIRCUIT_RESET_TIMEOUT=0.5 means 500ms.
func Load() (Config, error) {
	rabbit, err := RabbitMQ()
	if err != nil {
		return Config{}, err
	}

	circuit, err := Breaker()
	if err != nil {
		return Config{}, err
	}

	return Config{RabbitMQ: rabbit, Circuit: circuit}, nil
}

// RabbitMQ reads the broker connection settings from the environment.
func RabbitMQ() (rabbitmq.Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(envRabbitHost, rabbitmq.DefaultHost)
	v.SetDefault(envRabbitPort, rabbitmq.DefaultPort)
	v.SetDefault(envRabbitUser, rabbitmq.DefaultUser)
	v.SetDefault(envRabbitPass, rabbitmq.DefaultPass)
	v.SetDefault(envRabbitVHost, rabbitmq.DefaultVHost)
	v.SetDefault(envRabbitExchange, rabbitmq.DefaultExchange)

	cfg := rabbitmq.Config{
		Host:     v.GetString(envRabbitHost),
		Port:     v.GetInt(envRabbitPort),
		User:     v.GetString(envRabbitUser),
		Pass:     v.GetString(envRabbitPass),
		VHost:    v.GetString(envRabbitVHost),
		Exchange: v.GetString(envRabbitExchange),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return rabbitmq.Config{}, fmt.Errorf("config: invalid %s %d", envRabbitPort, cfg.Port)
	}

	return cfg, nil
}

// Breaker reads the circuit breaker settings from the environment and
// validates them.
func Breaker() (circuitbreaker.Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	defaults := circuitbreaker.DefaultConfig()
	v.SetDefault(envCircuitFailureThreshold, defaults.FailureThreshold)
	v.SetDefault(envCircuitResetTimeout, defaults.ResetTimeout.Seconds())
	v.SetDefault(envCircuitMaxResetTimeout, defaults.MaxResetTimeout.Seconds())
	v.SetDefault(envCircuitBackoffFactor, defaults.BackoffFactor)

	cfg := circuitbreaker.Config{
		FailureThreshold: v.GetUint32(envCircuitFailureThreshold),
		ResetTimeout:     secondsToDuration(v.GetFloat64(envCircuitResetTimeout)),
		MaxResetTimeout:  secondsToDuration(v.GetFloat64(envCircuitMaxResetTimeout)),
		BackoffFactor:    v.GetFloat64(envCircuitBackoffFactor),
	}

	if _, err := circuitbreaker.New(cfg); err != nil {
		return circuitbreaker.Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
