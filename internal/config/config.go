package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Push transports
const (
	TransportNone  = "none"
	TransportKafka = "kafka"
	TransportAMQP  = "amqp"
)

// Config holds the service configuration
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	API     APIConfig     `yaml:"api"`
	Push    PushConfig    `yaml:"push"`
	Log     LogConfig     `yaml:"log"`
	Session SessionConfig `yaml:"session"`
}

// HTTPConfig configures the local HTTP surface
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// APIConfig points at the order-management backend
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"` // Go duration, e.g. "10s"
}

// RequestTimeout returns the parsed per-request timeout
func (c APIConfig) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// PushConfig selects and configures the push transport
type PushConfig struct {
	Transport string      `yaml:"transport"`
	Kafka     KafkaConfig `yaml:"kafka"`
	AMQP      AMQPConfig  `yaml:"amqp"`
}

// KafkaConfig configures the Kafka transport
type KafkaConfig struct {
	Brokers string `yaml:"brokers"` // Comma-separated
	Topic   string `yaml:"topic"`
	HealthInterval string `yaml:"health_interval"` // Go duration, e.g. "5s"
}

// LinkCheckInterval returns the parsed health-check interval
func (c KafkaConfig) LinkCheckInterval() time.Duration {
	d, err := time.ParseDuration(c.HealthInterval)
	if err != nil {
		return 0
	}
	return d
}

// AMQPConfig configures the RabbitMQ transport
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SessionConfig tunes the reconciliation session
type SessionConfig struct {
	RefreshAfterMutation bool `yaml:"refresh_after_mutation"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: "10s",
		},
		Push: PushConfig{
			Transport: TransportNone,
			Kafka: KafkaConfig{
				Topic:          "orders.events",
				HealthInterval: "5s",
			},
			AMQP: AMQPConfig{
				Exchange: "orders.events",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Session: SessionConfig{
			RefreshAfterMutation: true,
		},
	}
}

// Load reads defaults, then the YAML file at path (if path is not empty),
// then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTP.Addr = getenv("APP_ADDR", c.HTTP.Addr)
	c.API.BaseURL = getenv("ORDER_API_URL", c.API.BaseURL)
	c.API.Timeout = getenv("ORDER_API_TIMEOUT", c.API.Timeout)
	c.Push.Transport = getenv("PUSH_TRANSPORT", c.Push.Transport)
	c.Push.Kafka.Brokers = getenv("KAFKA_BROKERS", c.Push.Kafka.Brokers)
	c.Push.Kafka.Topic = getenv("KAFKA_TOPIC", c.Push.Kafka.Topic)
	c.Push.Kafka.HealthInterval = getenv("KAFKA_HEALTH_INTERVAL", c.Push.Kafka.HealthInterval)
	c.Push.AMQP.URL = getenv("AMQP_URL", c.Push.AMQP.URL)
	c.Push.AMQP.Exchange = getenv("AMQP_EXCHANGE", c.Push.AMQP.Exchange)
	c.Log.Level = getenv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("LOG_FORMAT", c.Log.Format)

	if v := getenv("REFRESH_AFTER_MUTATION", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REFRESH_AFTER_MUTATION: %w", err)
		}
		c.Session.RefreshAfterMutation = b
	}
	return nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if d, err := time.ParseDuration(c.API.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("api.timeout must be a positive duration, got %q", c.API.Timeout)
	}

	c.Push.Transport = strings.ToLower(strings.TrimSpace(c.Push.Transport))
	switch c.Push.Transport {
	case TransportNone:
	case TransportKafka:
		if strings.TrimSpace(c.Push.Kafka.Brokers) == "" {
			return fmt.Errorf("push.kafka.brokers is required for the kafka transport")
		}
		if c.Push.Kafka.Topic == "" {
			return fmt.Errorf("push.kafka.topic is required for the kafka transport")
		}
		if d, err := time.ParseDuration(c.Push.Kafka.HealthInterval); err != nil || d <= 0 {
			return fmt.Errorf("push.kafka.health_interval must be a positive duration, got %q", c.Push.Kafka.HealthInterval)
		}
	case TransportAMQP:
		if c.Push.AMQP.URL == "" {
			return fmt.Errorf("push.amqp.url is required for the amqp transport")
		}
	default:
		return fmt.Errorf("unknown push.transport %q", c.Push.Transport)
	}

	return nil
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
