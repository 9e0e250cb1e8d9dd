// Package transportconfig holds the transport settings shared by switchd and
// switchctl and opens the session they describe.
package transportconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/larsks/switchsync/internal/transport"
	"github.com/larsks/switchsync/internal/transport/memory"
	"github.com/larsks/switchsync/internal/transport/mqtt"
)

const (
	DriverMQTT   = "mqtt"
	DriverMemory = "memory"

	defaultServerURL   = "mqtt://localhost:1883"
	defaultTopicPrefix = "switchsync"
	defaultQueryWindow = 2 * time.Second
)

type (
	// MQTTConfig holds the broker settings.
	MQTTConfig struct {
		ServerURL   string        `mapstructure:"server-url"`
		ClientID    string        `mapstructure:"client-id"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		TopicPrefix string        `mapstructure:"topic-prefix"`
		QoS         int           `mapstructure:"qos"`
		QueryWindow time.Duration `mapstructure:"query-window"`
		MaxRetries  int           `mapstructure:"max-retries"`
	}

	// Config selects and configures a transport. It is meant to be squashed
	// into a command's configuration.
	Config struct {
		Driver string     `mapstructure:"transport"`
		MQTT   MQTTConfig `mapstructure:"mqtt"`
	}
)

// NewConfig returns a Config populated with defaults.
func NewConfig() Config {
	return Config{
		Driver: DriverMQTT,
		MQTT: MQTTConfig{
			ServerURL:   defaultServerURL,
			TopicPrefix: defaultTopicPrefix,
			QoS:         mqtt.DefaultQoS,
			QueryWindow: defaultQueryWindow,
		},
	}
}

// Defaults returns the loader defaults matching NewConfig.
func Defaults() map[string]any {
	def := NewConfig()
	return map[string]any{
		"transport":         def.Driver,
		"mqtt.server-url":   def.MQTT.ServerURL,
		"mqtt.topic-prefix": def.MQTT.TopicPrefix,
		"mqtt.qos":          def.MQTT.QoS,
		"mqtt.query-window": def.MQTT.QueryWindow,
		"mqtt.max-retries":  def.MQTT.MaxRetries,
	}
}

// AddFlags adds the transport flags.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Driver, "transport", c.Driver, "Transport driver (mqtt or memory)")
	fs.StringVar(&c.MQTT.ServerURL, "mqtt.server-url", c.MQTT.ServerURL, "MQTT broker URL")
	fs.StringVar(&c.MQTT.ClientID, "mqtt.client-id", c.MQTT.ClientID, "MQTT client ID (random if empty)")
	fs.StringVar(&c.MQTT.Username, "mqtt.username", c.MQTT.Username, "MQTT username")
	fs.StringVar(&c.MQTT.Password, "mqtt.password", c.MQTT.Password, "MQTT password")
	fs.StringVar(&c.MQTT.TopicPrefix, "mqtt.topic-prefix", c.MQTT.TopicPrefix, "Prefix for every MQTT topic")
	fs.IntVar(&c.MQTT.QoS, "mqtt.qos", c.MQTT.QoS, "MQTT quality of service (0, 1 or 2)")
	fs.DurationVar(&c.MQTT.QueryWindow, "mqtt.query-window", c.MQTT.QueryWindow, "How long a query collects replies")
	fs.IntVar(&c.MQTT.MaxRetries, "mqtt.max-retries", c.MQTT.MaxRetries, "Connection attempts before giving up (0 = unlimited)")
}

// Validate checks the settings without connecting.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverMQTT:
		if _, err := mqtt.BrokerAddress(c.MQTT.ServerURL); err != nil {
			return err
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: %d", mqtt.ErrInvalidQoS, c.MQTT.QoS)
		}
		if c.MQTT.QueryWindow < 0 {
			return fmt.Errorf("%w: query window must not be negative", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
}

// Open creates and connects the configured session.
func (c *Config) Open(ctx context.Context, logger logrus.FieldLogger) (transport.Session, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.Driver == DriverMemory {
		return memory.NewBus().NewSession(), nil
	}

	session, err := mqtt.NewSession(mqtt.Config{
		ServerURL:   c.MQTT.ServerURL,
		ClientID:    c.MQTT.ClientID,
		Username:    c.MQTT.Username,
		Password:    c.MQTT.Password,
		TopicPrefix: c.MQTT.TopicPrefix,
		QoS:         byte(c.MQTT.QoS),
		QueryWindow: c.MQTT.QueryWindow,
		MaxRetries:  c.MQTT.MaxRetries,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if err := session.Connect(ctx); err != nil {
		session.Close() //nolint:errcheck
		return nil, err
	}
	return session, nil
}
