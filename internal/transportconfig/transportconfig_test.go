package transportconfig

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larsks/switchsync/internal/transport/mqtt"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"memory", func(c *Config) { c.Driver = DriverMemory; c.MQTT.ServerURL = "" }, nil},
		{"unknown driver", func(c *Config) { c.Driver = "carrier-pigeon" }, ErrUnknownDriver},
		{"bad scheme", func(c *Config) { c.MQTT.ServerURL = "http://broker" }, mqtt.ErrInvalidServerURL},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, mqtt.ErrInvalidQoS},
		{"negative window", func(c *Config) { c.MQTT.QueryWindow = -time.Second }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestOpenMemory(t *testing.T) {
	cfg := NewConfig()
	cfg.Driver = DriverMemory

	session, err := cfg.Open(context.Background(), nil)
	require.NoError(t, err)
	defer session.Close() //nolint:errcheck
	assert.NotEmpty(t, session.ID())
}

func TestOpenRejectsInvalid(t *testing.T) {
	cfg := NewConfig()
	cfg.Driver = "nope"
	_, err := cfg.Open(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestAddFlags(t *testing.T) {
	cfg := NewConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--transport", "memory", "--mqtt.qos", "2"}))
	assert.Equal(t, DriverMemory, cfg.Driver)
	assert.Equal(t, 2, cfg.MQTT.QoS)
	assert.Equal(t, defaultServerURL, cfg.MQTT.ServerURL)
}

func TestDefaultsMatchNewConfig(t *testing.T) {
	def := Defaults()
	cfg := NewConfig()
	assert.Equal(t, cfg.Driver, def["transport"])
	assert.Equal(t, cfg.MQTT.ServerURL, def["mqtt.server-url"])
	assert.Equal(t, cfg.MQTT.QueryWindow, def["mqtt.query-window"])
}
