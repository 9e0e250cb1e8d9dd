package switchctl

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/larsks/switchsync/internal/config"
	"github.com/larsks/switchsync/internal/switchsync"
	"github.com/larsks/switchsync/internal/transportconfig"
)

const (
	commandName = "switchctl"
	defaultPath = "switch"
)

// Config holds the switchctl configuration
type Config struct {
	ConfigFile   string        `mapstructure:"config"`
	Path         string        `mapstructure:"path"`
	LogLevel     string        `mapstructure:"log-level"`
	QueryTimeout time.Duration `mapstructure:"query-timeout"`
	WaitTimeout  time.Duration `mapstructure:"wait-timeout"`

	Transport transportconfig.Config `mapstructure:",squash"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		ConfigFile:   config.DefaultConfigFile(commandName),
		Path:         defaultPath,
		LogLevel:     "warn",
		QueryTimeout: switchsync.DefaultQueryTimeout,
		Transport:    transportconfig.NewConfig(),
	}
}

// AddFlags adds command-line flags for all configuration options
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "Config file to use")
	fs.StringVar(&c.Path, "path", c.Path, "Resource path of the switch")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.DurationVar(&c.QueryTimeout, "query-timeout", c.QueryTimeout, "Limit on a state query")
	fs.DurationVar(&c.WaitTimeout, "wait-timeout", c.WaitTimeout, "Limit on watch (0 = none)")
	c.Transport.AddFlags(fs)
}

// LoadConfigWithFlagSet loads configuration with proper precedence using a custom flag set (for testing)
func (c *Config) LoadConfigWithFlagSet(fs *pflag.FlagSet) error {
	configFile, err := config.ResolveConfigFile(c.ConfigFile, config.DefaultConfigFile(commandName))
	if err != nil {
		return err
	}
	c.ConfigFile = configFile

	def := NewConfig()
	defaults := map[string]any{
		"path":          def.Path,
		"log-level":     def.LogLevel,
		"query-timeout": def.QueryTimeout,
		"wait-timeout":  def.WaitTimeout,
	}
	for k, v := range transportconfig.Defaults() {
		defaults[k] = v
	}

	loader := config.NewConfigLoader()
	loader.SetConfigFile(configFile)
	loader.SetDefaults(defaults)

	if err := loader.LoadConfigWithFlagSet(c, fs); err != nil {
		return err
	}

	if c.Path == "" {
		return fmt.Errorf("%w: path must not be empty", ErrInvalidConfig)
	}
	if c.QueryTimeout < 0 || c.WaitTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return c.Transport.Validate()
}
