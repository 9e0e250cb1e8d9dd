// Package logsetup configures the process-wide logrus logger. Importing it
// applies the level named by SWITCHSYNC_LOG_LEVEL; commands may later
// override it from their configuration.
package logsetup

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// EnvLogLevel names the environment variable read at startup.
const EnvLogLevel = "SWITCHSYNC_LOG_LEVEL"

// DefaultLevel is used when nothing else is configured.
const DefaultLevel = logrus.InfoLevel

var ErrInvalidLevel = errors.New("invalid log level")

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(DefaultLevel)

	if level := os.Getenv(EnvLogLevel); level != "" {
		if err := SetLevel(level); err != nil {
			logrus.Warnf("ignoring %s: %v", EnvLogLevel, err)
		}
	}
}

// SetLevel sets the level of the standard logger by name. An empty name
// leaves the level unchanged.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, name)
	}
	logrus.SetLevel(level)
	return nil
}
