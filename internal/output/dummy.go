package output

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level is an electrical output level
type Level int

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// DummyOutput is an in-memory output that records every level it is driven to
type DummyOutput struct {
	name    string
	mutex   sync.Mutex
	level   Level
	history []Level
	failure error
	closed  bool
}

// DummyConfig represents dummy driver configuration
type DummyConfig struct {
	Pin string `mapstructure:"pin"`
}

// DummyFactory implements Factory for dummy outputs
type DummyFactory struct{}

// NewDummyOutput creates a dummy output starting at the low level
func NewDummyOutput(name string) *DummyOutput {
	return &DummyOutput{name: name}
}

// SetHigh drives the output high
func (d *DummyOutput) SetHigh() error {
	return d.set(High)
}

// SetLow drives the output low
func (d *DummyOutput) SetLow() error {
	return d.set(Low)
}

func (d *DummyOutput) set(level Level) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.failure != nil {
		if level == High {
			return fmt.Errorf("%w %s: %v", ErrSetHigh, d, d.failure)
		}
		return fmt.Errorf("%w %s: %v", ErrSetLow, d, d.failure)
	}

	logrus.WithField("comp", "output").Debugf("setting dummy output %s %s", d.name, level)
	d.level = level
	d.history = append(d.history, level)
	return nil
}

// Level returns the current level
func (d *DummyOutput) Level() Level {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.level
}

// History returns every level the output was driven to, oldest first
func (d *DummyOutput) History() []Level {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]Level(nil), d.history...)
}

// Fail makes subsequent drives return err; nil clears the failure
func (d *DummyOutput) Fail(err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failure = err
}

// Closed reports whether Close was called
func (d *DummyOutput) Closed() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.closed
}

// Close marks the output closed
func (d *DummyOutput) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.closed = true
	return nil
}

// String returns a string representation of the output
func (d *DummyOutput) String() string {
	return fmt.Sprintf("dummy:%s", d.name)
}

// Create creates a new dummy output
func (f *DummyFactory) Create(config map[string]interface{}) (Output, error) {
	var cfg DummyConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse dummy config: %w", err)
	}

	name := "0"
	if cfg.Pin != "" {
		spec, err := ParsePin(cfg.Pin)
		if err != nil {
			return nil, err
		}
		name = spec.Name
	}
	return NewDummyOutput(name), nil
}

// ValidateConfig validates dummy configuration
func (f *DummyFactory) ValidateConfig(config map[string]interface{}) error {
	var cfg DummyConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.Pin != "" {
		if _, err := ParsePin(cfg.Pin); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	Register("dummy", &DummyFactory{}) //nolint:errcheck
}
