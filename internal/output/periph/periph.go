// Package periph drives an output pin through periph.io.
package periph

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/larsks/switchsync/internal/output"
)

type (
	// Output is a periph.io GPIO pin used as an output
	Output struct {
		pin gpio.PinIO
		log logrus.FieldLogger
	}

	// Config represents periph driver configuration
	Config struct {
		Pin string `mapstructure:"pin"`
	}

	// Factory implements output.Factory for periph pins
	Factory struct{}
)

var _ output.Output = (*Output)(nil)

// NewOutput initializes periph and claims the pin named by pinSpec, driving it
// to the level that represents off for the pin's polarity
func NewOutput(pinSpec string) (*Output, error) {
	spec, err := output.ParsePin(pinSpec)
	if err != nil {
		return nil, err
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeriphInitFailed, err)
	}

	pin := gpioreg.ByName(spec.Name)
	if pin == nil {
		return nil, fmt.Errorf("%w %s", ErrPinNotFound, spec.Name)
	}

	offLevel := gpio.Low
	if spec.Polarity == output.ActiveLow {
		offLevel = gpio.High
	}
	if err := pin.Out(offLevel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPinOutputMode, err)
	}

	return &Output{
		pin: pin,
		log: logrus.WithField("comp", "periph").WithField("pin", pin.Name()),
	}, nil
}

// SetHigh drives the pin high
func (o *Output) SetHigh() error {
	o.log.Debugf("setting %s high", o)
	if err := o.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("%w %s: %v", output.ErrSetHigh, o, err)
	}
	return nil
}

// SetLow drives the pin low
func (o *Output) SetLow() error {
	o.log.Debugf("setting %s low", o)
	if err := o.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w %s: %v", output.ErrSetLow, o, err)
	}
	return nil
}

// Close releases the pin
func (o *Output) Close() error {
	if err := o.pin.Halt(); err != nil {
		o.log.Warnf("failed to halt pin: %s", err)
	}
	return nil
}

func (o *Output) String() string {
	return o.pin.Name()
}

// Create creates a new periph output
func (f *Factory) Create(config map[string]interface{}) (output.Output, error) {
	cfg, err := f.parseConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse periph config: %w", err)
	}
	return NewOutput(cfg.Pin)
}

// ValidateConfig validates periph configuration
func (f *Factory) ValidateConfig(config map[string]interface{}) error {
	_, err := f.parseConfig(config)
	return err
}

func (f *Factory) parseConfig(config map[string]interface{}) (*Config, error) {
	cfg := &Config{}
	if err := output.DecodeConfig(config, cfg); err != nil {
		return nil, err
	}
	if cfg.Pin == "" {
		return nil, fmt.Errorf("%w: periph driver requires a pin", output.ErrInvalidDriverConf)
	}
	if _, err := output.ParsePin(cfg.Pin); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	output.Register("periph", &Factory{}) //nolint:errcheck
}
