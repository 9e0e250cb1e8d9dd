// Package piface drives one output line of a PiFace Digital board through
// periph.io's SPI support.
package piface

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/larsks/switchsync/internal/output"
)

const defaultSPIPort = "/dev/spidev0.0"

type (
	// Output is one line of a PiFace board.
	Output struct {
		dev *Device
		pin uint8
		log logrus.FieldLogger
	}

	// Config represents piface driver configuration.
	Config struct {
		SPIPort string `mapstructure:"spi-port"`
		Pin     string `mapstructure:"pin"`
	}

	// Factory implements output.Factory for PiFace outputs.
	Factory struct{}
)

var _ output.Output = (*Output)(nil)

// NewOutput opens the board on portName and claims the line named by
// pinSpec, setting it to the level that represents off for its polarity.
func NewOutput(portName, pinSpec string) (*Output, error) {
	spec, err := parsePin(pinSpec)
	if err != nil {
		return nil, err
	}
	if portName == "" {
		portName = defaultSPIPort
	}

	dev, err := OpenDevice(portName)
	if err != nil {
		return nil, err
	}

	o, err := newOutput(dev, spec)
	if err != nil {
		dev.Close() //nolint:errcheck
		return nil, err
	}
	return o, nil
}

func newOutput(dev *Device, spec *output.PinSpec) (*Output, error) {
	o := &Output{
		dev: dev,
		pin: uint8(spec.LineNum),
		log: logrus.WithField("comp", "piface").WithField("pin", spec.LineNum),
	}
	if err := dev.WriteOutput(o.pin, spec.Polarity == output.ActiveLow); err != nil {
		return nil, err
	}
	return o, nil
}

// SetHigh turns the output on.
func (o *Output) SetHigh() error {
	o.log.Debugf("setting %s high", o)
	if err := o.dev.WriteOutput(o.pin, true); err != nil {
		return fmt.Errorf("%w %s: %v", output.ErrSetHigh, o, err)
	}
	return nil
}

// SetLow turns the output off.
func (o *Output) SetLow() error {
	o.log.Debugf("setting %s low", o)
	if err := o.dev.WriteOutput(o.pin, false); err != nil {
		return fmt.Errorf("%w %s: %v", output.ErrSetLow, o, err)
	}
	return nil
}

// Close releases the board.
func (o *Output) Close() error {
	return o.dev.Close()
}

func (o *Output) String() string {
	return fmt.Sprintf("%s:%d", o.dev, o.pin)
}

func parsePin(pinSpec string) (*output.PinSpec, error) {
	spec, err := output.ParsePin(pinSpec)
	if err != nil {
		return nil, err
	}
	if spec.LineNum < 0 || spec.LineNum >= NumOutputs {
		return nil, fmt.Errorf("%w: %w: %s (must be 0-%d)", output.ErrInvalidPinSpec, ErrInvalidPin, spec.Name, NumOutputs-1)
	}
	return spec, nil
}

// Create creates a new piface output.
func (f *Factory) Create(config map[string]interface{}) (output.Output, error) {
	cfg, err := f.parseConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse piface config: %w", err)
	}
	return NewOutput(cfg.SPIPort, cfg.Pin)
}

// ValidateConfig validates piface configuration.
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
		return nil, fmt.Errorf("%w: piface driver requires a pin", output.ErrInvalidDriverConf)
	}
	if _, err := parsePin(cfg.Pin); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	output.Register("piface", &Factory{}) //nolint:errcheck
}
