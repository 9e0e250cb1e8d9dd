// Package gpiocdev drives an output line through the Linux GPIO character
// device.
package gpiocdev

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"

	"github.com/larsks/switchsync/internal/output"
)

const defaultChip = "gpiochip0"

type (
	// Output is a single requested GPIO line
	Output struct {
		chip    *gpiocdev.Chip
		line    *gpiocdev.Line
		lineNum int
		log     logrus.FieldLogger
	}

	// Config represents gpiocdev driver configuration
	Config struct {
		Chip string `mapstructure:"chip"`
		Pin  string `mapstructure:"pin"`
	}

	// Factory implements output.Factory for gpiocdev lines
	Factory struct{}
)

var _ output.Output = (*Output)(nil)

// NewOutput requests the line named by pinSpec on chipName, starting at the
// level that represents off for the pin's polarity
func NewOutput(chipName, pinSpec string) (*Output, error) {
	spec, err := output.ParsePin(pinSpec)
	if err != nil {
		return nil, err
	}
	if spec.LineNum < 0 {
		return nil, fmt.Errorf("%w: %s is not a GPIO line number", output.ErrInvalidPinSpec, spec.Name)
	}
	if chipName == "" {
		chipName = defaultChip
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGPIOChipOpenFailed, err)
	}

	offLevel := 0
	if spec.Polarity == output.ActiveLow {
		offLevel = 1
	}

	line, err := chip.RequestLine(spec.LineNum, gpiocdev.AsOutput(offLevel), gpiocdev.WithConsumer("switchsync"))
	if err != nil {
		chip.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: line %d: %v", ErrLineRequestFailed, spec.LineNum, err)
	}

	return &Output{
		chip:    chip,
		line:    line,
		lineNum: spec.LineNum,
		log:     logrus.WithField("comp", "gpiocdev").WithField("line", spec.LineNum),
	}, nil
}

// SetHigh drives the line high
func (o *Output) SetHigh() error {
	o.log.Debugf("setting %s high", o)
	if err := o.line.SetValue(1); err != nil {
		return fmt.Errorf("%w %s: %v", output.ErrSetHigh, o, err)
	}
	return nil
}

// SetLow drives the line low
func (o *Output) SetLow() error {
	o.log.Debugf("setting %s low", o)
	if err := o.line.SetValue(0); err != nil {
		return fmt.Errorf("%w %s: %v", output.ErrSetLow, o, err)
	}
	return nil
}

// Close releases the line and the chip
func (o *Output) Close() error {
	if err := o.line.Close(); err != nil {
		o.log.Warnf("failed to close GPIO line %d: %s", o.lineNum, err)
	}
	if err := o.chip.Close(); err != nil {
		o.log.Warnf("failed to close GPIO chip: %s", err)
	}
	return nil
}

func (o *Output) String() string {
	return fmt.Sprintf("GPIO%d", o.lineNum)
}

// Create creates a new gpiocdev output
func (f *Factory) Create(config map[string]interface{}) (output.Output, error) {
	cfg, err := f.parseConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gpiocdev config: %w", err)
	}
	return NewOutput(cfg.Chip, cfg.Pin)
}

// ValidateConfig validates gpiocdev configuration
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
		return nil, fmt.Errorf("%w: gpiocdev driver requires a pin", output.ErrInvalidDriverConf)
	}
	spec, err := output.ParsePin(cfg.Pin)
	if err != nil {
		return nil, err
	}
	if spec.LineNum < 0 {
		return nil, fmt.Errorf("%w: %s is not a GPIO line number", output.ErrInvalidPinSpec, spec.Name)
	}
	return cfg, nil
}

func init() {
	output.Register("gpiocdev", &Factory{}) //nolint:errcheck
}
