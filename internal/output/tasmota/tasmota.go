// Package tasmota drives a relay on a Tasmota device over its HTTP command
// interface. High is "Power On", low is "Power Off".
package tasmota

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/larsks/switchsync/internal/output"
)

const defaultTimeout = 5 * time.Second

type (
	// Output is one relay on a Tasmota device.
	Output struct {
		address string
		command string
		client  *http.Client
		log     logrus.FieldLogger
	}

	// Config represents tasmota driver configuration.
	Config struct {
		Address string        `mapstructure:"address"`
		Relay   int           `mapstructure:"relay"`
		Timeout time.Duration `mapstructure:"timeout"`
	}

	// Factory implements output.Factory for Tasmota relays.
	Factory struct{}
)

var _ output.Output = (*Output)(nil)

// NewOutput returns an output for relay on the device at address. Relay 0
// addresses the device's only relay. The relay is not touched until the
// first SetHigh or SetLow.
func NewOutput(address string, relay int, timeout time.Duration) *Output {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	command := "Power"
	if relay > 0 {
		command = fmt.Sprintf("Power%d", relay)
	}

	return &Output{
		address: strings.TrimSuffix(address, "/"),
		command: command,
		client:  &http.Client{Timeout: timeout},
		log:     logrus.WithField("comp", "tasmota").WithField("address", address),
	}
}

// SetHigh switches the relay on.
func (o *Output) SetHigh() error {
	if err := o.setPower("ON"); err != nil {
		return fmt.Errorf("%w %s: %v", output.ErrSetHigh, o, err)
	}
	return nil
}

// SetLow switches the relay off.
func (o *Output) SetLow() error {
	if err := o.setPower("OFF"); err != nil {
		return fmt.Errorf("%w %s: %v", output.ErrSetLow, o, err)
	}
	return nil
}

// Close releases idle connections to the device.
func (o *Output) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func (o *Output) String() string {
	return fmt.Sprintf("tasmota:%s/%s", strings.TrimPrefix(o.address, "http://"), o.command)
}

func (o *Output) setPower(value string) error {
	o.log.Debugf("sending %s %s", o.command, value)
	reply, err := o.sendCommand(o.command + " " + value)
	if err != nil {
		return err
	}

	got, ok := reply[strings.ToUpper(o.command)]
	if !ok && o.command == "Power" {
		got, ok = reply["POWER1"]
	}
	if !ok || !strings.EqualFold(got, value) {
		return fmt.Errorf("%w: wanted %s, got %v", ErrUnexpectedPower, value, reply)
	}
	return nil
}

func (o *Output) sendCommand(command string) (map[string]string, error) {
	target := fmt.Sprintf("%s/cm?cmnd=%s", o.address, url.QueryEscape(command))

	resp, err := o.client.Get(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP status %d", ErrRequestFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrRequestFailed, err)
	}

	reply := map[string]string{}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrRequestFailed, err)
	}
	return reply, nil
}

// Create creates a new tasmota output.
func (f *Factory) Create(config map[string]interface{}) (output.Output, error) {
	cfg, err := f.parseConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tasmota config: %w", err)
	}
	return NewOutput(cfg.Address, cfg.Relay, cfg.Timeout), nil
}

// ValidateConfig validates tasmota configuration.
func (f *Factory) ValidateConfig(config map[string]interface{}) error {
	_, err := f.parseConfig(config)
	return err
}

func (f *Factory) parseConfig(config map[string]interface{}) (*Config, error) {
	cfg := &Config{}
	if err := output.DecodeConfig(config, cfg); err != nil {
		return nil, err
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: tasmota driver requires an address", output.ErrInvalidDriverConf)
	}

	addr := cfg.Address
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if u, err := url.Parse(addr); err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid address %q", output.ErrInvalidDriverConf, cfg.Address)
	}
	if cfg.Relay < 0 {
		return nil, fmt.Errorf("%w: relay must not be negative", output.ErrInvalidDriverConf)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must not be negative", output.ErrInvalidDriverConf)
	}
	return cfg, nil
}

func init() {
	output.Register("tasmota", &Factory{}) //nolint:errcheck
}
