package piface

import (
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// MCP23S17 register addresses.
const (
	regIODIRA = 0x00 // I/O direction register A
	regIODIRB = 0x01 // I/O direction register B
	regIOCON  = 0x0A // I/O config
	regGPPUB  = 0x0D // Port B pullups
	regGPIOA  = 0x12 // GPIO port A register
)

// MCP23S17 SPI opcodes.
const (
	opWrite = 0x40
	opRead  = 0x41
)

// NumOutputs is the number of output lines on a PiFace.
const NumOutputs = 8

// txer is the part of spi.Conn the device uses.
type txer interface {
	Tx(w, r []byte) error
}

// Device is a PiFace Digital board: an MCP23S17 on an SPI port, with port A
// wired to the outputs and port B to the inputs.
type Device struct {
	name   string
	conn   txer
	closer io.Closer

	// mu serializes read-modify-write cycles on the output register.
	mu sync.Mutex
}

// OpenDevice opens and initializes the PiFace on the named SPI port.
func OpenDevice(portName string) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeriphInitFailed, err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrSPIPortOpen, portName, err)
	}
	conn, err := port.Connect(1*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: %v", ErrSPIConnect, err)
	}

	d := newDevice(portName, conn, port)
	if err := d.init(); err != nil {
		port.Close() //nolint:errcheck
		return nil, err
	}
	return d, nil
}

func newDevice(name string, conn txer, closer io.Closer) *Device {
	return &Device{name: name, conn: conn, closer: closer}
}

func (d *Device) init() error {
	steps := []struct {
		reg, value uint8
		desc       string
	}{
		{regIOCON, 0x08, "enable hardware addressing"},
		{regIODIRA, 0x00, "set port A as outputs"},
		{regIODIRB, 0xFF, "set port B as inputs"},
		{regGPPUB, 0xFF, "enable port B pullups"},
	}
	for _, step := range steps {
		if err := d.writeRegister(step.reg, step.value); err != nil {
			return fmt.Errorf("%s: %w", step.desc, err)
		}
	}
	return nil
}

// WriteOutput sets one output line, leaving the others as they are.
func (d *Device) WriteOutput(pin uint8, on bool) error {
	if err := validatePin(pin); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.readRegister(regGPIOA)
	if err != nil {
		return err
	}
	return d.writeRegister(regGPIOA, setBit(current, pin, on))
}

// ReadOutput reports whether one output line is set.
func (d *Device) ReadOutput(pin uint8) (bool, error) {
	if err := validatePin(pin); err != nil {
		return false, err
	}
	current, err := d.readRegister(regGPIOA)
	if err != nil {
		return false, err
	}
	return getBit(current, pin), nil
}

// Close releases the SPI port.
func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

func (d *Device) String() string {
	return "piface:" + d.name
}

func (d *Device) writeRegister(reg, value uint8) error {
	write := []byte{opWrite, reg, value}
	read := make([]byte, len(write))
	if err := d.conn.Tx(write, read); err != nil {
		return fmt.Errorf("%w 0x%02x: %v", ErrRegisterWrite, reg, err)
	}
	return nil
}

func (d *Device) readRegister(reg uint8) (uint8, error) {
	write := []byte{opRead, reg, 0x00}
	read := make([]byte, len(write))
	if err := d.conn.Tx(write, read); err != nil {
		return 0, fmt.Errorf("%w 0x%02x: %v", ErrRegisterRead, reg, err)
	}
	// the register value is clocked out during the third byte
	return read[2], nil
}

func validatePin(pin uint8) error {
	if pin >= NumOutputs {
		return fmt.Errorf("%w: %d (must be 0-%d)", ErrInvalidPin, pin, NumOutputs-1)
	}
	return nil
}

func setBit(value, pin uint8, on bool) uint8 {
	if on {
		return value | (1 << pin)
	}
	return value &^ (1 << pin)
}

func getBit(value, pin uint8) bool {
	return (value>>pin)&1 != 0
}
