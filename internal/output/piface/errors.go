package piface

import "errors"

// Pin and validation errors
var (
	ErrInvalidPin = errors.New("invalid piface output pin")
)

// Hardware initialization and connection errors
var (
	ErrPeriphInitFailed = errors.New("failed to initialize periph.io")
	ErrSPIPortOpen      = errors.New("failed to open SPI port")
	ErrSPIConnect       = errors.New("failed to connect to SPI")
)

// Register operation errors
var (
	ErrRegisterWrite = errors.New("failed to write register")
	ErrRegisterRead  = errors.New("failed to read register")
)
