package output

import "errors"

// Pin configuration errors
var (
	ErrInvalidPinSpec = errors.New("invalid pin specification")
)

// Driver registry errors
var (
	ErrUnknownDriver     = errors.New("unknown output driver")
	ErrDriverRegistered  = errors.New("output driver already registered")
	ErrInvalidDriverConf = errors.New("invalid output driver configuration")
)

// Output operation errors
var (
	ErrSetHigh = errors.New("failed to set output high")
	ErrSetLow  = errors.New("failed to set output low")
)
