package periph

import "errors"

// Hardware initialization errors
var (
	ErrPeriphInitFailed = errors.New("failed to initialize periph.io")
	ErrPinNotFound      = errors.New("failed to find pin")
)

// Pin configuration errors
var (
	ErrPinOutputMode = errors.New("failed to set pin to output mode")
)
