package gpiocdev

import "errors"

// Hardware initialization errors
var (
	ErrGPIOChipOpenFailed = errors.New("failed to open GPIO chip")
	ErrLineRequestFailed  = errors.New("failed to request GPIO line")
)
