package transportconfig

import "errors"

var (
	ErrUnknownDriver = errors.New("unknown transport driver")
	ErrInvalidConfig = errors.New("invalid transport configuration")
)
