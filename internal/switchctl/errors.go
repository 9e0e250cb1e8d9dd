package switchctl

import "errors"

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage error")
)
