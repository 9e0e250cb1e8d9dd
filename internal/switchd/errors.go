package switchd

import "errors"

// Configuration errors
var (
	ErrInvalidRole   = errors.New("invalid role")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Startup errors
var (
	ErrOutputCreate = errors.New("failed to create output")
	ErrSwitchCreate = errors.New("failed to create switch")
)
