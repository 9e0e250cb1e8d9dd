package switchsync

import "errors"

// Operation errors
var (
	ErrTransport   = errors.New("transport failure")
	ErrOutputDrive = errors.New("failed to drive output")
	ErrTimeout     = errors.New("timed out")
	ErrClosed      = errors.New("switch is closed")
)

// Construction errors
var (
	ErrInvalidConfig = errors.New("invalid switch configuration")
)
