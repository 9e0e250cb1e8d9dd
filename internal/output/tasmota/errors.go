package tasmota

import "errors"

// Device communication errors
var (
	ErrRequestFailed   = errors.New("tasmota request failed")
	ErrUnexpectedPower = errors.New("tasmota reported unexpected power state")
)
