package transport

import "errors"

// Encoding errors
var (
	ErrEncode = errors.New("failed to encode message")
	ErrDecode = errors.New("failed to decode message")
)

// Session errors
var (
	ErrNotConnected = errors.New("transport is not connected")
	ErrClosed       = errors.New("transport session is closed")
)
