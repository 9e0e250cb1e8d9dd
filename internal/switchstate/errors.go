package switchstate

import "errors"

var (
	ErrInvalidState = errors.New("invalid switch state")
)
