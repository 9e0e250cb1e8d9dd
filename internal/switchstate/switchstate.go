// Package switchstate defines the two-valued state shared by every switch
// participant and its wire representation.
package switchstate

import (
	"fmt"
	"strings"
)

// State is the logical position of a switch.
type State int8

const (
	Off State = iota
	On
)

// Wire values. Anything other than WireOn decodes to Off.
const (
	WireOff int8 = 0
	WireOn  int8 = 1
)

// Decode converts a wire value to a State. Unknown values map to Off.
func Decode(v int8) State {
	if v == WireOn {
		return On
	}
	return Off
}

// Encode converts a State to its wire value.
func Encode(s State) int8 {
	if s == On {
		return WireOn
	}
	return WireOff
}

// Negate returns the opposite state.
func Negate(s State) State {
	if s == On {
		return Off
	}
	return On
}

// Not is shorthand for Negate(s).
func (s State) Not() State {
	return Negate(s)
}

// ParseState parses a human supplied state such as "on", "off", "1" or
// "false".
func ParseState(v string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "1", "true", "high":
		return On, nil
	case "off", "0", "false", "low":
		return Off, nil
	default:
		return Off, fmt.Errorf("%w: %q", ErrInvalidState, v)
	}
}

func (s State) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// MarshalText implements encoding.TextMarshaler so states render as "on" and
// "off" in JSON and config files.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	v, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
