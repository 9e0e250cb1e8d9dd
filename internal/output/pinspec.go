package output

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/larsks/switchsync/internal/switchstate"
)

// Polarity represents the electrical polarity of an output pin
type Polarity int

const (
	ActiveHigh Polarity = iota
	ActiveLow
)

// PinSpec represents a parsed output pin specification
type PinSpec struct {
	// Name is the pin name as written, e.g. "GPIO18" or "18"
	Name string

	// LineNum is the GPIO line number, or -1 if Name is not numeric
	LineNum int

	// Polarity indicates if the pin is active-high or active-low
	Polarity Polarity
}

// ParsePin parses an output pin specification string
// Format: "pin[:active-high|active-low]"
// Examples: "GPIO18", "GPIO18:active-low", "18:active-high"
func ParsePin(pinSpec string) (*PinSpec, error) {
	parts := strings.Split(pinSpec, ":")
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPinSpec, pinSpec)
	}

	lineNum, err := ParsePinNumber(name)
	if err != nil {
		lineNum = -1
	}

	polarity := ActiveHigh
	for i := 1; i < len(parts); i++ {
		param := strings.ToLower(strings.TrimSpace(parts[i]))
		switch param {
		case "active-high":
			polarity = ActiveHigh
		case "active-low":
			polarity = ActiveLow
		default:
			return nil, fmt.Errorf("%w: unknown parameter: %s", ErrInvalidPinSpec, param)
		}
	}

	return &PinSpec{
		Name:     name,
		LineNum:  lineNum,
		Polarity: polarity,
	}, nil
}

// ParsePinNumber parses a GPIO pin name (e.g., "GPIO16") and returns the line number
// Supports both "GPIO<number>" and "<number>" formats
func ParsePinNumber(pinName string) (int, error) {
	// Handle direct number format (e.g., "16")
	if lineNum, err := strconv.Atoi(pinName); err == nil && lineNum >= 0 {
		return lineNum, nil
	}

	// Handle GPIO prefix format (e.g., "GPIO16")
	if strings.HasPrefix(strings.ToUpper(pinName), "GPIO") {
		numStr := strings.TrimPrefix(strings.ToUpper(pinName), "GPIO")
		if lineNum, err := strconv.Atoi(numStr); err == nil && lineNum >= 0 {
			return lineNum, nil
		}
	}

	return 0, fmt.Errorf("invalid GPIO pin format: %s (expected format: GPIO<number> or <number>)", pinName)
}

// HighState returns the logical state that drives the pin high (On for an
// active-high pin, Off for an active-low one)
func (p Polarity) HighState() switchstate.State {
	if p == ActiveLow {
		return switchstate.Off
	}
	return switchstate.On
}

// String returns a string representation of the polarity
func (p Polarity) String() string {
	switch p {
	case ActiveHigh:
		return "active-high"
	case ActiveLow:
		return "active-low"
	default:
		return "unknown"
	}
}

// String returns a string representation of the pin specification
func (ps *PinSpec) String() string {
	return fmt.Sprintf("%s:%s", ps.Name, ps.Polarity)
}
