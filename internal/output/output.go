// Package output defines the physical output a hardware authority drives,
// and a registry of drivers that provide it.
package output

import "github.com/larsks/switchsync/internal/switchstate"

// Output is a single digital output line.
type Output interface {
	SetHigh() error
	SetLow() error
	Close() error
	String() string
}

// Drive sets out to the level that represents s, given which logical state
// maps to the high level.
func Drive(out Output, s, highState switchstate.State) error {
	if s == highState {
		return out.SetHigh()
	}
	return out.SetLow()
}
