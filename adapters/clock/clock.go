// Package clock provides time implementations.
package clock

import (
	"time"

	"github.com/promptforge/tokengate/ports"
)

// System returns real wall-clock time.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now()
}

// Ensure interface compliance.
var _ ports.Clock = System{}

// Fixed returns a fixed time (for testing).
type Fixed struct {
	T time.Time
}

// Now returns the fixed time.
func (f Fixed) Now() time.Time {
	return f.T
}

// Ensure interface compliance.
var _ ports.Clock = Fixed{}
