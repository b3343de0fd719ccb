//go:build tinygo

package critical

import "runtime/interrupt"

// Interrupt masks interrupts on the current core for the duration of the
// section. Nested acquisitions are allowed; each Release restores the
// state saved by its Acquire.
//
// Interrupt alone is sufficient only on single-core targets.
type Interrupt struct{}

// Acquire disables interrupts and returns the previous state.
func (Interrupt) Acquire() RestoreState {
	return RestoreState(interrupt.Disable())
}

// Release restores the interrupt state saved by Acquire.
func (Interrupt) Release(r RestoreState) {
	interrupt.Restore(interrupt.State(r))
}

// Default returns the process-wide section. TinyGo builds mask interrupts.
func Default() Section {
	return Interrupt{}
}
