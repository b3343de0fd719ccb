//go:build !tinygo

package critical

var processSpin = Spin{Timeout: DefaultSpinTimeout}

// Default returns the process-wide section. Hosted builds use a spinlock
// so producers on different cores exclude each other. Its DefaultSpinTimeout
// turns a reentrant acquire into a panic instead of a hang.
func Default() Section {
	return &processSpin
}
