// Package critical provides the exclusion primitive that guards the log
// buffers.
//
// A [Section] is a region in which no other producer may run. On a
// single-core microcontroller that means masking interrupts; on a hosted
// or multi-core target it means a spinlock. Both are expressed through the
// same two calls so the buffer controller does not care which one it got:
//
//	r := s.Acquire()
//	// ... mutate shared state ...
//	s.Release(r)
//
// [With] wraps the pair so the section is released on every exit path.
//
// [Default] returns the process-wide section: interrupt masking when built
// with TinyGo, a [Spin] lock otherwise. Sections are held for a handful of
// instructions at a time; nothing inside a section may block, sleep or
// allocate.
package critical
