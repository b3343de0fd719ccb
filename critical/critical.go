package critical

// RestoreState is returned by Acquire and handed back to Release. For
// interrupt masking it carries the previous interrupt enable state; other
// implementations may ignore it.
type RestoreState uintptr

// Section is a mutual-exclusion primitive usable from any execution
// context, including interrupt handlers.
type Section interface {
	// Acquire enters the section and returns the state needed to leave it.
	// Acquire never suspends the caller on a channel or scheduler wait;
	// contended implementations spin.
	Acquire() RestoreState

	// Release leaves the section entered by the matching Acquire.
	Release(RestoreState)
}

// With runs fn inside s. The section is released when fn returns or
// panics.
func With(s Section, fn func()) {
	r := s.Acquire()
	defer s.Release(r)
	fn()
}
