package critical

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ardnew/usblog/pkg"
)

// spinYield is the number of failed attempts before a contended Acquire
// yields the processor.
const spinYield = 64

// DefaultSpinTimeout bounds how long the process-wide spin lock waits.
// Sections are held for microseconds, so a wait this long means the
// holder is the caller itself.
const DefaultSpinTimeout = time.Second

// Spin is a test-and-set spinlock. The zero value is unlocked and waits
// forever.
//
// Spin is safe across cores and goroutines but is not reentrant: acquiring
// it again from the context that holds it never succeeds. With a non-zero
// Timeout, Acquire panics with an error wrapping pkg.ErrReentrantAcquire
// once it has waited that long instead of hanging.
type Spin struct {
	held atomic.Uint32

	// Timeout bounds a contended Acquire. Zero disables the bound.
	Timeout time.Duration
}

// Acquire spins until the lock is taken.
func (s *Spin) Acquire() RestoreState {
	var deadline time.Time
	for i := 1; !s.held.CompareAndSwap(0, 1); i++ {
		if i%spinYield != 0 {
			continue
		}
		if s.Timeout > 0 {
			now := time.Now()
			switch {
			case deadline.IsZero():
				deadline = now.Add(s.Timeout)
			case now.After(deadline):
				panic(fmt.Errorf("critical: spin lock held longer than %v: %w",
					s.Timeout, pkg.ErrReentrantAcquire))
			}
		}
		runtime.Gosched()
	}
	return 1
}

// Release unlocks s. Releasing an unlocked Spin panics.
func (s *Spin) Release(RestoreState) {
	if !s.held.CompareAndSwap(1, 0) {
		panic("critical: release of unheld spin lock")
	}
}

// Held reports whether the lock is currently taken.
func (s *Spin) Held() bool {
	return s.held.Load() != 0
}
