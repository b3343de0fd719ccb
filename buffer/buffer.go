// Package buffer implements the fixed-capacity log buffer used by the
// double-buffering controller.
package buffer

import "sync/atomic"

// DefaultCapacity is the capacity of each log buffer when none is given.
const DefaultCapacity = 1024

// State is the role of a buffer in the double-buffering protocol.
type State uint32

// Buffer states.
const (
	StateActive   State = iota // Accepting producer writes
	StateFlushing              // Retired, pending transmission
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// LogBuffer is a fixed-capacity byte buffer with a state tag.
//
// The storage is supplied once at construction and never reallocated.
// Appends are only legal while the buffer is Active; the drain path reads
// Bytes only after observing StateFlushing. The state is stored atomically
// so that observation orders the producer's writes before the read.
type LogBuffer struct {
	data   []byte
	cursor int
	state  atomic.Uint32
}

// New creates an Active, empty buffer with the given capacity.
func New(capacity int) *LogBuffer {
	b := &LogBuffer{}
	b.Init(make([]byte, capacity))
	return b
}

// Init binds the buffer to storage and resets it. The capacity of the
// buffer is len(storage). Init is used to carve buffers out of a larger
// arena; it must not be called once the buffer is shared.
func (b *LogBuffer) Init(storage []byte) {
	b.data = storage[:len(storage):len(storage)]
	b.Reset()
}

// Accepts reports whether n more bytes fit. The bound is inclusive: a
// buffer with capacity 64 accepts a 64-byte write when empty.
func (b *LogBuffer) Accepts(n int) bool {
	return b.cursor+n <= len(b.data)
}

// Write appends p at the cursor.
//
// The caller must have checked Accepts(len(p)) and that the buffer is
// Active; neither is re-checked here.
func (b *LogBuffer) Write(p []byte) {
	b.cursor += copy(b.data[b.cursor:], p)
}

// Flush retires the buffer from writing.
func (b *LogBuffer) Flush() {
	b.state.Store(uint32(StateFlushing))
}

// Reset discards the contents and makes the buffer Active again. The
// bytes themselves are not cleared.
func (b *LogBuffer) Reset() {
	b.cursor = 0
	b.state.Store(uint32(StateActive))
}

// State returns the current state.
func (b *LogBuffer) State() State {
	return State(b.state.Load())
}

// IsFlushing reports whether the buffer is retired and awaiting drain.
func (b *LogBuffer) IsFlushing() bool {
	return b.State() == StateFlushing
}

// IsActive reports whether the buffer accepts writes.
func (b *LogBuffer) IsActive() bool {
	return b.State() == StateActive
}

// Len returns the number of valid bytes.
func (b *LogBuffer) Len() int {
	return b.cursor
}

// Cap returns the fixed capacity.
func (b *LogBuffer) Cap() int {
	return len(b.data)
}

// Bytes returns the valid portion of the buffer. The slice aliases the
// buffer storage and is only meaningful until the next Reset.
func (b *LogBuffer) Bytes() []byte {
	return b.data[:b.cursor]
}
