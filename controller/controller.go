package controller

import (
	"context"
	"sync/atomic"

	"github.com/ardnew/usblog/buffer"
	"github.com/ardnew/usblog/critical"
)

// NumBuffers is the number of log buffers owned by a controller.
const NumBuffers = 2

// SendFunc transmits one retired buffer. The slice aliases controller
// storage and must not be retained after SendFunc returns.
type SendFunc func(ctx context.Context, p []byte) error

// Stats is a snapshot of controller counters.
type Stats struct {
	Written     uint64 // Bytes accepted into a buffer
	Dropped     uint64 // Bytes discarded because neither buffer had room
	Swaps       uint64 // Buffers retired by Swap
	Flushes     uint64 // Buffers handed to a sender
	FlushErrors uint64 // Sender calls that returned an error
}

// SlotInfo describes one buffer slot at a point in time.
type SlotInfo struct {
	State  buffer.State
	Len    int
	Active bool // Slot is at the active index
}

// Controller owns the two log buffers.
type Controller struct {
	section critical.Section

	// current is the index of the active slot. Guarded by section.
	current int

	enabled atomic.Bool

	buffers [NumBuffers]buffer.LogBuffer

	written     atomic.Uint64
	dropped     atomic.Uint64
	swaps       atomic.Uint64
	flushes     atomic.Uint64
	flushErrors atomic.Uint64
}

// New creates an enabled controller whose buffers each hold capacity bytes.
// Both buffers are carved from a single allocation made here; nothing else
// in the controller allocates. A nil section selects critical.Default().
func New(capacity int, section critical.Section) *Controller {
	if capacity <= 0 {
		capacity = buffer.DefaultCapacity
	}
	if section == nil {
		section = critical.Default()
	}
	c := &Controller{section: section}
	arena := make([]byte, NumBuffers*capacity)
	for i := range c.buffers {
		c.buffers[i].Init(arena[i*capacity : (i+1)*capacity])
	}
	c.enabled.Store(true)
	return c
}

// Section returns the exclusion primitive guarding the controller.
func (c *Controller) Section() critical.Section {
	return c.section
}

// Capacity returns the capacity of each buffer.
func (c *Controller) Capacity() int {
	return c.buffers[0].Cap()
}

// Enable opens the gate so writes are accepted.
func (c *Controller) Enable() {
	c.enabled.Store(true)
}

// Disable closes the gate and resets both buffers.
//
// Anything written or retired before the call is discarded: a frame that
// was half written, or a buffer that was half sent, must not reach the
// next session. Writes racing with Disable observe the closed gate and are
// ignored.
func (c *Controller) Disable() {
	c.enabled.Store(false)
	r := c.section.Acquire()
	c.buffers[0].Reset()
	c.buffers[1].Reset()
	c.section.Release(r)
}

// Enabled reports whether the gate is open.
func (c *Controller) Enabled() bool {
	return c.enabled.Load()
}

// Write appends p to the active buffer, swapping buffers if it does not
// fit. If the newly active buffer cannot take p either, p is dropped.
//
// Write must be called with the section held. It never blocks and never
// writes part of p.
func (c *Controller) Write(p []byte) {
	if !c.enabled.Load() {
		return
	}

	cur := &c.buffers[c.current]
	if cur.IsActive() && cur.Accepts(len(p)) {
		cur.Write(p)
		c.written.Add(uint64(len(p)))
		return
	}

	c.Swap()

	cur = &c.buffers[c.current]
	if cur.IsActive() && cur.Accepts(len(p)) {
		cur.Write(p)
		c.written.Add(uint64(len(p)))
		return
	}
	c.dropped.Add(uint64(len(p)))
}

// Swap retires the active buffer and makes the other one active.
//
// Swap must be called with the section held. The other buffer is expected
// to be Active already; if the drain task has not reset it yet, both
// buffers are Flushing and writes are dropped until it does.
func (c *Controller) Swap() {
	if !c.enabled.Load() {
		return
	}
	c.buffers[c.current].Flush()
	c.current ^= 1
	c.swaps.Add(1)
}

// Flush drains at most one retired buffer through send.
//
// If no buffer is Flushing, Flush returns nil without calling send. When
// both are (which correct sequencing never produces), slot 0 goes first.
// The buffer is reset after send returns, regardless of the outcome: once
// bytes are handed to the transport there is no telling how many went out,
// so resending any of them risks a duplicate or torn frame. The error from
// send is returned.
//
// Flush must be called outside the section; it takes it only to reset.
func (c *Controller) Flush(ctx context.Context, send SendFunc) error {
	idx, ok := c.getFlushing()
	if !ok {
		return nil
	}

	c.flushes.Add(1)
	err := send(ctx, c.buffers[idx].Bytes())
	c.resetBuffer(idx)
	if err != nil {
		c.flushErrors.Add(1)
	}
	return err
}

// Pending reports whether a buffer is waiting to be drained.
func (c *Controller) Pending() bool {
	_, ok := c.getFlushing()
	return ok
}

// getFlushing returns the index of a Flushing buffer, lowest index first.
//
// A Flushing buffer is never modified by producers, so the returned slot
// stays stable until resetBuffer is called on it.
func (c *Controller) getFlushing() (int, bool) {
	for i := range c.buffers {
		if c.buffers[i].IsFlushing() {
			return i, true
		}
	}
	return 0, false
}

// resetBuffer returns a drained buffer to service. The reset runs inside
// the section so a producer never sees a half-reset buffer.
func (c *Controller) resetBuffer(idx int) {
	r := c.section.Acquire()
	c.buffers[idx].Reset()
	c.section.Release(r)
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Written:     c.written.Load(),
		Dropped:     c.dropped.Load(),
		Swaps:       c.swaps.Load(),
		Flushes:     c.flushes.Load(),
		FlushErrors: c.flushErrors.Load(),
	}
}

// Slot returns a snapshot of slot i (0 or 1). It takes the section so the
// length and active index are consistent with each other.
func (c *Controller) Slot(i int) SlotInfo {
	r := c.section.Acquire()
	defer c.section.Release(r)
	b := &c.buffers[i&1]
	return SlotInfo{
		State:  b.State(),
		Len:    b.Len(),
		Active: c.current == i&1,
	}
}
