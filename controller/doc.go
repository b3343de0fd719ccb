// Package controller implements the double-buffering protocol between log
// producers and the drain task.
//
// A [Controller] owns exactly two [buffer.LogBuffer] slots carved from one
// arena, an index naming the active slot, and an enable gate. Producers
// append to the active slot from inside the critical section; when a write
// does not fit, the active slot is retired (marked Flushing) and the other
// slot becomes active. The drain task picks up the Flushing slot with
// [Controller.Flush], hands its bytes to a sender, and resets the slot
// whether or not the send succeeded.
//
// # Ownership
//
// Producers only touch the slot at the active index. The drain task only
// touches a slot whose state is Flushing. Swap is the only operation that
// moves the active index, and it retires the outgoing slot first, so once a
// slot is Flushing no producer selects it again until the drain task resets
// it. Buffer contents are therefore never shared between the two sides;
// only the index, the gate and the state tags are synchronized.
//
// # Overflow
//
// If neither slot can take a write, even after a swap, the bytes are
// dropped and counted in [Stats.Dropped]. A producer may be an interrupt
// handler, so blocking it is never an option.
//
// # Lifetime
//
// A controller has no shutdown. The process-wide instance lives as long as
// the process; see the root usblog package.
package controller
