// Package encoder serializes producer access to the log buffers and
// delimits frames.
//
// An [Encoder] is the glue between a frame [Codec] and the buffer
// controller. Acquire enters the critical section and starts a frame;
// Write pushes payload bytes through the codec into the controller;
// Release ends the frame and leaves the section:
//
//	enc.Acquire()
//	enc.Write(payload)
//	enc.Release()
//
// The pairing is a hard contract. Acquiring twice without a release, or
// releasing without an acquire, panics: either one means two writers could
// interleave bytes inside a frame. [Encoder.Frame] wraps the pair so the
// release happens on every exit path:
//
//	enc.Frame(func(f encoder.Frame) {
//	    f.Write(payload)
//	})
//
// Nothing in this package blocks or allocates after construction.
package encoder
