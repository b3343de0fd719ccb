package encoder

import (
	"sync/atomic"

	"github.com/ardnew/usblog/controller"
	"github.com/ardnew/usblog/critical"
	"github.com/ardnew/usblog/pkg"
)

// EmitFunc receives encoded bytes from a codec.
type EmitFunc func(p []byte)

// Codec turns frame payloads into wire bytes. All three hooks are called
// with the critical section held and must not block or allocate.
type Codec interface {
	// StartFrame begins a new frame.
	StartFrame(emit EmitFunc)
	// Write encodes payload bytes for the current frame.
	Write(p []byte, emit EmitFunc)
	// EndFrame finishes the current frame.
	EndFrame(emit EmitFunc)
}

// Raw is a Codec that passes payload bytes through unchanged and adds no
// delimiters. Each Write reaches the controller separately, so a frame may
// straddle a buffer swap or be partially dropped.
type Raw struct{}

// StartFrame does nothing.
func (Raw) StartFrame(EmitFunc) {}

// Write emits p as is.
func (Raw) Write(p []byte, emit EmitFunc) { emit(p) }

// EndFrame does nothing.
func (Raw) EndFrame(EmitFunc) {}

// Encoder guards frame construction with the controller's critical
// section.
type Encoder struct {
	ctrl    *controller.Controller
	section critical.Section
	codec   Codec
	emit    EmitFunc

	// taken is set while a frame is open.
	taken atomic.Bool
	// restore is the state needed to leave the section. Only touched
	// while taken.
	restore critical.RestoreState
}

// New creates an encoder writing frames into ctrl. A nil codec selects
// Raw.
func New(ctrl *controller.Controller, codec Codec) *Encoder {
	if codec == nil {
		codec = Raw{}
	}
	e := &Encoder{
		ctrl:    ctrl,
		section: ctrl.Section(),
		codec:   codec,
	}
	// Bind once so the hot path does not build a method value per call.
	e.emit = ctrl.Write
	return e
}

// Controller returns the controller frames are written to.
func (e *Encoder) Controller() *controller.Controller {
	return e.ctrl
}

// Acquire enters the critical section and starts a frame.
//
// Acquire panics with pkg.ErrReentrantAcquire if a frame is already open.
// With a section that nests (interrupt masking) this is detected at once.
// A spinlock cannot nest: a reentrant Acquire waits out the lock's
// Timeout and panics there, or never returns if the lock has none.
func (e *Encoder) Acquire() {
	r := e.section.Acquire()
	if e.taken.Load() {
		e.section.Release(r)
		panic(pkg.ErrReentrantAcquire)
	}
	e.taken.Store(true)
	e.restore = r
	e.codec.StartFrame(e.emit)
}

// Release ends the open frame and leaves the critical section.
//
// Release panics with pkg.ErrReleaseWithoutAcquire if no frame is open.
func (e *Encoder) Release() {
	if !e.taken.Load() {
		panic(pkg.ErrReleaseWithoutAcquire)
	}
	e.codec.EndFrame(e.emit)
	r := e.restore
	e.taken.Store(false)
	e.section.Release(r)
}

// Write encodes p into the open frame. Only valid between Acquire and
// Release.
func (e *Encoder) Write(p []byte) {
	e.codec.Write(p, e.emit)
}

// Flush retires the active buffer so the drain task picks it up on its
// next poll. Only valid between Acquire and Release.
func (e *Encoder) Flush() {
	e.ctrl.Swap()
}

// Taken reports whether a frame is open.
func (e *Encoder) Taken() bool {
	return e.taken.Load()
}

// Frame is the handle passed to the function given to Encoder.Frame. It is
// only valid for the duration of that call.
type Frame struct {
	e *Encoder
}

// Write encodes p into the frame. It implements io.Writer and never fails.
func (f Frame) Write(p []byte) (int, error) {
	f.e.Write(p)
	return len(p), nil
}

// Flush retires the active buffer.
func (f Frame) Flush() {
	f.e.Flush()
}

// Frame runs fn with a frame open. The frame is closed and the section
// released when fn returns or panics.
func (e *Encoder) Frame(fn func(f Frame)) {
	e.Acquire()
	defer e.Release()
	fn(Frame{e: e})
}

// WriteFrame writes p as one complete frame.
func (e *Encoder) WriteFrame(p []byte) {
	e.Acquire()
	defer e.Release()
	e.Write(p)
}
