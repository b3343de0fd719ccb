package drain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ardnew/usblog/controller"
	"github.com/ardnew/usblog/pkg"
)

// DefaultBackoff is the poll interval used when no buffer is retired.
const DefaultBackoff = 100 * time.Millisecond

// DefaultMaxPacketSize is used when the transport does not report a
// usable packet size.
const DefaultMaxPacketSize = 64

// DefaultErrorLogInterval bounds how often transient send errors are
// logged after the first few.
const DefaultErrorLogInterval = 5 * time.Second

// Transport is the host link the task sends packets over.
type Transport interface {
	// WaitConnection blocks until a host is connected and the data
	// endpoint is usable.
	WaitConnection(ctx context.Context) error

	// SendPacket sends one packet of at most MaxPacketSize bytes.
	SendPacket(ctx context.Context, p []byte) error

	// MaxPacketSize returns the negotiated maximum packet size.
	MaxPacketSize() int
}

// Stats holds drain counters.
type Stats struct {
	Sessions    uint64 // connections observed
	Disconnects uint64 // sessions ended by a disconnect
	Packets     uint64 // packets sent successfully
	Bytes       uint64 // payload bytes sent successfully
	SendErrors  uint64 // buffers lost to non-disconnect errors
}

// Option configures a Task.
type Option func(*Task)

// WithBackoff sets the poll interval used when no buffer is retired.
// Non-positive values are ignored.
func WithBackoff(d time.Duration) Option {
	return func(t *Task) {
		if d > 0 {
			t.backoff = d
		}
	}
}

// WithMaxPacketSize caps the packet size below the transport's. It never
// raises it. Non-positive values are ignored.
func WithMaxPacketSize(n int) Option {
	return func(t *Task) {
		if n > 0 {
			t.maxPacket = n
		}
	}
}

// WithErrorLogInterval sets the minimum interval between transient send
// error log lines.
func WithErrorLogInterval(d time.Duration) Option {
	return func(t *Task) {
		t.errLog.Interval = d
	}
}

// Task drains a controller over a transport.
type Task struct {
	ctrl *controller.Controller
	tr   Transport

	backoff   time.Duration
	maxPacket int
	errLog    rate.Sometimes

	// session identifies the current connection. Only touched by Run.
	session uuid.UUID

	sessions    atomic.Uint64
	disconnects atomic.Uint64
	packets     atomic.Uint64
	bytes       atomic.Uint64
	sendErrors  atomic.Uint64
	running     atomic.Bool
}

// New creates a drain task for ctrl over tr.
func New(ctrl *controller.Controller, tr Transport, opts ...Option) *Task {
	t := &Task{
		ctrl:    ctrl,
		tr:      tr,
		backoff: DefaultBackoff,
		errLog:  rate.Sometimes{First: 3, Interval: DefaultErrorLogInterval},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run drives the task until ctx is cancelled, then closes the controller
// gate and returns ctx.Err(). It returns early only if the transport fails
// while waiting for a connection.
//
// Run must not be called concurrently with itself.
func (t *Task) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	defer t.running.Store(false)
	defer t.ctrl.Disable()

	for {
		if err := t.tr.WaitConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for connection: %w", err)
		}

		t.session = uuid.New()
		t.sessions.Add(1)
		t.ctrl.Enable()
		pkg.LogInfo(pkg.ComponentDrain, "host connected",
			"session", t.session,
			"maxPacketSize", t.packetSize())

		err := t.drain(ctx)
		t.ctrl.Disable()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.disconnects.Add(1)
		pkg.LogInfo(pkg.ComponentDrain, "host disconnected",
			"session", t.session,
			"reason", err)
	}
}

// drain polls the controller until a disconnect or cancellation.
func (t *Task) drain(ctx context.Context) error {
	timer := time.NewTimer(t.backoff)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		if !t.ctrl.Pending() {
			timer.Reset(t.backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		err := t.ctrl.Flush(ctx, t.send)
		switch {
		case err == nil:
		case errors.Is(err, pkg.ErrPacketTooLarge):
			panic(fmt.Errorf("drain: %w", err))
		case pkg.IsDisconnect(err):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			t.sendErrors.Add(1)
			t.errLog.Do(func() {
				pkg.LogWarn(pkg.ComponentDrain, "send failed",
					"session", t.session,
					"error", err,
					"sendErrors", t.sendErrors.Load())
			})
		}
	}
}

// send is the controller SendFunc. It splits p into packets and stops at
// the first error.
func (t *Task) send(ctx context.Context, p []byte) error {
	size := t.packetSize()
	for len(p) > 0 {
		n := min(len(p), size)
		if err := t.tr.SendPacket(ctx, p[:n]); err != nil {
			return err
		}
		t.packets.Add(1)
		t.bytes.Add(uint64(n))
		p = p[n:]
	}
	return nil
}

// packetSize returns the chunk size for the current connection.
func (t *Task) packetSize() int {
	size := t.tr.MaxPacketSize()
	if size <= 0 {
		size = DefaultMaxPacketSize
	}
	if t.maxPacket > 0 && t.maxPacket < size {
		size = t.maxPacket
	}
	return size
}

// Controller returns the drained controller.
func (t *Task) Controller() *controller.Controller {
	return t.ctrl
}

// Stats returns a snapshot of the drain counters.
func (t *Task) Stats() Stats {
	return Stats{
		Sessions:    t.sessions.Load(),
		Disconnects: t.disconnects.Load(),
		Packets:     t.packets.Load(),
		Bytes:       t.bytes.Load(),
		SendErrors:  t.sendErrors.Load(),
	}
}
