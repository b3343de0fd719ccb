package usblog

import (
	"context"
	"sync"

	"github.com/ardnew/usblog/buffer"
	"github.com/ardnew/usblog/codec"
	"github.com/ardnew/usblog/controller"
	"github.com/ardnew/usblog/critical"
	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/drain"
	"github.com/ardnew/usblog/encoder"
	"github.com/ardnew/usblog/record"
)

// Logger owns a controller and the frame encoder writing into it.
type Logger struct {
	ctrl    *controller.Controller
	codec   *codec.COBS
	enc     *encoder.Encoder
	records *record.Logger
}

// New creates a logger with two buffers of capacity bytes guarded by
// section. Encoded frames larger than capacity are dropped.
func New(capacity int, section critical.Section) *Logger {
	if capacity <= 0 {
		capacity = buffer.DefaultCapacity
	}
	ctrl := controller.New(capacity, section)
	cobs := codec.NewCOBS(capacity)
	enc := encoder.New(ctrl, cobs)
	return &Logger{
		ctrl:    ctrl,
		codec:   cobs,
		enc:     enc,
		records: record.NewLogger(enc),
	}
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns the process-wide logger, creating it on first use with
// buffer.DefaultCapacity and critical.Default().
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(buffer.DefaultCapacity, critical.Default())
	})
	return defaultLogger
}

// Controller returns the logger's controller.
func (l *Logger) Controller() *controller.Controller {
	return l.ctrl
}

// Encoder returns the logger's frame encoder.
func (l *Logger) Encoder() *encoder.Encoder {
	return l.enc
}

// Codec returns the frame codec.
func (l *Logger) Codec() *codec.COBS {
	return l.codec
}

// Records returns a structured record logger writing through the encoder.
func (l *Logger) Records() *record.Logger {
	return l.records
}

// Acquire opens a frame. See encoder.Encoder.Acquire.
func (l *Logger) Acquire() { l.enc.Acquire() }

// Release closes the open frame. See encoder.Encoder.Release.
func (l *Logger) Release() { l.enc.Release() }

// Flush retires the active buffer. Only valid while a frame is open.
func (l *Logger) Flush() { l.enc.Flush() }

// Write encodes p into the open frame.
func (l *Logger) Write(p []byte) { l.enc.Write(p) }

// Sync retires the active buffer outside of a frame, so whatever was
// logged so far goes out on the drain task's next poll.
func (l *Logger) Sync() {
	critical.With(l.ctrl.Section(), l.ctrl.Swap)
}

// Acquire opens a frame on the default logger.
func Acquire() { Default().Acquire() }

// Release closes the open frame on the default logger.
func Release() { Default().Release() }

// Flush retires the default logger's active buffer.
func Flush() { Default().Flush() }

// Write encodes p into the default logger's open frame.
func Write(p []byte) { Default().Write(p) }

// Sync retires the default logger's active buffer.
func Sync() { Default().Sync() }

// Run drains the default logger over a CDC-ACM function on h. See
// Logger.Run.
func Run(ctx context.Context, h hal.DeviceHAL, maxPacketSize int, cfg *device.Config, opts ...drain.Option) error {
	return Default().Run(ctx, h, maxPacketSize, cfg, opts...)
}

// Run enumerates on h as a CDC-ACM device with bulk packets of
// maxPacketSize bytes and drains the log to it until ctx is cancelled or
// either loop fails. A nil cfg selects device.DefaultConfig(maxPacketSize).
func (l *Logger) Run(ctx context.Context, h hal.DeviceHAL, maxPacketSize int, cfg *device.Config, opts ...drain.Option) error {
	svc, err := l.NewService(h, maxPacketSize, cfg, opts...)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
