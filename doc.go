// Package usblog is a double-buffered binary log transport over USB
// CDC-ACM.
//
// Producers write frames into one of two fixed log buffers under a short
// critical section and never wait on USB. A drain task sends retired
// buffers to the host in bulk packets once the host has configured the
// device. A host disconnect discards whatever was buffered; the next
// session starts clean, and every frame that reaches the host is complete.
//
// # Producers
//
// The process-wide logger is created on first use by [Default]. Frames are
// written with the package-level hooks:
//
//	usblog.Acquire()
//	usblog.Write(header)
//	usblog.Write(payload)
//	usblog.Release()
//
// or, for structured records, through [Logger.Records]:
//
//	usblog.Default().Records().Info("adc sample", "channel", 3, "mV", 1650)
//
// Frames are COBS encoded and zero delimited; see package codec. Records
// are msgpack payloads; see package record.
//
// # Transport
//
// [Run] enumerates as a CDC-ACM device on the given HAL and drains the
// log to the bulk IN endpoint until the context is cancelled:
//
//	err := usblog.Run(ctx, hal, 64, nil)
//
// Nothing is buffered until a host configures the device.
package usblog
