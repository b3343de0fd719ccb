// Package cdc implements a CDC-ACM function that carries a log stream to
// the host.
//
// The host sees a virtual serial port. Two interfaces make up the
// function, grouped by an interface association descriptor:
//
//   - Control Interface (Communications Class): an interrupt IN
//     notification endpoint and the line coding and control line requests
//   - Data Interface (Data Class): a bulk IN endpoint the log is written to
//     and a bulk OUT endpoint that is declared but never read
//
// [Logger] is both the class handler given to device.NewDevice and the
// transport the drain task sends over:
//
//	acm := cdc.NewLogger(64)
//	dev, err := device.NewDevice(device.DefaultConfig(64), acm)
//	stack := device.NewStack(dev, h)
//	acm.SetStack(stack)
//	task := drain.New(ctrl, acm)
//
// Host software opens the port and reads; the line coding it sets has no
// effect on the stream.
package cdc
