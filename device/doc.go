// Package device is a small USB device stack for a single-function,
// single-configuration device.
//
// It is platform-agnostic and drives hardware through the [hal.DeviceHAL]
// interface in [github.com/ardnew/usblog/device/hal].
//
// # Architecture
//
//   - [Config] identifies the device: IDs, strings, power and EP0 size
//   - [Device] holds the encoded descriptors and the enumeration state
//   - [ClassHandler] is the function: it contributes descriptors and
//     endpoints and answers class requests
//   - [Stack] runs the control loop on EP0
//
// # Device States
//
// The stack tracks the USB 2.0 device state machine:
//
//	Detached -> Default -> Address -> Configured
//
// A bus reset returns to Default and a detach to Detached. Leaving
// Configured disables the data endpoints and tells the class, which is
// how the log transport learns the host is gone.
//
// # Zero-Allocation Design
//
// Descriptors are encoded once by [NewDevice]. The control loop answers
// from fixed buffers and never allocates per request.
//
// # Example
//
//	acm := cdc.NewLogger(64)
//	dev, err := device.NewDevice(device.DefaultConfig(64), acm)
//	stack := device.NewStack(dev, h)
//	acm.SetStack(stack)
//	if err := stack.Start(ctx); err != nil {
//	    return err
//	}
//	go stack.Run(ctx)
package device
