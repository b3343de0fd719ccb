// Package hal defines the hardware abstraction the device stack runs on.
//
// A [DeviceHAL] exposes the control endpoint for enumeration, IN endpoints
// for data and the attach state of the bus. The stack owns all protocol
// logic; an implementation only moves packets.
//
// An in-memory implementation with a host-side handle lives in
// [github.com/ardnew/usblog/device/hal/loopback].
package hal
