// Package loopback is an in-memory hal.DeviceHAL with a host-side handle.
//
// The device side is driven by device.Stack as usual. The [Host] side plays
// the USB host: it attaches and detaches the cable, resets the bus, runs
// control transfers and reads bulk IN packets. Each attachment is a fresh
// session, so anything blocked on the old one fails with pkg.ErrNoDevice
// once the cable is pulled.
//
//	h := loopback.New()
//	stack.Start(ctx)
//	go stack.Run(ctx)
//	host := h.Host()
//	host.Attach()
//	enum, err := host.Enumerate(ctx)
//	p, err := host.ReadBulk(ctx, cdc.DataInEndpoint)
package loopback
