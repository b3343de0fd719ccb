package loopback

import (
	"context"
	"fmt"
	"io"

	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/pkg"
)

// DefaultAddress is the address Enumerate assigns.
const DefaultAddress = 1

// Host is the host side of a loopback HAL.
type Host struct {
	h *HAL
}

// Attach plugs in the cable. It is a no-op while attached.
func (c *Host) Attach() {
	c.h.attach()
}

// Detach pulls the cable. Blocked device and host calls on the session
// fail with pkg.ErrNoDevice.
func (c *Host) Detach() {
	c.h.mutex.Lock()
	defer c.h.mutex.Unlock()
	c.h.detachLocked()
}

// Reset signals a bus reset. The device loses its address and endpoints.
func (c *Host) Reset() error {
	c.h.mutex.Lock()
	defer c.h.mutex.Unlock()
	s := c.h.sess
	if s == nil {
		return pkg.ErrNoDevice
	}
	c.h.address = 0
	c.h.disableEndpointsLocked()
	select {
	case s.reset <- struct{}{}:
	default:
	}
	return nil
}

// Control runs one control transfer. For IN requests it returns the data
// stage; for OUT requests data is sent as the data stage. A rejected
// request returns pkg.ErrStall.
func (c *Host) Control(ctx context.Context, setup hal.SetupPacket, data []byte) ([]byte, error) {
	s, err := c.h.current()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.gone:
		return nil, pkg.ErrNoDevice
	case s.setup <- setup:
	}

	in := setup.RequestType&device.RequestTypeDirectionMask == device.RequestDirectionDeviceToHost
	if !in && setup.Length > 0 {
		if err := c.send(ctx, s, data); err != nil {
			return nil, err
		}
	}

	var ev ep0Event
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.gone:
		return nil, pkg.ErrNoDevice
	case ev = <-s.toHost:
	}

	if ev.stall {
		// The device may have rejected the request before reading our
		// data stage.
		select {
		case <-s.toDevice:
		default:
		}
		return nil, pkg.ErrStall
	}

	if in {
		// Zero-length OUT status stage.
		if err := c.send(ctx, s, nil); err != nil {
			return nil, err
		}
		return ev.data, nil
	}
	return nil, nil
}

func (c *Host) send(ctx context.Context, s *session, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.gone:
		return pkg.ErrNoDevice
	case s.toDevice <- append([]byte{}, data...):
		return nil
	}
}

// ReadBulk receives the next packet from an IN endpoint. It fails with
// pkg.ErrNotConfigured if the endpoint is not enabled or gets disabled
// while waiting.
func (c *Host) ReadBulk(ctx context.Context, address uint8) ([]byte, error) {
	c.h.mutex.Lock()
	s := c.h.sess
	ep := c.h.eps[address]
	c.h.mutex.Unlock()

	if s == nil {
		return nil, pkg.ErrNoDevice
	}
	if ep == nil {
		return nil, pkg.ErrNotConfigured
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-ep.packets:
		return p, nil
	case <-ep.disabled:
		return nil, pkg.ErrNotConfigured
	case <-s.gone:
		return nil, pkg.ErrNoDevice
	}
}

// Enumeration is what Enumerate learned about the device.
type Enumeration struct {
	Address       uint8
	Device        device.DeviceDescriptor
	Configuration []byte
	Endpoints     []device.EndpointDescriptor
	Manufacturer  string
	Product       string
	SerialNumber  string
}

// Enumerate runs the standard enumeration sequence: read the device
// descriptor, assign DefaultAddress, read the configuration and strings,
// then select the configuration.
func (c *Host) Enumerate(ctx context.Context) (*Enumeration, error) {
	var (
		e     Enumeration
		setup device.SetupPacket
	)

	device.GetDescriptorSetup(&setup, device.DescriptorTypeDevice, 0, 0, 64)
	data, err := c.Control(ctx, hal.SetupPacket(setup), nil)
	if err != nil {
		return nil, fmt.Errorf("get device descriptor: %w", err)
	}
	if err := device.ParseDeviceDescriptor(data, &e.Device); err != nil {
		return nil, fmt.Errorf("parse device descriptor: %w", err)
	}

	device.SetAddressSetup(&setup, DefaultAddress)
	if _, err := c.Control(ctx, hal.SetupPacket(setup), nil); err != nil {
		return nil, fmt.Errorf("set address: %w", err)
	}
	e.Address = DefaultAddress

	device.GetDescriptorSetup(&setup, device.DescriptorTypeConfiguration, 0, 0, device.ConfigurationDescriptorSize)
	data, err = c.Control(ctx, hal.SetupPacket(setup), nil)
	if err != nil {
		return nil, fmt.Errorf("get configuration header: %w", err)
	}
	var head device.ConfigurationDescriptor
	if err := device.ParseConfigurationDescriptor(data, &head); err != nil {
		return nil, fmt.Errorf("parse configuration header: %w", err)
	}

	device.GetDescriptorSetup(&setup, device.DescriptorTypeConfiguration, 0, 0, head.TotalLength)
	e.Configuration, err = c.Control(ctx, hal.SetupPacket(setup), nil)
	if err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	if e.Endpoints, err = device.ParseEndpointDescriptors(e.Configuration); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	if err := c.readStrings(ctx, &e); err != nil {
		return nil, err
	}

	device.SetConfigurationSetup(&setup, head.ConfigurationValue)
	if _, err := c.Control(ctx, hal.SetupPacket(setup), nil); err != nil {
		return nil, fmt.Errorf("set configuration: %w", err)
	}
	return &e, nil
}

func (c *Host) readStrings(ctx context.Context, e *Enumeration) error {
	fields := []struct {
		index uint8
		out   *string
	}{
		{e.Device.ManufacturerIndex, &e.Manufacturer},
		{e.Device.ProductIndex, &e.Product},
		{e.Device.SerialNumberIndex, &e.SerialNumber},
	}
	for _, f := range fields {
		if f.index == 0 {
			continue
		}
		var setup device.SetupPacket
		device.GetDescriptorSetup(&setup, device.DescriptorTypeString, f.index, device.LangIDUSEnglish, 255)
		data, err := c.Control(ctx, hal.SetupPacket(setup), nil)
		if err != nil {
			return fmt.Errorf("get string %d: %w", f.index, err)
		}
		if *f.out, err = device.ParseStringDescriptor(data); err != nil {
			return fmt.Errorf("parse string %d: %w", f.index, err)
		}
	}
	return nil
}

// BulkReader returns an io.Reader over the packet stream of an IN
// endpoint. Read fails with the error from ReadBulk, so it ends when the
// host detaches, the endpoint is disabled or ctx is cancelled.
func (c *Host) BulkReader(ctx context.Context, address uint8) io.Reader {
	return &bulkReader{ctx: ctx, host: c, address: address}
}

type bulkReader struct {
	ctx     context.Context
	host    *Host
	address uint8
	pending []byte
}

func (r *bulkReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		packet, err := r.host.ReadBulk(r.ctx, r.address)
		if err != nil {
			return 0, err
		}
		r.pending = packet
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
