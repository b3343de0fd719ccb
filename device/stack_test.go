package device_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/device/hal/loopback"
	"github.com/ardnew/usblog/pkg"
)

const bulkIn = 0x81

// bulkClass is a vendor function with one bulk IN endpoint and two class
// requests: 0x01 answers two bytes, 0x02 is rejected.
type bulkClass struct {
	mutex      sync.Mutex
	configured bool
	changes    int
}

func (c *bulkClass) NumInterfaces() uint8 { return 1 }

func (c *bulkClass) AppendDescriptors(buf []byte, first uint8) []byte {
	iface := device.InterfaceDescriptor{InterfaceNumber: first, NumEndpoints: 1, InterfaceClass: 0xFF}
	ep := device.EndpointDescriptor{EndpointAddress: bulkIn, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64}
	return ep.AppendTo(iface.AppendTo(buf))
}

func (c *bulkClass) Endpoints() []hal.EndpointConfig {
	return []hal.EndpointConfig{{Address: bulkIn, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64}}
}

func (c *bulkClass) HandleSetup(setup *device.SetupPacket, data []byte) ([]byte, bool, error) {
	switch setup.Request {
	case 0x01:
		return []byte{0xAB, 0xCD}, true, nil
	case 0x02:
		return nil, true, pkg.ErrInvalidRequest
	}
	return nil, false, nil
}

func (c *bulkClass) SetConfigured(configured bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.configured = configured
	c.changes++
}

func (c *bulkClass) state() (bool, int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.configured, c.changes
}

type fixture struct {
	stack *device.Stack
	hal   *loopback.HAL
	host  *loopback.Host
	class *bulkClass
	ctx   context.Context
}

// newFixture starts a stack on a loopback HAL with the host attached.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	class := &bulkClass{}
	dev, err := device.NewDevice(device.DefaultConfig(64), class)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	h := loopback.New()
	stack := device.NewStack(dev, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := stack.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- stack.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Run returned %v", err)
		}
		_ = stack.Stop()
	})

	f := &fixture{stack: stack, hal: h, host: h.Host(), class: class, ctx: ctx}
	f.host.Attach()
	return f
}

func (f *fixture) enumerate(t *testing.T) *loopback.Enumeration {
	t.Helper()
	e, err := f.host.Enumerate(f.ctx)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	return e
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStack_Enumerate(t *testing.T) {
	f := newFixture(t)
	e := f.enumerate(t)

	if e.Device.VendorID != device.DefaultVendorID || e.Device.ProductID != device.DefaultProductID {
		t.Errorf("IDs = %04X:%04X", e.Device.VendorID, e.Device.ProductID)
	}
	if e.Manufacturer != device.DefaultManufacturer ||
		e.Product != device.DefaultProduct ||
		e.SerialNumber != device.DefaultSerialNumber {
		t.Errorf("strings = %q %q %q", e.Manufacturer, e.Product, e.SerialNumber)
	}
	if len(e.Endpoints) != 1 || e.Endpoints[0].EndpointAddress != bulkIn {
		t.Errorf("endpoints = %+v", e.Endpoints)
	}
	if !bytes.Equal(e.Configuration, f.stack.Device().ConfigurationDescriptor()) {
		t.Error("configuration descriptor mismatch")
	}

	dev := f.stack.Device()
	eventually(t, "configured", dev.IsConfigured)
	if dev.Address() != loopback.DefaultAddress || f.hal.Address() != loopback.DefaultAddress {
		t.Errorf("address = %d (hal %d)", dev.Address(), f.hal.Address())
	}
	if configured, _ := f.class.state(); !configured {
		t.Error("class not told about configuration")
	}

	ctx, cancel := context.WithTimeout(f.ctx, time.Second)
	defer cancel()
	if err := f.stack.WaitConfigured(ctx); err != nil {
		t.Errorf("WaitConfigured: %v", err)
	}
}

func TestStack_StandardRequests(t *testing.T) {
	f := newFixture(t)
	f.enumerate(t)

	var setup device.SetupPacket
	device.GetConfigurationSetup(&setup)
	if got, err := f.host.Control(f.ctx, hal.SetupPacket(setup), nil); err != nil || !bytes.Equal(got, []byte{1}) {
		t.Errorf("GET_CONFIGURATION = % X, %v", got, err)
	}

	device.GetStatusSetup(&setup, device.RequestRecipientDevice, 0)
	if got, err := f.host.Control(f.ctx, hal.SetupPacket(setup), nil); err != nil || !bytes.Equal(got, []byte{0, 0}) {
		t.Errorf("GET_STATUS = % X, %v", got, err)
	}

	device.GetStatusSetup(&setup, device.RequestRecipientEndpoint, bulkIn)
	if _, err := f.host.Control(f.ctx, hal.SetupPacket(setup), nil); err != nil {
		t.Errorf("GET_STATUS endpoint: %v", err)
	}

	device.GetStatusSetup(&setup, device.RequestRecipientEndpoint, 0x85)
	if _, err := f.host.Control(f.ctx, hal.SetupPacket(setup), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("GET_STATUS unknown endpoint = %v, want stall", err)
	}

	device.GetDescriptorSetup(&setup, device.DescriptorTypeDevice, 0, 0, 8)
	if got, err := f.host.Control(f.ctx, hal.SetupPacket(setup), nil); err != nil || len(got) != 8 {
		t.Errorf("short GET_DESCRIPTOR = %d bytes, %v", len(got), err)
	}

	stalls := []struct {
		name  string
		setup func(*device.SetupPacket)
	}{
		{"device qualifier", func(s *device.SetupPacket) {
			device.GetDescriptorSetup(s, device.DescriptorTypeDeviceQualifier, 0, 0, 10)
		}},
		{"missing string", func(s *device.SetupPacket) {
			device.GetDescriptorSetup(s, device.DescriptorTypeString, 7, device.LangIDUSEnglish, 255)
		}},
		{"bad configuration", func(s *device.SetupPacket) {
			device.SetConfigurationSetup(s, 2)
		}},
		{"vendor request", func(s *device.SetupPacket) {
			*s = device.SetupPacket{RequestType: device.RequestDirectionDeviceToHost | device.RequestTypeVendor, Request: 0x42, Length: 4}
		}},
	}
	for _, tt := range stalls {
		t.Run(tt.name, func(t *testing.T) {
			var s device.SetupPacket
			tt.setup(&s)
			if _, err := f.host.Control(f.ctx, hal.SetupPacket(s), nil); !errors.Is(err, pkg.ErrStall) {
				t.Errorf("got %v, want stall", err)
			}
		})
	}

	// The stack keeps serving after stalls.
	device.GetConfigurationSetup(&setup)
	if _, err := f.host.Control(f.ctx, hal.SetupPacket(setup), nil); err != nil {
		t.Errorf("GET_CONFIGURATION after stalls: %v", err)
	}
}

func TestStack_ClassRequests(t *testing.T) {
	f := newFixture(t)
	f.enumerate(t)

	classIn := func(request uint8) hal.SetupPacket {
		return hal.SetupPacket{
			RequestType: device.RequestDirectionDeviceToHost | device.RequestTypeClass | device.RequestRecipientInterface,
			Request:     request,
			Length:      16,
		}
	}

	got, err := f.host.Control(f.ctx, classIn(0x01), nil)
	if err != nil || !bytes.Equal(got, []byte{0xAB, 0xCD}) {
		t.Errorf("class request = % X, %v", got, err)
	}
	if _, err := f.host.Control(f.ctx, classIn(0x02), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("rejected class request = %v", err)
	}
	if _, err := f.host.Control(f.ctx, classIn(0x03), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("unknown class request = %v", err)
	}
}

func TestStack_SetConfigurationZero(t *testing.T) {
	f := newFixture(t)
	f.enumerate(t)

	var setup device.SetupPacket
	device.SetConfigurationSetup(&setup, 0)
	if _, err := f.host.Control(f.ctx, hal.SetupPacket(setup), nil); err != nil {
		t.Fatalf("SET_CONFIGURATION 0: %v", err)
	}

	dev := f.stack.Device()
	if dev.State() != device.StateAddress || dev.Address() != loopback.DefaultAddress {
		t.Errorf("state = %v address %d", dev.State(), dev.Address())
	}
	if configured, changes := f.class.state(); configured || changes != 2 {
		t.Errorf("class configured=%v changes=%d", configured, changes)
	}
	if _, err := f.stack.Write(f.ctx, bulkIn, []byte("x")); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Write = %v, want ErrNotConfigured", err)
	}
}

func TestStack_WriteReachesHost(t *testing.T) {
	f := newFixture(t)

	if _, err := f.stack.Write(f.ctx, bulkIn, []byte("early")); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Write before configuration = %v", err)
	}

	f.enumerate(t)
	eventually(t, "configured", f.stack.Device().IsConfigured)

	if _, err := f.stack.Write(f.ctx, bulkIn, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := f.host.ReadBulk(f.ctx, bulkIn)
	if err != nil || string(got) != "hello" {
		t.Errorf("ReadBulk = %q, %v", got, err)
	}
}

func TestStack_BusReset(t *testing.T) {
	f := newFixture(t)
	f.enumerate(t)
	dev := f.stack.Device()
	eventually(t, "configured", dev.IsConfigured)

	if err := f.host.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	eventually(t, "default state", func() bool { return dev.State() == device.StateDefault })
	if dev.Address() != 0 {
		t.Errorf("address after reset = %d", dev.Address())
	}
	if configured, _ := f.class.state(); configured {
		t.Error("class still configured after reset")
	}

	// The host can enumerate again.
	f.enumerate(t)
	eventually(t, "configured again", dev.IsConfigured)
}

func TestStack_DetachReattach(t *testing.T) {
	f := newFixture(t)
	f.enumerate(t)
	dev := f.stack.Device()
	eventually(t, "configured", dev.IsConfigured)

	f.host.Detach()
	eventually(t, "detached", func() bool { return dev.State() == device.StateDetached })
	if _, err := f.stack.Write(f.ctx, bulkIn, []byte("x")); !pkg.IsDisconnect(err) {
		t.Errorf("Write after detach = %v", err)
	}

	f.host.Attach()
	f.enumerate(t)
	eventually(t, "configured again", dev.IsConfigured)
	if _, changes := f.class.state(); changes != 3 {
		t.Errorf("class state changes = %d, want 3", changes)
	}
}

func TestStack_Lifecycle(t *testing.T) {
	dev, err := device.NewDevice(device.DefaultConfig(64), &bulkClass{})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	stack := device.NewStack(dev, loopback.New())
	ctx := context.Background()

	if err := stack.Run(ctx); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Run before Start = %v", err)
	}
	if err := stack.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !stack.IsRunning() {
		t.Error("not running after Start")
	}
	if err := stack.Start(ctx); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start = %v", err)
	}
	if err := stack.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := stack.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

var errControllerFault = errors.New("controller fault")

// faultyHAL is a loopback HAL whose controller fails: WaitConnect always
// errors when waitFault is set, ReadSetup always errors otherwise.
type faultyHAL struct {
	*loopback.HAL
	waitFault bool

	mutex sync.Mutex
	reads int
}

func (h *faultyHAL) WaitConnect(ctx context.Context) error {
	if h.waitFault {
		return errControllerFault
	}
	return h.HAL.WaitConnect(ctx)
}

func (h *faultyHAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	if h.waitFault {
		return h.HAL.ReadSetup(ctx, out)
	}
	h.mutex.Lock()
	h.reads++
	h.mutex.Unlock()
	return errControllerFault
}

func runFaulty(t *testing.T, h *faultyHAL) error {
	t.Helper()
	dev, err := device.NewDevice(device.DefaultConfig(64), &bulkClass{})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	stack := device.NewStack(dev, h)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stack.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stack.Stop()

	err = stack.Run(ctx)
	if ctx.Err() != nil {
		t.Fatalf("Run blocked until the deadline")
	}
	if dev.State() != device.StateDetached {
		t.Errorf("state after Run = %v, want Detached", dev.State())
	}
	return err
}

func TestStack_WaitConnectFailure(t *testing.T) {
	err := runFaulty(t, &faultyHAL{HAL: loopback.New(), waitFault: true})
	if !errors.Is(err, errControllerFault) {
		t.Errorf("Run = %v, want %v", err, errControllerFault)
	}
}

func TestStack_ReadSetupFailure(t *testing.T) {
	h := &faultyHAL{HAL: loopback.New()}
	h.Host().Attach()

	start := time.Now()
	err := runFaulty(t, h)
	if !errors.Is(err, errControllerFault) {
		t.Errorf("Run = %v, want %v", err, errControllerFault)
	}
	if h.reads != device.MaxSetupErrors {
		t.Errorf("setup reads = %d, want %d", h.reads, device.MaxSetupErrors)
	}
	if floor := (device.MaxSetupErrors - 1) * device.SetupRetryDelay; time.Since(start) < floor {
		t.Errorf("Run returned after %v, want at least %v between retries", time.Since(start), floor)
	}
}
