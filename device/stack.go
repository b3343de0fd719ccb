package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/pkg"
)

// Consecutive ReadSetup failures the control loop tolerates before giving
// up, and the pause between them.
const (
	MaxSetupErrors  = 8
	SetupRetryDelay = 10 * time.Millisecond
)

// Stack runs enumeration for a Device on a HAL.
type Stack struct {
	device *Device
	hal    hal.DeviceHAL

	mutex   sync.Mutex
	running bool

	// Control loop state, only touched by Run.
	setupBuf       hal.SetupPacket
	ep0Buf         [MaxControlDataSize]byte
	responseBuf    [MaxControlDataSize]byte
	pendingAddress uint8
	addressPending bool
}

// NewStack creates a device stack.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	return &Stack{
		device: dev,
		hal:    h,
	}
}

// Device returns the underlying device.
func (s *Stack) Device() *Device {
	return s.device
}

// Start initializes the HAL and attaches to the bus.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.running {
		return pkg.ErrAlreadyRunning
	}

	if err := s.hal.Init(ctx); err != nil {
		return err
	}
	if err := s.hal.Start(); err != nil {
		return err
	}
	s.running = true

	pkg.LogDebug(pkg.ComponentStack, "device stack started")
	return nil
}

// Stop detaches from the bus.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	s.mutex.Unlock()

	s.leave(StateDetached)
	if err := s.hal.Stop(); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// IsRunning returns true between Start and Stop.
func (s *Stack) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

// Run services control transfers on EP0 until ctx is cancelled, then
// returns ctx.Err(). Host detach and bus reset unconfigure the device and
// the loop carries on with the next connection. A HAL failure while
// waiting for the host, or MaxSetupErrors consecutive setup read failures,
// end the loop with that error.
func (s *Stack) Run(ctx context.Context) error {
	if !s.IsRunning() {
		return pkg.ErrNotRunning
	}
	defer s.leave(StateDetached)

	failures := 0
	for {
		if !s.hal.IsConnected() {
			s.leave(StateDetached)
			if err := s.hal.WaitConnect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("wait for host: %w", err)
			}
		}
		if s.device.State() == StateDetached {
			s.device.setState(StateDefault, 0, 0)
			pkg.LogInfo(pkg.ComponentStack, "host attached")
		}

		if err := s.hal.ReadSetup(ctx, &s.setupBuf); err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, pkg.ErrReset):
				pkg.LogDebug(pkg.ComponentStack, "bus reset")
				s.leave(StateDefault)
			case errors.Is(err, pkg.ErrNoDevice):
				pkg.LogInfo(pkg.ComponentStack, "host detached")
				s.leave(StateDetached)
			default:
				failures++
				pkg.LogWarn(pkg.ComponentStack, "error reading setup",
					"error", err,
					"failures", failures)
				if failures >= MaxSetupErrors {
					return fmt.Errorf("read setup: %w", err)
				}
				if err := sleep(ctx, SetupRetryDelay); err != nil {
					return err
				}
				continue
			}
			failures = 0
			continue
		}
		failures = 0

		setup := (*SetupPacket)(&s.setupBuf)
		if err := s.handleSetup(ctx, setup); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if pkg.IsDisconnect(err) {
				continue
			}
			pkg.LogDebug(pkg.ComponentStack, "request rejected",
				"error", err,
				"request", setup.String())
			if err := s.hal.StallEP0(); err != nil {
				pkg.LogWarn(pkg.ComponentStack, "stall failed", "error", err)
			}
		}
	}
}

// handleSetup runs one control transfer through its data and status
// stages.
func (s *Stack) handleSetup(ctx context.Context, setup *SetupPacket) error {
	pkg.LogDebug(pkg.ComponentStack, "setup received",
		"request", setup.String())

	var data []byte
	if !setup.IsDeviceToHost() && setup.Length > 0 {
		if int(setup.Length) > len(s.ep0Buf) {
			return pkg.ErrBufferTooSmall
		}
		n, err := s.hal.ReadEP0(ctx, s.ep0Buf[:setup.Length])
		if err != nil {
			return err
		}
		data = s.ep0Buf[:n]
	}

	var resp []byte
	var err error
	switch {
	case setup.IsStandard():
		resp, err = s.handleStandard(setup)
	case setup.IsClass() && setup.Recipient() == RequestRecipientInterface:
		var handled bool
		resp, handled, err = s.device.class.HandleSetup(setup, data)
		if !handled && err == nil {
			err = pkg.ErrInvalidRequest
		}
	default:
		err = pkg.ErrInvalidRequest
	}
	if err != nil {
		s.addressPending = false
		return err
	}

	return s.completeSetup(ctx, setup, resp)
}

// completeSetup sends the IN data stage, if any, and the status stage.
func (s *Stack) completeSetup(ctx context.Context, setup *SetupPacket, resp []byte) error {
	if setup.IsDeviceToHost() {
		if len(resp) > int(setup.Length) {
			resp = resp[:setup.Length]
		}
		if err := s.hal.WriteEP0(ctx, resp); err != nil {
			return err
		}
		_, err := s.hal.ReadEP0(ctx, s.ep0Buf[:0])
		return err
	}

	if err := s.hal.AckEP0(); err != nil {
		return err
	}

	// The new address applies once the status stage is done.
	if s.addressPending {
		s.addressPending = false
		if err := s.hal.SetAddress(s.pendingAddress); err != nil {
			return err
		}
		state := StateAddress
		if s.pendingAddress == 0 {
			state = StateDefault
		}
		s.device.setState(state, s.pendingAddress, 0)
	}
	return nil
}

// leave moves to a non-configured state, tearing down the data endpoints
// if the device was configured.
func (s *Stack) leave(state State) {
	address := uint8(0)
	if state == StateAddress {
		address = s.device.Address()
	}
	if !s.device.setState(state, address, 0) {
		return
	}
	s.device.class.SetConfigured(false)
	if err := s.hal.ConfigureEndpoints(nil); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "disable endpoints failed", "error", err)
	}
}

// configure enters the Configured state.
func (s *Stack) configure() error {
	if err := s.hal.ConfigureEndpoints(s.device.class.Endpoints()); err != nil {
		return err
	}
	if s.device.setState(StateConfigured, s.device.Address(), ConfigurationValue) {
		s.device.class.SetConfigured(true)
		pkg.LogInfo(pkg.ComponentStack, "device configured",
			"address", s.device.Address())
	}
	return nil
}

// Write sends one packet on an IN endpoint. It fails with
// pkg.ErrNotConfigured unless the device is configured.
func (s *Stack) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	return s.hal.Write(ctx, address, data)
}

// WaitConfigured blocks until the host configures the device.
func (s *Stack) WaitConfigured(ctx context.Context) error {
	return s.device.WaitConfigured(ctx)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
