package loopback

import (
	"context"
	"sync"

	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/pkg"
)

// DefaultQueueDepth is the number of bulk IN packets buffered per endpoint
// before device writes block.
const DefaultQueueDepth = 16

// ep0Event is what the device answers a control stage with.
type ep0Event struct {
	data  []byte
	stall bool
}

// session is the channel set of one attachment.
type session struct {
	gone     chan struct{}
	setup    chan hal.SetupPacket
	reset    chan struct{}
	toHost   chan ep0Event
	toDevice chan []byte
}

func newSession() *session {
	return &session{
		gone:     make(chan struct{}),
		setup:    make(chan hal.SetupPacket),
		reset:    make(chan struct{}, 1),
		toHost:   make(chan ep0Event, 1),
		toDevice: make(chan []byte, 1),
	}
}

// endpoint is an enabled IN endpoint.
type endpoint struct {
	config   hal.EndpointConfig
	packets  chan []byte
	disabled chan struct{}
}

// HAL implements hal.DeviceHAL in memory.
type HAL struct {
	queueDepth int

	mutex    sync.Mutex
	started  bool
	sess     *session // nil while detached
	attached chan struct{}
	address  uint8
	eps      map[uint8]*endpoint
}

// Option configures a HAL.
type Option func(*HAL)

// WithQueueDepth sets how many bulk IN packets each endpoint buffers.
func WithQueueDepth(n int) Option {
	return func(h *HAL) {
		if n > 0 {
			h.queueDepth = n
		}
	}
}

// New creates a detached loopback HAL.
func New(opts ...Option) *HAL {
	h := &HAL{
		queueDepth: DefaultQueueDepth,
		attached:   make(chan struct{}),
		eps:        make(map[uint8]*endpoint),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Host returns the host-side handle.
func (h *HAL) Host() *Host {
	return &Host{h: h}
}

// Init implements hal.DeviceHAL.
func (h *HAL) Init(ctx context.Context) error {
	return ctx.Err()
}

// Start implements hal.DeviceHAL.
func (h *HAL) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.started {
		return pkg.ErrAlreadyRunning
	}
	h.started = true
	pkg.LogDebug(pkg.ComponentHAL, "loopback started")
	return nil
}

// Stop implements hal.DeviceHAL. It detaches any host.
func (h *HAL) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.started = false
	h.detachLocked()
	pkg.LogDebug(pkg.ComponentHAL, "loopback stopped")
	return nil
}

// SetAddress implements hal.DeviceHAL.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.address = address
	return nil
}

// Address returns the address last set by the device.
func (h *HAL) Address() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.address
}

// ConfigureEndpoints implements hal.DeviceHAL. Only IN endpoints carry
// data; OUT endpoints are accepted and ignored.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.disableEndpointsLocked()
	for _, cfg := range endpoints {
		if !cfg.IsIn() {
			continue
		}
		h.eps[cfg.Address] = &endpoint{
			config:   cfg,
			packets:  make(chan []byte, h.queueDepth),
			disabled: make(chan struct{}),
		}
	}
	return nil
}

func (h *HAL) disableEndpointsLocked() {
	for addr, ep := range h.eps {
		close(ep.disabled)
		delete(h.eps, addr)
	}
}

// current returns the live session.
func (h *HAL) current() (*session, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.sess == nil {
		return nil, pkg.ErrNoDevice
	}
	return h.sess, nil
}

// ReadSetup implements hal.DeviceHAL.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	s, err := h.current()
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.gone:
		return pkg.ErrNoDevice
	case <-s.reset:
		return pkg.ErrReset
	case p := <-s.setup:
		*out = p
		return nil
	}
}

// WriteEP0 implements hal.DeviceHAL.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	return h.answer(ctx, ep0Event{data: append([]byte{}, data...)})
}

// ReadEP0 implements hal.DeviceHAL.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	s, err := h.current()
	if err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.gone:
		return 0, pkg.ErrNoDevice
	case p := <-s.toDevice:
		return copy(buf, p), nil
	}
}

// StallEP0 implements hal.DeviceHAL.
func (h *HAL) StallEP0() error {
	return h.answer(context.Background(), ep0Event{stall: true})
}

// AckEP0 implements hal.DeviceHAL.
func (h *HAL) AckEP0() error {
	return h.answer(context.Background(), ep0Event{})
}

func (h *HAL) answer(ctx context.Context, ev ep0Event) error {
	s, err := h.current()
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.gone:
		return pkg.ErrNoDevice
	case s.toHost <- ev:
		return nil
	}
}

// Write implements hal.DeviceHAL. The packet is queued for the host; Write
// blocks while the endpoint queue is full.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	h.mutex.Lock()
	s := h.sess
	ep := h.eps[address]
	h.mutex.Unlock()

	if s == nil {
		return 0, pkg.ErrNoDevice
	}
	if ep == nil {
		return 0, pkg.ErrNotConfigured
	}
	if len(data) > int(ep.config.MaxPacketSize) {
		return 0, pkg.ErrBufferTooSmall
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.gone:
		return 0, pkg.ErrNoDevice
	case <-ep.disabled:
		return 0, pkg.ErrNotConfigured
	case ep.packets <- append([]byte{}, data...):
		return len(data), nil
	}
}

// IsConnected implements hal.DeviceHAL.
func (h *HAL) IsConnected() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.sess != nil
}

// WaitConnect implements hal.DeviceHAL.
func (h *HAL) WaitConnect(ctx context.Context) error {
	h.mutex.Lock()
	ch := h.attached
	h.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// attach starts a new session.
func (h *HAL) attach() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.sess != nil {
		return
	}
	h.sess = newSession()
	h.address = 0
	close(h.attached)
	pkg.LogDebug(pkg.ComponentHAL, "loopback attached")
}

// detachLocked ends the session.
func (h *HAL) detachLocked() {
	if h.sess == nil {
		return
	}
	close(h.sess.gone)
	h.sess = nil
	h.attached = make(chan struct{})
	h.address = 0
	h.disableEndpointsLocked()
	pkg.LogDebug(pkg.ComponentHAL, "loopback detached")
}

var _ hal.DeviceHAL = (*HAL)(nil)
