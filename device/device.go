package device

import (
	"context"
	"sync"

	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/pkg"
)

// ClassHandler is the USB function a Device exposes in its single
// configuration.
type ClassHandler interface {
	// NumInterfaces returns the number of interfaces the function uses.
	NumInterfaces() uint8

	// AppendDescriptors appends the function's descriptors, numbering its
	// interfaces from firstInterface.
	AppendDescriptors(buf []byte, firstInterface uint8) []byte

	// Endpoints returns the data endpoints enabled on SET_CONFIGURATION.
	Endpoints() []hal.EndpointConfig

	// HandleSetup handles a class request. data holds the OUT data stage.
	// The returned slice is the IN data stage and is only read before the
	// next call. handled is false for requests the class does not know.
	HandleSetup(setup *SetupPacket, data []byte) (resp []byte, handled bool, err error)

	// SetConfigured is called when the device enters or leaves the
	// Configured state.
	SetConfigured(configured bool)
}

// Device holds the descriptors and the enumeration state of one device.
type Device struct {
	config Config
	class  ClassHandler

	// Descriptors, built once.
	deviceDesc [DeviceDescriptorSize]byte
	configDesc []byte
	strings    [numStrings][]byte

	mutex         sync.RWMutex
	state         State
	address       uint8
	configuration uint8
	// configured is closed while the device is configured and replaced
	// when it leaves that state.
	configured chan struct{}

	onStateChange func(old, new State)
}

// NewDevice validates cfg and builds the descriptors for class.
func NewDevice(cfg Config, class ClassHandler) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		config:     cfg,
		class:      class,
		state:      StateDetached,
		configured: make(chan struct{}),
	}

	desc := cfg.deviceDescriptor()
	desc.MarshalTo(d.deviceDesc[:])

	buf := make([]byte, ConfigurationDescriptorSize, MaxConfigurationSize)
	buf = class.AppendDescriptors(buf, 0)
	if len(buf) > MaxConfigurationSize {
		return nil, pkg.ErrBufferTooSmall
	}
	head := ConfigurationDescriptor{
		TotalLength:        uint16(len(buf)),
		NumInterfaces:      class.NumInterfaces(),
		ConfigurationValue: ConfigurationValue,
		Attributes:         ConfigAttrBusPowered,
		MaxPower:           uint8(cfg.MaxPower / 2),
	}
	head.MarshalTo(buf)
	d.configDesc = buf

	d.strings[StringIndexLanguage] = stringDescriptor("", true)
	for idx, s := range map[int]string{
		StringIndexManufacturer: cfg.Manufacturer,
		StringIndexProduct:      cfg.Product,
		StringIndexSerialNumber: cfg.SerialNumber,
	} {
		if s != "" {
			d.strings[idx] = stringDescriptor(s, false)
		}
	}

	return d, nil
}

func stringDescriptor(s string, language bool) []byte {
	var buf [255]byte
	var n int
	if language {
		n = LanguageDescriptorTo(buf[:], LangIDUSEnglish)
	} else {
		n = StringDescriptorTo(buf[:], s)
	}
	return append([]byte(nil), buf[:n]...)
}

// Config returns the identification the device was built from.
func (d *Device) Config() Config {
	return d.config
}

// Class returns the device's function.
func (d *Device) Class() ClassHandler {
	return d.class
}

// DeviceDescriptor returns the encoded device descriptor.
func (d *Device) DeviceDescriptor() []byte {
	return d.deviceDesc[:]
}

// ConfigurationDescriptor returns the encoded configuration descriptor
// set, including the class descriptors.
func (d *Device) ConfigurationDescriptor() []byte {
	return d.configDesc
}

// StringDescriptor returns the encoded string descriptor at index, or nil.
func (d *Device) StringDescriptor(index uint8) []byte {
	if int(index) >= len(d.strings) {
		return nil
	}
	return d.strings[index]
}

// SetOnStateChange sets a callback run after every state change.
func (d *Device) SetOnStateChange(cb func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// Address returns the device address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Configuration returns the active configuration value, 0 if none.
func (d *Device) Configuration() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.configuration
}

// IsConfigured returns true in the Configured state.
func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// WaitConfigured blocks until the device is configured.
func (d *Device) WaitConfigured(ctx context.Context) error {
	d.mutex.RLock()
	ch := d.configured
	d.mutex.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setState moves to state with the given address and configuration.
// It reports whether the configured state flipped.
func (d *Device) setState(state State, address, configuration uint8) (flipped bool) {
	d.mutex.Lock()
	old := d.state
	wasConfigured := old == StateConfigured
	d.state = state
	d.address = address
	d.configuration = configuration
	isConfigured := state == StateConfigured
	if isConfigured && !wasConfigured {
		close(d.configured)
	} else if !isConfigured && wasConfigured {
		d.configured = make(chan struct{})
	}
	cb := d.onStateChange
	d.mutex.Unlock()

	if old != state {
		pkg.LogDebug(pkg.ComponentStack, "device state changed",
			"from", old.String(),
			"to", state.String())
		if cb != nil {
			cb(old, state)
		}
	}
	return wasConfigured != isConfigured
}
