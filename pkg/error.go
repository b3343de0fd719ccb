package pkg

import "errors"

// Transport errors reported by the USB device stack.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates a NAK response (device busy).
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrNoDevice indicates the device is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrDescriptorTooShort indicates descriptor data is shorter than its
	// declared or minimum length.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates descriptor data carries an
	// unexpected descriptor type.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrAlreadyRunning indicates the stack is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the stack is not running.
	ErrNotRunning = errors.New("not running")
)

// Logger transport errors.
var (
	// ErrEndpointDisabled indicates the bulk endpoint was disabled or
	// detached while sending. The drain task treats it as a disconnect.
	ErrEndpointDisabled = errors.New("endpoint disabled")

	// ErrPacketTooLarge indicates a packet exceeded the negotiated maximum
	// packet size. The drain task always chunks to that size, so seeing
	// this error is a logic error.
	ErrPacketTooLarge = errors.New("packet exceeds max packet size")

	// ErrReentrantAcquire indicates the frame encoder was acquired while
	// already held.
	ErrReentrantAcquire = errors.New("logger acquired reentrantly")

	// ErrReleaseWithoutAcquire indicates the frame encoder was released
	// without a matching acquire.
	ErrReleaseWithoutAcquire = errors.New("logger released outside of critical section")

	// ErrFrameCorrupt indicates a received frame failed to decode.
	ErrFrameCorrupt = errors.New("frame corrupt")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidConfig indicates a configuration value failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// IsDisconnect reports whether err means the host is gone: the endpoint
// was disabled, the device was detached or unconfigured, or the bus was
// reset. Buffered data cannot survive any of these.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrEndpointDisabled) ||
		errors.Is(err, ErrNoDevice) ||
		errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrReset)
}
