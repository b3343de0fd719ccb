package hal

import (
	"context"
	"encoding/binary"
)

// EndpointConfig describes an endpoint the HAL must enable when the
// device is configured.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt endpoints
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type bits.
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket is a SETUP packet as delivered by the controller.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into out.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns 8, or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// DeviceHAL is the controller interface the device stack drives.
//
// It covers what a single-function CDC-ACM logger needs: enumeration on
// EP0, one bulk IN data path and connection tracking. Blocking methods
// return ctx.Err() when the context is cancelled and pkg.ErrNoDevice when
// the host goes away.
type DeviceHAL interface {
	// Init initializes the USB controller hardware.
	Init(ctx context.Context) error

	// Start attaches to the bus.
	Start() error

	// Stop detaches from the bus and disables the controller.
	Stop() error

	// SetAddress sets the device address assigned by the host.
	SetAddress(address uint8) error

	// ConfigureEndpoints enables the given data endpoints. nil or empty
	// disables all data endpoints.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// ReadSetup blocks until a SETUP packet arrives. It returns
	// pkg.ErrReset if the host resets the bus.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 sends the IN data stage of a control transfer. An empty
	// data slice sends a zero-length packet.
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 receives the OUT data stage of a control transfer, or the
	// zero-length status stage when buf is empty.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 rejects the current control transfer.
	StallEP0() error

	// AckEP0 sends the zero-length status stage of a control OUT transfer.
	AckEP0() error

	// Write sends one packet on an IN endpoint. It returns
	// pkg.ErrNotConfigured if the endpoint is not enabled.
	Write(ctx context.Context, address uint8, data []byte) (int, error)

	// IsConnected returns true if a host is attached.
	IsConnected() bool

	// WaitConnect blocks until a host is attached.
	WaitConnect(ctx context.Context) error
}
