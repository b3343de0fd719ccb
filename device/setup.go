package device

import (
	"fmt"

	"github.com/ardnew/usblog/device/hal"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
)

// Request type masks (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeRecipientMask = 0x1F
)

// Request type direction values.
const (
	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80
)

// Request type values.
const (
	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40
)

// Request recipient values.
const (
	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
	RequestRecipientOther     = 0x03
)

// SetupPacket is an 8-byte USB SETUP packet.
type SetupPacket hal.SetupPacket

// Direction returns the transfer direction bit.
func (s *SetupPacket) Direction() uint8 {
	return s.RequestType & RequestTypeDirectionMask
}

// IsDeviceToHost returns true if the data stage, if any, is IN.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.Direction() == RequestDirectionDeviceToHost
}

// Type returns the request type (Standard, Class, or Vendor).
func (s *SetupPacket) Type() uint8 {
	return s.RequestType & RequestTypeTypeMask
}

// IsStandard returns true if this is a standard request.
func (s *SetupPacket) IsStandard() bool {
	return s.Type() == RequestTypeStandard
}

// IsClass returns true if this is a class-specific request.
func (s *SetupPacket) IsClass() bool {
	return s.Type() == RequestTypeClass
}

// Recipient returns the request recipient.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// DescriptorType returns the descriptor type from wValue high byte.
func (s *SetupPacket) DescriptorType() uint8 {
	return uint8(s.Value >> 8)
}

// DescriptorIndex returns the descriptor index from wValue low byte.
func (s *SetupPacket) DescriptorIndex() uint8 {
	return uint8(s.Value & 0xFF)
}

// InterfaceNumber returns the interface number from wIndex.
func (s *SetupPacket) InterfaceNumber() uint8 {
	return uint8(s.Index & 0xFF)
}

// EndpointAddress returns the endpoint address from wIndex.
func (s *SetupPacket) EndpointAddress() uint8 {
	return uint8(s.Index & 0xFF)
}

// String returns a human-readable representation of the setup packet.
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	reqType := "Standard"
	switch s.Type() {
	case RequestTypeClass:
		reqType = "Class"
	case RequestTypeVendor:
		reqType = "Vendor"
	}
	recip := "Device"
	switch s.Recipient() {
	case RequestRecipientInterface:
		recip = "Interface"
	case RequestRecipientEndpoint:
		recip = "Endpoint"
	case RequestRecipientOther:
		recip = "Other"
	}
	return fmt.Sprintf("SETUP[%s %s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		dir, reqType, recip, s.Request, s.Value, s.Index, s.Length)
}

// The functions below fill in the SETUP packets a host sends during
// enumeration.

// GetDescriptorSetup initializes out as a GET_DESCRIPTOR setup packet.
func GetDescriptorSetup(out *SetupPacket, descType, descIndex uint8, langID, length uint16) {
	out.RequestType = RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice
	out.Request = RequestGetDescriptor
	out.Value = uint16(descType)<<8 | uint16(descIndex)
	out.Index = langID
	out.Length = length
}

// SetAddressSetup initializes out as a SET_ADDRESS setup packet.
func SetAddressSetup(out *SetupPacket, address uint8) {
	out.RequestType = RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice
	out.Request = RequestSetAddress
	out.Value = uint16(address)
	out.Index = 0
	out.Length = 0
}

// SetConfigurationSetup initializes out as a SET_CONFIGURATION setup packet.
func SetConfigurationSetup(out *SetupPacket, config uint8) {
	out.RequestType = RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice
	out.Request = RequestSetConfiguration
	out.Value = uint16(config)
	out.Index = 0
	out.Length = 0
}

// GetConfigurationSetup initializes out as a GET_CONFIGURATION setup packet.
func GetConfigurationSetup(out *SetupPacket) {
	out.RequestType = RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice
	out.Request = RequestGetConfiguration
	out.Value = 0
	out.Index = 0
	out.Length = 1
}

// GetStatusSetup initializes out as a GET_STATUS setup packet.
func GetStatusSetup(out *SetupPacket, recipient uint8, index uint16) {
	out.RequestType = RequestDirectionDeviceToHost | RequestTypeStandard | recipient
	out.Request = RequestGetStatus
	out.Value = 0
	out.Index = index
	out.Length = 2
}
