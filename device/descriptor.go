package device

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/ardnew/usblog/pkg"
)

// USB Descriptor Types (USB 2.0 Spec Table 9-5).
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeInterfaceAssociation = 0x0B
)

// USB Class Codes used by the stack.
const (
	ClassPerInterface = 0x00 // Class defined at interface level
	ClassMisc         = 0xEF // Miscellaneous, used with IADs
)

// Miscellaneous class subclass and protocol selecting IAD semantics.
const (
	MiscSubclassCommon = 0x02
	MiscProtocolIAD    = 0x01
)

// Endpoint transfer types (bmAttributes bits 1:0).
const (
	EndpointTypeControl     = 0x00
	EndpointTypeIsochronous = 0x01
	EndpointTypeBulk        = 0x02
	EndpointTypeInterrupt   = 0x03
)

// EndpointDirectionIn is the direction bit of an IN endpoint address.
const EndpointDirectionIn = 0x80

// USBVersion is the bcdUSB reported in the device descriptor.
const USBVersion = 0x0200

// DeviceDescriptor represents a USB device descriptor (18 bytes).
type DeviceDescriptor struct {
	USBVersion        uint16 // USB specification version (BCD)
	DeviceClass       uint8  // Class code
	DeviceSubClass    uint8  // Subclass code
	DeviceProtocol    uint8  // Protocol code
	MaxPacketSize0    uint8  // Max packet size for EP0
	VendorID          uint16 // Vendor ID
	ProductID         uint16 // Product ID
	DeviceVersion     uint16 // Device release number (BCD)
	ManufacturerIndex uint8  // Index of manufacturer string
	ProductIndex      uint8  // Index of product string
	SerialNumberIndex uint8  // Index of serial number string
	NumConfigurations uint8  // Number of configurations
}

// DeviceDescriptorSize is the size of a device descriptor in bytes.
const DeviceDescriptorSize = 18

// MarshalTo serializes the device descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:4], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor parses a device descriptor from data into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if len(data) < DeviceDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeDevice {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.USBVersion = binary.LittleEndian.Uint16(data[2:4])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = binary.LittleEndian.Uint16(data[8:10])
	out.ProductID = binary.LittleEndian.Uint16(data[10:12])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:14])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

// ConfigurationDescriptor represents a USB configuration descriptor (9 bytes).
type ConfigurationDescriptor struct {
	TotalLength        uint16 // Total length of configuration data
	NumInterfaces      uint8  // Number of interfaces
	ConfigurationValue uint8  // Value for SET_CONFIGURATION
	ConfigurationIndex uint8  // Index of string descriptor
	Attributes         uint8  // Configuration attributes
	MaxPower           uint8  // Maximum power consumption (2mA units)
}

// Configuration attribute bits.
const (
	ConfigAttrBusPowered   = 0x80 // Reserved, must be set
	ConfigAttrSelfPowered  = 0x40 // Self-powered
	ConfigAttrRemoteWakeup = 0x20 // Remote wakeup capable
)

// ConfigurationDescriptorSize is the size of a configuration descriptor in bytes.
const ConfigurationDescriptorSize = 9

// MarshalTo serializes the configuration descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	buf[0] = ConfigurationDescriptorSize
	buf[1] = DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(buf[2:4], c.TotalLength)
	buf[4] = c.NumInterfaces
	buf[5] = c.ConfigurationValue
	buf[6] = c.ConfigurationIndex
	buf[7] = c.Attributes
	buf[8] = c.MaxPower
	return ConfigurationDescriptorSize
}

// ParseConfigurationDescriptor parses the header of a configuration
// descriptor set from data into out.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	if len(data) < ConfigurationDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeConfiguration {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.TotalLength = binary.LittleEndian.Uint16(data[2:4])
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return nil
}

// InterfaceDescriptor represents a USB interface descriptor (9 bytes).
type InterfaceDescriptor struct {
	InterfaceNumber   uint8 // Interface number
	AlternateSetting  uint8 // Alternate setting number
	NumEndpoints      uint8 // Number of endpoints (excluding EP0)
	InterfaceClass    uint8 // Class code
	InterfaceSubClass uint8 // Subclass code
	InterfaceProtocol uint8 // Protocol code
	InterfaceIndex    uint8 // Index of string descriptor
}

// InterfaceDescriptorSize is the size of an interface descriptor in bytes.
const InterfaceDescriptorSize = 9

// AppendTo appends the descriptor to buf.
func (i *InterfaceDescriptor) AppendTo(buf []byte) []byte {
	return append(buf,
		InterfaceDescriptorSize,
		DescriptorTypeInterface,
		i.InterfaceNumber,
		i.AlternateSetting,
		i.NumEndpoints,
		i.InterfaceClass,
		i.InterfaceSubClass,
		i.InterfaceProtocol,
		i.InterfaceIndex,
	)
}

// EndpointDescriptor represents a USB endpoint descriptor (7 bytes).
type EndpointDescriptor struct {
	EndpointAddress uint8  // Endpoint address (including direction)
	Attributes      uint8  // Transfer type
	MaxPacketSize   uint16 // Maximum packet size
	Interval        uint8  // Polling interval
}

// EndpointDescriptorSize is the size of an endpoint descriptor in bytes.
const EndpointDescriptorSize = 7

// AppendTo appends the descriptor to buf.
func (e *EndpointDescriptor) AppendTo(buf []byte) []byte {
	return append(buf,
		EndpointDescriptorSize,
		DescriptorTypeEndpoint,
		e.EndpointAddress,
		e.Attributes,
		byte(e.MaxPacketSize),
		byte(e.MaxPacketSize>>8),
		e.Interval,
	)
}

// InterfaceAssociationDescriptor groups the interfaces of one function
// (8 bytes).
type InterfaceAssociationDescriptor struct {
	FirstInterface   uint8 // First interface number
	InterfaceCount   uint8 // Number of contiguous interfaces
	FunctionClass    uint8 // Class code
	FunctionSubClass uint8 // Subclass code
	FunctionProtocol uint8 // Protocol code
	FunctionIndex    uint8 // Index of string descriptor
}

// IADSize is the size of an interface association descriptor in bytes.
const IADSize = 8

// AppendTo appends the descriptor to buf.
func (i *InterfaceAssociationDescriptor) AppendTo(buf []byte) []byte {
	return append(buf,
		IADSize,
		DescriptorTypeInterfaceAssociation,
		i.FirstInterface,
		i.InterfaceCount,
		i.FunctionClass,
		i.FunctionSubClass,
		i.FunctionProtocol,
		i.FunctionIndex,
	)
}

// MaxStringLength is the longest string, in UTF-16 code units, that fits
// in a string descriptor.
const MaxStringLength = (255 - 2) / 2

// StringDescriptorTo writes s as a UTF-16LE string descriptor to buf.
// Strings longer than MaxStringLength code units are truncated.
// Returns the number of bytes written, or 0 if buf is too small.
func StringDescriptorTo(buf []byte, s string) int {
	units := utf16.Encode([]rune(s))
	if len(units) > MaxStringLength {
		units = units[:MaxStringLength]
	}
	length := 2 + len(units)*2
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2+i*2:], u)
	}
	return length
}

// LanguageDescriptorTo writes the language ID string descriptor (index 0)
// to buf. Returns the number of bytes written, or 0 if buf is too small.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	length := 2 + len(langIDs)*2
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+i*2:], id)
	}
	return length
}

// ParseStringDescriptor decodes a UTF-16LE string descriptor.
func ParseStringDescriptor(data []byte) (string, error) {
	if len(data) < 2 || int(data[0]) > len(data) || data[0] < 2 {
		return "", pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeString {
		return "", pkg.ErrDescriptorTypeMismatch
	}
	n := (int(data[0]) - 2) / 2
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(data[2+i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// ParseEndpointDescriptors walks a configuration descriptor set and
// returns its endpoint descriptors in order.
func ParseEndpointDescriptors(data []byte) ([]EndpointDescriptor, error) {
	var eps []EndpointDescriptor
	for len(data) > 0 {
		if len(data) < 2 || data[0] < 2 || int(data[0]) > len(data) {
			return nil, pkg.ErrDescriptorTooShort
		}
		if data[1] == DescriptorTypeEndpoint {
			if data[0] < EndpointDescriptorSize {
				return nil, pkg.ErrDescriptorTooShort
			}
			eps = append(eps, EndpointDescriptor{
				EndpointAddress: data[2],
				Attributes:      data[3],
				MaxPacketSize:   binary.LittleEndian.Uint16(data[4:6]),
				Interval:        data[6],
			})
		}
		data = data[data[0]:]
	}
	return eps, nil
}
