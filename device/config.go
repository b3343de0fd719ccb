package device

import (
	"fmt"
	"unicode/utf16"

	"github.com/ardnew/usblog/pkg"
)

// Default identification, used when no Config is supplied.
const (
	DefaultVendorID     = 0xDEF7
	DefaultProductID    = 0xDA7A
	DefaultManufacturer = "micro-rust organization"
	DefaultProduct      = "USB defmt logger"
	DefaultSerialNumber = "314159"
	DefaultMaxPower     = 100
)

// MaxPower is the most a bus-powered device may draw, in mA.
const MaxPower = 500

// Config identifies the device to the host.
type Config struct {
	VendorID       uint16 `yaml:"vendor_id"`
	ProductID      uint16 `yaml:"product_id"`
	DeviceVersion  uint16 `yaml:"device_version"`
	Manufacturer   string `yaml:"manufacturer"`
	Product        string `yaml:"product"`
	SerialNumber   string `yaml:"serial_number"`
	MaxPower       uint16 `yaml:"max_power"`         // mA
	MaxPacketSize0 uint8  `yaml:"max_packet_size_0"` // 8, 16, 32 or 64
}

// DefaultConfig returns the default identification with EP0 sized to
// maxPacketSize.
func DefaultConfig(maxPacketSize int) Config {
	return Config{
		VendorID:       DefaultVendorID,
		ProductID:      DefaultProductID,
		Manufacturer:   DefaultManufacturer,
		Product:        DefaultProduct,
		SerialNumber:   DefaultSerialNumber,
		MaxPower:       DefaultMaxPower,
		MaxPacketSize0: uint8(maxPacketSize),
	}
}

// Validate reports the first field that cannot be put in a descriptor.
func (c *Config) Validate() error {
	switch c.MaxPacketSize0 {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: max_packet_size_0 %d not one of 8, 16, 32, 64",
			pkg.ErrInvalidConfig, c.MaxPacketSize0)
	}
	if c.MaxPower > MaxPower {
		return fmt.Errorf("%w: max_power %d mA exceeds %d mA",
			pkg.ErrInvalidConfig, c.MaxPower, MaxPower)
	}
	for _, f := range []struct{ name, value string }{
		{"manufacturer", c.Manufacturer},
		{"product", c.Product},
		{"serial_number", c.SerialNumber},
	} {
		if n := len(utf16.Encode([]rune(f.value))); n > MaxStringLength {
			return fmt.Errorf("%w: %s is %d UTF-16 units, limit %d",
				pkg.ErrInvalidConfig, f.name, n, MaxStringLength)
		}
	}
	return nil
}

// deviceDescriptor builds the device descriptor for c. The function is
// described by an IAD, so the device uses the miscellaneous class.
func (c *Config) deviceDescriptor() DeviceDescriptor {
	d := DeviceDescriptor{
		USBVersion:        USBVersion,
		DeviceClass:       ClassMisc,
		DeviceSubClass:    MiscSubclassCommon,
		DeviceProtocol:    MiscProtocolIAD,
		MaxPacketSize0:    c.MaxPacketSize0,
		VendorID:          c.VendorID,
		ProductID:         c.ProductID,
		DeviceVersion:     c.DeviceVersion,
		NumConfigurations: 1,
	}
	if c.Manufacturer != "" {
		d.ManufacturerIndex = StringIndexManufacturer
	}
	if c.Product != "" {
		d.ProductIndex = StringIndexProduct
	}
	if c.SerialNumber != "" {
		d.SerialNumberIndex = StringIndexSerialNumber
	}
	return d
}
