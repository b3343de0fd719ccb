package device

import "fmt"

// Fixed sizes.
const (
	// MaxControlDataSize is the largest control data stage handled.
	MaxControlDataSize = 256

	// MaxConfigurationSize is the largest configuration descriptor set
	// a class may contribute.
	MaxConfigurationSize = 256

	// ConfigurationValue is the value of the single configuration.
	ConfigurationValue = 1
)

// String descriptor indices.
const (
	StringIndexLanguage     = 0
	StringIndexManufacturer = 1
	StringIndexProduct      = 2
	StringIndexSerialNumber = 3

	numStrings = 4
)

// Device states (USB 2.0 section 9.1) tracked by the stack.
const (
	StateDetached   State = 0 // No host attached
	StateDefault    State = 1 // Attached or reset, default address
	StateAddress    State = 2 // Address assigned
	StateConfigured State = 3 // Configuration selected, data endpoints live
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
