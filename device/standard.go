package device

import (
	"github.com/ardnew/usblog/pkg"
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
)

// handleStandard processes a standard request. The returned slice is the
// IN data stage.
func (s *Stack) handleStandard(setup *SetupPacket) ([]byte, error) {
	switch setup.Recipient() {
	case RequestRecipientDevice:
		return s.handleDeviceRequest(setup)
	case RequestRecipientInterface:
		return s.handleInterfaceRequest(setup)
	case RequestRecipientEndpoint:
		return s.handleEndpointRequest(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (s *Stack) handleDeviceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		// Bus powered, no remote wakeup.
		return s.zeroStatus(), nil
	case RequestClearFeature, RequestSetFeature:
		return nil, pkg.ErrNotSupported
	case RequestSetAddress:
		return s.setAddress(setup)
	case RequestGetDescriptor:
		return s.getDescriptor(setup)
	case RequestGetConfiguration:
		s.responseBuf[0] = s.device.Configuration()
		return s.responseBuf[:1], nil
	case RequestSetConfiguration:
		return nil, s.setConfiguration(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (s *Stack) handleInterfaceRequest(setup *SetupPacket) ([]byte, error) {
	if !s.device.IsConfigured() || setup.InterfaceNumber() >= s.device.class.NumInterfaces() {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Request {
	case RequestGetStatus:
		return s.zeroStatus(), nil
	case RequestGetInterface:
		s.responseBuf[0] = 0
		return s.responseBuf[:1], nil
	case RequestSetInterface:
		// Only alternate setting 0 exists.
		if setup.Value != 0 {
			return nil, pkg.ErrNotSupported
		}
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (s *Stack) handleEndpointRequest(setup *SetupPacket) ([]byte, error) {
	addr := setup.EndpointAddress()
	if addr&0x0F != 0 && !s.hasEndpoint(addr) {
		return nil, pkg.ErrInvalidEndpoint
	}

	switch setup.Request {
	case RequestGetStatus:
		return s.zeroStatus(), nil
	case RequestClearFeature:
		if setup.Value != FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

// hasEndpoint reports whether addr is a data endpoint of the active
// configuration.
func (s *Stack) hasEndpoint(addr uint8) bool {
	if !s.device.IsConfigured() {
		return false
	}
	for _, ep := range s.device.class.Endpoints() {
		if ep.Address == addr {
			return true
		}
	}
	return false
}

func (s *Stack) zeroStatus() []byte {
	s.responseBuf[0] = 0
	s.responseBuf[1] = 0
	return s.responseBuf[:2]
}

// setAddress records the address. It is applied after the status stage.
func (s *Stack) setAddress(setup *SetupPacket) ([]byte, error) {
	if setup.Value > 127 || s.device.IsConfigured() {
		return nil, pkg.ErrInvalidRequest
	}
	s.pendingAddress = uint8(setup.Value)
	s.addressPending = true
	return nil, nil
}

// getDescriptor handles GET_DESCRIPTOR.
func (s *Stack) getDescriptor(setup *SetupPacket) ([]byte, error) {
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		return s.device.DeviceDescriptor(), nil

	case DescriptorTypeConfiguration:
		if setup.DescriptorIndex() != 0 {
			return nil, pkg.ErrInvalidRequest
		}
		return s.device.ConfigurationDescriptor(), nil

	case DescriptorTypeString:
		data := s.device.StringDescriptor(setup.DescriptorIndex())
		if data == nil {
			return nil, pkg.ErrInvalidRequest
		}
		return data, nil

	case DescriptorTypeDeviceQualifier:
		// Full speed only.
		return nil, pkg.ErrNotSupported

	default:
		return nil, pkg.ErrInvalidRequest
	}
}

// setConfiguration handles SET_CONFIGURATION.
func (s *Stack) setConfiguration(setup *SetupPacket) error {
	state := s.device.State()
	if state != StateAddress && state != StateConfigured {
		return pkg.ErrInvalidRequest
	}

	switch setup.Value {
	case 0:
		s.leave(StateAddress)
		return nil
	case ConfigurationValue:
		return s.configure()
	default:
		return pkg.ErrInvalidRequest
	}
}
