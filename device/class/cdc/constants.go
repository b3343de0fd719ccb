package cdc

import "encoding/binary"

// CDC Class-specific descriptor types.
const (
	DescriptorTypeCSInterface = 0x24 // Class-specific Interface
	DescriptorTypeCSEndpoint  = 0x25 // Class-specific Endpoint
)

// CDC Functional Descriptor subtypes.
const (
	SubtypeHeader         = 0x00
	SubtypeCallManagement = 0x01
	SubtypeACM            = 0x02
	SubtypeUnion          = 0x06
)

// CDC Class codes.
const (
	ClassCDC     = 0x02 // Communications Device Class
	ClassCDCData = 0x0A // CDC Data Class
)

// CDC Subclass codes.
const (
	SubclassNone = 0x00
	SubclassACM  = 0x02 // Abstract Control Model
)

// CDC Protocol codes.
const (
	ProtocolNone = 0x00
	ProtocolAT   = 0x01 // AT Commands: V.250
)

// CDCVersion is the CDC release reported in the header descriptor (1.10).
const CDCVersion = 0x0110

// CDC Request codes.
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestGetEncapsulatedResponse = 0x01
	RequestSetLineCoding           = 0x20
	RequestGetLineCoding           = 0x21
	RequestSetControlLineState     = 0x22
	RequestSendBreak               = 0x23
)

// Control line state bits (for SET_CONTROL_LINE_STATE).
const (
	ControlLineDTR = 1 << 0 // Data Terminal Ready
	ControlLineRTS = 1 << 1 // Request To Send
)

// ACM capability bits.
const (
	ACMCapCommFeature = 1 << 0
	ACMCapLineCoding  = 1 << 1 // Set/Get Line Coding and Set Control Line State
	ACMCapSendBreak   = 1 << 2
)

// LineCoding represents the serial line configuration.
type LineCoding struct {
	DTERate    uint32 // Data terminal rate (baud rate)
	CharFormat uint8  // Stop bits: 0=1, 1=1.5, 2=2
	ParityType uint8  // Parity: 0=None, 1=Odd, 2=Even, 3=Mark, 4=Space
	DataBits   uint8  // Data bits: 5, 6, 7, 8, or 16
}

// LineCodingSize is the size of LineCoding in bytes.
const LineCodingSize = 7

// DefaultLineCoding is 115200 8N1.
var DefaultLineCoding = LineCoding{
	DTERate:  115200,
	DataBits: 8,
}

// MarshalTo writes the LineCoding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], lc.DTERate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding parses LineCoding from data.
// Returns false if data is too short.
func ParseLineCoding(data []byte, out *LineCoding) bool {
	if len(data) < LineCodingSize {
		return false
	}
	out.DTERate = binary.LittleEndian.Uint32(data[0:4])
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return true
}

// Functional descriptor sizes.
const (
	HeaderDescriptorSize         = 5
	CallManagementDescriptorSize = 5
	ACMDescriptorSize            = 4
	UnionDescriptorSize          = 5
)

// appendFunctional appends the header, call management, ACM and union
// functional descriptors for a control interface comm and data
// interface data.
func appendFunctional(buf []byte, comm, data uint8) []byte {
	buf = append(buf,
		HeaderDescriptorSize, DescriptorTypeCSInterface, SubtypeHeader,
		byte(CDCVersion&0xFF), byte(CDCVersion>>8))
	buf = append(buf,
		CallManagementDescriptorSize, DescriptorTypeCSInterface, SubtypeCallManagement,
		0x00, data)
	buf = append(buf,
		ACMDescriptorSize, DescriptorTypeCSInterface, SubtypeACM,
		ACMCapLineCoding)
	buf = append(buf,
		UnionDescriptorSize, DescriptorTypeCSInterface, SubtypeUnion,
		comm, data)
	return buf
}
