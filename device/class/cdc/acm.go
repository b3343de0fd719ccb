package cdc

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/pkg"
)

// Endpoint addresses used by the function.
const (
	NotifyEndpoint  = 0x81 // Interrupt IN
	DataOutEndpoint = 0x02 // Bulk OUT
	DataInEndpoint  = 0x82 // Bulk IN
)

// Notification endpoint parameters.
const (
	notifyPacketSize = 8
	notifyInterval   = 255
)

// Logger is a CDC-ACM function whose bulk IN endpoint carries the log.
// It implements device.ClassHandler and drain.Transport.
type Logger struct {
	maxPacketSize uint16
	endpoints     [3]hal.EndpointConfig

	mutex        sync.RWMutex
	stack        *device.Stack
	lineCoding   LineCoding
	controlState uint16

	// Callbacks
	onLineCodingChange   func(*LineCoding)
	onControlStateChange func(dtr, rts bool)

	responseBuf [LineCodingSize]byte
}

// NewLogger creates the function with bulk endpoints of maxPacketSize
// bytes. Full-speed bulk endpoints allow 8, 16, 32 or 64.
func NewLogger(maxPacketSize int) *Logger {
	size := uint16(maxPacketSize)
	return &Logger{
		maxPacketSize: size,
		lineCoding:    DefaultLineCoding,
		endpoints: [3]hal.EndpointConfig{
			{Address: NotifyEndpoint, Attributes: device.EndpointTypeInterrupt, MaxPacketSize: notifyPacketSize, Interval: notifyInterval},
			{Address: DataOutEndpoint, Attributes: device.EndpointTypeBulk, MaxPacketSize: size},
			{Address: DataInEndpoint, Attributes: device.EndpointTypeBulk, MaxPacketSize: size},
		},
	}
}

// SetStack sets the device stack packets are written through.
func (l *Logger) SetStack(stack *device.Stack) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.stack = stack
}

// SetOnLineCodingChange sets the callback for line coding changes.
func (l *Logger) SetOnLineCodingChange(cb func(*LineCoding)) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.onLineCodingChange = cb
}

// SetOnControlStateChange sets the callback for control line state changes.
func (l *Logger) SetOnControlStateChange(cb func(dtr, rts bool)) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.onControlStateChange = cb
}

// LineCoding returns the line coding last set by the host.
func (l *Logger) LineCoding() LineCoding {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.lineCoding
}

// DTR returns the Data Terminal Ready state.
func (l *Logger) DTR() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.controlState&ControlLineDTR != 0
}

// RTS returns the Request To Send state.
func (l *Logger) RTS() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.controlState&ControlLineRTS != 0
}

// NumInterfaces implements device.ClassHandler.
func (l *Logger) NumInterfaces() uint8 {
	return 2
}

// AppendDescriptors implements device.ClassHandler.
func (l *Logger) AppendDescriptors(buf []byte, first uint8) []byte {
	comm, data := first, first+1

	iad := device.InterfaceAssociationDescriptor{
		FirstInterface:   comm,
		InterfaceCount:   2,
		FunctionClass:    ClassCDC,
		FunctionSubClass: SubclassACM,
		FunctionProtocol: ProtocolNone,
	}
	buf = iad.AppendTo(buf)

	commIface := device.InterfaceDescriptor{
		InterfaceNumber:   comm,
		NumEndpoints:      1,
		InterfaceClass:    ClassCDC,
		InterfaceSubClass: SubclassACM,
		InterfaceProtocol: ProtocolNone,
	}
	buf = commIface.AppendTo(buf)
	buf = appendFunctional(buf, comm, data)
	buf = endpointDescriptor(&l.endpoints[0]).AppendTo(buf)

	dataIface := device.InterfaceDescriptor{
		InterfaceNumber: data,
		NumEndpoints:    2,
		InterfaceClass:  ClassCDCData,
	}
	buf = dataIface.AppendTo(buf)
	buf = endpointDescriptor(&l.endpoints[1]).AppendTo(buf)
	buf = endpointDescriptor(&l.endpoints[2]).AppendTo(buf)
	return buf
}

func endpointDescriptor(ep *hal.EndpointConfig) *device.EndpointDescriptor {
	return &device.EndpointDescriptor{
		EndpointAddress: ep.Address,
		Attributes:      ep.Attributes,
		MaxPacketSize:   ep.MaxPacketSize,
		Interval:        ep.Interval,
	}
}

// Endpoints implements device.ClassHandler.
func (l *Logger) Endpoints() []hal.EndpointConfig {
	return l.endpoints[:]
}

// SetConfigured implements device.ClassHandler.
func (l *Logger) SetConfigured(configured bool) {
	if !configured {
		l.mutex.Lock()
		l.controlState = 0
		l.mutex.Unlock()
	}
	pkg.LogDebug(pkg.ComponentTransport, "CDC-ACM configured",
		"configured", configured,
		"dataIn", DataInEndpoint)
}

// HandleSetup implements device.ClassHandler.
func (l *Logger) HandleSetup(setup *device.SetupPacket, data []byte) ([]byte, bool, error) {
	if !setup.IsClass() {
		return nil, false, nil
	}

	switch setup.Request {
	case RequestSetLineCoding:
		return nil, true, l.handleSetLineCoding(data)
	case RequestGetLineCoding:
		l.mutex.RLock()
		n := l.lineCoding.MarshalTo(l.responseBuf[:])
		l.mutex.RUnlock()
		return l.responseBuf[:n], true, nil
	case RequestSetControlLineState:
		l.handleSetControlLineState(setup.Value)
		return nil, true, nil
	case RequestSendBreak:
		return nil, true, nil
	default:
		return nil, false, nil
	}
}

func (l *Logger) handleSetLineCoding(data []byte) error {
	l.mutex.Lock()
	if !ParseLineCoding(data, &l.lineCoding) {
		l.mutex.Unlock()
		return pkg.ErrBufferTooSmall
	}
	cb := l.onLineCodingChange
	lc := l.lineCoding
	l.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentTransport, "line coding set",
		"baud", lc.DTERate,
		"dataBits", lc.DataBits,
		"parity", lc.ParityType,
		"stopBits", lc.CharFormat)

	if cb != nil {
		cb(&lc)
	}
	return nil
}

func (l *Logger) handleSetControlLineState(value uint16) {
	l.mutex.Lock()
	l.controlState = value
	cb := l.onControlStateChange
	dtr := value&ControlLineDTR != 0
	rts := value&ControlLineRTS != 0
	l.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentTransport, "control line state set",
		"dtr", dtr,
		"rts", rts)

	if cb != nil {
		cb(dtr, rts)
	}
}

// WaitConnection blocks until the host has configured the device.
func (l *Logger) WaitConnection(ctx context.Context) error {
	stack, err := l.getStack()
	if err != nil {
		return err
	}
	return stack.WaitConfigured(ctx)
}

// SendPacket writes one packet to the bulk IN endpoint.
//
// It fails with pkg.ErrPacketTooLarge if p exceeds MaxPacketSize and with
// an error wrapping pkg.ErrEndpointDisabled if the host detached, reset
// the bus or deconfigured the device.
func (l *Logger) SendPacket(ctx context.Context, p []byte) error {
	if len(p) > int(l.maxPacketSize) {
		return fmt.Errorf("%w: %d > %d bytes", pkg.ErrPacketTooLarge, len(p), l.maxPacketSize)
	}
	stack, err := l.getStack()
	if err != nil {
		return err
	}
	if _, err := stack.Write(ctx, DataInEndpoint, p); err != nil {
		if pkg.IsDisconnect(err) {
			return fmt.Errorf("%w: %w", pkg.ErrEndpointDisabled, err)
		}
		return err
	}
	return nil
}

// MaxPacketSize returns the bulk IN packet size.
func (l *Logger) MaxPacketSize() int {
	return int(l.maxPacketSize)
}

func (l *Logger) getStack() (*device.Stack, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if l.stack == nil {
		return nil, fmt.Errorf("%w: no device stack", pkg.ErrEndpointDisabled)
	}
	return l.stack, nil
}

// Compile-time interface check
var _ device.ClassHandler = (*Logger)(nil)
