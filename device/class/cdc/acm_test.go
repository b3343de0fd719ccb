package cdc_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/device/class/cdc"
	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/device/hal/loopback"
	"github.com/ardnew/usblog/drain"
	"github.com/ardnew/usblog/pkg"
)

var _ drain.Transport = (*cdc.Logger)(nil)

func classSetup(request uint8, value uint16, length uint16, in bool) *device.SetupPacket {
	rt := uint8(device.RequestDirectionHostToDevice | device.RequestTypeClass | device.RequestRecipientInterface)
	if in {
		rt |= device.RequestDirectionDeviceToHost
	}
	return &device.SetupPacket{RequestType: rt, Request: request, Value: value, Length: length}
}

func TestLogger_Descriptors(t *testing.T) {
	l := cdc.NewLogger(64)
	dev, err := device.NewDevice(device.DefaultConfig(64), l)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}

	var cfg device.ConfigurationDescriptor
	raw := dev.ConfigurationDescriptor()
	if err := device.ParseConfigurationDescriptor(raw, &cfg); err != nil {
		t.Fatalf("ParseConfigurationDescriptor: %v", err)
	}
	// config 9 + IAD 8 + comm 9 + functional 19 + notify 7 + data 9 + 2 bulk 14
	if cfg.TotalLength != 75 || int(cfg.TotalLength) != len(raw) {
		t.Errorf("TotalLength = %d (len %d), want 75", cfg.TotalLength, len(raw))
	}
	if cfg.NumInterfaces != 2 {
		t.Errorf("NumInterfaces = %d, want 2", cfg.NumInterfaces)
	}

	iad := raw[device.ConfigurationDescriptorSize : device.ConfigurationDescriptorSize+device.IADSize]
	want := []byte{device.IADSize, device.DescriptorTypeInterfaceAssociation, 0, 2, cdc.ClassCDC, cdc.SubclassACM, cdc.ProtocolNone, 0}
	if !bytes.Equal(iad, want) {
		t.Errorf("IAD = % X, want % X", iad, want)
	}

	// bcdCDC 1.10, little-endian.
	off := device.ConfigurationDescriptorSize + device.IADSize + device.InterfaceDescriptorSize
	header := raw[off : off+cdc.HeaderDescriptorSize]
	wantHeader := []byte{cdc.HeaderDescriptorSize, cdc.DescriptorTypeCSInterface, cdc.SubtypeHeader, 0x10, 0x01}
	if !bytes.Equal(header, wantHeader) {
		t.Errorf("header functional = % X, want % X", header, wantHeader)
	}

	eps, err := device.ParseEndpointDescriptors(raw)
	if err != nil {
		t.Fatalf("ParseEndpointDescriptors: %v", err)
	}
	wantEPs := []struct {
		addr, attr uint8
		size       uint16
	}{
		{cdc.NotifyEndpoint, device.EndpointTypeInterrupt, 8},
		{cdc.DataOutEndpoint, device.EndpointTypeBulk, 64},
		{cdc.DataInEndpoint, device.EndpointTypeBulk, 64},
	}
	if len(eps) != len(wantEPs) {
		t.Fatalf("got %d endpoints, want %d", len(eps), len(wantEPs))
	}
	for i, w := range wantEPs {
		if eps[i].EndpointAddress != w.addr || eps[i].Attributes != w.attr || eps[i].MaxPacketSize != w.size {
			t.Errorf("endpoint %d = %+v, want %+v", i, eps[i], w)
		}
	}

	if got := l.Endpoints(); len(got) != 3 || got[2].Address != cdc.DataInEndpoint {
		t.Errorf("Endpoints = %+v", got)
	}
}

func TestLogger_LineCoding(t *testing.T) {
	l := cdc.NewLogger(64)
	if l.LineCoding() != cdc.DefaultLineCoding {
		t.Errorf("initial LineCoding = %+v", l.LineCoding())
	}

	var seen *cdc.LineCoding
	l.SetOnLineCodingChange(func(lc *cdc.LineCoding) { seen = lc })

	lc := cdc.LineCoding{DTERate: 9600, CharFormat: 2, ParityType: 1, DataBits: 7}
	var buf [cdc.LineCodingSize]byte
	lc.MarshalTo(buf[:])

	_, handled, err := l.HandleSetup(classSetup(cdc.RequestSetLineCoding, 0, cdc.LineCodingSize, false), buf[:])
	if !handled || err != nil {
		t.Fatalf("SET_LINE_CODING handled=%v err=%v", handled, err)
	}
	if l.LineCoding() != lc {
		t.Errorf("LineCoding = %+v, want %+v", l.LineCoding(), lc)
	}
	if seen == nil || *seen != lc {
		t.Errorf("callback saw %+v", seen)
	}

	resp, handled, err := l.HandleSetup(classSetup(cdc.RequestGetLineCoding, 0, cdc.LineCodingSize, true), nil)
	if !handled || err != nil || !bytes.Equal(resp, buf[:]) {
		t.Errorf("GET_LINE_CODING = % X handled=%v err=%v", resp, handled, err)
	}

	_, handled, err = l.HandleSetup(classSetup(cdc.RequestSetLineCoding, 0, 3, false), buf[:3])
	if !handled || !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("short SET_LINE_CODING handled=%v err=%v", handled, err)
	}
}

func TestLogger_ControlLineState(t *testing.T) {
	l := cdc.NewLogger(64)

	var gotDTR, gotRTS bool
	l.SetOnControlStateChange(func(dtr, rts bool) { gotDTR, gotRTS = dtr, rts })

	_, handled, err := l.HandleSetup(classSetup(cdc.RequestSetControlLineState, cdc.ControlLineDTR|cdc.ControlLineRTS, 0, false), nil)
	if !handled || err != nil {
		t.Fatalf("SET_CONTROL_LINE_STATE handled=%v err=%v", handled, err)
	}
	if !l.DTR() || !l.RTS() || !gotDTR || !gotRTS {
		t.Errorf("DTR=%v RTS=%v callback=%v,%v", l.DTR(), l.RTS(), gotDTR, gotRTS)
	}

	l.SetConfigured(false)
	if l.DTR() || l.RTS() {
		t.Error("control lines survive deconfiguration")
	}
}

func TestLogger_UnhandledRequests(t *testing.T) {
	l := cdc.NewLogger(64)

	tests := []struct {
		name  string
		setup *device.SetupPacket
	}{
		{"standard", &device.SetupPacket{RequestType: device.RequestDirectionDeviceToHost, Request: device.RequestGetStatus, Length: 2}},
		{"encapsulated command", classSetup(cdc.RequestSendEncapsulatedCommand, 0, 0, false)},
		{"unknown", classSetup(0x7F, 0, 0, true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, handled, err := l.HandleSetup(tt.setup, nil); handled || err != nil {
				t.Errorf("handled=%v err=%v, want unhandled", handled, err)
			}
		})
	}

	if _, handled, err := l.HandleSetup(classSetup(cdc.RequestSendBreak, 100, 0, false), nil); !handled || err != nil {
		t.Errorf("SEND_BREAK handled=%v err=%v", handled, err)
	}
}

func TestLogger_SendPacketErrors(t *testing.T) {
	l := cdc.NewLogger(16)
	ctx := context.Background()

	if l.MaxPacketSize() != 16 {
		t.Errorf("MaxPacketSize = %d", l.MaxPacketSize())
	}
	if err := l.SendPacket(ctx, make([]byte, 17)); !errors.Is(err, pkg.ErrPacketTooLarge) {
		t.Errorf("oversize = %v, want ErrPacketTooLarge", err)
	}
	if err := l.SendPacket(ctx, []byte("x")); !errors.Is(err, pkg.ErrEndpointDisabled) {
		t.Errorf("no stack = %v, want ErrEndpointDisabled", err)
	}
	if err := l.WaitConnection(ctx); !errors.Is(err, pkg.ErrEndpointDisabled) {
		t.Errorf("WaitConnection without stack = %v", err)
	}

	dev, err := device.NewDevice(device.DefaultConfig(64), l)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	l.SetStack(device.NewStack(dev, loopback.New()))

	err = l.SendPacket(ctx, []byte("x"))
	if !errors.Is(err, pkg.ErrEndpointDisabled) || !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("unconfigured = %v, want ErrEndpointDisabled wrapping ErrNotConfigured", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := l.WaitConnection(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitConnection = %v, want deadline exceeded", err)
	}
}

func TestLogger_OverLoopback(t *testing.T) {
	l := cdc.NewLogger(64)
	dev, err := device.NewDevice(device.DefaultConfig(64), l)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	h := loopback.New()
	stack := device.NewStack(dev, h)
	l.SetStack(stack)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stack.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stack.Stop()
	done := make(chan error, 1)
	go func() { done <- stack.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	host := h.Host()
	host.Attach()
	if _, err := host.Enumerate(ctx); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if err := l.WaitConnection(ctx); err != nil {
		t.Fatalf("WaitConnection: %v", err)
	}

	// The host opens the port: line coding then DTR.
	lc := cdc.LineCoding{DTERate: 921600, DataBits: 8}
	var buf [cdc.LineCodingSize]byte
	lc.MarshalTo(buf[:])
	if _, err := host.Control(ctx, hal.SetupPacket(*classSetup(cdc.RequestSetLineCoding, 0, cdc.LineCodingSize, false)), buf[:]); err != nil {
		t.Fatalf("SET_LINE_CODING: %v", err)
	}
	if _, err := host.Control(ctx, hal.SetupPacket(*classSetup(cdc.RequestSetControlLineState, cdc.ControlLineDTR, 0, false)), nil); err != nil {
		t.Fatalf("SET_CONTROL_LINE_STATE: %v", err)
	}
	if l.LineCoding() != lc || !l.DTR() {
		t.Errorf("LineCoding = %+v DTR = %v", l.LineCoding(), l.DTR())
	}

	if err := l.SendPacket(ctx, []byte("log")); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	got, err := host.ReadBulk(ctx, cdc.DataInEndpoint)
	if err != nil || string(got) != "log" {
		t.Errorf("ReadBulk = %q, %v", got, err)
	}

	host.Detach()
	deadline := time.Now().Add(2 * time.Second)
	for dev.IsConfigured() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := l.SendPacket(ctx, []byte("gone")); !errors.Is(err, pkg.ErrEndpointDisabled) {
		t.Errorf("SendPacket after detach = %v, want ErrEndpointDisabled", err)
	}
}
