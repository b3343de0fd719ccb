package loopback

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/pkg"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// asDevice runs fn as the device side and returns its error channel.
func asDevice(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func TestHAL_StartStop(t *testing.T) {
	h := New()
	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Start(); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start = %v", err)
	}

	h.Host().Attach()
	if !h.IsConnected() {
		t.Error("not connected after Attach")
	}
	if err := h.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if h.IsConnected() {
		t.Error("Stop did not detach")
	}
	if err := h.Start(); err != nil {
		t.Errorf("Start after Stop: %v", err)
	}
}

func TestHAL_WaitConnect(t *testing.T) {
	h := New()
	ctx := testContext(t)

	short, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	if err := h.WaitConnect(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitConnect while detached = %v", err)
	}

	done := asDevice(func() error { return h.WaitConnect(ctx) })
	h.Host().Attach()
	h.Host().Attach()
	if err := <-done; err != nil {
		t.Errorf("WaitConnect = %v", err)
	}
}

func TestHAL_ControlIn(t *testing.T) {
	h := New()
	host := h.Host()
	host.Attach()
	ctx := testContext(t)

	want := hal.SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18}
	done := asDevice(func() error {
		var got hal.SetupPacket
		if err := h.ReadSetup(ctx, &got); err != nil {
			return err
		}
		if got != want {
			t.Errorf("setup = %+v, want %+v", got, want)
		}
		if err := h.WriteEP0(ctx, []byte("abc")); err != nil {
			return err
		}
		_, err := h.ReadEP0(ctx, nil)
		return err
	})

	got, err := host.Control(ctx, want, nil)
	if err != nil || string(got) != "abc" {
		t.Errorf("Control = %q, %v", got, err)
	}
	if err := <-done; err != nil {
		t.Errorf("device: %v", err)
	}
}

func TestHAL_ControlOut(t *testing.T) {
	h := New()
	host := h.Host()
	host.Attach()
	ctx := testContext(t)

	done := asDevice(func() error {
		var setup hal.SetupPacket
		if err := h.ReadSetup(ctx, &setup); err != nil {
			return err
		}
		buf := make([]byte, setup.Length)
		n, err := h.ReadEP0(ctx, buf)
		if err != nil {
			return err
		}
		if !bytes.Equal(buf[:n], []byte{1, 2, 3}) {
			t.Errorf("data stage = % X", buf[:n])
		}
		return h.AckEP0()
	})

	setup := hal.SetupPacket{RequestType: 0x21, Request: 0x20, Length: 3}
	if got, err := host.Control(ctx, setup, []byte{1, 2, 3}); err != nil || got != nil {
		t.Errorf("Control = %v, %v", got, err)
	}
	if err := <-done; err != nil {
		t.Errorf("device: %v", err)
	}
}

func TestHAL_ControlStall(t *testing.T) {
	h := New()
	host := h.Host()
	host.Attach()
	ctx := testContext(t)

	// Rejected before the data stage is read.
	done := asDevice(func() error {
		var setup hal.SetupPacket
		if err := h.ReadSetup(ctx, &setup); err != nil {
			return err
		}
		return h.StallEP0()
	})
	setup := hal.SetupPacket{RequestType: 0x21, Request: 0x7F, Length: 2}
	if _, err := host.Control(ctx, setup, []byte{9, 9}); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Control = %v, want ErrStall", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("device: %v", err)
	}

	// The stale data stage must not leak into the next transfer.
	done = asDevice(func() error {
		var setup hal.SetupPacket
		if err := h.ReadSetup(ctx, &setup); err != nil {
			return err
		}
		if err := h.WriteEP0(ctx, []byte{0x42}); err != nil {
			return err
		}
		buf := make([]byte, 4)
		n, err := h.ReadEP0(ctx, buf)
		if n != 0 {
			t.Errorf("status stage carried %d bytes", n)
		}
		return err
	})
	if got, err := host.Control(ctx, hal.SetupPacket{RequestType: 0x80, Request: 0x08, Length: 1}, nil); err != nil || !bytes.Equal(got, []byte{0x42}) {
		t.Errorf("Control after stall = % X, %v", got, err)
	}
	if err := <-done; err != nil {
		t.Errorf("device: %v", err)
	}
}

func TestHAL_Reset(t *testing.T) {
	h := New()
	host := h.Host()
	ctx := testContext(t)

	if err := host.Reset(); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Reset while detached = %v", err)
	}

	host.Attach()
	_ = h.SetAddress(5)
	_ = h.ConfigureEndpoints([]hal.EndpointConfig{{Address: 0x81, Attributes: 0x02, MaxPacketSize: 64}})

	if err := host.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	var setup hal.SetupPacket
	if err := h.ReadSetup(ctx, &setup); !errors.Is(err, pkg.ErrReset) {
		t.Errorf("ReadSetup = %v, want ErrReset", err)
	}
	if h.Address() != 0 {
		t.Errorf("address = %d after reset", h.Address())
	}
	if _, err := h.Write(ctx, 0x81, []byte("x")); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Write after reset = %v", err)
	}
	if !h.IsConnected() {
		t.Error("reset detached the device")
	}
}

func TestHAL_Detach(t *testing.T) {
	h := New()
	host := h.Host()
	host.Attach()
	ctx := testContext(t)

	done := asDevice(func() error {
		var setup hal.SetupPacket
		return h.ReadSetup(ctx, &setup)
	})
	host.Detach()
	if err := <-done; !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("ReadSetup = %v, want ErrNoDevice", err)
	}
	if _, err := host.Control(ctx, hal.SetupPacket{}, nil); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Control while detached = %v", err)
	}
	if _, err := h.ReadEP0(ctx, nil); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("ReadEP0 while detached = %v", err)
	}
	if err := h.AckEP0(); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("AckEP0 while detached = %v", err)
	}
}

func TestHAL_BulkIn(t *testing.T) {
	h := New()
	host := h.Host()
	ctx := testContext(t)

	if _, err := h.Write(ctx, 0x81, []byte("x")); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Write detached = %v", err)
	}

	host.Attach()
	if _, err := h.Write(ctx, 0x81, []byte("x")); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Write unconfigured = %v", err)
	}

	err := h.ConfigureEndpoints([]hal.EndpointConfig{
		{Address: 0x81, Attributes: 0x02, MaxPacketSize: 8},
		{Address: 0x02, Attributes: 0x02, MaxPacketSize: 8},
	})
	if err != nil {
		t.Fatalf("ConfigureEndpoints: %v", err)
	}
	if _, err := host.ReadBulk(ctx, 0x02); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("ReadBulk OUT endpoint = %v", err)
	}
	if _, err := h.Write(ctx, 0x81, make([]byte, 9)); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("oversize Write = %v", err)
	}

	payload := []byte("12345678")
	if n, err := h.Write(ctx, 0x81, payload); err != nil || n != 8 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	payload[0] = 'X'
	got, err := host.ReadBulk(ctx, 0x81)
	if err != nil || string(got) != "12345678" {
		t.Errorf("ReadBulk = %q, %v", got, err)
	}

	if err := h.ConfigureEndpoints(nil); err != nil {
		t.Fatalf("ConfigureEndpoints(nil): %v", err)
	}
	if _, err := host.ReadBulk(ctx, 0x81); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("ReadBulk after disable = %v", err)
	}
}

func TestHAL_QueueDepth(t *testing.T) {
	h := New(WithQueueDepth(1), WithQueueDepth(0))
	host := h.Host()
	host.Attach()
	ctx := testContext(t)
	_ = h.ConfigureEndpoints([]hal.EndpointConfig{{Address: 0x81, Attributes: 0x02, MaxPacketSize: 8}})

	if _, err := h.Write(ctx, 0x81, []byte("a")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	if _, err := h.Write(short, 0x81, []byte("b")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Write on full queue = %v, want deadline exceeded", err)
	}

	// A blocked writer fails once the endpoint goes away.
	done := asDevice(func() error {
		_, err := h.Write(ctx, 0x81, []byte("c"))
		return err
	})
	time.Sleep(5 * time.Millisecond)
	host.Detach()
	if err := <-done; !pkg.IsDisconnect(err) {
		t.Errorf("blocked Write = %v, want disconnect", err)
	}
}

func TestHost_BulkReader(t *testing.T) {
	h := New()
	host := h.Host()
	host.Attach()
	ctx := testContext(t)
	_ = h.ConfigureEndpoints([]hal.EndpointConfig{{Address: 0x81, Attributes: 0x02, MaxPacketSize: 8}})

	for _, p := range []string{"abc", "defgh"} {
		if _, err := h.Write(ctx, 0x81, []byte(p)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	r := host.BulkReader(ctx, 0x81)
	buf := make([]byte, 2)
	var got []byte
	for len(got) < 8 {
		n, err := r.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "abcdefgh" {
		t.Errorf("read %q", got)
	}

	host.Detach()
	if _, err := r.Read(buf); !pkg.IsDisconnect(err) {
		t.Errorf("Read after detach = %v", err)
	}
}
