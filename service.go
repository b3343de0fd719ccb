package usblog

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/device/class/cdc"
	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/drain"
	"github.com/ardnew/usblog/pkg"
)

// Service is the device side of one logger: the device stack answering
// the host and the drain task feeding the CDC-ACM bulk IN endpoint.
type Service struct {
	stack *device.Stack
	class *cdc.Logger
	task  *drain.Task
}

// NewService assembles the device stack and drain task for l without
// starting them.
func (l *Logger) NewService(h hal.DeviceHAL, maxPacketSize int, cfg *device.Config, opts ...drain.Option) (*Service, error) {
	if cfg == nil {
		c := device.DefaultConfig(maxPacketSize)
		cfg = &c
	}
	switch maxPacketSize {
	case 8, 16, 32, 64:
	default:
		return nil, fmt.Errorf("%w: max packet size %d not one of 8, 16, 32, 64",
			pkg.ErrInvalidConfig, maxPacketSize)
	}

	class := cdc.NewLogger(maxPacketSize)
	dev, err := device.NewDevice(*cfg, class)
	if err != nil {
		return nil, err
	}
	stack := device.NewStack(dev, h)
	class.SetStack(stack)

	return &Service{
		stack: stack,
		class: class,
		task:  drain.New(l.ctrl, class, opts...),
	}, nil
}

// Stack returns the device stack.
func (s *Service) Stack() *device.Stack {
	return s.stack
}

// Class returns the CDC-ACM function.
func (s *Service) Class() *cdc.Logger {
	return s.class
}

// Task returns the drain task.
func (s *Service) Task() *drain.Task {
	return s.task
}

// Run starts the stack, then runs its control loop and the drain task
// until ctx is cancelled or either fails. The stack is stopped on return.
func (s *Service) Run(ctx context.Context) error {
	if err := s.stack.Start(ctx); err != nil {
		return fmt.Errorf("start device stack: %w", err)
	}
	defer func() {
		if err := s.stack.Stop(); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "stop failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.stack.Run(gctx)
	})
	g.Go(func() error {
		return s.task.Run(gctx)
	})
	return g.Wait()
}
