package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ardnew/usblog"
	"github.com/ardnew/usblog/config"
	"github.com/ardnew/usblog/critical"
	"github.com/ardnew/usblog/device/class/cdc"
	"github.com/ardnew/usblog/device/hal"
	"github.com/ardnew/usblog/device/hal/loopback"
	"github.com/ardnew/usblog/metric"
	"github.com/ardnew/usblog/pkg"
	"github.com/ardnew/usblog/record"
)

type simOptions struct {
	configPath string
	duration   time.Duration
	rate       float64
	reconnect  time.Duration
	sync       time.Duration
	metrics    string
}

func newSimCommand() *cobra.Command {
	var opts simOptions
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a simulated device and host on an in-memory bus",
		Long: "Sim runs the usblog device stack and drain task on a loopback HAL, " +
			"produces log records at a fixed rate and prints what the simulated host receives.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if opts.configPath != "" {
				var err error
				if cfg, err = config.Load(opts.configPath); err != nil {
					return err
				}
			}
			if err := logConfig(cmd, cfg.Log).Apply(); err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics") {
				cfg.Metrics.Addr = opts.metrics
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if opts.duration > 0 {
				ctx, cancel = context.WithTimeout(ctx, opts.duration)
				defer cancel()
			}
			return runSim(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().Float64Var(&opts.rate, "rate", 10, "Records produced per second")
	cmd.Flags().DurationVar(&opts.reconnect, "reconnect", 0, "Unplug and replug the simulated host at this interval (0 never)")
	cmd.Flags().DurationVar(&opts.sync, "sync", 100*time.Millisecond, "Retire the active buffer at this interval")
	cmd.Flags().StringVar(&opts.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	return cmd
}

// runSim runs device, producer and host until ctx ends.
func runSim(ctx context.Context, cfg *config.Config, opts simOptions, out io.Writer) error {
	if opts.rate <= 0 {
		return fmt.Errorf("%w: rate must be > 0", pkg.ErrInvalidParameter)
	}

	logger := usblog.New(cfg.Drain.BufferCapacity, critical.Default())
	h := loopback.New()
	svc, err := logger.NewService(h, cfg.Drain.MaxPacketSize, &cfg.Device, cfg.DrainOptions()...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		return produce(gctx, logger, opts)
	})
	g.Go(func() error {
		return runHost(gctx, h.Host(), out)
	})
	if opts.reconnect > 0 {
		g.Go(func() error {
			return replug(gctx, h.Host(), opts.reconnect)
		})
	}
	if cfg.Metrics.Addr != "" {
		reg, err := metric.NewRegistry(metric.NewCollector(logger.Controller(), svc.Task()))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return metric.Serve(gctx, cfg.Metrics.Addr, reg)
		})
	}

	err = g.Wait()

	ctrl := logger.Controller().Stats()
	task := svc.Task().Stats()
	pkg.LogInfo(pkg.ComponentCLI, "simulation finished",
		"sessions", task.Sessions,
		"disconnects", task.Disconnects,
		"packets", task.Packets,
		"bytes", task.Bytes,
		"written", ctrl.Written,
		"dropped", ctrl.Dropped,
		"framesDropped", logger.Codec().Dropped())

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// produce logs records at opts.rate and retires the active buffer every
// opts.sync.
func produce(ctx context.Context, logger *usblog.Logger, opts simOptions) error {
	limiter := rate.NewLimiter(rate.Limit(opts.rate), 1)
	log := logger.Records()
	start := time.Now()
	lastSync := start

	for seq := 0; ; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			// The next token may lie past the deadline.
			<-ctx.Done()
			return ctx.Err()
		}
		log.Info("sim record",
			"seq", seq,
			"heap", seq%7 == 0)
		if seq%50 == 49 {
			log.Warn("sim milestone", "seq", seq, "elapsed", time.Since(start).String())
		}
		if opts.sync > 0 && time.Since(lastSync) >= opts.sync {
			logger.Sync()
			lastSync = time.Now()
		}
	}
}

// runHost enumerates the device, opens the port and prints received
// records, starting over after every disconnect.
func runHost(ctx context.Context, host *loopback.Host, out io.Writer) error {
	for {
		host.Attach()
		if err := openPort(ctx, host); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if pkg.IsDisconnect(err) {
				continue
			}
			return err
		}
		pkg.LogInfo(pkg.ComponentCLI, "host opened port")

		s := record.NewScanner(host.BulkReader(ctx, cdc.DataInEndpoint))
		for s.Scan() {
			rec := s.Record()
			if _, err := fmt.Fprintln(out, rec.String()); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.Err(); err != nil && !pkg.IsDisconnect(err) {
			return fmt.Errorf("host read: %w", err)
		}
		pkg.LogInfo(pkg.ComponentCLI, "host lost device")
	}
}

// openPort enumerates the device and raises DTR, as a terminal program
// opening the serial port would.
func openPort(ctx context.Context, host *loopback.Host) error {
	if _, err := host.Enumerate(ctx); err != nil {
		return err
	}
	setup := hal.SetupPacket{
		RequestType: 0x21, // host-to-device, class, interface
		Request:     cdc.RequestSetControlLineState,
		Value:       cdc.ControlLineDTR | cdc.ControlLineRTS,
	}
	if _, err := host.Control(ctx, setup, nil); err != nil {
		return fmt.Errorf("set control line state: %w", err)
	}
	return nil
}

// replug detaches the host every interval. runHost reattaches it.
func replug(ctx context.Context, host *loopback.Host, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pkg.LogInfo(pkg.ComponentCLI, "unplugging host")
			host.Detach()
		}
	}
}
