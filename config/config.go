// Package config loads usblog settings from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/usblog/buffer"
	"github.com/ardnew/usblog/device"
	"github.com/ardnew/usblog/drain"
	"github.com/ardnew/usblog/pkg"
)

// Config is the complete usblog configuration.
type Config struct {
	Device  device.Config `yaml:"device"`
	Drain   DrainConfig   `yaml:"drain"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DrainConfig controls the log buffers and the drain task.
type DrainConfig struct {
	Backoff          time.Duration `yaml:"backoff"`            // idle poll interval, e.g. "100ms"
	MaxPacketSize    int           `yaml:"max_packet_size"`    // bulk IN packet size: 8, 16, 32 or 64
	BufferCapacity   int           `yaml:"buffer_capacity"`    // bytes per log buffer
	ErrorLogInterval time.Duration `yaml:"error_log_interval"` // spacing of repeated send error logs
}

// LogConfig selects the diagnostic log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // listen address; empty disables metrics
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Device: device.DefaultConfig(drain.DefaultMaxPacketSize),
		Drain: DrainConfig{
			Backoff:          drain.DefaultBackoff,
			MaxPacketSize:    drain.DefaultMaxPacketSize,
			BufferCapacity:   buffer.DefaultCapacity,
			ErrorLogInterval: drain.DefaultErrorLogInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and validates a YAML configuration file. Keys missing from
// the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	switch c.Drain.MaxPacketSize {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: drain.max_packet_size %d not one of 8, 16, 32, 64",
			pkg.ErrInvalidConfig, c.Drain.MaxPacketSize)
	}
	if c.Drain.Backoff <= 0 {
		return fmt.Errorf("%w: drain.backoff must be > 0", pkg.ErrInvalidConfig)
	}
	if c.Drain.BufferCapacity <= 0 {
		return fmt.Errorf("%w: drain.buffer_capacity must be > 0", pkg.ErrInvalidConfig)
	}
	if c.Drain.ErrorLogInterval < 0 {
		return fmt.Errorf("%w: drain.error_log_interval must be >= 0", pkg.ErrInvalidConfig)
	}

	if _, err := pkg.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", pkg.ErrInvalidConfig, err)
	}
	if _, err := pkg.ParseLogFormat(c.Log.Format); err != nil {
		return fmt.Errorf("%w: log.format: %w", pkg.ErrInvalidConfig, err)
	}
	return nil
}

// DrainOptions returns the drain task options for c.
func (c *Config) DrainOptions() []drain.Option {
	opts := []drain.Option{
		drain.WithBackoff(c.Drain.Backoff),
		drain.WithMaxPacketSize(c.Drain.MaxPacketSize),
	}
	if c.Drain.ErrorLogInterval > 0 {
		opts = append(opts, drain.WithErrorLogInterval(c.Drain.ErrorLogInterval))
	}
	return opts
}

// Apply installs the log level and format.
func (l LogConfig) Apply() error {
	level, err := pkg.ParseLogLevel(l.Level)
	if err != nil {
		return err
	}
	format, err := pkg.ParseLogFormat(l.Format)
	if err != nil {
		return err
	}
	pkg.SetLogFormat(format)
	pkg.SetLogLevel(level)
	return nil
}
