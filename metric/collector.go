package metric

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/usblog/buffer"
	"github.com/ardnew/usblog/controller"
	"github.com/ardnew/usblog/drain"
)

// Namespace prefixes every metric name.
const Namespace = "usblog"

// Collector is a prometheus.Collector over a controller and, optionally,
// the drain task feeding it to a transport.
type Collector struct {
	ctrl *controller.Controller
	task *drain.Task

	written     *prometheus.Desc
	dropped     *prometheus.Desc
	swaps       *prometheus.Desc
	flushes     *prometheus.Desc
	flushErrors *prometheus.Desc
	enabled     *prometheus.Desc
	bufferBytes *prometheus.Desc
	flushing    *prometheus.Desc

	sessions    *prometheus.Desc
	disconnects *prometheus.Desc
	packets     *prometheus.Desc
	sentBytes   *prometheus.Desc
	sendErrors  *prometheus.Desc
}

// NewCollector creates a collector. task may be nil when the controller is
// drained by something other than a drain.Task.
func NewCollector(ctrl *controller.Controller, task *drain.Task) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		ctrl: ctrl,
		task: task,

		written:     desc("controller", "written_bytes_total", "Bytes accepted into a log buffer."),
		dropped:     desc("controller", "dropped_bytes_total", "Bytes discarded because neither buffer had room."),
		swaps:       desc("controller", "swaps_total", "Log buffers retired for transmission."),
		flushes:     desc("controller", "flushes_total", "Log buffers handed to the transport."),
		flushErrors: desc("controller", "flush_errors_total", "Log buffers whose transmission failed."),
		enabled:     desc("controller", "enabled", "Whether the controller accepts writes (1) or drops them (0)."),
		bufferBytes: desc("buffer", "bytes", "Bytes held by a log buffer.", "slot"),
		flushing:    desc("buffer", "flushing", "Whether a log buffer is pending transmission.", "slot"),

		sessions:    desc("drain", "sessions_total", "Host connections served."),
		disconnects: desc("drain", "disconnects_total", "Sessions ended by a host disconnect."),
		packets:     desc("drain", "packets_total", "Packets sent to the host."),
		sentBytes:   desc("drain", "sent_bytes_total", "Payload bytes sent to the host."),
		sendErrors:  desc("drain", "send_errors_total", "Log buffers lost to transport errors other than disconnects."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.written
	ch <- c.dropped
	ch <- c.swaps
	ch <- c.flushes
	ch <- c.flushErrors
	ch <- c.enabled
	ch <- c.bufferBytes
	ch <- c.flushing
	if c.task != nil {
		ch <- c.sessions
		ch <- c.disconnects
		ch <- c.packets
		ch <- c.sentBytes
		ch <- c.sendErrors
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	s := c.ctrl.Stats()
	counter(c.written, s.Written)
	counter(c.dropped, s.Dropped)
	counter(c.swaps, s.Swaps)
	counter(c.flushes, s.Flushes)
	counter(c.flushErrors, s.FlushErrors)
	gauge(c.enabled, boolValue(c.ctrl.Enabled()))

	for i := 0; i < controller.NumBuffers; i++ {
		slot := c.ctrl.Slot(i)
		label := strconv.Itoa(i)
		gauge(c.bufferBytes, float64(slot.Len), label)
		gauge(c.flushing, boolValue(slot.State == buffer.StateFlushing), label)
	}

	if c.task == nil {
		return
	}
	d := c.task.Stats()
	counter(c.sessions, d.Sessions)
	counter(c.disconnects, d.Disconnects)
	counter(c.packets, d.Packets)
	counter(c.sentBytes, d.Bytes)
	counter(c.sendErrors, d.SendErrors)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ prometheus.Collector = (*Collector)(nil)
