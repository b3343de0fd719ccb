// Package record is a small structured front-end for hosted producers.
//
// A [Logger] encodes each call as a msgpack [Record] and writes it as one
// frame through an encoder.Encoder. Encoding happens before the critical
// section is entered, into a pooled buffer, so the section is held only for
// the copy into the log buffer.
//
// Record encoding allocates. Interrupt handlers and other contexts that
// must not allocate write pre-encoded frames with encoder.Encoder.Frame
// instead.
//
// On the host, [Decode] turns a frame payload back into a Record.
package record

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/usblog/encoder"
	"github.com/ardnew/usblog/pkg"
)

// Level is the severity of a record.
type Level int8

// Record levels.
const (
	LevelTrace Level = iota - 2
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int8(l))
	}
}

// Record is one log event as carried on the wire.
type Record struct {
	Level   Level          `msgpack:"l"`
	Uptime  time.Duration  `msgpack:"t"`
	Message string         `msgpack:"m"`
	Attrs   map[string]any `msgpack:"a,omitempty"`
}

// String formats the record for display.
func (r Record) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%12.6f %-5s %s", r.Uptime.Seconds(), r.Level, r.Message)
	for _, k := range sortedKeys(r.Attrs) {
		fmt.Fprintf(&b, " %s=%v", k, r.Attrs[k])
	}
	return b.String()
}

// badKey is the attribute key used for a trailing value with no key.
const badKey = "!BADKEY"

// Logger writes records as frames.
type Logger struct {
	enc   *encoder.Encoder
	start time.Time
	level atomic.Int32
	pool  sync.Pool
}

// NewLogger creates a Logger writing through enc. Records below
// LevelDebug are discarded until SetLevel says otherwise.
func NewLogger(enc *encoder.Encoder) *Logger {
	l := &Logger{
		enc:   enc,
		start: time.Now(),
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
	l.level.Store(int32(LevelDebug))
	return l
}

// SetLevel sets the minimum level written.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// Enabled reports whether records at level are written.
func (l *Logger) Enabled(level Level) bool {
	return int32(level) >= l.level.Load()
}

// Log writes a record. args are alternating keys and values, as with
// log/slog.
func (l *Logger) Log(level Level, msg string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	r := Record{
		Level:   level,
		Uptime:  time.Since(l.start),
		Message: msg,
		Attrs:   attrs(args),
	}

	buf := l.pool.Get().(*bytes.Buffer)
	buf.Reset()
	defer l.pool.Put(buf)

	if err := Encode(buf, &r); err != nil {
		pkg.LogWarn(pkg.ComponentEncoder, "record encode failed", "error", err)
		return
	}
	l.enc.WriteFrame(buf.Bytes())
}

// Trace writes a record at LevelTrace.
func (l *Logger) Trace(msg string, args ...any) { l.Log(LevelTrace, msg, args...) }

// Debug writes a record at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.Log(LevelDebug, msg, args...) }

// Info writes a record at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.Log(LevelInfo, msg, args...) }

// Warn writes a record at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.Log(LevelWarn, msg, args...) }

// Error writes a record at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.Log(LevelError, msg, args...) }

func attrs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m := make(map[string]any, (len(args)+1)/2)
	for len(args) > 0 {
		key, ok := args[0].(string)
		if !ok || len(args) == 1 {
			m[badKey] = args[0]
			args = args[1:]
			continue
		}
		m[key] = args[1]
		args = args[2:]
	}
	return m
}
