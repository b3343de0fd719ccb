// Package codec provides the frame codec used on the wire: Consistent
// Overhead Byte Stuffing with a zero-byte delimiter.
//
// Encoded frames never contain a zero byte, so every zero on the wire ends
// a frame. A host that attaches in the middle of a stream, or that loses a
// buffer to a disconnect, discards bytes up to the next delimiter and is
// back in sync.
//
// [COBS] assembles the whole encoded frame in a fixed scratch buffer and
// hands it to the controller in one piece at EndFrame. A frame therefore
// lands in a single log buffer or is dropped whole; it is never split
// across a swap.
package codec

import (
	"bufio"
	"bytes"
	"sync/atomic"

	"github.com/ardnew/usblog/encoder"
	"github.com/ardnew/usblog/pkg"
)

// Delimiter terminates every encoded frame.
const Delimiter = 0x00

// maxRun is the longest run of non-zero bytes a single code byte covers.
const maxRun = 0xFE

// MaxEncodedLen returns the worst-case encoded size, including the
// delimiter, of an n-byte payload.
func MaxEncodedLen(n int) int {
	return n + n/maxRun + 2
}

// COBS is a streaming COBS frame encoder implementing encoder.Codec.
//
// A COBS value must only be used by one encoder. The encoder's critical
// section serializes access to it.
type COBS struct {
	frame    []byte
	code     int // index of the open block's code byte
	overflow bool
	dropped  atomic.Uint64
}

// NewCOBS creates a COBS codec whose encoded frames, delimiter included,
// are at most maxFrame bytes. Longer frames are dropped whole.
func NewCOBS(maxFrame int) *COBS {
	if maxFrame < 2 {
		maxFrame = 2
	}
	return &COBS{frame: make([]byte, 0, maxFrame)}
}

// Dropped returns the number of frames discarded for exceeding the
// scratch size.
func (c *COBS) Dropped() uint64 {
	return c.dropped.Load()
}

// StartFrame resets the scratch buffer.
func (c *COBS) StartFrame(encoder.EmitFunc) {
	c.frame = c.frame[:0]
	c.overflow = false
	c.openBlock()
}

// Write stuffs p into the open frame.
func (c *COBS) Write(p []byte, _ encoder.EmitFunc) {
	for _, b := range p {
		if c.overflow {
			return
		}
		if b == 0 {
			c.closeBlock()
			c.openBlock()
			continue
		}
		c.append(b)
		if len(c.frame)-c.code == maxRun+1 {
			c.closeBlock()
			c.openBlock()
		}
	}
}

// EndFrame closes the frame and emits it with its delimiter.
func (c *COBS) EndFrame(emit encoder.EmitFunc) {
	c.closeBlock()
	c.append(Delimiter)
	if c.overflow {
		c.dropped.Add(1)
		return
	}
	emit(c.frame)
}

func (c *COBS) openBlock() {
	c.code = len(c.frame)
	c.append(0)
}

func (c *COBS) closeBlock() {
	if c.overflow {
		return
	}
	c.frame[c.code] = byte(len(c.frame) - c.code)
}

func (c *COBS) append(b byte) {
	if len(c.frame) == cap(c.frame) {
		c.overflow = true
		return
	}
	c.frame = append(c.frame, b)
}

// Encode appends the COBS encoding of p, with delimiter, to dst.
func Encode(dst, p []byte) []byte {
	code := len(dst)
	dst = append(dst, 0)
	for _, b := range p {
		if b == 0 {
			dst[code] = byte(len(dst) - code)
			code = len(dst)
			dst = append(dst, 0)
			continue
		}
		dst = append(dst, b)
		if len(dst)-code == maxRun+1 {
			dst[code] = byte(len(dst) - code)
			code = len(dst)
			dst = append(dst, 0)
		}
	}
	dst[code] = byte(len(dst) - code)
	return append(dst, Delimiter)
}

// Decode appends the payload of one encoded frame to dst. frame must not
// include the delimiter.
func Decode(dst, frame []byte) ([]byte, error) {
	for i := 0; i < len(frame); {
		code := int(frame[i])
		if code == 0 {
			return dst, pkg.ErrFrameCorrupt
		}
		i++
		end := i + code - 1
		if end > len(frame) {
			return dst, pkg.ErrFrameCorrupt
		}
		dst = append(dst, frame[i:end]...)
		i = end
		if code <= maxRun && i < len(frame) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}

// ScanFrames is a bufio.SplitFunc that yields delimiter-terminated frames
// without the delimiter. Empty frames, such as back-to-back delimiters
// after a resync, are skipped. A trailing partial frame at EOF is
// discarded.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && data[start] == Delimiter {
		start++
	}
	if i := bytes.IndexByte(data[start:], Delimiter); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return start, nil, nil
}

var _ encoder.Codec = (*COBS)(nil)
var _ bufio.SplitFunc = ScanFrames
