package record

import (
	"bufio"
	"io"

	"github.com/ardnew/usblog/codec"
)

// maxFrameSize bounds a single encoded frame on the host side.
const maxFrameSize = 64 * 1024

// Scanner reads a delimited frame stream and decodes the records in it.
// Frames that fail to decode are skipped and counted, so a reader that
// joins mid-stream or loses a buffer resynchronizes at the next delimiter.
// Empty frames are skipped silently.
type Scanner struct {
	sc      *bufio.Scanner
	payload []byte
	rec     Record
	corrupt int
	lastErr error
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxFrameSize)
	sc.Split(codec.ScanFrames)
	return &Scanner{sc: sc}
}

// Scan advances to the next record. It returns false at the end of the
// stream or on a read error.
func (s *Scanner) Scan() bool {
	for s.sc.Scan() {
		var err error
		s.payload, err = codec.Decode(s.payload[:0], s.sc.Bytes())
		if err != nil {
			s.skip(err)
			continue
		}
		if len(s.payload) == 0 {
			continue
		}
		if s.rec, err = Decode(s.payload); err != nil {
			s.skip(err)
			continue
		}
		return true
	}
	return false
}

func (s *Scanner) skip(err error) {
	s.corrupt++
	s.lastErr = err
}

// Record returns the record read by the last successful Scan.
func (s *Scanner) Record() Record {
	return s.rec
}

// Corrupt returns the number of frames skipped so far and the error that
// rejected the most recent one.
func (s *Scanner) Corrupt() (int, error) {
	return s.corrupt, s.lastErr
}

// Err returns the first read error. It is nil at a clean end of stream.
func (s *Scanner) Err() error {
	return s.sc.Err()
}
