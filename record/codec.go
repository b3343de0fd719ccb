package record

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ardnew/usblog/pkg"
)

// Encode writes r to w as msgpack.
func Encode(w io.Writer, r *Record) error {
	return msgpack.NewEncoder(w).Encode(r)
}

// Decode parses a frame payload into a Record. Integer attribute values
// decode as int64, except unsigned values above math.MaxInt64 which stay
// uint64. Floats decode as float64.
func Decode(payload []byte) (Record, error) {
	var r Record
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w: %w", pkg.ErrFrameCorrupt, err)
	}
	for k, v := range r.Attrs {
		r.Attrs[k] = normalize(v)
	}
	return r, nil
}

// normalize maps msgpack's compact unsigned codes back to int64. The
// encoder picks the smallest code for a value, so a non-negative int
// arrives as a uint code.
func normalize(v any) any {
	if u, ok := v.(uint64); ok && u <= math.MaxInt64 {
		return int64(u)
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
