package serialization

import (
	"bytes"
	"fmt"
)

// Measure reports the serialized size in bytes of v under the given
// encoder. When v cannot be encoded it falls back to the length of the
// value's formatted representation, so it never fails: the result is a
// best-effort estimate, not a guarantee.
func Measure(encoder EncoderFactory, v any) int64 {
	var buf bytes.Buffer
	if err := encoder(&buf).Encode(v); err != nil {
		return int64(len(fmt.Sprintf("%v", v)))
	}
	return int64(buf.Len())
}
