package tiered

import (
	"strconv"
	"strings"
)

// GenerateKey builds a canonical cache key from a prefix and its
// parts: "prefix:part1:...:partN:h", where h is a 32-bit polynomial
// rolling hash of the concatenated parts rendered in base-36. The hash
// guards against collisions between look-alike part lists; it is a
// convenience, not a security mechanism.
func GenerateKey(prefix string, parts ...string) string {
	var h int32
	for _, part := range parts {
		for _, r := range part {
			h = h*31 + int32(r)
		}
	}

	v := int64(h)
	if v < 0 {
		v = -v
	}

	return prefix + ":" + strings.Join(parts, ":") + ":" + strconv.FormatInt(v, 36)
}
