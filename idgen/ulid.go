// Package idgen generates account identifiers.
//
// The retrieval pack has no ULID library anywhere in its 496 files (the
// teacher and every other example use github.com/google/uuid for random
// IDs), so this is the one component in the repository built on the
// standard library rather than a pack dependency — see DESIGN.md. The
// encoding is Crockford base32 over a 48-bit millisecond timestamp plus
// 80 bits of crypto/rand, matching the public ULID spec's bit layout.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewULID returns a 26-character, lexicographically sortable, time-ordered
// identifier for the given instant.
func NewULID(now time.Time) (string, error) {
	var buf [16]byte

	ms := uint64(now.UnixMilli())
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)

	if _, err := rand.Read(buf[6:]); err != nil {
		return "", fmt.Errorf("idgen: read random bytes: %w", err)
	}

	return encode(buf), nil
}

// encode renders 16 bytes (128 bits) as 26 Crockford base32 characters.
func encode(data [16]byte) string {
	var sb strings.Builder
	sb.Grow(26)

	var bitBuf uint64
	bits := 0
	emitted := 0
	for _, b := range data {
		bitBuf = (bitBuf << 8) | uint64(b)
		bits += 8
		for bits >= 5 && emitted < 26 {
			bits -= 5
			idx := (bitBuf >> uint(bits)) & 0x1F
			sb.WriteByte(crockford[idx])
			emitted++
		}
	}
	if bits > 0 && emitted < 26 {
		idx := (bitBuf << uint(5-bits)) & 0x1F
		sb.WriteByte(crockford[idx])
	}
	return sb.String()
}
