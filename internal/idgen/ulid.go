// Package idgen renders trade correlation ids in a ULID-shaped, lexically
// sortable form: a millisecond timestamp component followed by random
// entropy, both base32-encoded. No example repo in the reference pack
// imports a dedicated ULID library, so this wraps the pack's usual choice
// for opaque ids (google/uuid) rather than pulling in a new dependency —
// see DESIGN.md.
package idgen

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"
)

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewTradeID returns a 26-character ULID-shaped, time-sortable id:
// 10 chars of millisecond timestamp + 16 chars of random entropy.
func NewTradeID() string {
	return NewTradeIDAt(time.Now())
}

// NewTradeIDAt is NewTradeID with an explicit timestamp, for deterministic
// tests.
func NewTradeIDAt(t time.Time) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(t.UnixMilli()))
	entropy := uuid.New()
	copy(buf[8:], entropy[:8])

	var sb strings.Builder
	sb.Grow(26)
	encodeCrockford(&sb, buf[2:8], 10) // low 48 bits of timestamp -> 10 chars
	encodeCrockford(&sb, buf[8:], 16) // 64 bits of entropy -> 13 chars (padded to 16)
	return sb.String()
}

// encodeCrockford base32-encodes src into exactly n characters, padding with
// leading zeros if src has fewer bits than needed.
func encodeCrockford(sb *strings.Builder, src []byte, n int) {
	var v uint64
	for _, b := range src {
		v = v<<8 | uint64(b)
	}
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = crockfordAlphabet[v&0x1F]
		v >>= 5
	}
	sb.Write(out)
}
