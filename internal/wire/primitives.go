package wire

import (
	"encoding/binary"
	"math"
	"strings"
)

// Fixed64Size is the encoded size of fixed64 and double values.
const Fixed64Size = 8

// MaxVarintLen is the longest possible varint encoding of a 64-bit value.
const MaxVarintLen = 10

// AppendVarint appends the base-128 varint encoding of n to b.
func AppendVarint(b []byte, n uint64) []byte {
	for n >= 0x80 {
		b = append(b, byte(n&0x7F)|0x80)
		n >>= 7
	}
	return append(b, byte(n))
}

// EncodeVarint returns the base-128 varint encoding of n.
func EncodeVarint(n uint64) []byte {
	return AppendVarint(make([]byte, 0, VarintSize(n)), n)
}

// VarintSize returns the number of bytes EncodeVarint(n) produces.
func VarintSize(n uint64) int {
	size := 1
	for n >= 0x80 {
		n >>= 7
		size++
	}
	return size
}

// EncodeBool returns the varint encoding of v as 0 or 1.
func EncodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// EncodeInt64 returns the varint encoding of a protobuf int64 value.
// Negative values are sign-extended to 64 bits and take ten bytes, which is how
// every conforming decoder reads an int64 field back.
func EncodeInt64(v int64) []byte {
	return EncodeVarint(uint64(v))
}

// EncodeFixed64 returns the 8-byte little-endian encoding of n.
func EncodeFixed64(n uint64) []byte {
	b := make([]byte, Fixed64Size)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

// EncodeDouble returns the IEEE-754 binary64 encoding of f, little-endian.
func EncodeDouble(f float64) []byte {
	return EncodeFixed64(math.Float64bits(f))
}

// EncodeBytes returns p prefixed with its varint byte length.
func EncodeBytes(p []byte) []byte {
	b := make([]byte, 0, VarintSize(uint64(len(p)))+len(p))
	b = AppendVarint(b, uint64(len(p)))
	return append(b, p...)
}

// EncodeString returns the UTF-8 bytes of s prefixed with their varint byte length.
// The prefix counts bytes, not runes.
func EncodeString(s string) []byte {
	b := make([]byte, 0, VarintSize(uint64(len(s)))+len(s))
	b = AppendVarint(b, uint64(len(s)))
	return append(b, s...)
}

// HexToBytes converts a hex identifier to raw bytes. Characters outside [0-9a-fA-F]
// are stripped first; a trailing unpaired nibble is dropped. The caller decides
// whether the resulting length is acceptable for the identifier it is decoding.
func HexToBytes(hex string) []byte {
	clean := CleanHex(hex)
	out := make([]byte, len(clean)/2)
	for i := range out {
		out[i] = nibble(clean[2*i])<<4 | nibble(clean[2*i+1])
	}
	return out
}

// CleanHex strips non-hex characters from s and lower-cases the rest.
func CleanHex(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
			sb.WriteByte(c)
		case c >= 'A' && c <= 'F':
			sb.WriteByte(c + ('a' - 'A'))
		}
	}
	return sb.String()
}

func nibble(c byte) byte {
	if c <= '9' {
		return c - '0'
	}
	return c - 'a' + 10
}
