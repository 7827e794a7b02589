package xor

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/rand"
)

// NameLen is the width, in bytes, of the identifier space. Names double as
// node identities and as addresses in the sharded overlay.
const NameLen = 32

// NameBitLen is the width of the identifier space in bits.
const NameBitLen = NameLen * 8

// Name is a fixed-width identifier. It is a value type and can be used as a
// map key.
type Name [NameLen]byte

// NameFromBytes copies the first NameLen bytes of b into a Name. Shorter
// input leaves the remaining bytes zero.
func NameFromBytes(b []byte) Name {
	var n Name
	copy(n[:], b)
	return n
}

// NameFromHex parses a hex-encoded name.
func NameFromHex(s string) (Name, error) {
	var n Name
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, err
	}
	if len(b) != NameLen {
		return n, fmt.Errorf("name must be %d bytes, got %d", NameLen, len(b))
	}
	copy(n[:], b)
	return n, nil
}

// Bit returns the i-th bit of the name, most significant first.
func (n Name) Bit(i int) bool {
	return n[i/8]&(1<<uint(7-i%8)) != 0
}

// WithFlippedBit returns a copy of the name with the i-th bit flipped.
func (n Name) WithFlippedBit(i int) Name {
	out := n
	out[i/8] ^= 1 << uint(7-i%8)
	return out
}

// Cmp compares two names lexicographically, which coincides with the numeric
// order of the identifier space.
func (n Name) Cmp(other Name) int {
	return bytes.Compare(n[:], other[:])
}

// CommonPrefixLen returns the number of leading bits on which both names
// agree.
func (n Name) CommonPrefixLen(other Name) int {
	for i := 0; i < NameLen; i++ {
		x := n[i] ^ other[i]
		if x != 0 {
			count := 0
			for x&0x80 == 0 {
				count++
				x <<= 1
			}
			return i*8 + count
		}
	}
	return NameBitLen
}

// Hex returns the full hex encoding of the name.
func (n Name) Hex() string {
	return hex.EncodeToString(n[:])
}

// String returns an abbreviated form used in logs.
func (n Name) String() string {
	return fmt.Sprintf("%s..", hex.EncodeToString(n[:3]))
}

// RandomName draws a uniformly random name from rng.
func RandomName(rng *rand.Rand) Name {
	var n Name
	rng.Read(n[:])
	return n
}
