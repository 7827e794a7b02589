package xor

import (
	"fmt"
	"math/rand"
	"strings"
)

// Prefix designates the part of the identifier space a section is responsible
// for: all names agreeing with Name on the first BitCount bits. Prefixes of
// the active sections partition the space; no two may overlap.
//
// The stored name is canonical: bits beyond BitCount are zero, so prefixes
// compare with ==.
type Prefix struct {
	BitCount int
	Name     Name
}

// NewPrefix builds the prefix of the given bit count covering name.
func NewPrefix(bitCount int, name Name) Prefix {
	if bitCount > NameBitLen {
		bitCount = NameBitLen
	}
	return Prefix{
		BitCount: bitCount,
		Name:     truncate(name, bitCount),
	}
}

// Matches reports whether name falls under the prefix.
func (p Prefix) Matches(name Name) bool {
	return p.Name.CommonPrefixLen(name) >= p.BitCount
}

// IsCompatible reports whether one of the two prefixes is an extension of the
// other, i.e. their jurisdictions overlap.
func (p Prefix) IsCompatible(other Prefix) bool {
	common := p.Name.CommonPrefixLen(other.Name)
	return common >= p.BitCount || common >= other.BitCount
}

// Extend returns the prefix one bit longer, following name. Extending past
// the width of the space returns p unchanged.
func (p Prefix) Extend(name Name) Prefix {
	if p.BitCount >= NameBitLen {
		return p
	}
	return NewPrefix(p.BitCount+1, combine(p.Name, name, p.BitCount+1))
}

// LowerBound returns the smallest name matching the prefix.
func (p Prefix) LowerBound() Name {
	return p.Name
}

// UpperBound returns the largest name matching the prefix.
func (p Prefix) UpperBound() Name {
	out := p.Name
	for i := p.BitCount; i < NameBitLen; i++ {
		out[i/8] |= 1 << uint(7-i%8)
	}
	return out
}

// String renders the prefix as its bit string, e.g. "(0110)".
func (p Prefix) String() string {
	var b strings.Builder
	for i := 0; i < p.BitCount; i++ {
		if p.Name.Bit(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return fmt.Sprintf("(%s)", b.String())
}

// RandomNameWithin draws a random name matching the prefix.
func RandomNameWithin(rng *rand.Rand, p Prefix) Name {
	return combine(p.Name, RandomName(rng), p.BitCount)
}

// truncate zeroes all bits of name from position bitCount onwards.
func truncate(name Name, bitCount int) Name {
	var out Name
	full := bitCount / 8
	copy(out[:full], name[:full])
	if full < NameLen && bitCount%8 != 0 {
		mask := byte(0xff) << uint(8-bitCount%8)
		out[full] = name[full] & mask
	}
	return out
}

// combine takes the first bitCount bits from head and the rest from tail.
func combine(head, tail Name, bitCount int) Name {
	out := truncate(head, bitCount)
	full := bitCount / 8
	for i := full + 1; i < NameLen; i++ {
		out[i] = tail[i]
	}
	if full < NameLen {
		rem := uint(bitCount % 8)
		mask := byte(0xff) >> rem
		out[full] |= tail[full] & mask
	}
	return out
}
