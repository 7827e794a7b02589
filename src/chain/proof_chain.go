package chain

import (
	"bytes"
	"fmt"

	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/xor"
	"github.com/ugorji/go/codec"
)

// SectionKeyInfo identifies one section signing key: the prefix and version
// it speaks for, and the serialized BLS master public key.
type SectionKeyInfo struct {
	Prefix  xor.Prefix
	Version uint64
	Key     []byte
}

// NewSectionKeyInfo ...
func NewSectionKeyInfo(prefix xor.Prefix, version uint64, key []byte) *SectionKeyInfo {
	return &SectionKeyInfo{Prefix: prefix, Version: version, Key: key}
}

// Marshal produces the canonical encoding, the exact bytes covered by the
// threshold signature attesting this key.
func (k *SectionKeyInfo) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(k); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (k *SectionKeyInfo) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(k)
}

// Equal reports whether both key infos name the same prefix, version and key.
func (k *SectionKeyInfo) Equal(other *SectionKeyInfo) bool {
	if other == nil {
		return false
	}
	return k.Prefix == other.Prefix &&
		k.Version == other.Version &&
		bytes.Equal(k.Key, other.Key)
}

func (k *SectionKeyInfo) String() string {
	return fmt.Sprintf("KeyInfo(%s, v%d)", k.Prefix, k.Version)
}

// SectionProofBlock is one proof-chain link: a key info plus the threshold
// signature over its canonical encoding, made by the preceding link's key.
type SectionProofBlock struct {
	KeyInfo SectionKeyInfo
	Sig     []byte
}

// Validate checks the block's signature against the preceding link's key.
func (b *SectionProofBlock) Validate(prevKey []byte) bool {
	data, err := b.KeyInfo.Marshal()
	if err != nil {
		return false
	}
	return crypto.VerifyThresholdSig(prevKey, b.Sig, data)
}

// TrustStatus is the outcome of verifying a key info against a trusted
// anchor.
type TrustStatus uint8

const (
	// Trusted means an unbroken signature path connects the anchor to the
	// target.
	Trusted TrustStatus = iota
	// ProofTooOld means the target predates the anchor. The caller holds
	// newer knowledge and must not roll trust back.
	ProofTooOld
	// ProofInvalid means a link failed verification or no path connects
	// the anchor to the target.
	ProofInvalid
)

func (t TrustStatus) String() string {
	switch t {
	case Trusted:
		return "Trusted"
	case ProofTooOld:
		return "ProofTooOld"
	case ProofInvalid:
		return "ProofInvalid"
	default:
		return "Unknown"
	}
}

// SectionProofChain is the append-only history of section key transitions.
// Index 0 is the genesis key, trusted out of band; every later link carries a
// threshold signature by its predecessor's key. Versions are consecutive from
// the genesis version, so the chain is a slice, never a pointer graph.
type SectionProofChain struct {
	Genesis SectionKeyInfo
	Blocks  []*SectionProofBlock
}

// NewSectionProofChain starts a chain at the given genesis key.
func NewSectionProofChain(genesis SectionKeyInfo) *SectionProofChain {
	return &SectionProofChain{Genesis: genesis}
}

// FirstKeyInfo returns the genesis link.
func (c *SectionProofChain) FirstKeyInfo() *SectionKeyInfo {
	return &c.Genesis
}

// LastKeyInfo returns the tip link.
func (c *SectionProofChain) LastKeyInfo() *SectionKeyInfo {
	if len(c.Blocks) == 0 {
		return &c.Genesis
	}
	return &c.Blocks[len(c.Blocks)-1].KeyInfo
}

// Len returns the number of links including genesis.
func (c *SectionProofChain) Len() int {
	return len(c.Blocks) + 1
}

// KeyInfoAt returns the link at the given version, or nil if the version is
// outside the chain.
func (c *SectionProofChain) KeyInfoAt(version uint64) *SectionKeyInfo {
	if version < c.Genesis.Version {
		return nil
	}
	idx := version - c.Genesis.Version
	if idx == 0 {
		return &c.Genesis
	}
	if idx > uint64(len(c.Blocks)) {
		return nil
	}
	return &c.Blocks[idx-1].KeyInfo
}

// Extend appends a new link. The link must carry exactly the tip version plus
// one, a prefix compatible with the tip's, and a threshold signature that
// validates against the tip key. A link at an already-occupied version is a
// fork attempt and is rejected whatever its signature says.
func (c *SectionProofChain) Extend(block *SectionProofBlock) error {
	tip := c.LastKeyInfo()

	switch {
	case block.KeyInfo.Version <= tip.Version:
		return ErrVersionClash
	case block.KeyInfo.Version != tip.Version+1:
		return ErrNonMonotonicExtension
	}

	if !tip.Prefix.IsCompatible(block.KeyInfo.Prefix) {
		return ErrIncompatiblePrefix
	}

	if !block.Validate(tip.Key) {
		return ErrInvalidThresholdSig
	}

	c.Blocks = append(c.Blocks, block)

	return nil
}

// Check verifies target against anchor by walking the chain link by link from
// the anchor forward. It fails closed: a target older than the anchor is
// ProofTooOld, and any missing or unverifiable link is ProofInvalid.
func (c *SectionProofChain) Check(target, anchor *SectionKeyInfo) TrustStatus {
	if target.Version < anchor.Version {
		return ProofTooOld
	}

	start := c.KeyInfoAt(anchor.Version)
	if start == nil || !start.Equal(anchor) {
		return ProofInvalid
	}

	current := start
	for v := anchor.Version + 1; v <= target.Version; v++ {
		idx := v - c.Genesis.Version - 1
		if idx >= uint64(len(c.Blocks)) {
			return ProofInvalid
		}
		block := c.Blocks[idx]
		if !block.Validate(current.Key) {
			return ProofInvalid
		}
		current = &block.KeyInfo
	}

	if !current.Equal(target) {
		return ProofInvalid
	}

	return Trusted
}

// Slice extracts the portion of the chain a peer with the given knowledge
// needs to trust the tip: the link at the peer's version plus every later
// block. A version before genesis or past the tip yields the whole chain.
func (c *SectionProofChain) Slice(fromVersion uint64) *SectionProofSlice {
	start := c.KeyInfoAt(fromVersion)
	if start == nil {
		start = &c.Genesis
		fromVersion = c.Genesis.Version
	}
	idx := fromVersion - c.Genesis.Version
	blocks := make([]*SectionProofBlock, len(c.Blocks)-int(idx))
	copy(blocks, c.Blocks[idx:])
	return &SectionProofSlice{Start: *start, Blocks: blocks}
}

// SectionProofSlice is the portable form of a chain section: a starting key
// info and the consecutive blocks after it. A receiver whose trusted anchor
// matches the start can verify the slice's tip without the full history.
type SectionProofSlice struct {
	Start  SectionKeyInfo
	Blocks []*SectionProofBlock
}

// LastKeyInfo returns the slice's tip.
func (s *SectionProofSlice) LastKeyInfo() *SectionKeyInfo {
	if len(s.Blocks) == 0 {
		return &s.Start
	}
	return &s.Blocks[len(s.Blocks)-1].KeyInfo
}

// AllPrefixVersion lists every (prefix, version) pair the slice covers, oldest
// first.
func (s *SectionProofSlice) AllPrefixVersion() []SectionKeyInfo {
	out := make([]SectionKeyInfo, 0, len(s.Blocks)+1)
	out = append(out, s.Start)
	for _, b := range s.Blocks {
		out = append(out, b.KeyInfo)
	}
	return out
}

// Check verifies the slice's tip against the given anchor. The anchor must
// match one of the slice's links exactly; from there every later block's
// signature is checked in order.
func (s *SectionProofSlice) Check(anchor *SectionKeyInfo) TrustStatus {
	tip := s.LastKeyInfo()
	if tip.Version < anchor.Version {
		return ProofTooOld
	}

	current := &s.Start
	trusted := current.Equal(anchor)
	for _, block := range s.Blocks {
		if block.KeyInfo.Version != current.Version+1 {
			return ProofInvalid
		}
		if !block.Validate(current.Key) {
			return ProofInvalid
		}
		current = &block.KeyInfo
		if !trusted && current.Equal(anchor) {
			trusted = true
		}
	}

	if !trusted {
		return ProofInvalid
	}

	return Trusted
}
