package node

import (
	"bytes"
	"crypto/ecdsa"

	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/crypto/keys"
	"github.com/sectionnet/routing/src/xor"
	"github.com/ugorji/go/codec"
)

// extraSplitCount is the number of bits a relocated identity commits to
// beyond the destination section's current prefix. The margin keeps the
// identity valid even if the destination splits again before the relocation
// completes.
const extraSplitCount = 3

// RelocateDetails is the body of a relocation ticket: where the node must go
// and the age it arrives with.
type RelocateDetails struct {
	DstName   xor.Name
	DstPrefix xor.Prefix
	Age       uint8
}

// Marshal produces the canonical encoding covered by the ticket's signature.
func (r *RelocateDetails) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoder(b, jh).Encode(r); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// SignedRelocateDetails is a relocation ticket: the details threshold-signed
// by the sending section.
type SignedRelocateDetails struct {
	Details RelocateDetails
	Sig     []byte
}

// Verify checks the ticket against the signing section's public key.
func (s *SignedRelocateDetails) Verify(sectionKey []byte) bool {
	data, err := s.Details.Marshal()
	if err != nil {
		return false
	}
	return crypto.VerifyThresholdSig(sectionKey, s.Sig, data)
}

// TargetPrefix returns the prefix a relocated identity must match: the
// destination prefix extended towards the destination name by the extra split
// margin.
func (r *RelocateDetails) TargetPrefix() xor.Prefix {
	return xor.NewPrefix(r.DstPrefix.BitCount+extraSplitCount, r.DstName)
}

// GenerateRelocatedIdentity draws fresh keypairs until one's name falls
// inside the target prefix. The name stays bound to the key, so the only way
// to land in the destination range is to keep drawing.
func GenerateRelocatedIdentity(target xor.Prefix) (*ecdsa.PrivateKey, error) {
	for {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			return nil, err
		}
		if target.Matches(keys.PublicKeyName(&key.PublicKey)) {
			return key, nil
		}
	}
}
