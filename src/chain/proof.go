package chain

import (
	"crypto/ecdsa"

	"github.com/sectionnet/routing/src/common"
	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/crypto/keys"
	"github.com/sectionnet/routing/src/xor"
)

// Proof is one voter's attestation of an event: the voter's identity plus its
// ECDSA signature over the event's canonical encoding.
type Proof struct {
	PubKeyHex string
	Sig       string
}

// NewProof signs the event bytes with the voter's private key.
func NewProof(key *ecdsa.PrivateKey, eventBytes []byte) (*Proof, error) {
	r, s, err := keys.Sign(key, crypto.SHA256(eventBytes))
	if err != nil {
		return nil, err
	}
	return &Proof{
		PubKeyHex: keys.PublicKeyHex(&key.PublicKey),
		Sig:       keys.EncodeSignature(r, s),
	}, nil
}

// VoterName returns the voter's position in the identifier space.
func (p *Proof) VoterName() xor.Name {
	pub, err := common.DecodeFromString(p.PubKeyHex)
	if err != nil {
		return xor.Name{}
	}
	return xor.NameFromBytes(crypto.SHA256(pub))
}

// Validate checks the signature against the event bytes.
func (p *Proof) Validate(eventBytes []byte) bool {
	pubBytes, err := common.DecodeFromString(p.PubKeyHex)
	if err != nil {
		return false
	}
	pub := keys.ToPublicKey(pubBytes)
	if pub == nil || pub.X == nil {
		return false
	}
	r, s, err := keys.DecodeSignature(p.Sig)
	if err != nil {
		return false
	}
	return keys.Verify(pub, crypto.SHA256(eventBytes), r, s)
}

// ProofSet holds at most one proof per voter.
type ProofSet struct {
	Sigs map[string]string
}

// NewProofSet ...
func NewProofSet() *ProofSet {
	return &ProofSet{Sigs: make(map[string]string)}
}

// Add inserts a proof, reporting false for a duplicate voter.
func (ps *ProofSet) Add(p *Proof) bool {
	if _, ok := ps.Sigs[p.PubKeyHex]; ok {
		return false
	}
	ps.Sigs[p.PubKeyHex] = p.Sig
	return true
}

// Contains reports whether the voter already contributed.
func (ps *ProofSet) Contains(pubKeyHex string) bool {
	_, ok := ps.Sigs[pubKeyHex]
	return ok
}

// Len returns the number of distinct voters.
func (ps *ProofSet) Len() int {
	return len(ps.Sigs)
}

// AccumulatingProof is the growing evidence attached to one event: the voter
// proofs plus, for SectionInfo events, the BLS signature shares that combine
// into the threshold signature extending the proof chain.
type AccumulatingProof struct {
	Proofs    *ProofSet
	SigShares map[string]*EventSigPayload
}

// NewAccumulatingProof ...
func NewAccumulatingProof() *AccumulatingProof {
	return &AccumulatingProof{
		Proofs:    NewProofSet(),
		SigShares: make(map[string]*EventSigPayload),
	}
}

// AddProof inserts one voter's proof and optional signature payload. It
// reports false for a duplicate voter, in which case nothing changes.
func (ap *AccumulatingProof) AddProof(p *Proof, payload *EventSigPayload) bool {
	if !ap.Proofs.Add(p) {
		return false
	}
	if payload != nil {
		ap.SigShares[p.PubKeyHex] = payload
	}
	return true
}

// Len returns the number of distinct voters.
func (ap *AccumulatingProof) Len() int {
	return ap.Proofs.Len()
}

// Shares returns the collected BLS signature shares over the key candidate.
func (ap *AccumulatingProof) Shares() []*crypto.SignatureShare {
	out := make([]*crypto.SignatureShare, 0, len(ap.SigShares))
	for _, payload := range ap.SigShares {
		out = append(out, payload.SigShare)
	}
	return out
}

// InfoShares returns the collected BLS signature shares over the proposed
// elder set.
func (ap *AccumulatingProof) InfoShares() []*crypto.SignatureShare {
	out := make([]*crypto.SignatureShare, 0, len(ap.SigShares))
	for _, payload := range ap.SigShares {
		out = append(out, payload.InfoSigShare)
	}
	return out
}
