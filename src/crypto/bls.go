package crypto

import (
	"fmt"
	"sync"

	"github.com/dfinity/go-dfinity-crypto/bls"
)

var blsInitOnce sync.Once

// InitBLS initialises the underlying pairing library. Every entry point below
// calls it, so callers normally never need to.
func InitBLS() {
	blsInitOnce.Do(func() {
		bls.Init(int(bls.CurveFp254BNb))
	})
}

// Participants are identified by opaque byte strings, typically node names.
// The pairing library's field-element IDs are derived from them on demand and
// never cross package or wire boundaries.
func blsID(participant []byte) (bls.ID, error) {
	InitBLS()
	var id bls.ID
	err := id.SetLittleEndian(SHA256(participant))
	return id, err
}

// PublicKeySet is the public half of a threshold key: the master public key
// plus the commitments needed to derive each participant's share public key.
// It is identical for all honest participants of one DKG run.
type PublicKeySet struct {
	masterPKs []bls.PublicKey
}

// PublicKey returns the section public key, against which combined threshold
// signatures verify.
func (p *PublicKeySet) PublicKey() []byte {
	return p.masterPKs[0].Serialize()
}

// Threshold returns the number of signature shares needed to produce a
// combined signature.
func (p *PublicKeySet) Threshold() int {
	return len(p.masterPKs)
}

// KeySharePublic derives the public key of the share held by the given
// participant. Used to verify individual vote signature payloads.
func (p *PublicKeySet) KeySharePublic(participant []byte) ([]byte, error) {
	id, err := blsID(participant)
	if err != nil {
		return nil, err
	}
	var pk bls.PublicKey
	if err := pk.Set(p.masterPKs, &id); err != nil {
		return nil, err
	}
	return pk.Serialize(), nil
}

// Serialize dumps the commitment vector.
func (p *PublicKeySet) Serialize() [][]byte {
	out := make([][]byte, len(p.masterPKs))
	for i := range p.masterPKs {
		out[i] = p.masterPKs[i].Serialize()
	}
	return out
}

// DeserializePublicKeySet rebuilds a PublicKeySet from Serialize output.
func DeserializePublicKeySet(raw [][]byte) (*PublicKeySet, error) {
	InitBLS()
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty public key set")
	}
	pks := make([]bls.PublicKey, len(raw))
	for i, b := range raw {
		if err := pks[i].Deserialize(b); err != nil {
			return nil, err
		}
	}
	return &PublicKeySet{masterPKs: pks}, nil
}

// SecretKeySet is the secret counterpart of a PublicKeySet. A real deployment
// never materialises it in one place; it exists here because the in-process
// DKG primitive, like the dealer in a trusted setup, derives all shares at
// once.
type SecretKeySet struct {
	masterSKs []bls.SecretKey
}

// RandomSecretKeySet draws a fresh master key of the given threshold from the
// system's CSPRNG.
func RandomSecretKeySet(threshold int) *SecretKeySet {
	InitBLS()
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	return &SecretKeySet{masterSKs: sk.GetMasterSecretKey(threshold)}
}

// DeterministicSecretKeySet derives a master key of the given threshold from
// a seed. Same seed, same key set, on every node. GetMasterSecretKey is not
// used here because it draws the higher polynomial coefficients from the
// CSPRNG.
func DeterministicSecretKeySet(seed []byte, threshold int) (*SecretKeySet, error) {
	InitBLS()
	if threshold < 1 {
		return nil, fmt.Errorf("threshold must be >= 1, got %d", threshold)
	}
	msk := make([]bls.SecretKey, threshold)
	digest := SHA256(seed)
	for i := range msk {
		if err := msk[i].SetLittleEndian(digest); err != nil {
			return nil, err
		}
		digest = SHA256(digest)
	}
	return &SecretKeySet{masterSKs: msk}, nil
}

// PublicKeys returns the matching PublicKeySet.
func (s *SecretKeySet) PublicKeys() *PublicKeySet {
	return &PublicKeySet{masterPKs: bls.GetMasterPublicKey(s.masterSKs)}
}

// SecretKeyShare computes the share belonging to the given participant.
func (s *SecretKeySet) SecretKeyShare(participant []byte) (*SecretKeyShare, error) {
	id, err := blsID(participant)
	if err != nil {
		return nil, err
	}
	var sk bls.SecretKey
	if err := sk.Set(s.masterSKs, &id); err != nil {
		return nil, err
	}
	return &SecretKeyShare{Participant: participant, sk: sk}, nil
}

// SecretKeyShare is one participant's share of a threshold secret key.
type SecretKeyShare struct {
	Participant []byte
	sk          bls.SecretKey
}

// Sign produces this participant's signature share over msg.
func (s *SecretKeyShare) Sign(msg []byte) *SignatureShare {
	return &SignatureShare{
		Participant: s.Participant,
		Sig:         s.sk.Sign(string(msg)).Serialize(),
	}
}

// PublicShare returns the public key of this share.
func (s *SecretKeyShare) PublicShare() []byte {
	return s.sk.GetPublicKey().Serialize()
}

// SignatureShare is one participant's contribution towards a combined
// threshold signature. Both fields are plain bytes so it serializes on the
// wire as-is.
type SignatureShare struct {
	Participant []byte
	Sig         []byte
}

// Verify checks the share against the share public key derived from pks.
func (s *SignatureShare) Verify(pks *PublicKeySet, msg []byte) bool {
	pub, err := pks.KeySharePublic(s.Participant)
	if err != nil {
		return false
	}
	var pk bls.PublicKey
	if err := pk.Deserialize(pub); err != nil {
		return false
	}
	var sign bls.Sign
	if err := sign.Deserialize(s.Sig); err != nil {
		return false
	}
	return sign.Verify(&pk, string(msg))
}

// CombineSignatureShares recovers the full threshold signature from at least
// Threshold() distinct shares.
func CombineSignatureShares(shares []*SignatureShare) ([]byte, error) {
	InitBLS()
	idVec := make([]bls.ID, len(shares))
	signVec := make([]bls.Sign, len(shares))
	for i, s := range shares {
		id, err := blsID(s.Participant)
		if err != nil {
			return nil, err
		}
		var sign bls.Sign
		if err := sign.Deserialize(s.Sig); err != nil {
			return nil, err
		}
		signVec[i] = sign
		idVec[i] = id
	}

	var sign bls.Sign
	if err := sign.Recover(signVec, idVec); err != nil {
		return nil, err
	}

	return sign.Serialize(), nil
}

// VerifyThresholdSig checks a combined signature against a section public key
// as returned by PublicKeySet.PublicKey.
func VerifyThresholdSig(publicKey, sig, msg []byte) bool {
	InitBLS()
	if len(publicKey) == 0 || len(sig) == 0 {
		return false
	}
	var pk bls.PublicKey
	if err := pk.Deserialize(publicKey); err != nil {
		return false
	}
	var sign bls.Sign
	if err := sign.Deserialize(sig); err != nil {
		return false
	}
	return sign.Verify(&pk, string(msg))
}
