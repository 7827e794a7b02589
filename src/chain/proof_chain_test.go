package chain

import (
	"math/rand"
	"testing"

	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/xor"
)

// testKeySet is one section key generation with enough shares to sign the
// next link.
type testKeySet struct {
	sks    *crypto.SecretKeySet
	pks    *crypto.PublicKeySet
	names  []xor.Name
	shares []*crypto.SecretKeyShare
}

func newTestKeySet(t *testing.T, seed string, threshold, participants int, rng *rand.Rand) *testKeySet {
	sks, err := crypto.DeterministicSecretKeySet([]byte(seed), threshold)
	if err != nil {
		t.Fatal(err)
	}

	ks := &testKeySet{sks: sks, pks: sks.PublicKeys()}
	for i := 0; i < participants; i++ {
		name := xor.RandomName(rng)
		share, err := sks.SecretKeyShare(name[:])
		if err != nil {
			t.Fatal(err)
		}
		ks.names = append(ks.names, name)
		ks.shares = append(ks.shares, share)
	}
	return ks
}

// signBlock threshold-signs the key info with the given key set's shares.
func signBlock(t *testing.T, signer *testKeySet, keyInfo SectionKeyInfo) *SectionProofBlock {
	data, err := keyInfo.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	shares := make([]*crypto.SignatureShare, len(signer.shares))
	for i, s := range signer.shares {
		shares[i] = s.Sign(data)
	}

	sig, err := crypto.CombineSignatureShares(shares)
	if err != nil {
		t.Fatal(err)
	}

	return &SectionProofBlock{KeyInfo: keyInfo, Sig: sig}
}

func TestProofChainExtendAndTransitivity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	prefix := xor.Prefix{}

	g := newTestKeySet(t, "genesis", 5, 7, rng)
	a := newTestKeySet(t, "gen-a", 5, 7, rng)
	b := newTestKeySet(t, "gen-b", 5, 7, rng)

	genesis := SectionKeyInfo{Prefix: prefix, Version: 0, Key: g.pks.PublicKey()}
	chain := NewSectionProofChain(genesis)

	blockA := signBlock(t, g, SectionKeyInfo{Prefix: prefix, Version: 1, Key: a.pks.PublicKey()})
	if err := chain.Extend(blockA); err != nil {
		t.Fatalf("extend to v1: %v", err)
	}

	blockB := signBlock(t, a, SectionKeyInfo{Prefix: prefix, Version: 2, Key: b.pks.PublicKey()})
	if err := chain.Extend(blockB); err != nil {
		t.Fatalf("extend to v2: %v", err)
	}

	// Trust in the tip follows from the anchor alone; the intermediate link
	// is supplied by the chain, not the caller.
	if status := chain.Check(chain.LastKeyInfo(), &genesis); status != Trusted {
		t.Fatalf("check tip against genesis: got %s, want Trusted", status)
	}

	// And also from the intermediate link.
	if status := chain.Check(chain.LastKeyInfo(), &blockA.KeyInfo); status != Trusted {
		t.Fatalf("check tip against v1: got %s, want Trusted", status)
	}
}

func TestProofChainForkRejected(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	prefix := xor.Prefix{}

	g := newTestKeySet(t, "genesis", 5, 7, rng)
	a := newTestKeySet(t, "gen-a", 5, 7, rng)
	evil := newTestKeySet(t, "gen-evil", 5, 7, rng)

	genesis := SectionKeyInfo{Prefix: prefix, Version: 0, Key: g.pks.PublicKey()}
	chain := NewSectionProofChain(genesis)

	blockA := signBlock(t, g, SectionKeyInfo{Prefix: prefix, Version: 1, Key: a.pks.PublicKey()})
	if err := chain.Extend(blockA); err != nil {
		t.Fatal(err)
	}

	// A second key at an occupied version must be rejected even with a valid
	// signature from the previous key.
	fork := signBlock(t, g, SectionKeyInfo{Prefix: prefix, Version: 1, Key: evil.pks.PublicKey()})
	if err := chain.Extend(fork); err != ErrVersionClash {
		t.Fatalf("fork extend: got %v, want ErrVersionClash", err)
	}

	if got := chain.LastKeyInfo().Version; got != 1 {
		t.Fatalf("tip version after fork attempt: got %d, want 1", got)
	}
}

func TestProofChainRejectsGapAndBadSig(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	prefix := xor.Prefix{}

	g := newTestKeySet(t, "genesis", 5, 7, rng)
	a := newTestKeySet(t, "gen-a", 5, 7, rng)
	b := newTestKeySet(t, "gen-b", 5, 7, rng)

	genesis := SectionKeyInfo{Prefix: prefix, Version: 0, Key: g.pks.PublicKey()}
	chain := NewSectionProofChain(genesis)

	gap := signBlock(t, g, SectionKeyInfo{Prefix: prefix, Version: 2, Key: a.pks.PublicKey()})
	if err := chain.Extend(gap); err != ErrNonMonotonicExtension {
		t.Fatalf("gap extend: got %v, want ErrNonMonotonicExtension", err)
	}

	// Signed by the wrong key set.
	bad := signBlock(t, b, SectionKeyInfo{Prefix: prefix, Version: 1, Key: a.pks.PublicKey()})
	if err := chain.Extend(bad); err != ErrInvalidThresholdSig {
		t.Fatalf("bad sig extend: got %v, want ErrInvalidThresholdSig", err)
	}
}

func TestProofChainProofTooOld(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	prefix := xor.Prefix{}

	g := newTestKeySet(t, "genesis", 5, 7, rng)
	a := newTestKeySet(t, "gen-a", 5, 7, rng)

	genesis := SectionKeyInfo{Prefix: prefix, Version: 0, Key: g.pks.PublicKey()}
	chain := NewSectionProofChain(genesis)

	blockA := signBlock(t, g, SectionKeyInfo{Prefix: prefix, Version: 1, Key: a.pks.PublicKey()})
	if err := chain.Extend(blockA); err != nil {
		t.Fatal(err)
	}

	// Holding v1, being offered v0 means the offer is stale, not invalid.
	if status := chain.Check(&genesis, &blockA.KeyInfo); status != ProofTooOld {
		t.Fatalf("stale target: got %s, want ProofTooOld", status)
	}
}

func TestProofSliceCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	prefix := xor.Prefix{}

	g := newTestKeySet(t, "genesis", 5, 7, rng)
	a := newTestKeySet(t, "gen-a", 5, 7, rng)
	b := newTestKeySet(t, "gen-b", 5, 7, rng)

	genesis := SectionKeyInfo{Prefix: prefix, Version: 0, Key: g.pks.PublicKey()}
	chain := NewSectionProofChain(genesis)

	blockA := signBlock(t, g, SectionKeyInfo{Prefix: prefix, Version: 1, Key: a.pks.PublicKey()})
	if err := chain.Extend(blockA); err != nil {
		t.Fatal(err)
	}
	blockB := signBlock(t, a, SectionKeyInfo{Prefix: prefix, Version: 2, Key: b.pks.PublicKey()})
	if err := chain.Extend(blockB); err != nil {
		t.Fatal(err)
	}

	// A peer that knows v1 only needs the v1..v2 portion.
	slice := chain.Slice(1)
	if got := len(slice.AllPrefixVersion()); got != 2 {
		t.Fatalf("slice links: got %d, want 2", got)
	}
	if status := slice.Check(&blockA.KeyInfo); status != Trusted {
		t.Fatalf("slice check against v1: got %s, want Trusted", status)
	}

	// An anchor the slice never mentions cannot establish trust.
	outsider := SectionKeyInfo{Prefix: prefix, Version: 1, Key: b.pks.PublicKey()}
	if status := slice.Check(&outsider); status != ProofInvalid {
		t.Fatalf("slice check against unknown anchor: got %s, want ProofInvalid", status)
	}

	// A peer already past the slice's tip treats it as stale.
	future := SectionKeyInfo{Prefix: prefix, Version: 3, Key: b.pks.PublicKey()}
	if status := slice.Check(&future); status != ProofTooOld {
		t.Fatalf("slice check against newer anchor: got %s, want ProofTooOld", status)
	}
}
