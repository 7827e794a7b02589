package dkg

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/xor"
)

func testParticipants(n int) []xor.Name {
	rng := rand.New(rand.NewSource(42))
	names := make([]xor.Name, n)
	for i := range names {
		names[i] = xor.RandomName(rng)
	}
	return names
}

func TestDeterministicAcrossParticipants(t *testing.T) {
	participants := testParticipants(7)
	threshold := 5

	runner := NewInProcRunner()

	var publicKey []byte
	for _, name := range participants {
		res, err := runner.GetDkgResult(participants, name, threshold)
		if err != nil {
			t.Fatal(err)
		}
		if res.Share == nil {
			t.Fatalf("participant %s got no share", name)
		}
		if publicKey == nil {
			publicKey = res.PublicKeys.PublicKey()
		} else if !bytes.Equal(publicKey, res.PublicKeys.PublicKey()) {
			t.Fatalf("participant %s derived a different public key", name)
		}
	}

	// Order of the participant slice must not matter.
	shuffled := append([]xor.Name{}, participants...)
	shuffled[0], shuffled[6] = shuffled[6], shuffled[0]
	res, err := runner.GetDkgResult(shuffled, participants[0], threshold)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(publicKey, res.PublicKeys.PublicKey()) {
		t.Fatal("participant order changed the derived public key")
	}
}

func TestNonParticipantGetsNoShare(t *testing.T) {
	participants := testParticipants(7)
	outsider := xor.NameFromBytes([]byte("outsider"))

	res, err := NewInProcRunner().GetDkgResult(participants, outsider, 5)
	if err != nil {
		t.Fatal(err)
	}
	if res.Share != nil {
		t.Fatal("non-participant received a share")
	}
	if res.PublicKeys == nil {
		t.Fatal("non-participant should still learn the public key set")
	}
}

func TestThresholdSharesRecoverSignature(t *testing.T) {
	participants := testParticipants(7)
	threshold := 5
	runner := NewInProcRunner()

	msg := []byte("section key candidate")

	shares := make([]*crypto.SignatureShare, 0, threshold)
	var pks *crypto.PublicKeySet
	for _, name := range participants[:threshold] {
		res, err := runner.GetDkgResult(participants, name, threshold)
		if err != nil {
			t.Fatal(err)
		}
		shares = append(shares, res.Share.Sign(msg))
		pks = res.PublicKeys
	}

	sig, err := crypto.CombineSignatureShares(shares)
	if err != nil {
		t.Fatal(err)
	}
	if !crypto.VerifyThresholdSig(pks.PublicKey(), sig, msg) {
		t.Fatal("combined signature does not verify against the master key")
	}

	// One share short must not recover a valid signature.
	short, err := crypto.CombineSignatureShares(shares[:threshold-1])
	if err == nil && crypto.VerifyThresholdSig(pks.PublicKey(), short, msg) {
		t.Fatal("signature recovered from fewer shares than the threshold")
	}
}

func TestDigestOrderIndependent(t *testing.T) {
	participants := testParticipants(5)

	shuffled := append([]xor.Name{}, participants...)
	shuffled[0], shuffled[4] = shuffled[4], shuffled[0]

	if Digest(participants) != Digest(shuffled) {
		t.Fatal("digest depends on participant order")
	}

	if Digest(participants) == Digest(participants[:4]) {
		t.Fatal("digest ignores participant set membership")
	}
}
