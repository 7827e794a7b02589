package crypto

import (
	"bytes"
	"fmt"
	"testing"
)

func TestThresholdSignRecover(t *testing.T) {
	const threshold = 5

	sks := RandomSecretKeySet(threshold)
	pks := sks.PublicKeys()

	msg := []byte("section key transition v7")

	shares := []*SignatureShare{}
	for i := 0; i < threshold; i++ {
		share, err := sks.SecretKeyShare([]byte(fmt.Sprintf("elder-%d", i)))
		if err != nil {
			t.Fatal(err)
		}

		sigShare := share.Sign(msg)
		if !sigShare.Verify(pks, msg) {
			t.Fatalf("signature share %d does not verify", i)
		}
		shares = append(shares, sigShare)
	}

	sig, err := CombineSignatureShares(shares)
	if err != nil {
		t.Fatal(err)
	}

	if !VerifyThresholdSig(pks.PublicKey(), sig, msg) {
		t.Fatal("combined signature does not verify against section key")
	}
	if VerifyThresholdSig(pks.PublicKey(), sig, []byte("other msg")) {
		t.Fatal("combined signature verified a different message")
	}
}

func TestThresholdTooFewShares(t *testing.T) {
	const threshold = 3

	sks := RandomSecretKeySet(threshold)
	pks := sks.PublicKeys()

	msg := []byte("msg")

	shares := []*SignatureShare{}
	for i := 0; i < threshold-1; i++ {
		share, err := sks.SecretKeyShare([]byte(fmt.Sprintf("elder-%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		shares = append(shares, share.Sign(msg))
	}

	sig, err := CombineSignatureShares(shares)
	if err == nil && VerifyThresholdSig(pks.PublicKey(), sig, msg) {
		t.Fatal("recovered a valid signature from fewer than threshold shares")
	}
}

func TestDeterministicSecretKeySet(t *testing.T) {
	seed := []byte("participants: a,b,c,d,e,f,g")

	a, err := DeterministicSecretKeySet(seed, 5)
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeterministicSecretKeySet(seed, 5)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(a.PublicKeys().PublicKey(), b.PublicKeys().PublicKey()) {
		t.Fatal("same seed should derive the same master public key")
	}

	c, err := DeterministicSecretKeySet([]byte("different"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.PublicKeys().PublicKey(), c.PublicKeys().PublicKey()) {
		t.Fatal("different seeds should derive different master keys")
	}
}

func TestPublicKeySetSerialize(t *testing.T) {
	sks := RandomSecretKeySet(4)
	pks := sks.PublicKeys()

	restored, err := DeserializePublicKeySet(pks.Serialize())
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(pks.PublicKey(), restored.PublicKey()) {
		t.Fatal("round-tripped key set has a different master key")
	}
	if restored.Threshold() != pks.Threshold() {
		t.Fatal("round-tripped key set has a different threshold")
	}
}
