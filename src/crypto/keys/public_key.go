package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"

	"github.com/sectionnet/routing/src/common"
	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/xor"
)

// ToPublicKey is a wrapper around elliptic.Unmarshal which calls Curve() to
// determine which elliptic.Curve to use. The argument pub is expected to be the
// uncompressed form of a point on the curve, as returned by FromPublicKey.
func ToPublicKey(pub []byte) *ecdsa.PublicKey {
	if len(pub) == 0 {
		return nil
	}
	x, y := elliptic.Unmarshal(Curve(), pub)
	return &ecdsa.PublicKey{Curve: Curve(), X: x, Y: y}
}

// FromPublicKey is a wrapper around elliptic.Marshal which calls Curve() to
// determine which elliptic.Curve to use. It outputs the point in uncompressed
// form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return elliptic.Marshal(Curve(), pub.X, pub.Y)
}

// PublicKeyHex returns the hexadecimal representation of the uncompressed form
// of the public key.
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return common.EncodeToString(FromPublicKey(pub))
}

// PublicKeyName derives the node name associated with a public key: the
// SHA256 hash of its uncompressed form. Binding names to keys this way stops
// a node from claiming an arbitrary position in the identifier space.
func PublicKeyName(pub *ecdsa.PublicKey) xor.Name {
	return xor.NameFromBytes(crypto.SHA256(FromPublicKey(pub)))
}
