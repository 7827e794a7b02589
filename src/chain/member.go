package chain

import (
	"fmt"

	"github.com/sectionnet/routing/src/common"
	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/xor"
)

// Member is the peer descriptor of one section member: its public key and the
// address where it can be reached. The member's name is not carried on the
// wire; it is the SHA256 hash of the public key and is recomputed on demand.
type Member struct {
	NetAddr   string
	PubKeyHex string

	name    xor.Name
	hasName bool
}

// NewMember builds a member descriptor from a public key and an address.
func NewMember(pubKeyHex, netAddr string) *Member {
	return &Member{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
	}
}

// Name returns the member's position in the identifier space.
func (m *Member) Name() xor.Name {
	if !m.hasName {
		pub, err := common.DecodeFromString(m.PubKeyHex)
		if err == nil {
			m.name = xor.NameFromBytes(crypto.SHA256(pub))
			m.hasName = true
		}
	}
	return m.name
}

// PubKeyBytes decodes the member's public key.
func (m *Member) PubKeyBytes() ([]byte, error) {
	return common.DecodeFromString(m.PubKeyHex)
}

func (m *Member) String() string {
	return fmt.Sprintf("Member(%s @ %s)", m.Name(), m.NetAddr)
}
