package chain

import (
	"bytes"
	"fmt"

	"github.com/sectionnet/routing/src/xor"
	"github.com/ugorji/go/codec"
)

// MemberAge pairs a member name with its age counter, used where a map keyed
// by name would not encode canonically.
type MemberAge struct {
	Name       xor.Name
	AgeCounter AgeCounter
}

// GenesisPfxInfo is the trust bundle handed to a joining node: the section's
// first elder set and key, the member ages at that point, the latest known
// elder set, and the agreement-engine version to join at. FirstInfo and
// FirstKeys are the out-of-band trusted anchor everything else is verified
// against. LatestInfoSig is the threshold signature over LatestInfo's
// canonical encoding, made by the section key preceding LatestInfo's version;
// it is empty while LatestInfo is still FirstInfo.
type GenesisPfxInfo struct {
	FirstInfo        *EldersInfo
	FirstKeys        [][]byte
	FirstAges        []MemberAge
	LatestInfo       *EldersInfo
	LatestInfoSig    []byte
	AgreementVersion uint64
}

// FirstKeyInfo derives the proof-chain genesis link from the bundle.
func (g *GenesisPfxInfo) FirstKeyInfo() *SectionKeyInfo {
	var key []byte
	if len(g.FirstKeys) > 0 {
		key = g.FirstKeys[0]
	}
	return &SectionKeyInfo{
		Prefix:  g.FirstInfo.Prefix,
		Version: g.FirstInfo.Version,
		Key:     key,
	}
}

// AgeOf returns the recorded age counter for a member, or the minimum if the
// bundle does not mention it.
func (g *GenesisPfxInfo) AgeOf(name xor.Name) AgeCounter {
	for _, ma := range g.FirstAges {
		if ma.Name == name {
			return ma.AgeCounter
		}
	}
	return MinAgeCounter
}

// Marshal ...
func (g *GenesisPfxInfo) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(g); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (g *GenesisPfxInfo) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(g)
}

func (g *GenesisPfxInfo) String() string {
	return fmt.Sprintf("GenesisPfxInfo(%s, v%d, agreement v%d)",
		g.FirstInfo.Prefix, g.LatestInfo.Version, g.AgreementVersion)
}
