package chain

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/sectionnet/routing/src/xor"
	"github.com/ugorji/go/codec"
)

// QuorumCount returns the number of elder votes that form a quorum among n
// elders: the smallest integer strictly greater than 2n/3. It is the single
// tunable vote-counting policy of the network.
func QuorumCount(n int) int {
	return 2*n/3 + 1
}

// EldersInfo is an immutable snapshot of one section's elder membership at
// one version. A change to the elder set is always a new EldersInfo with the
// version incremented by one; snapshots of one lineage are totally ordered by
// (prefix, version).
//
// Members is kept sorted by name so that the canonical encoding, which doubles
// as a signature payload, is stable.
type EldersInfo struct {
	Members []*Member
	Prefix  xor.Prefix
	Version uint64

	byName map[xor.Name]*Member
}

// NewEldersInfo constructs the successor snapshot of prev with the given
// members. With prev == nil it constructs the genesis snapshot at version 0.
func NewEldersInfo(members map[xor.Name]*Member, prefix xor.Prefix, prev *EldersInfo) (*EldersInfo, error) {
	version := uint64(0)
	if prev != nil {
		version = prev.Version + 1
		if !prefix.IsCompatible(prev.Prefix) {
			return nil, ErrIncompatiblePrefix
		}
	}

	sorted := make([]*Member, 0, len(members))
	for _, m := range members {
		sorted = append(sorted, m)
	}
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Name(), sorted[j].Name()
		return a.Cmp(b) < 0
	})

	return &EldersInfo{
		Members: sorted,
		Prefix:  prefix,
		Version: version,
	}, nil
}

// Len returns the number of elders.
func (e *EldersInfo) Len() int {
	return len(e.Members)
}

// MemberMap returns the members indexed by name. The map is cached; callers
// must not mutate it.
func (e *EldersInfo) MemberMap() map[xor.Name]*Member {
	if e.byName == nil {
		e.byName = make(map[xor.Name]*Member, len(e.Members))
		for _, m := range e.Members {
			e.byName[m.Name()] = m
		}
	}
	return e.byName
}

// IsMember reports whether name belongs to the elder set.
func (e *EldersInfo) IsMember(name xor.Name) bool {
	_, ok := e.MemberMap()[name]
	return ok
}

// Find returns the member descriptor for name, or nil.
func (e *EldersInfo) Find(name xor.Name) *Member {
	return e.MemberMap()[name]
}

// MemberNames returns the member names in sorted order.
func (e *EldersInfo) MemberNames() []xor.Name {
	names := make([]xor.Name, len(e.Members))
	for i, m := range e.Members {
		names[i] = m.Name()
	}
	return names
}

// QuorumCount returns the quorum for this elder set.
func (e *EldersInfo) QuorumCount() int {
	return QuorumCount(e.Len())
}

// IsSuccessorOf reports whether e directly follows prev in one lineage.
func (e *EldersInfo) IsSuccessorOf(prev *EldersInfo) bool {
	return e.Version == prev.Version+1 && e.Prefix.IsCompatible(prev.Prefix)
}

// Marshal produces the canonical encoding of the snapshot.
func (e *EldersInfo) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (e *EldersInfo) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(e); err != nil {
		return err
	}

	e.byName = nil

	return nil
}

func (e *EldersInfo) String() string {
	return fmt.Sprintf("EldersInfo%s/v%d{%d elders}", e.Prefix, e.Version, e.Len())
}
