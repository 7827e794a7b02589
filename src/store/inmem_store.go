package store

import (
	"fmt"

	"github.com/sectionnet/routing/src/chain"
	cm "github.com/sectionnet/routing/src/common"
	"github.com/sectionnet/routing/src/xor"
)

// InmemStore keeps everything in maps. It backs tests and also serves as the
// write-through cache inside BadgerStore.
type InmemStore struct {
	cacheSize int

	genesis     *chain.GenesisPfxInfo
	elders      map[uint64]*chain.EldersInfo
	lastElders  uint64
	proofBlocks map[uint64]*chain.SectionProofBlock
	lastProof   uint64
	members     map[xor.Name]*chain.MemberInfo
}

// NewInmemStore ...
func NewInmemStore(cacheSize int) *InmemStore {
	return &InmemStore{
		cacheSize:   cacheSize,
		elders:      make(map[uint64]*chain.EldersInfo),
		proofBlocks: make(map[uint64]*chain.SectionProofBlock),
		members:     make(map[xor.Name]*chain.MemberInfo),
	}
}

// CacheSize implements the Store interface.
func (s *InmemStore) CacheSize() int {
	return s.cacheSize
}

// GetGenesis implements the Store interface.
func (s *InmemStore) GetGenesis() (*chain.GenesisPfxInfo, error) {
	if s.genesis == nil {
		return nil, cm.NewStoreErr("Genesis", cm.NoGenesis, "")
	}
	return s.genesis, nil
}

// SetGenesis implements the Store interface. It seeds the version counters,
// so it must be the first write on a fresh store.
func (s *InmemStore) SetGenesis(g *chain.GenesisPfxInfo) error {
	s.genesis = g
	s.lastProof = g.FirstInfo.Version
	if err := s.SetEldersInfo(g.FirstInfo); err != nil {
		return err
	}
	if g.LatestInfo.Version != g.FirstInfo.Version {
		return s.SetEldersInfo(g.LatestInfo)
	}
	return nil
}

// GetEldersInfo implements the Store interface.
func (s *InmemStore) GetEldersInfo(version uint64) (*chain.EldersInfo, error) {
	info, ok := s.elders[version]
	if !ok {
		return nil, cm.NewStoreErr("EldersInfo", cm.KeyNotFound, fmt.Sprint(version))
	}
	return info, nil
}

// SetEldersInfo implements the Store interface.
func (s *InmemStore) SetEldersInfo(info *chain.EldersInfo) error {
	s.elders[info.Version] = info
	if info.Version > s.lastElders {
		s.lastElders = info.Version
	}
	return nil
}

// LastEldersInfo implements the Store interface.
func (s *InmemStore) LastEldersInfo() (*chain.EldersInfo, error) {
	return s.GetEldersInfo(s.lastElders)
}

// GetProofBlock implements the Store interface.
func (s *InmemStore) GetProofBlock(version uint64) (*chain.SectionProofBlock, error) {
	block, ok := s.proofBlocks[version]
	if !ok {
		return nil, cm.NewStoreErr("ProofBlock", cm.KeyNotFound, fmt.Sprint(version))
	}
	return block, nil
}

// SetProofBlock implements the Store interface. Blocks must arrive in
// version order with no gaps, mirroring the proof chain's extension rule.
func (s *InmemStore) SetProofBlock(block *chain.SectionProofBlock) error {
	if s.genesis == nil {
		return cm.NewStoreErr("ProofBlock", cm.NoGenesis, "")
	}
	v := block.KeyInfo.Version
	if _, ok := s.proofBlocks[v]; ok {
		return cm.NewStoreErr("ProofBlock", cm.KeyAlreadyExists, fmt.Sprint(v))
	}
	if v != s.lastProof+1 {
		return cm.NewStoreErr("ProofBlock", cm.SkippedVersion, fmt.Sprint(v))
	}
	s.proofBlocks[v] = block
	s.lastProof = v
	return nil
}

// GetMemberInfo implements the Store interface.
func (s *InmemStore) GetMemberInfo(name xor.Name) (*chain.MemberInfo, error) {
	info, ok := s.members[name]
	if !ok {
		return nil, cm.NewStoreErr("MemberInfo", cm.UnknownMember, name.String())
	}
	return info, nil
}

// SetMemberInfo implements the Store interface.
func (s *InmemStore) SetMemberInfo(name xor.Name, info *chain.MemberInfo) error {
	s.members[name] = info
	return nil
}

// NeedBootstrap implements the Store interface.
func (s *InmemStore) NeedBootstrap() bool {
	return false
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
