// Package store persists the slow-changing section state: the genesis
// bundle, elder snapshots, proof-chain blocks and member records. Votes and
// other in-flight state are deliberately not stored; a restarting node
// rebuilds them from gossip.
package store

import (
	"github.com/sectionnet/routing/src/chain"
	"github.com/sectionnet/routing/src/xor"
)

// Store is the interface to the persistence layer.
type Store interface {
	CacheSize() int

	GetGenesis() (*chain.GenesisPfxInfo, error)
	SetGenesis(*chain.GenesisPfxInfo) error

	GetEldersInfo(version uint64) (*chain.EldersInfo, error)
	SetEldersInfo(*chain.EldersInfo) error
	LastEldersInfo() (*chain.EldersInfo, error)

	GetProofBlock(version uint64) (*chain.SectionProofBlock, error)
	SetProofBlock(*chain.SectionProofBlock) error

	GetMemberInfo(name xor.Name) (*chain.MemberInfo, error)
	SetMemberInfo(name xor.Name, info *chain.MemberInfo) error

	// NeedBootstrap reports whether the store was loaded from an existing
	// database, in which case the node resumes instead of joining afresh.
	NeedBootstrap() bool

	StorePath() string

	Close() error
}
