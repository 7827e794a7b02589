package store

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	"github.com/sectionnet/routing/src/chain"
	cm "github.com/sectionnet/routing/src/common"
	"github.com/sectionnet/routing/src/xor"
	"github.com/ugorji/go/codec"
)

const (
	genesisKey   = "genesis"
	eldersPrefix = "elders"
	proofPrefix  = "proof"
	memberPrefix = "member"
)

// BadgerStore is a write-through Store: every write lands in the wrapped
// InmemStore and in badger; reads hit the in-memory copy first.
type BadgerStore struct {
	inmemStore    *InmemStore
	db            *badger.DB
	path          string
	needBootstrap bool
}

// NewBadgerStore creates a brand new store with a new database.
func NewBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	opts.Logger = nil
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{
		inmemStore: NewInmemStore(cacheSize),
		db:         handle,
		path:       path,
	}, nil
}

// LoadBadgerStore creates a store from an existing database and replays its
// contents into the in-memory copy.
func LoadBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	opts.Logger = nil
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore:    NewInmemStore(cacheSize),
		db:            handle,
		path:          path,
		needBootstrap: true,
	}

	if err := store.replay(); err != nil {
		store.db.Close()
		return nil, err
	}

	return store, nil
}

// LoadOrCreateBadgerStore tries to load an existing database, and falls back
// to creating a new one.
func LoadOrCreateBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(cacheSize, path)
	if err != nil {
		store, err = NewBadgerStore(cacheSize, path)
		if err != nil {
			return nil, err
		}
	}
	return store, nil
}

// replay loads the database contents into the in-memory copy, proof blocks in
// version order.
func (s *BadgerStore) replay() error {
	genesisBytes, err := s.dbGet([]byte(genesisKey))
	if err != nil {
		return cm.NewStoreErr("Genesis", cm.NoGenesis, "")
	}
	genesis := new(chain.GenesisPfxInfo)
	if err := genesis.Unmarshal(genesisBytes); err != nil {
		return err
	}
	if err := s.inmemStore.SetGenesis(genesis); err != nil {
		return err
	}

	for v := genesis.FirstInfo.Version + 1; ; v++ {
		blockBytes, err := s.dbGet(proofKey(v))
		if err != nil {
			break
		}
		block := new(chain.SectionProofBlock)
		if err := decodeValue(blockBytes, block); err != nil {
			return err
		}
		if err := s.inmemStore.SetProofBlock(block); err != nil {
			return err
		}

		if infoBytes, err := s.dbGet(eldersKey(v)); err == nil {
			info := new(chain.EldersInfo)
			if err := info.Unmarshal(infoBytes); err != nil {
				return err
			}
			if err := s.inmemStore.SetEldersInfo(info); err != nil {
				return err
			}
		}
	}

	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(memberPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name, err := xor.NameFromHex(string(item.Key()[len(prefix):]))
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			info := new(chain.MemberInfo)
			if err := decodeValue(val, info); err != nil {
				return err
			}
			if err := s.inmemStore.SetMemberInfo(name, info); err != nil {
				return err
			}
		}
		return nil
	})
}

/*******************************************************************************
Keys
*******************************************************************************/

func eldersKey(version uint64) []byte {
	return []byte(fmt.Sprintf("%s_%09d", eldersPrefix, version))
}

func proofKey(version uint64) []byte {
	return []byte(fmt.Sprintf("%s_%09d", proofPrefix, version))
}

func memberKey(name xor.Name) []byte {
	return []byte(fmt.Sprintf("%s_%s", memberPrefix, name.Hex()))
}

/*******************************************************************************
Store interface
*******************************************************************************/

// CacheSize implements the Store interface.
func (s *BadgerStore) CacheSize() int {
	return s.inmemStore.CacheSize()
}

// GetGenesis implements the Store interface.
func (s *BadgerStore) GetGenesis() (*chain.GenesisPfxInfo, error) {
	return s.inmemStore.GetGenesis()
}

// SetGenesis implements the Store interface.
func (s *BadgerStore) SetGenesis(g *chain.GenesisPfxInfo) error {
	if err := s.inmemStore.SetGenesis(g); err != nil {
		return err
	}
	data, err := g.Marshal()
	if err != nil {
		return err
	}
	if err := s.dbSet([]byte(genesisKey), data); err != nil {
		return err
	}
	return s.dbSetEldersInfo(g.FirstInfo)
}

// GetEldersInfo implements the Store interface.
func (s *BadgerStore) GetEldersInfo(version uint64) (*chain.EldersInfo, error) {
	return s.inmemStore.GetEldersInfo(version)
}

// SetEldersInfo implements the Store interface.
func (s *BadgerStore) SetEldersInfo(info *chain.EldersInfo) error {
	if err := s.inmemStore.SetEldersInfo(info); err != nil {
		return err
	}
	return s.dbSetEldersInfo(info)
}

// LastEldersInfo implements the Store interface.
func (s *BadgerStore) LastEldersInfo() (*chain.EldersInfo, error) {
	return s.inmemStore.LastEldersInfo()
}

// GetProofBlock implements the Store interface.
func (s *BadgerStore) GetProofBlock(version uint64) (*chain.SectionProofBlock, error) {
	return s.inmemStore.GetProofBlock(version)
}

// SetProofBlock implements the Store interface.
func (s *BadgerStore) SetProofBlock(block *chain.SectionProofBlock) error {
	if err := s.inmemStore.SetProofBlock(block); err != nil {
		return err
	}
	data, err := encodeValue(block)
	if err != nil {
		return err
	}
	return s.dbSet(proofKey(block.KeyInfo.Version), data)
}

// GetMemberInfo implements the Store interface.
func (s *BadgerStore) GetMemberInfo(name xor.Name) (*chain.MemberInfo, error) {
	return s.inmemStore.GetMemberInfo(name)
}

// SetMemberInfo implements the Store interface.
func (s *BadgerStore) SetMemberInfo(name xor.Name, info *chain.MemberInfo) error {
	if err := s.inmemStore.SetMemberInfo(name, info); err != nil {
		return err
	}
	data, err := encodeValue(info)
	if err != nil {
		return err
	}
	return s.dbSet(memberKey(name), data)
}

// NeedBootstrap implements the Store interface.
func (s *BadgerStore) NeedBootstrap() bool {
	return s.needBootstrap
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

/*******************************************************************************
DB methods
*******************************************************************************/

func (s *BadgerStore) dbGet(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

func (s *BadgerStore) dbSet(key, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *BadgerStore) dbSetEldersInfo(info *chain.EldersInfo) error {
	data, err := info.Marshal()
	if err != nil {
		return err
	}
	return s.dbSet(eldersKey(info.Version), data)
}

func encodeValue(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoder(b, jh).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decodeValue(data []byte, v interface{}) error {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	return codec.NewDecoder(bytes.NewBuffer(data), jh).Decode(v)
}
