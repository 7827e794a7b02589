package store

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/sectionnet/routing/src/chain"
	cm "github.com/sectionnet/routing/src/common"
	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/crypto/keys"
	"github.com/sectionnet/routing/src/xor"
)

const cacheSize = 100

func testGenesis(t *testing.T) *chain.GenesisPfxInfo {
	members := make(map[xor.Name]*chain.Member)
	ages := []chain.MemberAge{}
	for i := 0; i < 3; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		m := chain.NewMember(keys.PublicKeyHex(&key.PublicKey), fmt.Sprintf("127.0.0.1:%d", 10000+i))
		members[m.Name()] = m
		ages = append(ages, chain.MemberAge{Name: m.Name(), AgeCounter: chain.MinAgeCounter})
	}

	info, err := chain.NewEldersInfo(members, xor.Prefix{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	return &chain.GenesisPfxInfo{
		FirstInfo:  info,
		FirstKeys:  crypto.RandomSecretKeySet(2).PublicKeys().Serialize(),
		FirstAges:  ages,
		LatestInfo: info,
	}
}

func testProofBlock(version uint64) *chain.SectionProofBlock {
	return &chain.SectionProofBlock{
		KeyInfo: chain.SectionKeyInfo{
			Version: version,
			Key:     []byte{1, 2, 3},
		},
		Sig: []byte{4, 5, 6},
	}
}

func TestInmemStoreRoundTrip(t *testing.T) {
	store := NewInmemStore(cacheSize)

	if _, err := store.GetGenesis(); !cm.IsStore(err, cm.NoGenesis) {
		t.Fatalf("empty store genesis: got %v, want NoGenesis", err)
	}
	if err := store.SetProofBlock(testProofBlock(1)); !cm.IsStore(err, cm.NoGenesis) {
		t.Fatalf("proof block before genesis: got %v, want NoGenesis", err)
	}

	genesis := testGenesis(t)
	if err := store.SetGenesis(genesis); err != nil {
		t.Fatal(err)
	}

	info, err := store.LastEldersInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != 0 {
		t.Fatalf("last elders version: got %d, want 0", info.Version)
	}

	// Blocks must arrive in order.
	if err := store.SetProofBlock(testProofBlock(2)); !cm.IsStore(err, cm.SkippedVersion) {
		t.Fatalf("gapped proof block: got %v, want SkippedVersion", err)
	}
	if err := store.SetProofBlock(testProofBlock(1)); err != nil {
		t.Fatal(err)
	}
	if err := store.SetProofBlock(testProofBlock(1)); !cm.IsStore(err, cm.KeyAlreadyExists) {
		t.Fatalf("duplicate proof block: got %v, want KeyAlreadyExists", err)
	}

	name := genesis.FirstInfo.MemberNames()[0]
	member := genesis.FirstInfo.Find(name)
	if err := store.SetMemberInfo(name, chain.NewMemberInfo(member, chain.MinAge)); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetMemberInfo(name)
	if err != nil {
		t.Fatal(err)
	}
	if got.Age() != chain.MinAge {
		t.Fatalf("member age: got %d, want %d", got.Age(), chain.MinAge)
	}
	if _, err := store.GetMemberInfo(xor.Name{}); !cm.IsStore(err, cm.UnknownMember) {
		t.Fatalf("unknown member: got %v, want UnknownMember", err)
	}
}

func initBadgerDir(t *testing.T) string {
	os.RemoveAll("test_data")
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "badger")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := initBadgerDir(t)
	defer os.RemoveAll("test_data")

	store, err := NewBadgerStore(cacheSize, dir)
	if err != nil {
		t.Fatal(err)
	}
	if store.NeedBootstrap() {
		t.Fatal("fresh store claims to need bootstrap")
	}

	genesis := testGenesis(t)
	if err := store.SetGenesis(genesis); err != nil {
		t.Fatal(err)
	}
	if err := store.SetProofBlock(testProofBlock(1)); err != nil {
		t.Fatal(err)
	}
	name := genesis.FirstInfo.MemberNames()[0]
	member := genesis.FirstInfo.Find(name)
	if err := store.SetMemberInfo(name, chain.NewMemberInfo(member, chain.MinAge)); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := LoadOrCreateBadgerStore(cacheSize, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if !reopened.NeedBootstrap() {
		t.Fatal("reopened store does not report existing state")
	}

	gotGenesis, err := reopened.GetGenesis()
	if err != nil {
		t.Fatal(err)
	}
	if gotGenesis.FirstInfo.Version != genesis.FirstInfo.Version ||
		gotGenesis.FirstInfo.Len() != genesis.FirstInfo.Len() {
		t.Fatal("reopened genesis does not match")
	}

	block, err := reopened.GetProofBlock(1)
	if err != nil {
		t.Fatal(err)
	}
	if block.KeyInfo.Version != 1 {
		t.Fatalf("reopened proof block version: got %d, want 1", block.KeyInfo.Version)
	}

	info, err := reopened.GetMemberInfo(name)
	if err != nil {
		t.Fatal(err)
	}
	if info.Age() != chain.MinAge {
		t.Fatalf("reopened member age: got %d, want %d", info.Age(), chain.MinAge)
	}
}
