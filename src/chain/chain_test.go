package chain

import (
	"crypto/ecdsa"
	"fmt"
	"testing"

	"github.com/sectionnet/routing/src/common"
	"github.com/sectionnet/routing/src/config"
	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/crypto/keys"
	"github.com/sectionnet/routing/src/dkg"
	"github.com/sectionnet/routing/src/xor"
)

// identity bundles one peer's signing key and descriptor.
type identity struct {
	key    *ecdsa.PrivateKey
	member *Member
}

func (id *identity) name() xor.Name {
	return id.member.Name()
}

var testPort = 9000

func newIdentity(t *testing.T) *identity {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	testPort++
	return &identity{
		key:    key,
		member: NewMember(keys.PublicKeyHex(&key.PublicKey), fmt.Sprintf("127.0.0.1:%d", testPort)),
	}
}

// testSection is a genesis section: elder identities, their shares of the
// genesis section key, and the genesis bundle to seed chains from.
type testSection struct {
	params  config.NetworkParams
	elders  []*identity
	byName  map[xor.Name]*identity
	shares  map[xor.Name]*crypto.SecretKeyShare
	pks     *crypto.PublicKeySet
	genesis *GenesisPfxInfo
}

func newTestSection(t *testing.T, numElders int) *testSection {
	ts := &testSection{
		params: config.NetworkParams{
			ElderSize:       config.DefaultElderSize,
			SafeSectionSize: config.DefaultSafeSectionSize,
		},
		byName: make(map[xor.Name]*identity),
		shares: make(map[xor.Name]*crypto.SecretKeyShare),
	}

	members := make(map[xor.Name]*Member, numElders)
	for i := 0; i < numElders; i++ {
		id := newIdentity(t)
		ts.elders = append(ts.elders, id)
		ts.byName[id.name()] = id
		members[id.name()] = id.member
	}

	info, err := NewEldersInfo(members, xor.Prefix{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	names := info.MemberNames()
	runner := dkg.NewInProcRunner()
	for _, name := range names {
		res, err := runner.GetDkgResult(names, name, QuorumCount(numElders))
		if err != nil {
			t.Fatal(err)
		}
		ts.shares[name] = res.Share
		ts.pks = res.PublicKeys
	}

	ages := make([]MemberAge, 0, numElders)
	for _, name := range names {
		ages = append(ages, MemberAge{Name: name, AgeCounter: NewAgeCounter(MinAge + 1)})
	}

	ts.genesis = &GenesisPfxInfo{
		FirstInfo:  info,
		FirstKeys:  ts.pks.Serialize(),
		FirstAges:  ages,
		LatestInfo: info,
	}

	return ts
}

// refreshShares recomputes every identity's share of the section key after a
// transition to the given elder set, so later votes sign with the current key.
func (ts *testSection) refreshShares(t *testing.T, names []xor.Name) {
	runner := dkg.NewInProcRunner()
	for _, name := range names {
		res, err := runner.GetDkgResult(names, name, QuorumCount(len(names)))
		if err != nil {
			t.Fatal(err)
		}
		ts.shares[name] = res.Share
		ts.pks = res.PublicKeys
	}
}

func (ts *testSection) newChain(t *testing.T, owner *identity) *Chain {
	c, err := NewChain(
		ts.params,
		owner.name(),
		ts.genesis,
		ts.shares[owner.name()],
		common.NewTestEntry(t, "chain"),
	)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// vote casts one identity's vote into the chain, attaching a signature share
// when the event calls for one.
func (ts *testSection) vote(t *testing.T, c *Chain, voter *identity, event *AccumulatingEvent) error {
	eventBytes, err := event.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	proof, err := NewProof(voter.key, eventBytes)
	if err != nil {
		t.Fatal(err)
	}

	var payload *EventSigPayload
	if event.NeedsSigPayload() {
		share := ts.shares[voter.name()]
		if share == nil {
			t.Fatalf("no share for voter %s", voter.name())
		}
		payload, err = NewEventSigPayload(share, event.SectionInfo)
		if err != nil {
			t.Fatal(err)
		}
	}

	return c.InsertVote(event, proof, payload)
}

// accumulate casts votes from the given voters and applies the accumulated
// event, failing the test if it never fires.
func (ts *testSection) accumulate(t *testing.T, c *Chain, voters []*identity, event *AccumulatingEvent) *AppliedEvent {
	for _, v := range voters {
		if err := ts.vote(t, c, v, event); err != nil {
			t.Fatalf("vote by %s: %v", v.name(), err)
		}
	}
	ev, proof, ok := c.PollAccumulated()
	if !ok {
		t.Fatalf("event %s did not accumulate with %d votes", event, len(voters))
	}
	applied, err := c.ApplyEvent(ev, proof)
	if err != nil {
		t.Fatalf("apply %s: %v", ev, err)
	}
	return applied
}

func TestQuorumCount(t *testing.T) {
	cases := []struct{ n, quorum int }{
		{1, 1}, {3, 3}, {4, 3}, {6, 5}, {7, 5}, {8, 6}, {9, 7},
	}
	for _, tc := range cases {
		if got := QuorumCount(tc.n); got != tc.quorum {
			t.Errorf("QuorumCount(%d): got %d, want %d", tc.n, got, tc.quorum)
		}
	}
}

func TestAccumulationFiresExactlyOnceAtQuorum(t *testing.T) {
	ts := newTestSection(t, 7)
	c := ts.newChain(t, ts.elders[0])

	candidate := newIdentity(t)
	event := NewOnlineEvent(candidate.member, MinAge)

	for i := 0; i < 4; i++ {
		if err := ts.vote(t, c, ts.elders[i], event); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, ok := c.PollAccumulated(); ok {
		t.Fatal("accumulated with 4 of 7 votes")
	}

	if err := ts.vote(t, c, ts.elders[4], event); err != nil {
		t.Fatal(err)
	}
	ev, proof, ok := c.PollAccumulated()
	if !ok {
		t.Fatal("did not accumulate at quorum")
	}
	if ev.Type != EventOnline {
		t.Fatalf("accumulated event type: got %s", ev.Type)
	}
	if proof.Len() != 5 {
		t.Fatalf("proof size: got %d, want 5", proof.Len())
	}

	// Late votes are absorbed without firing again.
	for i := 5; i < 7; i++ {
		if err := ts.vote(t, c, ts.elders[i], event); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, ok := c.PollAccumulated(); ok {
		t.Fatal("accumulated twice")
	}
}

func TestAccumulationOrderIndependent(t *testing.T) {
	ts := newTestSection(t, 7)
	candidate := newIdentity(t)
	event := NewOnlineEvent(candidate.member, MinAge)

	orders := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 5, 0, 6, 3},
	}
	for _, order := range orders {
		c := ts.newChain(t, ts.elders[0])
		for i, idx := range order {
			if err := ts.vote(t, c, ts.elders[idx], event); err != nil {
				t.Fatal(err)
			}
			_, proof, ok := c.PollAccumulated()
			if i < len(order)-1 {
				if ok {
					t.Fatalf("order %v: accumulated after %d votes", order, i+1)
				}
				continue
			}
			if !ok {
				t.Fatalf("order %v: did not accumulate at quorum", order)
			}
			if proof.Len() != 5 {
				t.Fatalf("order %v: proof size %d, want 5", order, proof.Len())
			}
		}
	}
}

func TestDuplicateVoteIgnored(t *testing.T) {
	ts := newTestSection(t, 7)
	c := ts.newChain(t, ts.elders[0])

	candidate := newIdentity(t)
	event := NewOnlineEvent(candidate.member, MinAge)

	for i := 0; i < 4; i++ {
		if err := ts.vote(t, c, ts.elders[0], event); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, ok := c.PollAccumulated(); ok {
		t.Fatal("accumulated on duplicate votes from one voter")
	}
	if got := c.accumulator.DuplicateVotes(); got != 3 {
		t.Fatalf("duplicate counter: got %d, want 3", got)
	}
}

func TestForeignVoteRejected(t *testing.T) {
	ts := newTestSection(t, 7)
	c := ts.newChain(t, ts.elders[0])

	outsider := newIdentity(t)
	candidate := newIdentity(t)
	event := NewOnlineEvent(candidate.member, MinAge)

	if err := ts.vote(t, c, outsider, event); err != ErrForeignVote {
		t.Fatalf("outsider vote: got %v, want ErrForeignVote", err)
	}
	if got := c.Stats()["foreign_votes"]; got != "1" {
		t.Fatalf("foreign vote counter: got %s, want 1", got)
	}
	if c.accumulator.PendingCount() != 0 {
		t.Fatal("foreign vote was accumulated")
	}
}

func TestPollOrdersStructuralEventsFirst(t *testing.T) {
	ts := newTestSection(t, 7)
	c := ts.newChain(t, ts.elders[0])
	quorum := ts.genesis.FirstInfo.QuorumCount()

	candidate := newIdentity(t)
	online := NewOnlineEvent(candidate.member, MinAge)
	startDkg := NewStartDkgEvent(ts.genesis.FirstInfo.MemberNames())

	for i := 0; i < quorum; i++ {
		if err := ts.vote(t, c, ts.elders[i], online); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < quorum; i++ {
		if err := ts.vote(t, c, ts.elders[i], startDkg); err != nil {
			t.Fatal(err)
		}
	}

	first, _, ok := c.PollAccumulated()
	if !ok || first.Type != EventStartDkg {
		t.Fatalf("first polled event: got %v, want StartDkg", first)
	}
	second, _, ok := c.PollAccumulated()
	if !ok || second.Type != EventOnline {
		t.Fatalf("second polled event: got %v, want Online", second)
	}
}

// completeElderTransition drives the StartDkg and SectionInfo steps, voting
// with the given current elders.
func (ts *testSection) completeElderTransition(t *testing.T, c *Chain, voters []*identity) *EldersInfo {
	participants, ok := c.ShouldStartDkg()
	if !ok {
		t.Fatal("elder set change not detected")
	}

	applied := ts.accumulate(t, c, voters, NewStartDkgEvent(participants))
	if len(applied.StartDkg) == 0 {
		t.Fatal("StartDkg application did not request a generation run")
	}

	res, err := dkg.NewInProcRunner().GetDkgResult(participants, c.OurName(), QuorumCount(len(participants)))
	if err != nil {
		t.Fatal(err)
	}
	c.CacheDkgResult(participants, res)

	newInfo, err := c.BuildNextEldersInfo()
	if err != nil {
		t.Fatal(err)
	}
	keyInfo := SectionKeyInfo{
		Prefix:  newInfo.Prefix,
		Version: newInfo.Version,
		Key:     res.PublicKeys.PublicKey(),
	}

	applied = ts.accumulate(t, c, voters, NewSectionInfoEvent(newInfo, keyInfo))
	if applied.NewElders == nil {
		t.Fatal("SectionInfo application did not complete the transition")
	}
	return applied.NewElders
}

func TestPromotionRequiresFullSequence(t *testing.T) {
	ts := newTestSection(t, 6)
	c := ts.newChain(t, ts.elders[0])
	voters := ts.elders[:5]

	newPeer := newIdentity(t)
	ts.accumulate(t, c, voters, NewOnlineEvent(newPeer.member, MinAge))

	// Joined, but not an elder until the whole sequence completes.
	if info := c.MemberInfoOf(newPeer.name()); info == nil || !info.IsActive() {
		t.Fatal("peer not recorded as member after Online")
	}
	if c.IsElder(newPeer.name()) {
		t.Fatal("peer became elder straight after Online")
	}

	// A vote left pending against the old elder set is drained on
	// transition.
	straggler := newIdentity(t)
	if err := ts.vote(t, c, ts.elders[0], NewOnlineEvent(straggler.member, MinAge)); err != nil {
		t.Fatal(err)
	}

	newInfo := ts.completeElderTransition(t, c, voters)

	if !newInfo.IsMember(newPeer.name()) {
		t.Fatal("new elder set does not include the promoted peer")
	}
	if !c.IsElder(newPeer.name()) {
		t.Fatal("chain does not report promoted peer as elder")
	}
	if got := c.TipKeyInfo().Version; got != 1 {
		t.Fatalf("tip version: got %d, want 1", got)
	}
	if c.accumulator.PendingCount() != 0 {
		t.Fatal("pending member votes survived the transition")
	}
	if got := c.Stats()["purged_votes"]; got != "1" {
		t.Fatalf("purged vote counter: got %s, want 1", got)
	}

	// The new tip is trusted from the genesis anchor.
	genesisKey := ts.genesis.FirstKeyInfo()
	if status := c.ProofChain().Check(c.TipKeyInfo(), genesisKey); status != Trusted {
		t.Fatalf("tip trust from genesis: got %s, want Trusted", status)
	}
}

func TestOfflineAndPromoteAdult(t *testing.T) {
	ts := newTestSection(t, 7)
	c := ts.newChain(t, ts.elders[0])
	dropped := ts.elders[6]
	voters := ts.elders[:5]

	adult := newIdentity(t)
	ts.accumulate(t, c, voters, NewOnlineEvent(adult.member, MinAge))
	if _, ok := c.ShouldStartDkg(); ok {
		t.Fatal("adult displaced an older elder")
	}

	ts.accumulate(t, c, voters, NewOfflineEvent(dropped.name()))
	if info := c.MemberInfoOf(dropped.name()); info == nil || info.IsActive() {
		t.Fatal("dropped elder still active")
	}

	newInfo := ts.completeElderTransition(t, c, voters)

	if newInfo.IsMember(dropped.name()) {
		t.Fatal("dropped elder still in new elder set")
	}
	if !newInfo.IsMember(adult.name()) {
		t.Fatal("adult not promoted into new elder set")
	}
	if got := c.TipKeyInfo().Version; got != 1 {
		t.Fatalf("tip version: got %d, want exactly 1", got)
	}
	if c.MemberInfoOf(dropped.name()) != nil {
		t.Fatal("departed member record survived the transition")
	}
}

func TestSectionInfoForkRejectedByChain(t *testing.T) {
	ts := newTestSection(t, 6)
	c := ts.newChain(t, ts.elders[0])
	voters := ts.elders[:5]

	newPeer := newIdentity(t)
	ts.accumulate(t, c, voters, NewOnlineEvent(newPeer.member, MinAge))
	ts.completeElderTransition(t, c, voters)

	// A second SectionInfo at the same version is stale once the first one
	// applied; it must not touch the chain.
	tipBefore := c.TipKeyInfo()
	stale, err := NewEldersInfo(ts.genesis.FirstInfo.MemberMap(), xor.Prefix{}, ts.genesis.FirstInfo)
	if err != nil {
		t.Fatal(err)
	}
	applied, err := c.ApplyEvent(
		NewSectionInfoEvent(stale, SectionKeyInfo{Version: 1, Key: ts.pks.PublicKey()}),
		NewAccumulatingProof(),
	)
	if err != nil {
		t.Fatalf("stale SectionInfo application: %v", err)
	}
	if applied.NewElders != nil {
		t.Fatal("stale SectionInfo completed a transition")
	}
	if got := c.TipKeyInfo(); !got.Equal(tipBefore) {
		t.Fatal("stale SectionInfo moved the chain tip")
	}
}

func TestMemberKnowledgeGatesProofSlice(t *testing.T) {
	ts := newTestSection(t, 6)
	c := ts.newChain(t, ts.elders[0])
	voters := ts.elders[:5]

	newPeer := newIdentity(t)
	ts.accumulate(t, c, voters, NewOnlineEvent(newPeer.member, MinAge))
	ts.completeElderTransition(t, c, voters)

	caughtUp := ts.elders[1].name()
	c.UpdateMemberKnowledge(caughtUp, MemberKnowledge{EldersVersion: 1})

	// Stale reports never roll knowledge back.
	c.UpdateMemberKnowledge(caughtUp, MemberKnowledge{EldersVersion: 0})
	if got := c.MemberKnowledgeOf(caughtUp).EldersVersion; got != 1 {
		t.Fatalf("knowledge rolled back: got v%d, want v1", got)
	}

	if got := len(c.SliceProofChain(caughtUp).AllPrefixVersion()); got != 1 {
		t.Fatalf("slice for caught-up member: %d links, want 1", got)
	}
	if got := len(c.SliceProofChain(newPeer.name()).AllPrefixVersion()); got != 2 {
		t.Fatalf("slice for fresh member: %d links, want 2", got)
	}
}

func TestGenesisUpdateAdoption(t *testing.T) {
	ts := newTestSection(t, 6)
	elder := ts.newChain(t, ts.elders[0])
	voters := ts.elders[:5]

	member := newIdentity(t)
	memberView, err := NewChain(ts.params, member.name(), ts.genesis, nil, common.NewTestEntry(t, "member"))
	if err != nil {
		t.Fatal(err)
	}

	ts.accumulate(t, elder, voters, NewOnlineEvent(member.member, MinAge))
	newInfo := ts.completeElderTransition(t, elder, voters)

	update := &GenesisPfxInfo{
		FirstInfo:     ts.genesis.FirstInfo,
		FirstKeys:     ts.genesis.FirstKeys,
		FirstAges:     ts.genesis.FirstAges,
		LatestInfo:    newInfo,
		LatestInfoSig: elder.EldersSig(),
	}

	// A snapshot whose signature does not verify never replaces the elder
	// set, however valid the proof slice next to it.
	tamperedSig := append([]byte{}, elder.EldersSig()...)
	tamperedSig[0] ^= 0x01
	tampered := *update
	tampered.LatestInfoSig = tamperedSig
	if err := memberView.AdoptGenesisUpdate(&tampered, elder.SliceProofChain(member.name())); err != ErrUnboundEldersInfo {
		t.Fatalf("tampered snapshot signature: got %v, want ErrUnboundEldersInfo", err)
	}
	if memberView.OurInfo().Version != 0 {
		t.Fatal("tampered update replaced the elder set")
	}

	if err := memberView.AdoptGenesisUpdate(update, elder.SliceProofChain(member.name())); err != nil {
		t.Fatalf("legitimate update rejected: %v", err)
	}
	if got := memberView.OurInfo().Version; got != 1 {
		t.Fatalf("member's elder version: got %d, want 1", got)
	}
	if !memberView.TipKeyInfo().Equal(elder.TipKeyInfo()) {
		t.Fatal("member's tip does not match the elders' tip")
	}
	if !memberView.OurInfo().IsMember(member.name()) {
		t.Fatal("adopted elder set missing the promoted member")
	}
}

func TestGenesisUpdateRejectsUnboundElders(t *testing.T) {
	ts := newTestSection(t, 6)
	member := newIdentity(t)
	c, err := NewChain(ts.params, member.name(), ts.genesis, nil, common.NewTestEntry(t, "member"))
	if err != nil {
		t.Fatal(err)
	}

	// A fabricated elder set at a far-future version, carried by a slice
	// that merely replays the receiver's own tip.
	forgedMembers := make(map[xor.Name]*Member, 3)
	for i := 0; i < 3; i++ {
		id := newIdentity(t)
		forgedMembers[id.name()] = id.member
	}
	forged, err := NewEldersInfo(forgedMembers, xor.Prefix{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	forged.Version = 99

	update := &GenesisPfxInfo{
		FirstInfo:  ts.genesis.FirstInfo,
		FirstKeys:  ts.genesis.FirstKeys,
		LatestInfo: forged,
	}
	slice := &SectionProofSlice{Start: *c.TipKeyInfo()}

	if err := c.AdoptGenesisUpdate(update, slice); err != ErrUnboundEldersInfo {
		t.Fatalf("forged snapshot: got %v, want ErrUnboundEldersInfo", err)
	}
	if got := c.OurInfo(); got.Version != 0 || !got.IsMember(ts.elders[0].name()) {
		t.Fatal("forged snapshot replaced the elder set")
	}

	// Pinning the forged set to the very next version, signed by a key the
	// chain never vouched for, fares no better.
	forged.Version = 1
	eldersBytes, err := forged.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	rogue := crypto.RandomSecretKeySet(2)
	rogueShares := make([]*crypto.SignatureShare, 0, 2)
	for _, p := range [][]byte{[]byte("a"), []byte("b")} {
		share, err := rogue.SecretKeyShare(p)
		if err != nil {
			t.Fatal(err)
		}
		rogueShares = append(rogueShares, share.Sign(eldersBytes))
	}
	update.LatestInfoSig, err = crypto.CombineSignatureShares(rogueShares)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AdoptGenesisUpdate(update, slice); err != ErrUnboundEldersInfo {
		t.Fatalf("rogue-signed snapshot: got %v, want ErrUnboundEldersInfo", err)
	}
	if c.OurInfo().Version != 0 {
		t.Fatal("rogue-signed snapshot replaced the elder set")
	}
}

func TestDepartedMemberCanRejoin(t *testing.T) {
	ts := newTestSection(t, 6)
	c := ts.newChain(t, ts.elders[0])
	voters := ts.elders[:5]

	peer := newIdentity(t)
	ts.accumulate(t, c, voters, NewOnlineEvent(peer.member, MinAge))
	first := ts.completeElderTransition(t, c, voters)
	ts.refreshShares(t, first.MemberNames())

	ts.accumulate(t, c, voters, NewOfflineEvent(peer.name()))
	second := ts.completeElderTransition(t, c, voters)
	ts.refreshShares(t, second.MemberNames())

	if second.IsMember(peer.name()) {
		t.Fatal("departed peer still in the elder set")
	}
	if c.MemberInfoOf(peer.name()) != nil {
		t.Fatal("departed peer record survived the transition")
	}

	// The peer comes back with the same descriptor and starting age. The
	// byte-identical proposal must accumulate afresh, not be absorbed by the
	// previous era's delivery record.
	ts.accumulate(t, c, voters, NewOnlineEvent(peer.member, MinAge))
	if info := c.MemberInfoOf(peer.name()); info == nil || !info.IsActive() {
		t.Fatal("rejoining peer was not re-admitted")
	}
}

func TestAckMessageRoundTrip(t *testing.T) {
	ts := newTestSection(t, 7)
	c := ts.newChain(t, ts.elders[0])
	voters := ts.elders[:5]

	neighbour := xor.NewPrefix(1, xor.NameFromBytes([]byte{0xff}))

	applied := ts.accumulate(t, c, voters, NewSendAckMessageEvent(neighbour, 3))
	if applied.SendAck == nil {
		t.Fatal("SendAckMessage did not surface an ack to send")
	}
	if applied.SendAck.AckVersion != 3 {
		t.Fatalf("ack version: got %d, want 3", applied.SendAck.AckVersion)
	}

	ts.accumulate(t, c, voters, NewAckMessageEvent(ts.elders[0].name(), neighbour, 3))
	if got := c.NeighbourAckVersion(neighbour); got != 3 {
		t.Fatalf("neighbour ack version: got %d, want 3", got)
	}

	// Acks only move forward.
	ts.accumulate(t, c, voters, NewAckMessageEvent(ts.elders[0].name(), neighbour, 2))
	if got := c.NeighbourAckVersion(neighbour); got != 3 {
		t.Fatalf("ack version rolled back: got %d, want 3", got)
	}
}
