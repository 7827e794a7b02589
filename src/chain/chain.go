package chain

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/sectionnet/routing/src/config"
	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/dkg"
	"github.com/sectionnet/routing/src/xor"
	"github.com/sirupsen/logrus"
)

// Structural events are applied before member events so that a pending elder
// transition lands before the votes it supersedes.
func eventRank(e *AccumulatingEvent) int {
	switch e.Type {
	case EventSectionInfo:
		return 0
	case EventStartDkg:
		return 1
	case EventAckMessage, EventSendAckMessage:
		return 2
	default:
		return 3
	}
}

type accumulatedItem struct {
	event *AccumulatingEvent
	proof *AccumulatingProof
	seq   int
}

// AppliedEvent reports what an event application asks of the caller. Zero
// value means the event only mutated chain state.
type AppliedEvent struct {
	// StartDkg lists the participants of a generation run this node must
	// join. Empty when the node is not among them.
	StartDkg []xor.Name
	// NewElders is set when an elder transition completed.
	NewElders *EldersInfo
	// SendAck is set when the section agreed to acknowledge a neighbour.
	SendAck *SendAckMessagePayload
}

// Chain is the single-writer owner of one node's section state: the current
// elder set, the member map, the proof chain and the vote accumulator. Other
// components read snapshots or submit votes; only the owning loop calls the
// mutating methods, so the Chain itself takes no locks.
type Chain struct {
	logger *logrus.Entry
	params config.NetworkParams

	ourName xor.Name

	eldersInfo  *EldersInfo
	eldersSig   []byte
	members     map[xor.Name]*MemberInfo
	proofChain  *SectionProofChain
	accumulator *Accumulator

	publicKeys  *crypto.PublicKeySet
	secretShare *crypto.SecretKeyShare

	dkgCache  map[string]*dkg.Result
	knowledge map[xor.Name]*MemberKnowledge
	acks      map[string]uint64

	ready []*accumulatedItem
	seq   int

	foreignVotes int
	staleEvents  int
	purgedVotes  int
}

// NewChain seeds a chain from a genesis bundle. The caller passes its own
// secret key share when it is one of the genesis elders, nil otherwise.
func NewChain(
	params config.NetworkParams,
	ourName xor.Name,
	genesis *GenesisPfxInfo,
	share *crypto.SecretKeyShare,
	logger *logrus.Entry,
) (*Chain, error) {
	if genesis == nil || genesis.FirstInfo == nil || genesis.LatestInfo == nil {
		return nil, fmt.Errorf("incomplete genesis bundle")
	}

	publicKeys, err := crypto.DeserializePublicKeySet(genesis.FirstKeys)
	if err != nil {
		return nil, err
	}

	members := make(map[xor.Name]*MemberInfo, genesis.LatestInfo.Len())
	for _, m := range genesis.LatestInfo.Members {
		members[m.Name()] = &MemberInfo{
			AgeCounter: genesis.AgeOf(m.Name()),
			State:      StateJoined,
			Descriptor: m,
		}
	}

	return &Chain{
		logger:      logger,
		params:      params,
		ourName:     ourName,
		eldersInfo:  genesis.LatestInfo,
		members:     members,
		proofChain:  NewSectionProofChain(*genesis.FirstKeyInfo()),
		accumulator: NewAccumulator(),
		publicKeys:  publicKeys,
		secretShare: share,
		dkgCache:    make(map[string]*dkg.Result),
		knowledge:   make(map[xor.Name]*MemberKnowledge),
		acks:        make(map[string]uint64),
	}, nil
}

/*******************************************************************************
Votes
*******************************************************************************/

// InsertVote feeds one voter's vote into the accumulator. Only current elders
// may vote; anything else is discarded with ErrForeignVote and counted. A
// SectionInfo vote must carry a valid signature share made with the voter's
// share of the current section key.
func (c *Chain) InsertVote(event *AccumulatingEvent, proof *Proof, payload *EventSigPayload) error {
	if proof == nil {
		return ErrInvalidSignature
	}

	eventBytes, err := event.Marshal()
	if err != nil {
		return err
	}

	voter := proof.VoterName()
	if !c.eldersInfo.IsMember(voter) {
		c.foreignVotes++
		c.logger.WithFields(logrus.Fields{
			"voter": voter,
			"event": event.Type,
		}).Debug("Discarding vote from non-elder")
		return ErrForeignVote
	}

	if !proof.Validate(eventBytes) {
		return ErrInvalidSignature
	}

	if event.NeedsSigPayload() {
		if event.SectionInfo == nil || event.SectionInfo.EldersInfo == nil {
			return ErrMissingSigShare
		}
		if payload == nil || payload.SigShare == nil || payload.InfoSigShare == nil {
			return ErrMissingSigShare
		}
		keyInfoBytes, err := event.SectionInfo.KeyInfo.Marshal()
		if err != nil {
			return err
		}
		eldersBytes, err := event.SectionInfo.EldersInfo.Marshal()
		if err != nil {
			return err
		}
		if !bytes.Equal(payload.SigShare.Participant, voter[:]) ||
			!payload.SigShare.Verify(c.publicKeys, keyInfoBytes) {
			return ErrInvalidSigShare
		}
		if !bytes.Equal(payload.InfoSigShare.Participant, voter[:]) ||
			!payload.InfoSigShare.Verify(c.publicKeys, eldersBytes) {
			return ErrInvalidSigShare
		}
	}

	ev, pr, fired, err := c.accumulator.AddVote(event, proof, payload, c.eldersInfo.QuorumCount())
	if err != nil {
		return err
	}
	if fired {
		c.ready = append(c.ready, &accumulatedItem{event: ev, proof: pr, seq: c.seq})
		c.seq++
		c.logger.WithField("event", ev.String()).Debug("Event accumulated")
	}

	return nil
}

// HasVoted reports whether the given voter already has a pending vote for
// the event.
func (c *Chain) HasVoted(event *AccumulatingEvent, pubKeyHex string) (bool, error) {
	return c.accumulator.HasVoted(event, pubKeyHex)
}

// PollAccumulated hands out the next accumulated event, structural events
// first. Within a rank, events come out in accumulation order.
func (c *Chain) PollAccumulated() (*AccumulatingEvent, *AccumulatingProof, bool) {
	if len(c.ready) == 0 {
		return nil, nil, false
	}

	best := 0
	for i := 1; i < len(c.ready); i++ {
		ri, rb := eventRank(c.ready[i].event), eventRank(c.ready[best].event)
		if ri < rb || (ri == rb && c.ready[i].seq < c.ready[best].seq) {
			best = i
		}
	}

	item := c.ready[best]
	c.ready = append(c.ready[:best], c.ready[best+1:]...)

	return item.event, item.proof, true
}

/*******************************************************************************
Event application
*******************************************************************************/

// ApplyEvent folds an accumulated event into chain state and tells the caller
// what follow-up work the event demands.
func (c *Chain) ApplyEvent(event *AccumulatingEvent, proof *AccumulatingProof) (*AppliedEvent, error) {
	switch event.Type {
	case EventOnline:
		return c.applyOnline(event.Online)
	case EventOffline:
		return c.applyOffline(*event.Offline)
	case EventStartDkg:
		return c.applyStartDkg(event.StartDkg)
	case EventSectionInfo:
		return c.applySectionInfo(event.SectionInfo, proof)
	case EventAckMessage:
		c.applyAck(event.Ack)
		return &AppliedEvent{}, nil
	case EventSendAckMessage:
		return &AppliedEvent{SendAck: event.SendAck}, nil
	default:
		return nil, fmt.Errorf("unknown event type %d", event.Type)
	}
}

func (c *Chain) applyOnline(p *OnlinePayload) (*AppliedEvent, error) {
	name := p.Member.Name()
	if info, ok := c.members[name]; ok && info.IsActive() {
		c.staleEvents++
		return &AppliedEvent{}, nil
	}

	c.members[name] = NewMemberInfo(p.Member, p.Age)
	c.logger.WithFields(logrus.Fields{
		"member": name,
		"age":    p.Age,
	}).Debug("Member joined")

	return &AppliedEvent{}, nil
}

func (c *Chain) applyOffline(name xor.Name) (*AppliedEvent, error) {
	info, ok := c.members[name]
	if !ok || !info.IsActive() {
		c.staleEvents++
		return &AppliedEvent{}, nil
	}

	info.State = StateLeft
	delete(c.knowledge, name)

	// Churn is the only thing that ages the section.
	for n, m := range c.members {
		if n != name && m.IsActive() {
			m.AgeCounter.Increment()
		}
	}

	c.logger.WithField("member", name).Debug("Member left")

	return &AppliedEvent{}, nil
}

func (c *Chain) applyStartDkg(p *StartDkgPayload) (*AppliedEvent, error) {
	for _, n := range p.Participants {
		if n == c.ourName {
			return &AppliedEvent{StartDkg: p.Participants}, nil
		}
	}
	return &AppliedEvent{}, nil
}

func (c *Chain) applySectionInfo(p *SectionInfoPayload, proof *AccumulatingProof) (*AppliedEvent, error) {
	newInfo := p.EldersInfo

	if newInfo.Version <= c.eldersInfo.Version {
		c.staleEvents++
		return &AppliedEvent{}, nil
	}
	if !newInfo.IsSuccessorOf(c.eldersInfo) {
		return nil, ErrNonMonotonicExtension
	}

	combined, err := crypto.CombineSignatureShares(proof.Shares())
	if err != nil {
		return nil, err
	}
	infoSig, err := crypto.CombineSignatureShares(proof.InfoShares())
	if err != nil {
		return nil, err
	}

	if err := c.proofChain.Extend(&SectionProofBlock{KeyInfo: p.KeyInfo, Sig: combined}); err != nil {
		return nil, err
	}

	c.eldersInfo = newInfo
	c.eldersSig = infoSig

	for name, info := range c.members {
		if !info.IsActive() {
			delete(c.members, name)
		}
	}

	digest := dkg.Digest(newInfo.MemberNames())
	res := c.dkgCache[digest]
	switch {
	case newInfo.IsMember(c.ourName):
		if res == nil {
			return nil, ErrNoDkgResult
		}
		c.publicKeys = res.PublicKeys
		c.secretShare = res.Share
	case res != nil:
		c.publicKeys = res.PublicKeys
		c.secretShare = nil
	default:
		c.publicKeys = nil
		c.secretShare = nil
	}
	delete(c.dkgCache, digest)

	// Member votes against the old elder set are moot now.
	c.purgedVotes += c.accumulator.Purge(func(e *AccumulatingEvent) bool {
		return e.Type != EventOnline && e.Type != EventOffline
	})

	c.logger.WithFields(logrus.Fields{
		"elders":  newInfo.String(),
		"version": newInfo.Version,
	}).Debug("Elder transition complete")

	return &AppliedEvent{NewElders: newInfo}, nil
}

func (c *Chain) applyAck(p *AckMessagePayload) {
	key := p.SrcPrefix.String()
	if p.AckVersion > c.acks[key] {
		c.acks[key] = p.AckVersion
	}
}

// AdoptGenesisUpdate folds a verified update from the elders into a
// non-elder's view: the proof chain is extended with the slice's blocks and
// the latest elder snapshot adopted. An update that does not reach past our
// tip is stale and ignored. The elder snapshot is only adopted when it is
// bound to the extended chain: its version must name a verified link and the
// preceding link's key must have threshold-signed the snapshot.
func (c *Chain) AdoptGenesisUpdate(g *GenesisPfxInfo, slice *SectionProofSlice) error {
	if slice == nil || g == nil || g.LatestInfo == nil {
		return ErrInvalidThresholdSig
	}

	switch slice.Check(c.TipKeyInfo()) {
	case Trusted:
	case ProofTooOld:
		c.staleEvents++
		return nil
	default:
		return ErrInvalidThresholdSig
	}

	for _, block := range slice.Blocks {
		if block.KeyInfo.Version <= c.proofChain.LastKeyInfo().Version {
			continue
		}
		if err := c.proofChain.Extend(block); err != nil {
			return err
		}
	}

	if g.LatestInfo.Version <= c.eldersInfo.Version {
		return nil
	}

	link := c.proofChain.KeyInfoAt(g.LatestInfo.Version)
	prev := c.proofChain.KeyInfoAt(g.LatestInfo.Version - 1)
	if link == nil || prev == nil || link.Prefix != g.LatestInfo.Prefix {
		return ErrUnboundEldersInfo
	}
	eldersBytes, err := g.LatestInfo.Marshal()
	if err != nil {
		return err
	}
	if !crypto.VerifyThresholdSig(prev.Key, g.LatestInfoSig, eldersBytes) {
		return ErrUnboundEldersInfo
	}

	c.eldersInfo = g.LatestInfo
	c.eldersSig = g.LatestInfoSig

	return nil
}

/*******************************************************************************
Elder transitions
*******************************************************************************/

// ElderCandidates returns the members that should form the elder set: the
// oldest active members, ties broken by name, capped at the configured elder
// size.
func (c *Chain) ElderCandidates() map[xor.Name]*Member {
	type candidate struct {
		name xor.Name
		info *MemberInfo
	}

	active := make([]candidate, 0, len(c.members))
	for n, m := range c.members {
		if m.IsActive() {
			active = append(active, candidate{name: n, info: m})
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].info.Age() != active[j].info.Age() {
			return active[i].info.Age() > active[j].info.Age()
		}
		return active[i].name.Cmp(active[j].name) < 0
	})

	if len(active) > c.params.ElderSize {
		active = active[:c.params.ElderSize]
	}

	out := make(map[xor.Name]*Member, len(active))
	for _, cand := range active {
		out[cand.name] = cand.info.Descriptor
	}
	return out
}

// ShouldStartDkg reports whether the desired elder set differs from the
// current one, and if so lists the would-be participants.
func (c *Chain) ShouldStartDkg() ([]xor.Name, bool) {
	candidates := c.ElderCandidates()

	if len(candidates) == c.eldersInfo.Len() {
		same := true
		for name := range candidates {
			if !c.eldersInfo.IsMember(name) {
				same = false
				break
			}
		}
		if same {
			return nil, false
		}
	}

	names := make([]xor.Name, 0, len(candidates))
	for n := range candidates {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Cmp(names[j]) < 0 })

	return names, true
}

// BuildNextEldersInfo assembles the successor snapshot from the current elder
// candidates.
func (c *Chain) BuildNextEldersInfo() (*EldersInfo, error) {
	return NewEldersInfo(c.ElderCandidates(), c.eldersInfo.Prefix, c.eldersInfo)
}

// CacheDkgResult stores a completed generation run until the matching
// SectionInfo event accumulates.
func (c *Chain) CacheDkgResult(participants []xor.Name, res *dkg.Result) {
	c.dkgCache[dkg.Digest(participants)] = res
}

// CachedDkgResult returns the stored run for a participant set, or nil.
func (c *Chain) CachedDkgResult(participants []xor.Name) *dkg.Result {
	return c.dkgCache[dkg.Digest(participants)]
}

/*******************************************************************************
Member knowledge
*******************************************************************************/

// UpdateMemberKnowledge merges a member's reported knowledge, monotonically.
func (c *Chain) UpdateMemberKnowledge(name xor.Name, mk MemberKnowledge) {
	existing, ok := c.knowledge[name]
	if !ok {
		existing = &MemberKnowledge{}
		c.knowledge[name] = existing
	}
	existing.Update(mk)
}

// MemberKnowledgeOf returns the recorded knowledge for a member.
func (c *Chain) MemberKnowledgeOf(name xor.Name) MemberKnowledge {
	if mk, ok := c.knowledge[name]; ok {
		return *mk
	}
	return MemberKnowledge{}
}

// SliceProofChain trims the proof chain to what the given member still needs,
// based on its recorded knowledge.
func (c *Chain) SliceProofChain(name xor.Name) *SectionProofSlice {
	return c.proofChain.Slice(c.MemberKnowledgeOf(name).EldersVersion)
}

/*******************************************************************************
Queries
*******************************************************************************/

// OurInfo returns the current elder snapshot.
func (c *Chain) OurInfo() *EldersInfo {
	return c.eldersInfo
}

// OurName ...
func (c *Chain) OurName() xor.Name {
	return c.ourName
}

// IsElder reports whether name belongs to the current elder set.
func (c *Chain) IsElder(name xor.Name) bool {
	return c.eldersInfo.IsMember(name)
}

// IsSelfElder ...
func (c *Chain) IsSelfElder() bool {
	return c.eldersInfo.IsMember(c.ourName)
}

// MemberInfoOf returns the lifecycle record for a member, or nil.
func (c *Chain) MemberInfoOf(name xor.Name) *MemberInfo {
	return c.members[name]
}

// ActiveMembers returns the active member descriptors indexed by name.
func (c *Chain) ActiveMembers() map[xor.Name]*Member {
	out := make(map[xor.Name]*Member)
	for n, m := range c.members {
		if m.IsActive() {
			out[n] = m.Descriptor
		}
	}
	return out
}

// TipKeyInfo returns the proof chain's tip.
func (c *Chain) TipKeyInfo() *SectionKeyInfo {
	return c.proofChain.LastKeyInfo()
}

// ProofChain exposes the chain for reading. Callers must not mutate it.
func (c *Chain) ProofChain() *SectionProofChain {
	return c.proofChain
}

// PublicKeys returns the current section public key set, nil for a node with
// no view of the current key.
func (c *Chain) PublicKeys() *crypto.PublicKeySet {
	return c.publicKeys
}

// SecretShare returns this node's share of the current section key, nil for
// non-elders.
func (c *Chain) SecretShare() *crypto.SecretKeyShare {
	return c.secretShare
}

// EldersSig returns the threshold signature binding the current elder set to
// the proof chain, made by the preceding section key. Nil while the elder set
// is still the genesis one.
func (c *Chain) EldersSig() []byte {
	return c.eldersSig
}

// NeighbourAckVersion returns the highest acknowledged version for a prefix.
func (c *Chain) NeighbourAckVersion(prefix xor.Prefix) uint64 {
	return c.acks[prefix.String()]
}

// Params ...
func (c *Chain) Params() config.NetworkParams {
	return c.params
}

// Stats exposes the drop counters and sizes. Like every other method, it must
// be called from the loop that owns the Chain; it is not synchronized with the
// mutating methods.
func (c *Chain) Stats() map[string]string {
	return map[string]string{
		"elders_version":  fmt.Sprint(c.eldersInfo.Version),
		"num_elders":      fmt.Sprint(c.eldersInfo.Len()),
		"num_members":     fmt.Sprint(len(c.members)),
		"chain_len":       fmt.Sprint(c.proofChain.Len()),
		"pending_events":  fmt.Sprint(c.accumulator.PendingCount()),
		"ready_events":    fmt.Sprint(len(c.ready)),
		"foreign_votes":   fmt.Sprint(c.foreignVotes),
		"duplicate_votes": fmt.Sprint(c.accumulator.DuplicateVotes()),
		"stale_events":    fmt.Sprint(c.staleEvents),
		"purged_votes":    fmt.Sprint(c.purgedVotes),
	}
}
