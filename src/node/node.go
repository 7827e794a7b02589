package node

import (
	"fmt"

	"github.com/sectionnet/routing/src/agreement"
	"github.com/sectionnet/routing/src/chain"
	cm "github.com/sectionnet/routing/src/common"
	"github.com/sectionnet/routing/src/config"
	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/crypto/keys"
	"github.com/sectionnet/routing/src/net"
	"github.com/sectionnet/routing/src/store"
	"github.com/sectionnet/routing/src/xor"
	"github.com/sirupsen/logrus"
)

// Node ties the section state machine together: it owns the Chain, consumes
// transport RPCs and agreement-engine votes from a single loop, and runs the
// bootstrap protocol when it is not yet attached to a section.
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	id xor.Name

	chain  *chain.Chain
	engine agreement.Engine
	trans  net.Transport
	store  store.Store

	controlTimer *ControlTimer

	// anchor is the trusted section key a joining node verifies bootstrap
	// responses against. Obtained out of band.
	anchor *chain.SectionKeyInfo

	relocation *SignedRelocateDetails

	agreementVersion uint64

	pendingBootstrap map[string]bool
	bootstrapAttempt int
	bootstrapReplyCh chan bootstrapReply
	bootstrapErrCh   chan error
	strayResponses   int

	shutdownCh chan struct{}
}

// NewNode creates a node that is already a section member: the genesis
// bundle seeds its Chain, and share is its part of the section key when it is
// one of the genesis elders.
func NewNode(
	conf *config.Config,
	genesis *chain.GenesisPfxInfo,
	share *crypto.SecretKeyShare,
	engine agreement.Engine,
	trans net.Transport,
	st store.Store,
) (*Node, error) {
	n, err := newNode(conf, engine, trans, st)
	if err != nil {
		return nil, err
	}

	ch, err := chain.NewChain(conf.NetworkParams, n.id, genesis, share, n.logger)
	if err != nil {
		return nil, err
	}
	n.chain = ch
	n.anchor = genesis.FirstKeyInfo()
	n.agreementVersion = genesis.AgreementVersion
	n.setState(Joined)

	if !st.NeedBootstrap() {
		if err := st.SetGenesis(genesis); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// NewJoiningNode creates a node that must bootstrap into a section. The
// anchor is its out-of-band trusted key; a non-nil ticket makes it relocate,
// regenerating its identity into the ticket's target range first.
func NewJoiningNode(
	conf *config.Config,
	anchor *chain.SectionKeyInfo,
	ticket *SignedRelocateDetails,
	engine agreement.Engine,
	trans net.Transport,
	st store.Store,
) (*Node, error) {
	if ticket != nil {
		if !ticket.Verify(anchor.Key) {
			return nil, fmt.Errorf("relocation ticket does not verify against anchor key")
		}
		key, err := GenerateRelocatedIdentity(ticket.Details.TargetPrefix())
		if err != nil {
			return nil, err
		}
		conf.Key = key
	}

	n, err := newNode(conf, engine, trans, st)
	if err != nil {
		return nil, err
	}
	n.anchor = anchor
	n.relocation = ticket
	n.setState(AwaitingConnection)

	return n, nil
}

func newNode(conf *config.Config, engine agreement.Engine, trans net.Transport, st store.Store) (*Node, error) {
	if conf.Key == nil {
		return nil, fmt.Errorf("no private key in config")
	}

	id := keys.PublicKeyName(&conf.Key.PublicKey)

	return &Node{
		conf:             conf,
		logger:           conf.Logger().WithField("this_id", id.String()),
		id:               id,
		engine:           engine,
		trans:            trans,
		store:            st,
		controlTimer:     NewRandomControlTimer(),
		pendingBootstrap: make(map[string]bool),
		bootstrapReplyCh: make(chan bootstrapReply),
		bootstrapErrCh:   make(chan error, 1),
		shutdownCh:       make(chan struct{}),
	}, nil
}

// ID returns the node's name.
func (n *Node) ID() xor.Name {
	return n.id
}

// GetState returns the node's current state.
func (n *Node) GetState() State {
	return n.getState()
}

// Chain exposes the node's chain for reading. Nil until joined.
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// BootstrapErrors delivers retryable bootstrap failures to the caller.
func (n *Node) BootstrapErrors() <-chan error {
	return n.bootstrapErrCh
}

// Run starts the node's main loop.
func (n *Node) Run() {
	go n.trans.Listen()

	n.goFunc(func() {
		n.controlTimer.Run(n.conf.GossipTimeout)
	})

	for {
		select {
		case rpc := <-n.trans.Consumer():
			n.processRPC(rpc)
		case reply := <-n.bootstrapReplyCh:
			n.processBootstrapReply(reply)
		case <-n.controlTimer.tickCh:
			n.tick()
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) resetTimer() {
	if n.getState() == Shutdown {
		return
	}
	select {
	case n.controlTimer.resetCh <- n.conf.GossipTimeout:
	case <-n.shutdownCh:
	}
}

// Shutdown stops the node and releases its resources. Safe to call once.
func (n *Node) Shutdown() {
	if n.getState() == Shutdown {
		return
	}

	n.logger.Debug("Shutdown")

	n.setState(Shutdown)
	close(n.shutdownCh)

	n.controlTimer.Shutdown()
	n.waitRoutines()

	n.trans.Close()
	n.store.Close()
}

// tick runs one round of periodic work.
func (n *Node) tick() {
	if n.getState() != Joined || n.chain == nil {
		return
	}

	n.pollEngineVotes()
	n.drainAccumulated()

	if n.chain.IsSelfElder() {
		n.checkElderChange()
	} else {
		n.reportKnowledge()
	}
}

// pollEngineVotes feeds newly delivered votes into the chain. Protocol
// violations are logged and dropped; they never stop the loop.
func (n *Node) pollEngineVotes() {
	for _, v := range n.engine.PollVotes(n.agreementVersion) {
		n.agreementVersion = v.Version
		if !n.chain.IsSelfElder() {
			continue
		}
		if err := n.chain.InsertVote(v.Event, v.Proof, v.Payload); err != nil {
			n.logger.WithFields(logrus.Fields{
				"error": err,
				"event": v.Event.Type,
			}).Debug("Dropped vote")
		}
	}
}

func (n *Node) drainAccumulated() {
	for {
		event, proof, ok := n.chain.PollAccumulated()
		if !ok {
			return
		}
		applied, err := n.chain.ApplyEvent(event, proof)
		if err != nil {
			n.logger.WithFields(logrus.Fields{
				"error": err,
				"event": event.String(),
			}).Error("Failed to apply accumulated event")
			continue
		}
		n.handleApplied(applied)
	}
}

func (n *Node) handleApplied(applied *chain.AppliedEvent) {
	if len(applied.StartDkg) > 0 {
		n.runDkg(applied.StartDkg)
	}
	if applied.NewElders != nil {
		n.completeTransition(applied.NewElders)
	}
	if applied.SendAck != nil {
		ack := chain.NewAckMessageEvent(n.id, applied.SendAck.AckPrefix, applied.SendAck.AckVersion)
		n.castVote(ack)
	}
}

// runDkg executes the generation run for a new elder set and votes the
// resulting key candidate.
func (n *Node) runDkg(participants []xor.Name) {
	threshold := chain.QuorumCount(len(participants))
	res, err := n.engine.DkgRunner().GetDkgResult(participants, n.id, threshold)
	if err != nil {
		n.logger.WithField("error", err).Error("Generation run failed")
		return
	}
	n.chain.CacheDkgResult(participants, res)

	newInfo, err := n.chain.BuildNextEldersInfo()
	if err != nil {
		n.logger.WithField("error", err).Error("Failed to build next elder snapshot")
		return
	}

	keyInfo := chain.SectionKeyInfo{
		Prefix:  newInfo.Prefix,
		Version: newInfo.Version,
		Key:     res.PublicKeys.PublicKey(),
	}
	n.castVote(chain.NewSectionInfoEvent(newInfo, keyInfo))
}

// completeTransition persists the new elder state and pushes genesis updates
// to the members that are not elders themselves.
func (n *Node) completeTransition(newElders *chain.EldersInfo) {
	if err := n.store.SetEldersInfo(newElders); err != nil {
		n.logger.WithField("error", err).Error("Failed to persist elder snapshot")
	}

	if blocks := n.chain.ProofChain().Blocks; len(blocks) > 0 {
		if err := n.store.SetProofBlock(blocks[len(blocks)-1]); err != nil {
			if !cm.IsStore(err, cm.KeyAlreadyExists) {
				n.logger.WithField("error", err).Error("Failed to persist proof block")
			}
		}
	}

	if !n.chain.IsSelfElder() {
		return
	}

	genesis, err := n.store.GetGenesis()
	if err != nil {
		n.logger.WithField("error", err).Error("No genesis to update from")
		return
	}
	update := &chain.GenesisPfxInfo{
		FirstInfo:        genesis.FirstInfo,
		FirstKeys:        genesis.FirstKeys,
		FirstAges:        genesis.FirstAges,
		LatestInfo:       newElders,
		LatestInfoSig:    n.chain.EldersSig(),
		AgreementVersion: n.agreementVersion,
	}

	for name, member := range n.chain.ActiveMembers() {
		if newElders.IsMember(name) {
			continue
		}
		req := &net.GenesisUpdateRequest{
			Genesis: update,
			Proof:   n.chain.SliceProofChain(name),
		}
		addr := member.NetAddr
		n.goFunc(func() {
			var resp net.GenesisUpdateResponse
			if err := n.trans.GenesisUpdate(addr, req, &resp); err != nil {
				n.logger.WithFields(logrus.Fields{
					"error":  err,
					"target": addr,
				}).Debug("Failed to send genesis update")
			}
		})
	}
}

// checkElderChange votes StartDkg when the desired elder set drifts from the
// current one.
func (n *Node) checkElderChange() {
	participants, ok := n.chain.ShouldStartDkg()
	if !ok {
		return
	}
	if n.chain.CachedDkgResult(participants) != nil {
		// Generation already ran; the SectionInfo vote is in flight.
		return
	}

	event := chain.NewStartDkgEvent(participants)
	voted, err := n.chain.HasVoted(event, keys.PublicKeyHex(&n.conf.Key.PublicKey))
	if err != nil || voted {
		return
	}
	n.castVote(event)
}

// castVote signs an event and feeds it into the agreement engine.
func (n *Node) castVote(event *chain.AccumulatingEvent) {
	eventBytes, err := event.Marshal()
	if err != nil {
		n.logger.WithField("error", err).Error("Failed to encode event")
		return
	}
	proof, err := chain.NewProof(n.conf.Key, eventBytes)
	if err != nil {
		n.logger.WithField("error", err).Error("Failed to sign event")
		return
	}

	var payload *chain.EventSigPayload
	if event.NeedsSigPayload() {
		share := n.chain.SecretShare()
		if share == nil {
			n.logger.Debug("No key share; voting without signature payload")
			return
		}
		payload, err = chain.NewEventSigPayload(share, event.SectionInfo)
		if err != nil {
			n.logger.WithField("error", err).Error("Failed to build signature payload")
			return
		}
	}

	if _, err := n.engine.CastVote(event, proof, payload); err != nil {
		n.logger.WithField("error", err).Error("Failed to cast vote")
		return
	}

	n.gossipVote(eventBytes, proof, payload)
}

// gossipVote pushes a signed vote to the other elders directly, without
// waiting for the agreement engine's next delivery round.
func (n *Node) gossipVote(eventBytes []byte, proof *chain.Proof, payload *chain.EventSigPayload) {
	req := &net.VoteRequest{
		FromAddr:   n.trans.AdvertiseAddr(),
		EventBytes: eventBytes,
		Proof:      proof,
		SigPayload: payload,
	}

	for _, m := range n.chain.OurInfo().Members {
		if m.Name() == n.id {
			continue
		}
		addr := m.NetAddr
		n.goFunc(func() {
			var resp net.VoteResponse
			if err := n.trans.Vote(addr, req, &resp); err != nil {
				n.logger.WithFields(logrus.Fields{
					"error":  err,
					"target": addr,
				}).Debug("Failed to gossip vote")
			}
		})
	}
}

// reportKnowledge tells one elder how far this member has caught up.
func (n *Node) reportKnowledge() {
	elders := n.chain.OurInfo().Members
	if len(elders) == 0 {
		return
	}
	target := elders[int(n.agreementVersion)%len(elders)].NetAddr

	req := &net.MemberKnowledgeRequest{
		FromName: n.id,
		Knowledge: chain.MemberKnowledge{
			EldersVersion:    n.chain.OurInfo().Version,
			AgreementVersion: n.agreementVersion,
		},
	}
	n.goFunc(func() {
		var resp net.MemberKnowledgeResponse
		if err := n.trans.MemberKnowledge(target, req, &resp); err != nil {
			n.logger.WithFields(logrus.Fields{
				"error":  err,
				"target": target,
			}).Debug("Failed to report knowledge")
		}
	})
}

/*******************************************************************************
RPC handling
*******************************************************************************/

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.BootstrapRequest:
		n.processBootstrapRequest(cmd, rpc)
	case *net.VoteRequest:
		n.processVoteRequest(cmd, rpc)
	case *net.MemberKnowledgeRequest:
		n.processMemberKnowledgeRequest(cmd, rpc)
	case *net.GenesisUpdateRequest:
		n.processGenesisUpdateRequest(cmd, rpc)
	default:
		n.logger.WithField("command", fmt.Sprintf("%T", cmd)).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

// processBootstrapRequest answers a joining node: Join when we are an elder
// for its destination, Rebootstrap towards our elders otherwise.
func (n *Node) processBootstrapRequest(cmd *net.BootstrapRequest, rpc net.RPC) {
	if n.getState() != Joined || n.chain == nil {
		rpc.Respond(nil, fmt.Errorf("not a section member"))
		return
	}

	resp := &net.BootstrapResponse{FromAddr: n.trans.AdvertiseAddr()}

	if n.chain.IsSelfElder() && n.chain.OurInfo().Prefix.Matches(cmd.Destination) {
		resp.Join = &net.JoinInfo{
			EldersInfo: n.chain.OurInfo(),
			SectionKey: *n.chain.TipKeyInfo(),
			Proof:      n.chain.SliceProofChain(cmd.Destination),
			EldersSig:  n.chain.EldersSig(),
		}
	} else {
		contacts := make([]string, 0, n.chain.OurInfo().Len())
		for _, m := range n.chain.OurInfo().Members {
			contacts = append(contacts, m.NetAddr)
		}
		resp.Rebootstrap = contacts
	}

	rpc.Respond(resp, nil)
}

func (n *Node) processVoteRequest(cmd *net.VoteRequest, rpc net.RPC) {
	if n.getState() != Joined || n.chain == nil || !n.chain.IsSelfElder() {
		rpc.Respond(&net.VoteResponse{Success: false}, nil)
		return
	}

	event := new(chain.AccumulatingEvent)
	if err := event.Unmarshal(cmd.EventBytes); err != nil {
		rpc.Respond(&net.VoteResponse{Success: false}, nil)
		return
	}

	if err := n.chain.InsertVote(event, cmd.Proof, cmd.SigPayload); err != nil {
		n.logger.WithField("error", err).Debug("Dropped gossiped vote")
		rpc.Respond(&net.VoteResponse{Success: false}, nil)
		return
	}

	n.drainAccumulated()
	rpc.Respond(&net.VoteResponse{Success: true}, nil)
}

func (n *Node) processMemberKnowledgeRequest(cmd *net.MemberKnowledgeRequest, rpc net.RPC) {
	if n.getState() != Joined || n.chain == nil || !n.chain.IsSelfElder() {
		rpc.Respond(&net.MemberKnowledgeResponse{Success: false}, nil)
		return
	}

	n.chain.UpdateMemberKnowledge(cmd.FromName, cmd.Knowledge)
	rpc.Respond(&net.MemberKnowledgeResponse{Success: true}, nil)
}

func (n *Node) processGenesisUpdateRequest(cmd *net.GenesisUpdateRequest, rpc net.RPC) {
	if n.getState() != Joined || n.chain == nil {
		rpc.Respond(&net.GenesisUpdateResponse{Success: false}, nil)
		return
	}

	if err := n.chain.AdoptGenesisUpdate(cmd.Genesis, cmd.Proof); err != nil {
		n.logger.WithField("error", err).Debug("Rejected genesis update")
		rpc.Respond(&net.GenesisUpdateResponse{Success: false}, nil)
		return
	}

	if cmd.Genesis.AgreementVersion > n.agreementVersion {
		n.agreementVersion = cmd.Genesis.AgreementVersion
	}

	rpc.Respond(&net.GenesisUpdateResponse{Success: true}, nil)
}

// GetStats returns the node's operational counters. It reads state the main
// loop owns without synchronization, so it must only be called from that loop
// or while the loop is not running.
func (n *Node) GetStats() map[string]string {
	stats := map[string]string{
		"state":             n.getState().String(),
		"moniker":           n.conf.Moniker,
		"stray_responses":   fmt.Sprint(n.strayResponses),
		"agreement_version": fmt.Sprint(n.agreementVersion),
	}
	if n.chain != nil {
		for k, v := range n.chain.Stats() {
			stats[k] = v
		}
	}
	return stats
}
