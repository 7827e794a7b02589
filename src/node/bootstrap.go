package node

import (
	"bytes"
	"fmt"
	"time"

	"github.com/sectionnet/routing/src/chain"
	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/net"
	"github.com/sectionnet/routing/src/xor"
	"github.com/sirupsen/logrus"
)

// bootstrapReply funnels the outcome of one BootstrapRequest back into the
// main loop, so responses arriving out of order or after a Rebootstrap are
// handled from a single goroutine. attempt stamps which request round the
// reply belongs to; replies and timeouts from a superseded round are dropped.
type bootstrapReply struct {
	attempt int
	from    string
	resp    *net.BootstrapResponse
	err     error
}

// Bootstrap starts the join protocol using the config's contact list. It is
// asynchronous: the node transitions to AwaitingResponse and the main loop
// drives the rest. The caller watches BootstrapErrors and GetState.
func (n *Node) Bootstrap() error {
	if n.getState() != AwaitingConnection {
		return fmt.Errorf("bootstrap from state %s", n.getState())
	}
	if len(n.conf.Contacts) == 0 {
		return fmt.Errorf("no contacts to bootstrap from")
	}

	n.sendBootstrapRequests(n.conf.Contacts)
	n.setState(AwaitingResponse)

	return nil
}

// sendBootstrapRequests fires a BootstrapRequest at every contact and arms a
// shared timeout for the attempt. Replies and the timeout come back through
// bootstrapReplyCh, stamped with the attempt they belong to, so a timer armed
// for an abandoned round cannot cut a later one short.
func (n *Node) sendBootstrapRequests(contacts []string) {
	dst := n.destination()

	n.bootstrapAttempt++
	attempt := n.bootstrapAttempt

	for _, contact := range contacts {
		n.pendingBootstrap[contact] = true

		addr := contact
		n.goFunc(func() {
			req := &net.BootstrapRequest{
				FromAddr:    n.trans.AdvertiseAddr(),
				Destination: dst,
			}
			var resp net.BootstrapResponse
			err := n.trans.Bootstrap(addr, req, &resp)

			select {
			case n.bootstrapReplyCh <- bootstrapReply{attempt: attempt, from: addr, resp: &resp, err: err}:
			case <-n.shutdownCh:
			}
		})
	}

	n.goFunc(func() {
		select {
		case <-time.After(n.conf.BootstrapTimeout):
			select {
			case n.bootstrapReplyCh <- bootstrapReply{attempt: attempt, err: errBootstrapTimeout}:
			case <-n.shutdownCh:
			}
		case <-n.shutdownCh:
		}
	})
}

var errBootstrapTimeout = fmt.Errorf("timed out waiting for bootstrap responses")

// destination is the name a joining node asks the network to route it to: the
// relocation target when it holds a ticket, its own name otherwise.
func (n *Node) destination() xor.Name {
	if n.relocation != nil {
		return n.relocation.Details.DstName
	}
	return n.id
}

// processBootstrapReply handles one reply on the main loop. Stray replies,
// from contacts we are no longer waiting on, are counted and dropped without
// side effects.
func (n *Node) processBootstrapReply(reply bootstrapReply) {
	if reply.attempt != n.bootstrapAttempt {
		if reply.err != errBootstrapTimeout {
			n.strayResponses++
			n.logger.WithField("from", reply.from).Debug("Ignoring reply from superseded bootstrap attempt")
		}
		return
	}

	if reply.err == errBootstrapTimeout {
		if n.getState() != AwaitingResponse {
			return
		}
		n.pendingBootstrap = make(map[string]bool)
		n.setState(AwaitingConnection)
		select {
		case n.bootstrapErrCh <- reply.err:
		default:
		}
		return
	}

	if n.getState() != AwaitingResponse {
		n.strayResponses++
		return
	}

	if !n.pendingBootstrap[reply.from] {
		n.strayResponses++
		n.logger.WithField("from", reply.from).Debug("Ignoring stray bootstrap response")
		return
	}
	delete(n.pendingBootstrap, reply.from)

	if reply.err != nil {
		n.logger.WithFields(logrus.Fields{
			"error": reply.err,
			"from":  reply.from,
		}).Debug("Bootstrap request failed")
		return
	}

	if len(reply.resp.Rebootstrap) > 0 {
		n.logger.WithField("contacts", len(reply.resp.Rebootstrap)).Debug("Rebootstrapping")
		n.pendingBootstrap = make(map[string]bool)
		n.setState(Rebootstrapping)
		n.sendBootstrapRequests(reply.resp.Rebootstrap)
		n.setState(AwaitingResponse)
		return
	}

	if reply.resp.Join == nil {
		n.logger.WithField("from", reply.from).Debug("Empty bootstrap response")
		return
	}

	if err := n.verifyJoin(reply.resp.Join); err != nil {
		n.logger.WithFields(logrus.Fields{
			"error": err,
			"from":  reply.from,
		}).Debug("Discarding unverifiable join offer")
		return
	}

	if err := n.completeJoin(reply.resp.Join); err != nil {
		n.logger.WithField("error", err).Error("Failed to complete join")
		select {
		case n.bootstrapErrCh <- err:
		default:
		}
		return
	}

	n.pendingBootstrap = make(map[string]bool)
	n.logger.WithFields(logrus.Fields{
		"prefix":  n.chain.OurInfo().Prefix.String(),
		"version": n.chain.OurInfo().Version,
	}).Debug("Joined section")
}

// verifyJoin checks a join offer against the trusted anchor: the proof slice
// must chain from the anchor to the offered section key, the offered section
// must cover our destination name, and the elder set must be bound to the
// verified key, not merely shipped next to it.
func (n *Node) verifyJoin(join *net.JoinInfo) error {
	if join.EldersInfo == nil || join.Proof == nil {
		return fmt.Errorf("incomplete join offer")
	}

	if !join.EldersInfo.Prefix.Matches(n.destination()) {
		return fmt.Errorf("section %s does not cover destination %s",
			join.EldersInfo.Prefix, n.destination())
	}

	if status := join.Proof.Check(n.anchor); status != chain.Trusted {
		return fmt.Errorf("proof slice not trusted from anchor: %s", status)
	}

	tip := join.Proof.LastKeyInfo()
	if tip == nil || !tip.Equal(&join.SectionKey) {
		return fmt.Errorf("offered section key does not match proof tip")
	}

	if join.EldersInfo.Version != tip.Version || join.EldersInfo.Prefix != tip.Prefix {
		return fmt.Errorf("elder set %s does not match section key %s",
			join.EldersInfo, tip)
	}

	return n.verifyJoinElders(join, tip)
}

// verifyJoinElders binds the offered elder set to the verified section key.
// Past the founding version the predecessor key must have threshold-signed
// the set; at the founding version the key itself must derive from the set's
// generation run.
func (n *Node) verifyJoinElders(join *net.JoinInfo, tip *chain.SectionKeyInfo) error {
	var prevKey []byte
	for _, ki := range join.Proof.AllPrefixVersion() {
		if tip.Version > 0 && ki.Version == tip.Version-1 {
			prevKey = ki.Key
		}
	}

	if prevKey != nil {
		eldersBytes, err := join.EldersInfo.Marshal()
		if err != nil {
			return err
		}
		if !crypto.VerifyThresholdSig(prevKey, join.EldersSig, eldersBytes) {
			return fmt.Errorf("elder set not signed by predecessor section key")
		}
		return nil
	}

	names := join.EldersInfo.MemberNames()
	res, err := n.engine.DkgRunner().GetDkgResult(names, n.id, chain.QuorumCount(len(names)))
	if err != nil {
		return err
	}
	if !bytes.Equal(res.PublicKeys.PublicKey(), tip.Key) {
		return fmt.Errorf("elder set does not derive the offered section key")
	}
	return nil
}

// completeJoin adopts the verified section state: build a chain seeded from
// the offer, persist it, and go Joined.
func (n *Node) completeJoin(join *net.JoinInfo) error {
	genesis := &chain.GenesisPfxInfo{
		FirstInfo:        join.EldersInfo,
		FirstKeys:        [][]byte{join.SectionKey.Key},
		LatestInfo:       join.EldersInfo,
		AgreementVersion: n.agreementVersion,
	}

	ch, err := chain.NewChain(n.conf.NetworkParams, n.id, genesis, nil, n.logger)
	if err != nil {
		return err
	}

	if err := n.store.SetGenesis(genesis); err != nil {
		return err
	}

	n.chain = ch
	n.anchor = &join.SectionKey
	n.setState(Joined)

	return nil
}
