// Package agreement abstracts the causal-history engine that carries votes
// between elders. The node only needs three things from it: votes go in,
// delivered votes come out in a stable order every participant agrees on, and
// it hands out the generation primitive for elder transitions.
package agreement

import (
	"sync"

	"github.com/sectionnet/routing/src/chain"
	"github.com/sectionnet/routing/src/dkg"
)

// Vote is one delivered vote together with its position in the engine's
// history.
type Vote struct {
	Version uint64
	Event   *chain.AccumulatingEvent
	Proof   *chain.Proof
	Payload *chain.EventSigPayload
}

// Engine is the pluggable agreement collaborator.
type Engine interface {
	// CastVote feeds a vote into the causal history and returns its
	// version.
	CastVote(event *chain.AccumulatingEvent, proof *chain.Proof, payload *chain.EventSigPayload) (uint64, error)

	// PollVotes returns the delivered votes after the given version, in
	// delivery order.
	PollVotes(afterVersion uint64) []*Vote

	// Version returns the version of the latest delivered vote.
	Version() uint64

	// DkgRunner returns the engine's generation primitive.
	DkgRunner() dkg.Runner
}

// InmemEngine delivers votes in insertion order. One instance is shared by
// every node of a test section, standing in for the gossip layer.
type InmemEngine struct {
	sync.RWMutex
	votes   []*Vote
	version uint64
	runner  dkg.Runner
}

// NewInmemEngine starts an engine whose history begins after startVersion.
func NewInmemEngine(startVersion uint64) *InmemEngine {
	return &InmemEngine{
		version: startVersion,
		runner:  dkg.NewInProcRunner(),
	}
}

// CastVote implements the Engine interface.
func (e *InmemEngine) CastVote(event *chain.AccumulatingEvent, proof *chain.Proof, payload *chain.EventSigPayload) (uint64, error) {
	e.Lock()
	defer e.Unlock()

	e.version++
	e.votes = append(e.votes, &Vote{
		Version: e.version,
		Event:   event,
		Proof:   proof,
		Payload: payload,
	})

	return e.version, nil
}

// PollVotes implements the Engine interface.
func (e *InmemEngine) PollVotes(afterVersion uint64) []*Vote {
	e.RLock()
	defer e.RUnlock()

	out := make([]*Vote, 0)
	for _, v := range e.votes {
		if v.Version > afterVersion {
			out = append(out, v)
		}
	}
	return out
}

// Version implements the Engine interface.
func (e *InmemEngine) Version() uint64 {
	e.RLock()
	defer e.RUnlock()
	return e.version
}

// DkgRunner implements the Engine interface.
func (e *InmemEngine) DkgRunner() dkg.Runner {
	return e.runner
}
