package chain

// pendingEvent pairs an event awaiting quorum with its growing proof.
type pendingEvent struct {
	event *AccumulatingEvent
	proof *AccumulatingProof
}

// Accumulator turns independently cast votes into agreed facts. Votes are
// keyed by the event's canonical encoding, so identical proposals from
// different voters land on the same entry. An event accumulates exactly once
// per elder era: after delivery further votes for the same key are absorbed
// silently, until a transition purges the delivered keys along with the
// pending votes they would supersede.
type Accumulator struct {
	pending   map[string]*pendingEvent
	completed map[string]*AccumulatingEvent

	duplicateVotes int
}

// NewAccumulator ...
func NewAccumulator() *Accumulator {
	return &Accumulator{
		pending:   make(map[string]*pendingEvent),
		completed: make(map[string]*AccumulatingEvent),
	}
}

// AddVote records one voter's proof for an event. When the entry reaches
// quorum distinct voters for the first time it is removed from the pending
// set and returned with its accumulated proof; every other outcome returns
// false. Duplicate votes from the same voter are counted and ignored; the
// final accumulated proof never depends on arrival order, only the moment of
// delivery does.
func (a *Accumulator) AddVote(
	event *AccumulatingEvent,
	proof *Proof,
	payload *EventSigPayload,
	quorum int,
) (*AccumulatingEvent, *AccumulatingProof, bool, error) {
	key, err := event.Key()
	if err != nil {
		return nil, nil, false, err
	}

	if _, ok := a.completed[key]; ok {
		return nil, nil, false, nil
	}

	entry, ok := a.pending[key]
	if !ok {
		entry = &pendingEvent{event: event, proof: NewAccumulatingProof()}
		a.pending[key] = entry
	}

	if !entry.proof.AddProof(proof, payload) {
		a.duplicateVotes++
		return nil, nil, false, nil
	}

	if entry.proof.Len() < quorum {
		return nil, nil, false, nil
	}

	delete(a.pending, key)
	a.completed[key] = entry.event

	return entry.event, entry.proof, true, nil
}

// HasVoted reports whether the given voter already voted for the event.
func (a *Accumulator) HasVoted(event *AccumulatingEvent, pubKeyHex string) (bool, error) {
	key, err := event.Key()
	if err != nil {
		return false, err
	}
	entry, ok := a.pending[key]
	if !ok {
		return false, nil
	}
	return entry.proof.Proofs.Contains(pubKeyHex), nil
}

// PendingCount returns the number of events still short of quorum.
func (a *Accumulator) PendingCount() int {
	return len(a.pending)
}

// DuplicateVotes returns how many votes were dropped as duplicates.
func (a *Accumulator) DuplicateVotes() int {
	return a.duplicateVotes
}

// Purge drops every pending entry the keep predicate rejects, and forgets the
// delivered keys it rejects so the same fact can be agreed again in the next
// era. A member that left and comes back with identical credentials must not
// be absorbed by a stale delivery record. The chain calls this on each
// SectionInfo transition.
func (a *Accumulator) Purge(keep func(*AccumulatingEvent) bool) int {
	purged := 0
	for key, entry := range a.pending {
		if !keep(entry.event) {
			delete(a.pending, key)
			purged++
		}
	}
	for key, event := range a.completed {
		if !keep(event) {
			delete(a.completed, key)
		}
	}
	return purged
}
