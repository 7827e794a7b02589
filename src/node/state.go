package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a section node: AwaitingConnection,
// AwaitingResponse, Rebootstrapping, Joined, or Shutdown.
type State uint32

const (
	// AwaitingConnection is the initial state of a joining node, before any
	// bootstrap request has been sent.
	AwaitingConnection State = iota
	// AwaitingResponse means bootstrap requests are in flight.
	AwaitingResponse
	// Rebootstrapping means the node was redirected and is re-sending
	// requests to a fresh contact set.
	Rebootstrapping
	// Joined means the node verified an elder set and attached to its
	// section.
	Joined
	// Shutdown is shutdown.
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case AwaitingConnection:
		return "AwaitingConnection"
	case AwaitingResponse:
		return "AwaitingResponse"
	case Rebootstrapping:
		return "Rebootstrapping"
	case Joined:
		return "Joined"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// wgLimit is the maximum number of goroutines that can be launched through
// state.goFunc.
const wgLimit = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// Start a goroutine and add it to waitgroup.
func (b *state) goFunc(f func()) {
	tempWgCount := atomic.LoadInt32(&b.wgCount)
	if tempWgCount < wgLimit {
		b.wg.Add(1)
		atomic.AddInt32(&b.wgCount, 1)
		go func() {
			defer b.wg.Done()
			atomic.AddInt32(&b.wgCount, -1)
			f()
		}()
	}
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
