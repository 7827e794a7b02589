package net

// Transport provides an interface for network transports to allow a section
// node to communicate with other nodes.
type Transport interface {

	// Listen starts the transport listening.
	Listen()

	// Consumer returns a channel that can be used to consume and respond to
	// RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address.
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other
	// peers can reach us.
	AdvertiseAddr() string

	// Bootstrap, Vote, MemberKnowledge, and GenesisUpdate send the
	// appropriate RPC to the target node.

	Bootstrap(target string, args *BootstrapRequest, resp *BootstrapResponse) error

	Vote(target string, args *VoteRequest, resp *VoteResponse) error

	MemberKnowledge(target string, args *MemberKnowledgeRequest, resp *MemberKnowledgeResponse) error

	GenesisUpdate(target string, args *GenesisUpdateRequest, resp *GenesisUpdateResponse) error

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}
