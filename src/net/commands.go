package net

import (
	"github.com/sectionnet/routing/src/chain"
	"github.com/sectionnet/routing/src/xor"
)

// BootstrapRequest is sent by a joining node to a known contact. Destination
// is the name the node wants to join as, or the relocation destination when
// it holds a relocation ticket.
type BootstrapRequest struct {
	FromAddr    string
	Destination xor.Name
}

// JoinInfo is the accepting half of a bootstrap response: the responder's
// elder set, its current section key, and the proof slice that lets the
// joining node verify the key from its trusted anchor. EldersSig is the
// threshold signature binding the elder set to the key's predecessor, empty
// while the section still runs on its founding elder set.
type JoinInfo struct {
	EldersInfo *chain.EldersInfo
	SectionKey chain.SectionKeyInfo
	Proof      *chain.SectionProofSlice
	EldersSig  []byte
}

// BootstrapResponse either admits the requester (Join set) or redirects it to
// contacts closer to its destination (Rebootstrap set). Exactly one of the
// two fields is set.
type BootstrapResponse struct {
	FromAddr    string
	Join        *JoinInfo
	Rebootstrap []string
}

// VoteRequest is the gossip envelope for one vote: the event's canonical
// bytes, the voter's proof, and the signature share a SectionInfo vote
// carries.
type VoteRequest struct {
	FromAddr   string
	EventBytes []byte
	Proof      *chain.Proof
	SigPayload *chain.EventSigPayload
}

// VoteResponse indicates whether the vote was taken in.
type VoteResponse struct {
	Success bool
}

// MemberKnowledgeRequest tells the elders how far the sender has caught up,
// so genesis updates can be trimmed accordingly.
type MemberKnowledgeRequest struct {
	FromName  xor.Name
	Knowledge chain.MemberKnowledge
}

// MemberKnowledgeResponse ...
type MemberKnowledgeResponse struct {
	Success bool
}

// GenesisUpdateRequest carries a refreshed genesis bundle to a member, with
// the proof slice trimmed to the member's recorded knowledge.
type GenesisUpdateRequest struct {
	Genesis *chain.GenesisPfxInfo
	Proof   *chain.SectionProofSlice
}

// GenesisUpdateResponse ...
type GenesisUpdateResponse struct {
	Success bool
}
