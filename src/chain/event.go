package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/xor"
	"github.com/ugorji/go/codec"
)

// EventType discriminates the kinds of facts the section can agree on.
type EventType uint8

const (
	// EventOnline proposes admitting a peer as section member.
	EventOnline EventType = iota
	// EventOffline proposes dropping a member that went unresponsive.
	EventOffline
	// EventSectionInfo proposes a new elder set together with the section
	// key candidate produced by DKG.
	EventSectionInfo
	// EventStartDkg instructs the proposed participants to run distributed
	// key generation.
	EventStartDkg
	// EventAckMessage records that our section processed a message from a
	// neighbour up to a given version.
	EventAckMessage
	// EventSendAckMessage proposes sending such an acknowledgment.
	EventSendAckMessage
)

func (t EventType) String() string {
	switch t {
	case EventOnline:
		return "Online"
	case EventOffline:
		return "Offline"
	case EventSectionInfo:
		return "SectionInfo"
	case EventStartDkg:
		return "StartDkg"
	case EventAckMessage:
		return "AckMessage"
	case EventSendAckMessage:
		return "SendAckMessage"
	default:
		return "Unknown"
	}
}

// OnlinePayload carries the joining peer's descriptor and starting age.
type OnlinePayload struct {
	Member *Member
	Age    uint8
}

// SectionInfoPayload carries the proposed elder set and the key candidate
// that gates the next proof-chain link.
type SectionInfoPayload struct {
	EldersInfo *EldersInfo
	KeyInfo    SectionKeyInfo
}

// StartDkgPayload names the participants of the proposed elder set, sorted.
type StartDkgPayload struct {
	Participants []xor.Name
}

// AckMessagePayload identifies the acknowledged knowledge: who we are
// acknowledging to, which prefix we speak for, and the version acknowledged.
type AckMessagePayload struct {
	DstName    xor.Name
	SrcPrefix  xor.Prefix
	AckVersion uint64
}

// SendAckMessagePayload proposes acknowledging a neighbour section's info.
type SendAckMessagePayload struct {
	AckPrefix  xor.Prefix
	AckVersion uint64
}

// AccumulatingEvent is a closed variant over the fact types the protocol can
// agree on. Exactly one payload field, matching Type, is set. Its canonical
// encoding is both the vote-dedup key and the basis for any attached
// threshold-signature payload.
type AccumulatingEvent struct {
	Type EventType

	Online      *OnlinePayload         `json:",omitempty"`
	Offline     *xor.Name              `json:",omitempty"`
	SectionInfo *SectionInfoPayload    `json:",omitempty"`
	StartDkg    *StartDkgPayload       `json:",omitempty"`
	Ack         *AckMessagePayload     `json:",omitempty"`
	SendAck     *SendAckMessagePayload `json:",omitempty"`
}

// NewOnlineEvent ...
func NewOnlineEvent(member *Member, age uint8) *AccumulatingEvent {
	return &AccumulatingEvent{Type: EventOnline, Online: &OnlinePayload{Member: member, Age: age}}
}

// NewOfflineEvent ...
func NewOfflineEvent(name xor.Name) *AccumulatingEvent {
	return &AccumulatingEvent{Type: EventOffline, Offline: &name}
}

// NewSectionInfoEvent ...
func NewSectionInfoEvent(eldersInfo *EldersInfo, keyInfo SectionKeyInfo) *AccumulatingEvent {
	return &AccumulatingEvent{Type: EventSectionInfo, SectionInfo: &SectionInfoPayload{
		EldersInfo: eldersInfo,
		KeyInfo:    keyInfo,
	}}
}

// NewStartDkgEvent sorts the participant set to keep the encoding canonical.
func NewStartDkgEvent(participants []xor.Name) *AccumulatingEvent {
	sorted := make([]xor.Name, len(participants))
	copy(sorted, participants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	return &AccumulatingEvent{Type: EventStartDkg, StartDkg: &StartDkgPayload{Participants: sorted}}
}

// NewAckMessageEvent ...
func NewAckMessageEvent(dstName xor.Name, srcPrefix xor.Prefix, ackVersion uint64) *AccumulatingEvent {
	return &AccumulatingEvent{Type: EventAckMessage, Ack: &AckMessagePayload{
		DstName:    dstName,
		SrcPrefix:  srcPrefix,
		AckVersion: ackVersion,
	}}
}

// NewSendAckMessageEvent ...
func NewSendAckMessageEvent(ackPrefix xor.Prefix, ackVersion uint64) *AccumulatingEvent {
	return &AccumulatingEvent{Type: EventSendAckMessage, SendAck: &SendAckMessagePayload{
		AckPrefix:  ackPrefix,
		AckVersion: ackVersion,
	}}
}

// Marshal produces the canonical encoding of the event.
func (e *AccumulatingEvent) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (e *AccumulatingEvent) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(e)
}

// Key returns the vote-dedup key: the hex SHA256 of the canonical encoding.
func (e *AccumulatingEvent) Key() (string, error) {
	data, err := e.Marshal()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.SHA256(data)), nil
}

// NeedsSigPayload reports whether votes for this event must carry an
// EventSigPayload. SectionInfo votes must, to bind the vote to a specific
// threshold-key candidate.
func (e *AccumulatingEvent) NeedsSigPayload() bool {
	return e.Type == EventSectionInfo
}

func (e *AccumulatingEvent) String() string {
	switch e.Type {
	case EventOnline:
		return fmt.Sprintf("Online(%s, age=%d)", e.Online.Member.Name(), e.Online.Age)
	case EventOffline:
		return fmt.Sprintf("Offline(%s)", *e.Offline)
	case EventSectionInfo:
		return fmt.Sprintf("SectionInfo(%s)", e.SectionInfo.EldersInfo)
	case EventStartDkg:
		return fmt.Sprintf("StartDkg(%d participants)", len(e.StartDkg.Participants))
	case EventAckMessage:
		return fmt.Sprintf("AckMessage(%s, v%d)", e.Ack.DstName, e.Ack.AckVersion)
	case EventSendAckMessage:
		return fmt.Sprintf("SendAckMessage(%s, v%d)", e.SendAck.AckPrefix, e.SendAck.AckVersion)
	default:
		return "Unknown"
	}
}

// EventSigPayload is the optional signature attachment of a vote: the voter's
// BLS signature shares over the proposed SectionKeyInfo and EldersInfo, made
// with the voter's share of the current section key. Accumulated shares
// combine into the threshold signatures that extend the proof chain and bind
// the new elder set to it.
type EventSigPayload struct {
	PubKeyShare  []byte
	SigShare     *crypto.SignatureShare
	InfoSigShare *crypto.SignatureShare
}

// NewEventSigPayload signs a SectionInfo proposal with the voter's current
// secret key share: one share over the key candidate, one over the elder set.
func NewEventSigPayload(share *crypto.SecretKeyShare, p *SectionInfoPayload) (*EventSigPayload, error) {
	keyBytes, err := p.KeyInfo.Marshal()
	if err != nil {
		return nil, err
	}
	eldersBytes, err := p.EldersInfo.Marshal()
	if err != nil {
		return nil, err
	}
	return &EventSigPayload{
		PubKeyShare:  share.PublicShare(),
		SigShare:     share.Sign(keyBytes),
		InfoSigShare: share.Sign(eldersBytes),
	}, nil
}
