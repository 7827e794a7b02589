package chain

import "math/bits"

// MinAge is the age assigned to a peer when it first joins. Age only
// increases from there, through churn events, and gates eligibility for
// relocation and promotion.
const MinAge = 4

// MemberState tracks where a member is in its lifecycle.
type MemberState uint8

const (
	// StateJoined is the normal state of a section member.
	StateJoined MemberState = iota
	// StateLeft marks a member that went offline. The entry lingers until a
	// new EldersInfo supersedes the set it belonged to.
	StateLeft
	// StateRelocated marks a member that was moved to another section.
	StateRelocated
)

func (s MemberState) String() string {
	switch s {
	case StateJoined:
		return "Joined"
	case StateLeft:
		return "Left"
	case StateRelocated:
		return "Relocated"
	default:
		return "Unknown"
	}
}

// AgeCounter is the churn counter behind a member's age. The age is the
// position of the counter's highest set bit, so it takes exponentially more
// churn events to reach each next age.
type AgeCounter uint32

// NewAgeCounter returns the counter corresponding to a bare age.
func NewAgeCounter(age uint8) AgeCounter {
	return AgeCounter(1) << age
}

// MinAgeCounter is the counter of a freshly joined peer.
const MinAgeCounter = AgeCounter(1) << MinAge

// Age returns the age encoded by the counter.
func (c AgeCounter) Age() uint8 {
	if c == 0 {
		return 0
	}
	return uint8(bits.Len32(uint32(c)) - 1)
}

// Increment bumps the counter by one churn event and reports whether the age
// increased.
func (c *AgeCounter) Increment() bool {
	before := c.Age()
	*c++
	return c.Age() > before
}

// MemberInfo is the per-member lifecycle record kept by the Chain.
type MemberInfo struct {
	AgeCounter AgeCounter
	State      MemberState
	Descriptor *Member
}

// NewMemberInfo creates the record for a peer that just came online.
func NewMemberInfo(descriptor *Member, age uint8) *MemberInfo {
	if age < MinAge {
		age = MinAge
	}
	return &MemberInfo{
		AgeCounter: NewAgeCounter(age),
		State:      StateJoined,
		Descriptor: descriptor,
	}
}

// Age returns the member's current age.
func (m *MemberInfo) Age() uint8 {
	return m.AgeCounter.Age()
}

// IsActive reports whether the member still counts towards the section.
func (m *MemberInfo) IsActive() bool {
	return m.State == StateJoined
}
