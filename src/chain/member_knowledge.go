package chain

// MemberKnowledge is what the elders remember about how far one member's view
// of the section has advanced. It gates how much proof-chain history a
// genesis update must carry for that member.
type MemberKnowledge struct {
	EldersVersion    uint64
	AgreementVersion uint64
}

// Update merges newer knowledge in, monotonically per field. Stale reports
// never roll knowledge back.
func (mk *MemberKnowledge) Update(other MemberKnowledge) {
	if other.EldersVersion > mk.EldersVersion {
		mk.EldersVersion = other.EldersVersion
	}
	if other.AgreementVersion > mk.AgreementVersion {
		mk.AgreementVersion = other.AgreementVersion
	}
}
