package chain

import "errors"

// Typed failures returned at the Chain's mutating boundaries. Callers must
// not retry these blindly; they signal that the caller's view of section
// state is stale or that the input violates a protocol invariant.
var (
	// ErrForeignVote is returned when the voter is not part of the current
	// elder set. The vote is discarded, never accumulated.
	ErrForeignVote = errors.New("vote from a non-elder")

	// ErrNonMonotonicExtension is returned when a proof-chain extension does
	// not follow the tip by exactly one version.
	ErrNonMonotonicExtension = errors.New("proof chain extension is not tip+1")

	// ErrVersionClash is returned when a second, different key is proposed
	// at an already-occupied version.
	ErrVersionClash = errors.New("conflicting key at existing chain version")

	// ErrInvalidThresholdSig is returned when a proof-chain link's signature
	// does not validate against the previous link's key.
	ErrInvalidThresholdSig = errors.New("invalid threshold signature on chain link")

	// ErrUnboundEldersInfo is returned when a genesis update's elder snapshot
	// is not threshold-signed by a key the proof chain vouches for.
	ErrUnboundEldersInfo = errors.New("elder set not bound to a verified chain key")

	// ErrDuplicateVersion is returned when a new EldersInfo does not
	// increment the version of its predecessor.
	ErrDuplicateVersion = errors.New("elders info version must increment by one")

	// ErrIncompatiblePrefix is returned when an EldersInfo's prefix does not
	// belong to the lineage of its predecessor.
	ErrIncompatiblePrefix = errors.New("elders info prefix outside section lineage")

	// ErrNoDkgResult is returned when a SectionInfo event fires before this
	// node obtained the matching DKG result.
	ErrNoDkgResult = errors.New("no cached DKG result for participant set")

	// ErrInvalidSignature is returned when a vote's proof does not verify
	// against the event bytes.
	ErrInvalidSignature = errors.New("invalid vote signature")

	// ErrInvalidSigShare is returned when a SectionInfo vote carries a BLS
	// share that does not verify against the current section key.
	ErrInvalidSigShare = errors.New("invalid signature share on vote")

	// ErrMissingSigShare is returned when a SectionInfo vote from a current
	// elder omits its signature share.
	ErrMissingSigShare = errors.New("missing signature share on vote")
)
