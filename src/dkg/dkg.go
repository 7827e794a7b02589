// Package dkg derives the threshold key material for an elder transition.
//
// When a StartDkg event accumulates, every named participant runs the
// generation sub-protocol for the same participant set and must arrive at the
// same section public key set; only its own secret share differs per node. A
// participant that never completes simply contributes no SectionInfo vote and
// catches up from its peers' votes later. There is no retry.
package dkg

import (
	"encoding/hex"
	"sort"

	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/xor"
)

// Result is the outcome of one generation run. Share is nil when this node is
// not a participant.
type Result struct {
	PublicKeys *crypto.PublicKeySet
	Share      *crypto.SecretKeyShare
}

// Runner is the pluggable generation primitive the agreement engine exposes.
type Runner interface {
	GetDkgResult(participants []xor.Name, ourName xor.Name, threshold int) (*Result, error)
}

// Digest canonically identifies a participant set, independent of order.
func Digest(participants []xor.Name) string {
	sorted := sortedNames(participants)
	buf := make([]byte, 0, len(sorted)*xor.NameLen)
	for _, n := range sorted {
		buf = append(buf, n[:]...)
	}
	return hex.EncodeToString(crypto.SHA256(buf))
}

// InProcRunner derives the master key deterministically from the participant
// set, so every honest participant computes the identical public key set
// without message rounds. It stands in for a full interactive generation
// protocol behind the same contract.
type InProcRunner struct{}

// NewInProcRunner ...
func NewInProcRunner() *InProcRunner {
	return &InProcRunner{}
}

// GetDkgResult runs one generation for the given participant set.
func (r *InProcRunner) GetDkgResult(participants []xor.Name, ourName xor.Name, threshold int) (*Result, error) {
	sorted := sortedNames(participants)

	seed := make([]byte, 0, len(sorted)*xor.NameLen)
	for _, n := range sorted {
		seed = append(seed, n[:]...)
	}

	sks, err := crypto.DeterministicSecretKeySet(seed, threshold)
	if err != nil {
		return nil, err
	}

	res := &Result{PublicKeys: sks.PublicKeys()}

	for _, n := range sorted {
		if n == ourName {
			share, err := sks.SecretKeyShare(ourName[:])
			if err != nil {
				return nil, err
			}
			res.Share = share
			break
		}
	}

	return res, nil
}

func sortedNames(names []xor.Name) []xor.Name {
	sorted := make([]xor.Name, len(names))
	copy(sorted, names)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	return sorted
}
