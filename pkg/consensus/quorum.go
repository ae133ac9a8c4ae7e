package consensus

import (
	"errors"
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
)

// ErrInsufficientQuorum is returned when a certificate's signatures do not
// cover the required committee weight.
var ErrInsufficientQuorum = errors.New("consensus: insufficient quorum weight")

// ErrInvalidSignature is returned when a vote or certificate signature does
// not verify against the signer's committee key.
var ErrInvalidSignature = errors.New("consensus: invalid signature")

// ValidatedQuorumWeight returns the minimum total weight (>= 2/3) required
// to certify a ValidatedBlock or ConfirmedBlock, per spec.md §4.5.
func ValidatedQuorumWeight(committee chainstate.Committee) uint64 {
	total := committee.TotalWeight()
	// ceil(2*total/3), equivalent to IsByzantineFaultTolerant's n >= 3f+1
	// threshold restated as a weight bound rather than a validator count.
	return (2*total + 2) / 3
}

// TimeoutQuorumWeight returns the minimum total weight (>= 1/3) required to
// certify a Timeout and force round advancement, per spec.md §4.5.
func TimeoutQuorumWeight(committee chainstate.Committee) uint64 {
	total := committee.TotalWeight()
	return (total + 2) / 3
}

// VoteDigest is the canonical hash a validator signs to cast a vote: the
// certified value's own content hash. The round a vote was cast in is
// tracked as metadata on Vote (and matters for leader election and safety
// bookkeeping) but is not part of the signed content, since a Certificate
// aggregates signatures over a value regardless of which round first
// proposed it.
func VoteDigest(value chainstate.CertificateValue) ids.CryptoHash {
	return value.Hash()
}

// SignVote produces a Vote for value, cast at round, using signer.
func SignVote(signer Signer, round chainstate.Round, value chainstate.CertificateValue) (chainstate.Vote, error) {
	sig, err := signer.Sign(VoteDigest(value))
	if err != nil {
		return chainstate.Vote{}, fmt.Errorf("consensus: sign vote: %w", err)
	}
	return chainstate.Vote{Round: round, Value: value, Signer: signer.PublicKey(), Signature: sig}, nil
}

// VerifyVote checks that vote's signature is valid and that its signer
// belongs to committee.
func VerifyVote(vote chainstate.Vote, committee chainstate.Committee) error {
	if committee.WeightOf(vote.Signer) == 0 {
		return fmt.Errorf("consensus: verify vote: signer not in committee: %w", ErrInvalidSignature)
	}
	if !VerifySignature(vote.Signer, VoteDigest(vote.Value), vote.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// BuildCertificate aggregates votes into a Certificate once they cover
// requiredWeight of committee's total weight. Votes for a value other than
// the first vote's are ignored (the round is not compared); duplicate
// signers count once.
func BuildCertificate(votes []chainstate.Vote, committee chainstate.Committee, requiredWeight uint64) (*chainstate.Certificate, error) {
	if len(votes) == 0 {
		return nil, fmt.Errorf("consensus: build certificate: %w", ErrInsufficientQuorum)
	}
	value := votes[0].Value
	valueHash := value.Hash()
	seen := make(map[ids.Owner]bool)
	var sigs []chainstate.PartialSignature
	var weight uint64
	for _, v := range votes {
		if v.Value.Hash() != valueHash {
			continue
		}
		if seen[v.Signer] {
			continue
		}
		if err := VerifyVote(v, committee); err != nil {
			continue
		}
		seen[v.Signer] = true
		weight += committee.WeightOf(v.Signer)
		sigs = append(sigs, chainstate.PartialSignature{Signer: v.Signer, Signature: v.Signature})
	}
	if weight < requiredWeight {
		return nil, fmt.Errorf("consensus: build certificate: have %d, need %d: %w", weight, requiredWeight, ErrInsufficientQuorum)
	}
	return &chainstate.Certificate{Value: value, Signatures: sigs}, nil
}

// VerifyCertificate checks that cert carries at least requiredWeight of
// committee's weight in valid, committee-member signatures.
func VerifyCertificate(cert chainstate.Certificate, committee chainstate.Committee, requiredWeight uint64) error {
	seen := make(map[ids.Owner]bool)
	var weight uint64
	for _, s := range cert.Signatures {
		if committee.WeightOf(s.Signer) == 0 {
			continue
		}
		if seen[s.Signer] {
			continue
		}
		if !VerifySignature(s.Signer, cert.Value.Hash(), s.Signature) {
			continue
		}
		seen[s.Signer] = true
		weight += committee.WeightOf(s.Signer)
	}
	if weight < requiredWeight {
		return fmt.Errorf("consensus: verify certificate: have %d, need %d: %w", weight, requiredWeight, ErrInsufficientQuorum)
	}
	return nil
}

