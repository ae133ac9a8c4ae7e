package consensus

import (
	"errors"
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/crypto/bls"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/wire"
)

// ErrInsufficientWitnessSigners is returned when an epoch-change witness
// does not carry enough BLS signatures to cover the outgoing committee's
// quorum weight.
var ErrInsufficientWitnessSigners = errors.New("consensus: epoch witness does not cover quorum")

// EpochChangeWitness is an optional BLS-aggregated attestation that a
// quorum of an epoch's outgoing committee approved the next epoch's
// committee. It rides alongside (never replaces) the ed25519 vote
// certificates that actually authorize blocks: a chain stays live even if
// no validator in a committee holds a BLS key, since nothing in
// HandleProposal/HandleValidatedCertificate/HandleConfirmedCertificate
// consults it.
type EpochChangeWitness struct {
	Epoch              ids.Epoch
	NextCommitteeHash  ids.CryptoHash
	AggregatePublicKey []byte
	AggregateSignature []byte
	Signers            []ids.Owner
}

// committeeChangeMessage is the byte string BLS signers sign: the epoch
// number being superseded plus the content hash of the committee that
// supersedes it.
func committeeChangeMessage(epoch ids.Epoch, nextCommitteeHash ids.CryptoHash) []byte {
	msg := make([]byte, 8+len(nextCommitteeHash))
	for i := 0; i < 8; i++ {
		msg[i] = byte(epoch >> (8 * (7 - i)))
	}
	copy(msg[8:], nextCommitteeHash[:])
	return msg
}

// BuildEpochChangeWitness aggregates one BLS signature per outgoing
// signer over (epoch, next committee hash). signers and their keys must be
// in the same order.
func BuildEpochChangeWitness(epoch ids.Epoch, nextCommittee chainstate.Committee, signers []ids.Owner, keys []*bls.PrivateKey) (EpochChangeWitness, error) {
	if len(signers) != len(keys) {
		return EpochChangeWitness{}, fmt.Errorf("consensus: build epoch witness: %d signers, %d keys", len(signers), len(keys))
	}
	if len(signers) == 0 {
		return EpochChangeWitness{}, errors.New("consensus: build epoch witness: no signers")
	}

	nextHash := committeeContentHash(nextCommittee)
	msg := committeeChangeMessage(epoch, nextHash)

	sigs := make([]*bls.Signature, 0, len(keys))
	pubs := make([]*bls.PublicKey, 0, len(keys))
	for _, k := range keys {
		sigs = append(sigs, k.Sign(msg))
		pubs = append(pubs, k.PublicKey())
	}
	aggSig, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return EpochChangeWitness{}, fmt.Errorf("consensus: build epoch witness: %w", err)
	}
	aggPub, err := bls.AggregatePublicKeys(pubs)
	if err != nil {
		return EpochChangeWitness{}, fmt.Errorf("consensus: build epoch witness: %w", err)
	}

	return EpochChangeWitness{
		Epoch:              epoch,
		NextCommitteeHash:  nextHash,
		AggregatePublicKey: aggPub.Bytes(),
		AggregateSignature: aggSig.Bytes(),
		Signers:            signers,
	}, nil
}

// VerifyEpochChangeWitness checks witness's aggregate signature against
// the per-signer BLS public keys in signerKeys (indexed by ids.Owner, the
// same ed25519 identity the signer votes under) and that the signers
// named cover at least requiredWeight of outgoingCommittee.
func VerifyEpochChangeWitness(witness EpochChangeWitness, outgoingCommittee chainstate.Committee, signerKeys map[ids.Owner][]byte, requiredWeight uint64) error {
	var weight uint64
	seen := make(map[ids.Owner]bool, len(witness.Signers))
	var pubs []*bls.PublicKey
	for _, signer := range witness.Signers {
		if seen[signer] {
			continue
		}
		seen[signer] = true
		keyBytes, ok := signerKeys[signer]
		if !ok {
			continue
		}
		pk, err := bls.PublicKeyFromBytes(keyBytes)
		if err != nil {
			continue
		}
		pubs = append(pubs, pk)
		weight += outgoingCommittee.WeightOf(signer)
	}
	if weight < requiredWeight {
		return fmt.Errorf("consensus: verify epoch witness: have %d, need %d: %w", weight, requiredWeight, ErrInsufficientWitnessSigners)
	}

	aggSig, err := bls.SignatureFromBytes(witness.AggregateSignature)
	if err != nil {
		return fmt.Errorf("consensus: verify epoch witness: %w", err)
	}
	msg := committeeChangeMessage(witness.Epoch, witness.NextCommitteeHash)
	if !bls.VerifyAggregateSignature(aggSig, pubs, msg) {
		return errors.New("consensus: verify epoch witness: aggregate signature does not verify")
	}
	return nil
}

// committeeContentHash hashes a committee's member/weight list, giving the
// epoch-change witness a stable value to sign that is independent of how
// the new committee is later encoded on the wire.
func committeeContentHash(c chainstate.Committee) ids.CryptoHash {
	return wire.Hash(c)
}
