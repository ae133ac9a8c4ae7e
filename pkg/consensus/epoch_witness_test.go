package consensus_test

import (
	"testing"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/consensus"
	"github.com/certen/microchain/pkg/crypto/bls"
	"github.com/certen/microchain/pkg/ids"
)

func TestBuildAndVerifyEpochChangeWitness(t *testing.T) {
	var ownerA, ownerB ids.Owner
	ownerA[0] = 0x01
	ownerB[0] = 0x02
	outgoing := chainstate.Committee{Members: []chainstate.CommitteeMember{
		{Validator: ownerA, Weight: 1},
		{Validator: ownerB, Weight: 1},
	}}
	next := chainstate.Committee{Members: []chainstate.CommitteeMember{{Validator: ownerA, Weight: 2}}}

	privA, pubA, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key A: %v", err)
	}
	privB, pubB, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key B: %v", err)
	}

	witness, err := consensus.BuildEpochChangeWitness(5, next, []ids.Owner{ownerA, ownerB}, []*bls.PrivateKey{privA, privB})
	if err != nil {
		t.Fatalf("build witness: %v", err)
	}

	signerKeys := map[ids.Owner][]byte{ownerA: pubA.Bytes(), ownerB: pubB.Bytes()}
	required := consensus.ValidatedQuorumWeight(outgoing)
	if err := consensus.VerifyEpochChangeWitness(witness, outgoing, signerKeys, required); err != nil {
		t.Fatalf("verify witness: %v", err)
	}
}

func TestVerifyEpochChangeWitnessRejectsInsufficientWeight(t *testing.T) {
	var ownerA, ownerB ids.Owner
	ownerA[0] = 0x03
	ownerB[0] = 0x04
	outgoing := chainstate.Committee{Members: []chainstate.CommitteeMember{
		{Validator: ownerA, Weight: 1},
		{Validator: ownerB, Weight: 2},
	}}
	next := chainstate.Committee{Members: []chainstate.CommitteeMember{{Validator: ownerA, Weight: 1}}}

	privA, pubA, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key A: %v", err)
	}

	witness, err := consensus.BuildEpochChangeWitness(1, next, []ids.Owner{ownerA}, []*bls.PrivateKey{privA})
	if err != nil {
		t.Fatalf("build witness: %v", err)
	}

	signerKeys := map[ids.Owner][]byte{ownerA: pubA.Bytes()}
	required := consensus.ValidatedQuorumWeight(outgoing)
	if err := consensus.VerifyEpochChangeWitness(witness, outgoing, signerKeys, required); err == nil {
		t.Fatal("expected insufficient-weight error")
	}
}
