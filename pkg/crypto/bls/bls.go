// Copyright 2025 Certen Protocol
//
// Package bls implements BLS12-381 signatures and signature aggregation,
// built on gnark-crypto's pure-Go curve arithmetic.
package bls

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

func initialize() {
	initOnce.Do(func() {
		_, _, g1Gen, g2Gen = bls12381.Generators()
	})
}

const (
	// PrivateKeySize is a BLS12-381 scalar in Fr.
	PrivateKeySize = 32
	// PublicKeySize is a compressed G2 point.
	PublicKeySize = 96
	// SignatureSize is a compressed G1 point.
	SignatureSize = 48
)

// PrivateKey is a BLS12-381 secret scalar.
type PrivateKey struct{ scalar fr.Element }

// PublicKey is a point on G2.
type PublicKey struct{ point bls12381.G2Affine }

// Signature is a point on G1.
type Signature struct{ point bls12381.G1Affine }

// GenerateKeyPair draws a random private key and derives its public key.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	initialize()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("bls: generate key pair: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// KeyPairFromSeed derives a deterministic key pair from a >=32-byte seed,
// for committee bootstrap files that pin validator keys by configuration
// rather than by fresh randomness.
func KeyPairFromSeed(seed []byte) (*PrivateKey, *PublicKey, error) {
	initialize()
	if len(seed) < 32 {
		return nil, nil, errors.New("bls: seed must be at least 32 bytes")
	}
	hash := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(hash[:])
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

// PublicKey derives pk = sk * G2.
func (sk *PrivateKey) PublicKey() *PublicKey {
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign computes sig = sk * H(message), message hashed onto G1.
func (sk *PrivateKey) Sign(message []byte) *Signature {
	initialize()
	h := hashToG1(message)
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	initialize()
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("bls: decode public key: %w", err)
	}
	return &PublicKey{point: pk}, nil
}

// Verify checks e(sig, G2) == e(H(message), pk) via a single pairing check
// e(sig, G2) * e(H(message), -pk) == 1.
func (pk *PublicKey) Verify(sig *Signature, message []byte) bool {
	initialize()
	h := hashToG1(message)
	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	return err == nil && ok
}

func (pk *PublicKey) Equal(other *PublicKey) bool { return pk.point.Equal(&other.point) }

func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

func SignatureFromBytes(data []byte) (*Signature, error) {
	initialize()
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("bls: decode signature: %w", err)
	}
	return &Signature{point: sig}, nil
}

// AggregateSignatures sums signatures on G1. Every signer is assumed to
// have signed the same message; callers that need distinct per-signer
// messages should use a different scheme.
func AggregateSignatures(signatures []*Signature) (*Signature, error) {
	if len(signatures) == 0 {
		return nil, errors.New("bls: no signatures to aggregate")
	}
	var agg bls12381.G1Jac
	agg.FromAffine(&signatures[0].point)
	for _, sig := range signatures[1:] {
		var jac bls12381.G1Jac
		jac.FromAffine(&sig.point)
		agg.AddAssign(&jac)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&agg)
	return &Signature{point: result}, nil
}

// AggregatePublicKeys sums public keys on G2.
func AggregatePublicKeys(publicKeys []*PublicKey) (*PublicKey, error) {
	if len(publicKeys) == 0 {
		return nil, errors.New("bls: no public keys to aggregate")
	}
	var agg bls12381.G2Jac
	agg.FromAffine(&publicKeys[0].point)
	for _, pk := range publicKeys[1:] {
		var jac bls12381.G2Jac
		jac.FromAffine(&pk.point)
		agg.AddAssign(&jac)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&agg)
	return &PublicKey{point: result}, nil
}

// VerifyAggregateSignature checks an aggregated signature against the
// aggregate of publicKeys, all of whom must have signed the same message.
func VerifyAggregateSignature(aggSig *Signature, publicKeys []*PublicKey, message []byte) bool {
	aggPk, err := AggregatePublicKeys(publicKeys)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message)
}

// hashToG1 maps message onto a point on G1 using try-and-increment over a
// SHA-256-derived byte stream. Not constant-time; fine for consensus
// witnesses where message content isn't secret.
func hashToG1(message []byte) bls12381.G1Affine {
	h := sha256.New()
	h.Write([]byte("MICROCHAIN_BLS_SIG_G1_XMD:SHA-256_SSWU_RO_"))
	h.Write(message)
	seed := h.Sum(nil)

	for counter := uint64(0); counter < 1000; counter++ {
		h2 := sha256.New()
		h2.Write(seed)
		_ = binary.Write(h2, binary.BigEndian, counter)
		candidate := h2.Sum(nil)

		var point bls12381.G1Affine
		if _, err := point.SetBytes(candidate); err == nil && !point.IsInfinity() {
			return point
		}

		var scalar fr.Element
		scalar.SetBytes(candidate)
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)
		var result bls12381.G1Affine
		result.ScalarMultiplication(&g1Gen, &scalarBig)
		if !result.IsInfinity() {
			return result
		}
	}
	return g1Gen
}
