package consensus

import (
	"fmt"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/certen/microchain/pkg/ids"
)

// Signer produces and checks the ed25519 signatures votes and certificates
// carry, per spec.md §3's PublicKeySize/SignatureSize invariant.
type Signer interface {
	PublicKey() ids.Owner
	Sign(digest ids.CryptoHash) (ids.Signature, error)
}

// Ed25519Signer wraps a CometBFT ed25519 private key, the same primitive the
// rest of the teacher's consensus stack already signs validator blocks with.
type Ed25519Signer struct {
	priv cmted25519.PrivKey
}

// NewEd25519Signer wraps an existing 64-byte ed25519 private key.
func NewEd25519Signer(priv cmted25519.PrivKey) Ed25519Signer {
	return Ed25519Signer{priv: priv}
}

// GenerateEd25519Signer creates a fresh signing key, for tests and genesis
// bootstrapping.
func GenerateEd25519Signer() Ed25519Signer {
	return Ed25519Signer{priv: cmted25519.GenPrivKey()}
}

func (s Ed25519Signer) PublicKey() ids.Owner {
	var out ids.Owner
	copy(out[:], s.priv.PubKey().Bytes())
	return out
}

func (s Ed25519Signer) Sign(digest ids.CryptoHash) (ids.Signature, error) {
	sig, err := s.priv.Sign(digest[:])
	if err != nil {
		return ids.Signature{}, fmt.Errorf("consensus: sign: %w", err)
	}
	var out ids.Signature
	copy(out[:], sig)
	return out, nil
}

// VerifySignature checks that sig is owner's ed25519 signature over digest.
func VerifySignature(owner ids.Owner, digest ids.CryptoHash, sig ids.Signature) bool {
	pub := cmted25519.PubKey(owner[:])
	return pub.VerifySignature(digest[:], sig[:])
}
