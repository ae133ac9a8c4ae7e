// Package ids defines the identifier types shared across the chain-worker
// core: chain ids, block heights, content hashes, validator keys and
// signatures, and the composite ids used to name applications and messages.
package ids

import (
	"encoding/hex"
	"fmt"
)

// CryptoHashSize is the width of a content hash (BLAKE3-256).
const CryptoHashSize = 32

// CryptoHash is a 32-byte content hash.
type CryptoHash [CryptoHashSize]byte

func (h CryptoHash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash (used as "no value yet").
func (h CryptoHash) IsZero() bool { return h == CryptoHash{} }

// ChainId is a 32-byte chain identifier: either a root-chain id derived from
// a genesis index, or a child-chain id derived from the hash of the message
// that opened it.
type ChainId CryptoHash

func (c ChainId) String() string { return hex.EncodeToString(c[:]) }

// BlockHeight is a monotonically increasing per-chain block counter.
type BlockHeight uint64

// Epoch is the monotonically increasing version number of the active
// committee for a chain.
type Epoch uint64

// PublicKeySize and SignatureSize match the ed25519 primitive used for
// per-validator signing (32-byte public key, 64-byte signature), per the
// data model's explicit invariant.
const (
	PublicKeySize = 32
	SignatureSize = 64
)

// PublicKey identifies a validator or chain owner.
type PublicKey [PublicKeySize]byte

func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }

// Owner is a public key authorized to propose blocks on a chain.
type Owner = PublicKey

// Signature is a 64-byte ed25519 signature.
type Signature [SignatureSize]byte

// BytecodeId identifies published application bytecode by content hash.
type BytecodeId CryptoHash

// BlobId identifies a content-addressed blob.
type BlobId CryptoHash

// CreationEventId is the id of the message that created an application.
type CreationEventId = MessageId

// ApplicationId pairs the bytecode identity with the creation event that
// instantiated it.
type ApplicationId struct {
	BytecodeId      BytecodeId
	CreationEventId CreationEventId
}

func (a ApplicationId) String() string {
	return fmt.Sprintf("%s/%s", ChainId(a.CreationEventId.ChainID), BytecodeId(a.BytecodeId))
}

func (b BytecodeId) String() string { return hex.EncodeToString(b[:]) }
func (b BlobId) String() string     { return hex.EncodeToString(b[:]) }

// MessageId identifies a single outgoing message within a committed block.
type MessageId struct {
	ChainID ChainId
	Height  BlockHeight
	Index   uint32
}

func (m MessageId) String() string {
	return fmt.Sprintf("%s:%d:%d", m.ChainID, m.Height, m.Index)
}

// ChannelName names a broadcast endpoint on a chain.
type ChannelName string

// Amount is a fixed-point pecuniary quantity, in the smallest unit of the
// chain's native token.
type Amount uint64
