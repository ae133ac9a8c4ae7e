package chainstate

import (
	"encoding/binary"

	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/wire"
)

// wireCodec adapts a pair of pkg/wire marshal/unmarshal functions to
// pkg/store's Codec[T] interface, so every canonical data-model type in this
// package can back a structural view without writing a bespoke adapter per
// type.
type wireCodec[T any] struct {
	marshal   func(T, *wire.Encoder)
	unmarshal func(*wire.Decoder) T
}

func (c wireCodec[T]) Marshal(v T) ([]byte, error) {
	e := wire.NewEncoder()
	c.marshal(v, e)
	return e.Buf(), nil
}

func (c wireCodec[T]) Unmarshal(b []byte) (T, error) {
	d := wire.NewDecoder(b)
	v := c.unmarshal(d)
	if d.Err() != nil {
		var zero T
		return zero, d.Err()
	}
	return v, nil
}

var blockCodec = wireCodec[Block]{
	marshal:   func(v Block, e *wire.Encoder) { v.MarshalCanonical(e) },
	unmarshal: DecodeBlock,
}

var addedEventCodec = wireCodec[AddedEvent]{
	marshal:   func(v AddedEvent, e *wire.Encoder) { v.MarshalCanonical(e) },
	unmarshal: DecodeAddedEvent,
}

var certificateValueCodec = wireCodec[CertificateValue]{
	marshal:   func(v CertificateValue, e *wire.Encoder) { v.MarshalCanonical(e) },
	unmarshal: DecodeCertificateValue,
}

var hashCodec = wireCodec[ids.CryptoHash]{
	marshal:   func(v ids.CryptoHash, e *wire.Encoder) { e.Bytes32(v) },
	unmarshal: func(d *wire.Decoder) ids.CryptoHash { return d.Bytes32() },
}

var heightCodec = wireCodec[ids.BlockHeight]{
	marshal:   func(v ids.BlockHeight, e *wire.Encoder) { e.U64(uint64(v)) },
	unmarshal: func(d *wire.Decoder) ids.BlockHeight { return ids.BlockHeight(d.U64()) },
}

var amountCodec = wireCodec[ids.Amount]{
	marshal:   func(v ids.Amount, e *wire.Encoder) { e.U64(uint64(v)) },
	unmarshal: func(d *wire.Decoder) ids.Amount { return ids.Amount(d.U64()) },
}

var uint64Codec = wireCodec[uint64]{
	marshal:   func(v uint64, e *wire.Encoder) { e.U64(uint64(v)) },
	unmarshal: func(d *wire.Decoder) uint64 { return d.U64() },
}

var boolCodec = wireCodec[bool]{
	marshal:   func(v bool, e *wire.Encoder) { e.Bool(v) },
	unmarshal: func(d *wire.Decoder) bool { return d.Bool() },
}

// chainIDKeyCodec encodes a ChainId as its raw 32 bytes, which sort in the
// same order the hash's numeric value would.
type chainIDKeyCodec struct{}

func (chainIDKeyCodec) Encode(k ids.ChainId) []byte { return append([]byte{}, k[:]...) }
func (chainIDKeyCodec) Decode(b []byte) (ids.ChainId, error) {
	var out ids.ChainId
	copy(out[:], b)
	return out, nil
}

// heightKeyCodec encodes a BlockHeight big-endian so lexicographic key order
// matches numeric order, used by queue/map views keyed by height.
type heightKeyCodec struct{}

func (heightKeyCodec) Encode(k ids.BlockHeight) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k))
	return b
}
func (heightKeyCodec) Decode(b []byte) (ids.BlockHeight, error) {
	return ids.BlockHeight(binary.BigEndian.Uint64(b)), nil
}

// originKeyCodec encodes an Origin via its canonical wire representation so
// collections of per-origin inboxes can be indexed and scanned.
type originKeyCodec struct{}

func (originKeyCodec) Encode(k Origin) []byte { return []byte(k.Key()) }
func (originKeyCodec) Decode(b []byte) (Origin, error) {
	d := wire.NewDecoder(b)
	var sender ids.ChainId
	sender = d.Bytes32()
	medium := DecodeMedium(d)
	return Origin{Sender: sender, Medium: medium}, d.Err()
}

// channelNameKeyCodec encodes a ChannelName as its raw UTF-8 bytes.
type channelNameKeyCodec struct{}

func (channelNameKeyCodec) Encode(k ids.ChannelName) []byte { return []byte(k) }
func (channelNameKeyCodec) Decode(b []byte) (ids.ChannelName, error) {
	return ids.ChannelName(b), nil
}

// blobIDKeyCodec encodes a BlobId as its raw 32 bytes.
type blobIDKeyCodec struct{}

func (blobIDKeyCodec) Encode(k ids.BlobId) []byte { return append([]byte{}, k[:]...) }
func (blobIDKeyCodec) Decode(b []byte) (ids.BlobId, error) {
	var out ids.BlobId
	copy(out[:], b)
	return out, nil
}
