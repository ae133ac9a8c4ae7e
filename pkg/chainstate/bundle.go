package chainstate

import (
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/wire"
)

// MessageBundle is a batch of events a sender's confirmed block produced
// for one origin/recipient pair, per spec.md §4.4. Acceptance rules
// (monotonic height, epoch trust) are enforced by pkg/messaging before a
// bundle reaches ChainStateView.ReceiveMessageBundle.
type MessageBundle struct {
	Height          ids.BlockHeight
	Epoch           ids.Epoch
	Timestamp       int64
	CertificateHash ids.CryptoHash
	Events          []Event
}

func (b MessageBundle) MarshalCanonical(e *wire.Encoder) {
	e.U64(uint64(b.Height))
	e.U64(uint64(b.Epoch))
	e.U64(uint64(b.Timestamp))
	e.Bytes32(b.CertificateHash)
	wire.Slice(e, b.Events, func(e *wire.Encoder, ev Event) { ev.MarshalCanonical(e) })
}

func DecodeMessageBundle(d *wire.Decoder) MessageBundle {
	return MessageBundle{
		Height:          ids.BlockHeight(d.U64()),
		Epoch:           ids.Epoch(d.U64()),
		Timestamp:       int64(d.U64()),
		CertificateHash: d.Bytes32(),
		Events:          wire.DecodeSlice(d, DecodeEvent),
	}
}

// ToAddedEvents converts every event in the bundle into an AddedEvent
// tagged with the bundle's height, timestamp, and certificate hash.
func (b MessageBundle) ToAddedEvents() []AddedEvent {
	out := make([]AddedEvent, 0, len(b.Events))
	for _, ev := range b.Events {
		out = append(out, AddedEvent{
			CertificateHash: b.CertificateHash,
			Height:          b.Height,
			Timestamp:       b.Timestamp,
			Event:           ev,
		})
	}
	return out
}
