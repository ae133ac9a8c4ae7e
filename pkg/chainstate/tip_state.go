package chainstate

import (
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
	"github.com/certen/microchain/pkg/wire"
)

// TipState tracks the chain's current height and running counters, per
// spec.md §3. The invariant `confirmed_log.len() == next_block_height` is
// enforced by ChainStateView.CommitBlock, which advances both together.
type TipStateData struct {
	HasBlockHash        bool
	BlockHash           ids.CryptoHash
	NextBlockHeight     ids.BlockHeight
	NumIncomingMessages uint32
	NumOperations       uint32
	NumOutgoingMessages uint32
}

func (t TipStateData) MarshalCanonical(e *wire.Encoder) {
	e.Optional(t.HasBlockHash, func(e *wire.Encoder) { e.Bytes32(t.BlockHash) })
	e.U64(uint64(t.NextBlockHeight))
	e.U32(t.NumIncomingMessages)
	e.U32(t.NumOperations)
	e.U32(t.NumOutgoingMessages)
}

func DecodeTipStateData(d *wire.Decoder) TipStateData {
	var t TipStateData
	t.HasBlockHash = d.Optional(func(d *wire.Decoder) { t.BlockHash = d.Bytes32() })
	t.NextBlockHeight = ids.BlockHeight(d.U64())
	t.NumIncomingMessages = d.U32()
	t.NumOperations = d.U32()
	t.NumOutgoingMessages = d.U32()
	return t
}

var tipStateCodec = wireCodec[TipStateData]{
	marshal:   func(v TipStateData, e *wire.Encoder) { v.MarshalCanonical(e) },
	unmarshal: DecodeTipStateData,
}

// TipState wraps a RegisterView over TipStateData.
type TipState struct {
	*store.RegisterView[TipStateData]
}

func newTipState(ctx *store.Context) TipState {
	return TipState{store.NewRegisterView[TipStateData](ctx, tipStateCodec)}
}
