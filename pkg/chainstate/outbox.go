package chainstate

import (
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
)

// Outbox is the per-target queue of our own committed heights that produced
// a message to that target and have not yet been acknowledged, per
// spec.md §3/§4.4. Heights are strictly increasing by construction: Enqueue
// only ever appends, and the queue is a subset of confirmed_log heights.
type Outbox struct {
	heights *store.QueueView[ids.BlockHeight]
}

func newOutbox(ctx *store.Context) *Outbox {
	return &Outbox{heights: store.NewQueueView[ids.BlockHeight](ctx, heightCodec)}
}

// Enqueue records that height produced a message bound for this outbox's
// target.
func (ob *Outbox) Enqueue(height ids.BlockHeight) error {
	return ob.heights.PushBack(height)
}

// MarkReceivedUpTo pops every queued height <= upTo, returning whether any
// were popped, per spec.md §4.2/§4.4's ConfirmUpdatedRecipient contract.
func (ob *Outbox) MarkReceivedUpTo(upTo ids.BlockHeight) (bool, error) {
	popped := false
	for {
		h, err := ob.heights.Front()
		if err == store.ErrEmptyQueue {
			return popped, nil
		}
		if err != nil {
			return popped, err
		}
		if h > upTo {
			return popped, nil
		}
		if err := ob.heights.DeleteFront(); err != nil {
			return popped, err
		}
		popped = true
	}
}

// IsEmpty reports whether every enqueued height has been acknowledged.
func (ob *Outbox) IsEmpty() (bool, error) {
	n, err := ob.heights.Len()
	return n == 0, err
}

// Heights returns every currently unacknowledged height, in increasing order.
func (ob *Outbox) Heights() ([]ids.BlockHeight, error) { return ob.heights.Elements() }
