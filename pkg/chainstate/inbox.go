package chainstate

import (
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
	"github.com/certen/microchain/pkg/wire"
)

// inboxCursors is the scalar bookkeeping for one origin's inbox: the next
// height expected from that origin and the next event-queue cursor, per
// spec.md §3.
type inboxCursors struct {
	NextBlockHeightToReceive ids.BlockHeight
	NextCursor               uint64
}

func (c inboxCursors) MarshalCanonical(e *wire.Encoder) {
	e.U64(uint64(c.NextBlockHeightToReceive))
	e.U64(c.NextCursor)
}

func decodeInboxCursors(d *wire.Decoder) inboxCursors {
	return inboxCursors{NextBlockHeightToReceive: ids.BlockHeight(d.U64()), NextCursor: d.U64()}
}

var inboxCursorsCodec = wireCodec[inboxCursors]{
	marshal:   func(v inboxCursors, e *wire.Encoder) { v.MarshalCanonical(e) },
	unmarshal: decodeInboxCursors,
}

// Inbox is the per-origin causal queue of inbound events, per spec.md §3/§4.4:
// an ordered queue of not-yet-accepted AddedEvents and a queue of
// RemovedEvents awaiting the cross-chain acknowledgement that lets them be
// forgotten.
type Inbox struct {
	cursors *store.RegisterView[inboxCursors]
	added   *store.QueueView[AddedEvent]
	removed *store.QueueView[RemovedEvent]
}

func newInbox(ctx *store.Context) *Inbox {
	return &Inbox{
		cursors: store.NewRegisterView[inboxCursors](ctx.Clone([]byte("cursors")), inboxCursorsCodec),
		added:   store.NewQueueView[AddedEvent](ctx.Clone([]byte("added")), addedEventCodec),
		removed: store.NewQueueView[RemovedEvent](ctx.Clone([]byte("removed")), addedEventCodec),
	}
}

// NextBlockHeightToReceive returns the smallest height not yet fully
// covered by bundles accepted from this origin.
func (ib *Inbox) NextBlockHeightToReceive() (ids.BlockHeight, error) {
	c, err := ib.cursors.Get()
	if err != nil {
		return 0, err
	}
	return c.NextBlockHeightToReceive, nil
}

// AddEvents appends ev to the added-events queue, then advances the
// next-expected height to height+1. If a matching RemovedEvent already sits
// at the front of the removed-events queue (the recipient already consumed
// this exact event, e.g. a replayed bundle), the new event
// is discarded instead, honoring spec.md §4.2's "acknowledgement in
// reverse" rule.
func (ib *Inbox) AddEvents(height ids.BlockHeight, events []AddedEvent) error {
	for _, ev := range events {
		discarded, err := ib.discardIfAlreadyRemoved(ev)
		if err != nil {
			return err
		}
		if discarded {
			continue
		}
		if err := ib.added.PushBack(ev); err != nil {
			return err
		}
	}
	c, err := ib.cursors.Get()
	if err != nil {
		return err
	}
	if height+1 > c.NextBlockHeightToReceive {
		c.NextBlockHeightToReceive = height + 1
	}
	ib.cursors.Set(c)
	return nil
}

func (ib *Inbox) discardIfAlreadyRemoved(ev AddedEvent) (bool, error) {
	front, err := ib.removed.Front()
	if err == store.ErrEmptyQueue {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if front.Height == ev.Height && front.Event.Index == ev.Event.Index {
		return true, ib.removed.DeleteFront()
	}
	return false, nil
}

// AcceptHead moves the head of the added-events queue into removed-events,
// per spec.md §4.4's event-acceptance rule.
func (ib *Inbox) AcceptHead() (AddedEvent, error) {
	head, err := ib.added.Front()
	if err != nil {
		return AddedEvent{}, err
	}
	if err := ib.added.DeleteFront(); err != nil {
		return AddedEvent{}, err
	}
	if err := ib.removed.PushBack(head); err != nil {
		return AddedEvent{}, err
	}
	return head, nil
}

// PeekHead returns the head of the added-events queue without consuming it.
func (ib *Inbox) PeekHead() (AddedEvent, error) { return ib.added.Front() }

// AddedEvents returns every event still pending acceptance, in arrival order.
func (ib *Inbox) AddedEvents() ([]AddedEvent, error) { return ib.added.Elements() }

// AcknowledgeRemoved forgets the removed event matching height/index, once
// the sender has confirmed the recipient's acceptance reached them.
func (ib *Inbox) AcknowledgeRemoved(height ids.BlockHeight, index uint32) error {
	front, err := ib.removed.Front()
	if err == store.ErrEmptyQueue {
		return nil
	}
	if err != nil {
		return err
	}
	if front.Height == height && front.Event.Index == index {
		return ib.removed.DeleteFront()
	}
	return nil
}

// Save persists the inbox's cursor register; the added/removed queues
// self-persist on every mutation (QueueView has no separate save step).
func (ib *Inbox) Save() error { return ib.cursors.Save() }
