package messaging

import (
	"errors"
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
)

// ErrEventMismatch is returned when a proposed block's IncomingMessage does
// not match the head of the named origin's added-events queue.
var ErrEventMismatch = errors.New("messaging: incoming message does not match inbox head")

// ApplyIncomingMessage decides one (origin, event, action) triple from a
// proposed block, per spec.md §4.4. The matching event is always moved out
// of added-events into removed-events once decided, accepted or rejected.
// For a rejected Tracked message, a Bouncing OutgoingMessage is returned so
// the caller (the block executor) can route it back to the original sender
// with the same grant and payload, per the bounce-policy decision recorded
// in DESIGN.md (open question #1: bounce regardless of destination kind).
func ApplyIncomingMessage(view *chainstate.ChainStateView, msg chainstate.IncomingMessage) (*chainstate.OutgoingMessage, error) {
	guard, err := view.Inboxes.LoadEntry(msg.Origin)
	if err != nil {
		return nil, fmt.Errorf("messaging: apply incoming message: load inbox: %w", err)
	}
	defer guard.Release()

	head, err := guard.View.PeekHead()
	if err != nil {
		return nil, fmt.Errorf("messaging: apply incoming message: %w", err)
	}
	if head.Event.Index != msg.Event.Index || head.Height != msg.Height {
		return nil, ErrEventMismatch
	}

	if _, err := guard.View.AcceptHead(); err != nil {
		return nil, fmt.Errorf("messaging: apply incoming message: accept head: %w", err)
	}
	if err := guard.View.Save(); err != nil {
		return nil, fmt.Errorf("messaging: apply incoming message: %w", err)
	}

	if msg.Action == chainstate.ActionReject && msg.Event.Kind == chainstate.KindBouncing {
		// A Bouncing message rejected a second time is not re-bounced; it is
		// simply dropped, since there is no further sender to return it to.
		return nil, nil
	}
	if msg.Action == chainstate.ActionReject && msg.Event.Kind == chainstate.KindTracked {
		bounce := chainstate.OutgoingMessage{
			Destination:     chainstate.RecipientDestination(msg.Origin.Sender),
			Kind:            chainstate.KindBouncing,
			Grant:           msg.Event.Grant,
			HasRefundTarget: msg.Event.HasRefundTarget,
			RefundTarget:    msg.Event.RefundTarget,
			Message:         msg.Event.Message,
		}
		return &bounce, nil
	}
	return nil, nil
}
