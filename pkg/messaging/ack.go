package messaging

import (
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
)

// ConfirmUpdatedRecipient pops every height <= height from view's outbox
// for target, per spec.md §4.4's outbox-acknowledgement flow. It is the
// messaging-layer entry point the chain worker calls when it receives a
// ConfirmUpdatedRecipient cross-chain request.
func ConfirmUpdatedRecipient(view *chainstate.ChainStateView, target ids.ChainId, height ids.BlockHeight) (bool, error) {
	popped, err := view.MarkMessagesAsReceived(target, height)
	if err != nil {
		return false, fmt.Errorf("messaging: confirm updated recipient: %w", err)
	}
	return popped, nil
}

// Subscribe registers target as a subscriber of the named channel on view's
// chain, per spec.md §4.4's channel model.
func Subscribe(view *chainstate.ChainStateView, channel ids.ChannelName, target ids.ChainId) error {
	ch, err := view.Channels.Load(channel)
	if err != nil {
		return fmt.Errorf("messaging: subscribe: %w", err)
	}
	if err := ch.Subscribe(target); err != nil {
		return fmt.Errorf("messaging: subscribe: %w", err)
	}
	return view.Execution.Subscriptions.Insert(chainstate.SubscriptionKey(target, channel), true)
}

// BroadcastToChannel fans height out into every current subscriber's
// per-subscriber outbox, independent of one another, per spec.md §4.4/§9
// ("a slow subscriber cannot back-pressure others").
func BroadcastToChannel(view *chainstate.ChainStateView, channel ids.ChannelName, height ids.BlockHeight) error {
	ch, err := view.Channels.Load(channel)
	if err != nil {
		return fmt.Errorf("messaging: broadcast: %w", err)
	}
	if err := ch.Broadcast(height); err != nil {
		return fmt.Errorf("messaging: broadcast: %w", err)
	}
	return nil
}
