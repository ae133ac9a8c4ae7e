package chainstate

import (
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
)

// ChannelState holds a channel's subscriber set and one outbox per
// subscriber, per spec.md §3/§4.4: broadcasting fans out at send time into
// independent per-subscriber outboxes so a slow subscriber cannot
// back-pressure the others.
type ChannelState struct {
	subscribers *store.MapView[ids.ChainId, bool]
	outboxes    *store.CollectionView[ids.ChainId, *Outbox]
}

func newChannelState(ctx *store.Context) *ChannelState {
	return &ChannelState{
		subscribers: store.NewMapView[ids.ChainId, bool](ctx.Clone([]byte("subs/")), chainIDKeyCodec{}, boolCodec),
		outboxes:    store.NewCollectionView[ids.ChainId, *Outbox](ctx.Clone([]byte("out/")), chainIDKeyCodec{}, newOutbox),
	}
}

// Subscribe registers chain as a subscriber of this channel.
func (c *ChannelState) Subscribe(chain ids.ChainId) error {
	return c.subscribers.Insert(chain, true)
}

// Unsubscribe removes chain from this channel's subscriber set.
func (c *ChannelState) Unsubscribe(chain ids.ChainId) { c.subscribers.Remove(chain) }

// Subscribers returns every currently subscribed chain id.
func (c *ChannelState) Subscribers() ([]ids.ChainId, error) { return c.subscribers.Indices() }

// Broadcast enqueues height into every current subscriber's outbox, fanning
// out a channel message at send time per spec.md §4.4.
func (c *ChannelState) Broadcast(height ids.BlockHeight) error {
	subs, err := c.Subscribers()
	if err != nil {
		return err
	}
	for _, sub := range subs {
		ob, err := c.outboxes.Load(sub)
		if err != nil {
			return err
		}
		if err := ob.Enqueue(height); err != nil {
			return err
		}
	}
	return nil
}

// Outbox returns the per-subscriber outbox for subscriber.
func (c *ChannelState) Outbox(subscriber ids.ChainId) (*Outbox, error) {
	return c.outboxes.Load(subscriber)
}

// Channels indexes ChannelState by channel name.
type Channels struct {
	*store.CollectionView[ids.ChannelName, *ChannelState]
}

func newChannels(ctx *store.Context) Channels {
	return Channels{store.NewCollectionView[ids.ChannelName, *ChannelState](ctx, channelNameKeyCodec{}, newChannelState)}
}
