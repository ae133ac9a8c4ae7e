package messaging

import (
	"testing"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
)

func newTestView(t *testing.T) (*chainstate.ChainStateView, chainstate.Origin) {
	t.Helper()
	kv := store.NewMemoryKV()
	t.Cleanup(func() { _ = kv.Close() })
	var chainID ids.ChainId
	chainID[0] = 0x01
	view := chainstate.NewChainStateView(store.NewContext(kv, []byte("chain/")), chainID)

	var sender ids.ChainId
	sender[0] = 0x02
	origin := chainstate.Origin{Sender: sender, Medium: chainstate.DirectMedium()}
	return view, origin
}

func TestAcceptBundlesSkipsReplaysAndDropsUntrustedEpoch(t *testing.T) {
	view, origin := newTestView(t)
	trust := EpochTrust{CurrentEpoch: 5, KnownCommittees: map[ids.Epoch]struct{}{4: {}, 5: {}}}

	bundles := []chainstate.MessageBundle{
		{Height: 0, Epoch: 5, Events: []chainstate.Event{{Index: 0, Message: []byte("a")}}},
	}
	last, err := AcceptBundles(view, origin, trust, bundles)
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if last != 0 {
		t.Fatalf("expected last height 0, got %d", last)
	}

	// A replay of height 0 is skipped; a deprecated-epoch bundle at a later
	// height with no anticipation is dropped.
	dropped := []chainstate.MessageBundle{
		{Height: 0, Epoch: 5, Events: []chainstate.Event{{Index: 0, Message: []byte("replay")}}},
		{Height: 1, Epoch: 3, Events: []chainstate.Event{{Index: 0, Message: []byte("dropped")}}},
	}
	if _, err := AcceptBundles(view, origin, trust, dropped); err != nil {
		t.Fatalf("accept dropped: %v", err)
	}

	guard, err := view.Inboxes.LoadEntry(origin)
	if err != nil {
		t.Fatalf("load inbox: %v", err)
	}
	defer guard.Release()
	events, err := guard.View.AddedEvents()
	if err != nil {
		t.Fatalf("added events: %v", err)
	}
	if len(events) != 1 || string(events[0].Event.Message) != "a" {
		t.Fatalf("expected only the trusted bundle's event, got %+v", events)
	}
}

func TestAcceptBundlesRejectsNonMonotonicHeights(t *testing.T) {
	view, origin := newTestView(t)
	trust := EpochTrust{CurrentEpoch: 1}
	bundles := []chainstate.MessageBundle{
		{Height: 2, Epoch: 1},
		{Height: 1, Epoch: 1},
	}
	if _, err := AcceptBundles(view, origin, trust, bundles); err == nil {
		t.Fatal("expected error for non-monotonic heights")
	}
}

func TestApplyIncomingMessageRejectedTrackedBounces(t *testing.T) {
	view, origin := newTestView(t)
	trust := EpochTrust{CurrentEpoch: 0}
	bundle := chainstate.MessageBundle{
		Height: 0,
		Events: []chainstate.Event{{Index: 0, Kind: chainstate.KindTracked, Grant: 5, Message: []byte("credit")}},
	}
	if _, err := AcceptBundles(view, origin, trust, []chainstate.MessageBundle{bundle}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	msg := chainstate.IncomingMessage{
		Origin: origin,
		Event:  bundle.Events[0],
		Action: chainstate.ActionReject,
	}
	bounce, err := ApplyIncomingMessage(view, msg)
	if err != nil {
		t.Fatalf("apply incoming message: %v", err)
	}
	if bounce == nil {
		t.Fatal("expected a bounce message")
	}
	if bounce.Kind != chainstate.KindBouncing || bounce.Grant != 5 {
		t.Fatalf("unexpected bounce: %+v", bounce)
	}
	if bounce.Destination.Recipient != origin.Sender {
		t.Fatalf("expected bounce routed back to sender, got %+v", bounce.Destination)
	}
}

func TestApplyIncomingMessageAcceptedProducesNoBounce(t *testing.T) {
	view, origin := newTestView(t)
	trust := EpochTrust{CurrentEpoch: 0}
	bundle := chainstate.MessageBundle{
		Height: 0,
		Events: []chainstate.Event{{Index: 0, Kind: chainstate.KindSimple, Message: []byte("hi")}},
	}
	if _, err := AcceptBundles(view, origin, trust, []chainstate.MessageBundle{bundle}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	msg := chainstate.IncomingMessage{Origin: origin, Event: bundle.Events[0], Action: chainstate.ActionAccept}
	bounce, err := ApplyIncomingMessage(view, msg)
	if err != nil {
		t.Fatalf("apply incoming message: %v", err)
	}
	if bounce != nil {
		t.Fatalf("expected no bounce for accepted message, got %+v", bounce)
	}
}

func TestConfirmUpdatedRecipientIdempotent(t *testing.T) {
	view, _ := newTestView(t)
	var target ids.ChainId
	target[0] = 9
	ob, err := view.Outboxes.Load(target)
	if err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	_ = ob.Enqueue(0)
	_ = ob.Enqueue(1)

	popped, err := ConfirmUpdatedRecipient(view, target, 1)
	if err != nil || !popped {
		t.Fatalf("expected pop, got popped=%v err=%v", popped, err)
	}
	popped, err = ConfirmUpdatedRecipient(view, target, 0)
	if err != nil || popped {
		t.Fatalf("expected no-op re-ack, got popped=%v err=%v", popped, err)
	}
}
