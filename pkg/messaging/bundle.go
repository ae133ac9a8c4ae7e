// Package messaging implements the inbox/outbox engine (spec.md C4): bundle
// acceptance rules, event accept/reject with bounce synthesis, outbox
// acknowledgement, and channel fan-out. It operates on a pkg/chainstate
// view rather than owning storage itself.
package messaging

import (
	"errors"
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
)

// ErrInvalidCrossChainRequest is returned when a batch of bundles fails
// acceptance because its heights are not strictly increasing, per spec.md
// §7's cross-chain error class. Untrusted-epoch bundles and replays are
// dropped without this error.
var ErrInvalidCrossChainRequest = errors.New("messaging: invalid cross-chain request")

// EpochTrust answers whether bundleEpoch is trusted for a recipient chain
// at the moment a bundle from origin arrives, per spec.md §4.4 rule 3.
type EpochTrust struct {
	CurrentEpoch             ids.Epoch
	KnownCommittees          map[ids.Epoch]struct{}
	LastAnticipatedHeight    *ids.BlockHeight
	AcceptDeprecatedEpochs   bool
}

func (t EpochTrust) trusts(bundleEpoch ids.Epoch, height ids.BlockHeight) bool {
	if bundleEpoch >= t.CurrentEpoch {
		return true
	}
	if _, ok := t.KnownCommittees[bundleEpoch]; ok {
		return true
	}
	if t.LastAnticipatedHeight != nil && *t.LastAnticipatedHeight >= height {
		return true
	}
	return t.AcceptDeprecatedEpochs
}

// AcceptBundles filters bundles against spec.md §4.4's three acceptance
// rules (heights strictly increasing, not a replay, epoch trusted) and
// enqueues every accepted bundle's events into view's inbox for origin.
// Untrusted-epoch bundles above the anticipated height are dropped rather
// than erroring, since the sender may legitimately retry later once the
// recipient's committee knowledge catches up; replays are silently skipped
// too. Returns the last height actually enqueued, or the inbox's current
// next_block_height_to_receive minus one if nothing new was accepted.
func AcceptBundles(view *chainstate.ChainStateView, origin chainstate.Origin, trust EpochTrust, bundles []chainstate.MessageBundle) (ids.BlockHeight, error) {
	guard, err := view.Inboxes.LoadEntry(origin)
	if err != nil {
		return 0, fmt.Errorf("messaging: accept bundles: load inbox: %w", err)
	}
	nextExpected, err := guard.View.NextBlockHeightToReceive()
	guard.Release()
	if err != nil {
		return 0, fmt.Errorf("messaging: accept bundles: %w", err)
	}

	var lastHeight ids.BlockHeight
	if nextExpected > 0 {
		lastHeight = nextExpected - 1
	}

	var lastSeenHeight ids.BlockHeight
	haveSeenAny := false
	for _, bundle := range bundles {
		if haveSeenAny && bundle.Height <= lastSeenHeight {
			return 0, fmt.Errorf("%w: heights not strictly increasing", ErrInvalidCrossChainRequest)
		}
		haveSeenAny = true
		lastSeenHeight = bundle.Height

		if bundle.Height < nextExpected {
			continue // replay, silently skipped per rule 2
		}
		if !trust.trusts(bundle.Epoch, bundle.Height) {
			continue // untrusted epoch above anticipation, dropped per rule 3
		}
		if err := view.ReceiveMessageBundle(origin, bundle); err != nil {
			return 0, fmt.Errorf("messaging: accept bundles: %w", err)
		}
		lastHeight = bundle.Height
	}
	return lastHeight, nil
}
