package worker

import (
	"context"
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/messaging"
	"github.com/certen/microchain/pkg/wire"
)

// HeightRange is an inclusive-exclusive [Start, End) range of block
// heights, used to request a slice of the confirmed log's certificate
// hashes.
type HeightRange struct {
	Start ids.BlockHeight
	End   ids.BlockHeight
}

// ChainInfoQuery requests independently-toggleable fields of a
// ChainInfoResponse, per spec.md §6.
type ChainInfoQuery struct {
	RequestCommittees        bool
	RequestOwnerBalance      bool
	AssertNextBlockHeight    bool
	ExpectedNextBlockHeight  ids.BlockHeight
	RequestPendingMessages   bool
	SentCertificateHashRange *HeightRange
	ReceivedLogTailCount     int
	RequestManagerValues     bool
}

// ChainInfoResponse answers a ChainInfoQuery, signed over its core identity
// fields with the worker's validator key so the requester can attribute it,
// per spec.md §4.6's "returns a signed ChainInfoResponse".
type ChainInfoResponse struct {
	ChainID         ids.ChainId
	NextBlockHeight ids.BlockHeight
	HasBlockHash    bool
	BlockHash       ids.CryptoHash

	NextBlockHeightAssertionHolds bool

	Committees   map[ids.Epoch]chainstate.Committee
	OwnerBalance ids.Amount

	PendingMessages []chainstate.IncomingMessage

	SentCertificateHashes []ids.CryptoHash
	ReceivedLogTail       []ids.CryptoHash

	ManagerState chainstate.ManagerState

	Signer    ids.Owner
	Signature ids.Signature
}

type chainInfoIdentity struct {
	chainID         ids.ChainId
	nextBlockHeight ids.BlockHeight
	hasBlockHash    bool
	blockHash       ids.CryptoHash
}

func (p chainInfoIdentity) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(p.chainID)
	e.U64(uint64(p.nextBlockHeight))
	e.Optional(p.hasBlockHash, func(e *wire.Encoder) { e.Bytes32(p.blockHash) })
}

// HandleChainInfoQuery answers query against the current tip, per
// spec.md §4.6/§6.
func (w *ChainWorker) HandleChainInfoQuery(ctx context.Context, query ChainInfoQuery) (ChainInfoResponse, error) {
	var resp ChainInfoResponse
	var err error
	submitErr := w.submit(ctx, func() {
		resp, err = w.handleChainInfoQuery(query)
	})
	if submitErr != nil {
		return ChainInfoResponse{}, submitErr
	}
	return resp, err
}

// CurrentEpochTrust reports the epoch trust a validator node needs to
// evaluate an incoming cross-chain bundle against this chain's currently
// known committees, per spec.md §4.4 rule 3.
func (w *ChainWorker) CurrentEpochTrust(ctx context.Context) (messaging.EpochTrust, error) {
	var trust messaging.EpochTrust
	var err error
	submitErr := w.submit(ctx, func() {
		trust, err = w.currentEpochTrust()
	})
	if submitErr != nil {
		return messaging.EpochTrust{}, submitErr
	}
	return trust, err
}

// EpochTrustFor is CurrentEpochTrust narrowed to one origin: it
// additionally carries the anticipated height recorded for sender, if
// any, so a bundle this chain already expects is accepted even when its
// epoch is otherwise untrusted (spec.md §4.4 rule 3c).
func (w *ChainWorker) EpochTrustFor(ctx context.Context, sender ids.ChainId) (messaging.EpochTrust, error) {
	var trust messaging.EpochTrust
	var err error
	submitErr := w.submit(ctx, func() {
		trust, err = w.currentEpochTrust()
		if err != nil {
			return
		}
		height, ok, getErr := w.view.Execution.AnticipatedHeights.Get(sender)
		if getErr != nil {
			err = fmt.Errorf("worker: epoch trust: %w", getErr)
			return
		}
		if ok {
			trust.LastAnticipatedHeight = &height
		}
	})
	if submitErr != nil {
		return messaging.EpochTrust{}, submitErr
	}
	return trust, err
}

// AnticipateMessages records that origin will (or may already have)
// produced messages for this chain up to height — e.g. the opening
// message of a child chain — so later bundles up to that height pass the
// epoch-trust filter. Lower heights than one already recorded are kept.
func (w *ChainWorker) AnticipateMessages(ctx context.Context, origin ids.ChainId, height ids.BlockHeight) error {
	var err error
	submitErr := w.submit(ctx, func() {
		existing, ok, getErr := w.view.Execution.AnticipatedHeights.Get(origin)
		if getErr != nil {
			err = fmt.Errorf("worker: anticipate messages: %w", getErr)
			return
		}
		if ok && existing >= height {
			return
		}
		snap := w.view.Snapshot()
		if err = w.view.Execution.AnticipatedHeights.Insert(origin, height); err != nil {
			w.view.RestoreTo(snap)
			return
		}
		if err = w.view.Flush(); err != nil {
			w.view.RestoreTo(snap)
			return
		}
		w.invalidateService()
	})
	if submitErr != nil {
		return submitErr
	}
	return err
}

func (w *ChainWorker) currentEpochTrust() (messaging.EpochTrust, error) {
	sys, err := w.view.Execution.System.Get()
	if err != nil {
		return messaging.EpochTrust{}, fmt.Errorf("worker: epoch trust: %w", err)
	}
	epochs, err := w.view.Execution.Committees.Indices()
	if err != nil {
		return messaging.EpochTrust{}, fmt.Errorf("worker: epoch trust: %w", err)
	}
	known := make(map[ids.Epoch]struct{}, len(epochs))
	for _, e := range epochs {
		known[e] = struct{}{}
	}
	return messaging.EpochTrust{CurrentEpoch: sys.Epoch, KnownCommittees: known}, nil
}

func (w *ChainWorker) handleChainInfoQuery(query ChainInfoQuery) (ChainInfoResponse, error) {
	tip, err := w.view.Tip.Get()
	if err != nil {
		return ChainInfoResponse{}, fmt.Errorf("worker: chain info query: %w", err)
	}

	resp := ChainInfoResponse{
		ChainID:         w.ChainID,
		NextBlockHeight: tip.NextBlockHeight,
		HasBlockHash:    tip.HasBlockHash,
		BlockHash:       tip.BlockHash,
	}

	if query.AssertNextBlockHeight {
		resp.NextBlockHeightAssertionHolds = tip.NextBlockHeight == query.ExpectedNextBlockHeight
	}

	if query.RequestCommittees {
		committees := make(map[ids.Epoch]chainstate.Committee)
		epochs, err := w.view.Execution.Committees.Indices()
		if err != nil {
			return ChainInfoResponse{}, fmt.Errorf("worker: chain info query: committees: %w", err)
		}
		for _, epoch := range epochs {
			committee, ok, err := w.view.Execution.Committees.Get(epoch)
			if err != nil {
				return ChainInfoResponse{}, fmt.Errorf("worker: chain info query: committees: %w", err)
			}
			if ok {
				committees[epoch] = committee
			}
		}
		resp.Committees = committees
	}

	if query.RequestOwnerBalance {
		sys, err := w.view.Execution.System.Get()
		if err != nil {
			return ChainInfoResponse{}, fmt.Errorf("worker: chain info query: balance: %w", err)
		}
		resp.OwnerBalance = sys.Balance
	}

	state, err := w.view.Manager.Get()
	if err != nil {
		return ChainInfoResponse{}, fmt.Errorf("worker: chain info query: manager: %w", err)
	}

	if query.RequestPendingMessages && state.HasPendingProposal {
		resp.PendingMessages = state.PendingProposal.IncomingMessages
	}

	if query.RequestManagerValues {
		resp.ManagerState = state
	}

	if query.SentCertificateHashRange != nil {
		r := *query.SentCertificateHashRange
		hashes, err := w.view.ConfirmedLog.Read(uint64(r.Start), uint64(r.End))
		if err != nil {
			return ChainInfoResponse{}, fmt.Errorf("worker: chain info query: sent certificates: %w", err)
		}
		resp.SentCertificateHashes = hashes
	}

	if query.ReceivedLogTailCount > 0 {
		count, err := w.view.ReceivedLog.Count()
		if err != nil {
			return ChainInfoResponse{}, fmt.Errorf("worker: chain info query: received log: %w", err)
		}
		start := uint64(0)
		if count > uint64(query.ReceivedLogTailCount) {
			start = count - uint64(query.ReceivedLogTailCount)
		}
		tail, err := w.view.ReceivedLog.Read(start, count)
		if err != nil {
			return ChainInfoResponse{}, fmt.Errorf("worker: chain info query: received log: %w", err)
		}
		resp.ReceivedLogTail = tail
	}

	if w.signer != nil {
		identity := chainInfoIdentity{chainID: resp.ChainID, nextBlockHeight: resp.NextBlockHeight, hasBlockHash: resp.HasBlockHash, blockHash: resp.BlockHash}
		sig, err := w.signer.Sign(wire.Hash(identity))
		if err != nil {
			return ChainInfoResponse{}, fmt.Errorf("worker: chain info query: sign: %w", err)
		}
		resp.Signer = w.signer.PublicKey()
		resp.Signature = sig
	}

	return resp, nil
}
