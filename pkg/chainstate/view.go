package chainstate

import (
	"fmt"

	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
)

// Executor is the abstract sandboxed execution runtime (spec.md C3) that
// ChainStateView.ExecuteBlock delegates to. Injected rather than imported
// directly, the same way spec.md §1 keeps "the concrete WebAssembly engine"
// an external collaborator behind an interface.
type Executor interface {
	Execute(view *ChainStateView, block Block, localTimeUnixMillis int64, forcedOracleResponses [][]byte) (BlockExecutionOutcome, error)
}

// ChainStateView is the composite, chain-rooted view of spec.md §4.2: tip
// state, confirmed/received logs, per-origin inboxes, per-target outboxes,
// channels, execution state, manager state, and pending blobs.
type ChainStateView struct {
	ChainID ids.ChainId

	root *store.Context

	Tip          TipState
	ConfirmedLog *store.LogView[ids.CryptoHash]
	ReceivedLog  *store.LogView[ids.CryptoHash]
	Inboxes      *store.ReentrantCollectionView[Origin, *Inbox]
	Outboxes     *store.CollectionView[ids.ChainId, *Outbox]
	Channels     Channels
	Execution    *ExecutionState
	Manager      Manager
	PendingBlobs PendingBlobs
}

// NewChainStateView roots a ChainStateView at ctx for chainID. ctx is
// expected to already be scoped to this chain's root key (spec.md §6:
// "chain/<chain_id>"); the worker/node layer is responsible for that
// scoping so this package stays storage-location agnostic.
func NewChainStateView(ctx *store.Context, chainID ids.ChainId) *ChainStateView {
	return &ChainStateView{
		ChainID:      chainID,
		root:         ctx,
		Tip:          newTipState(ctx.Clone([]byte("tip"))),
		ConfirmedLog: store.NewLogView[ids.CryptoHash](ctx.Clone([]byte("confirmed/")), hashCodec),
		ReceivedLog:  store.NewLogView[ids.CryptoHash](ctx.Clone([]byte("received/")), hashCodec),
		Inboxes:      store.NewReentrantCollectionView[Origin, *Inbox](ctx.Clone([]byte("inbox/")), originKeyCodec{}, newInbox),
		Outboxes:     store.NewCollectionView[ids.ChainId, *Outbox](ctx.Clone([]byte("outbox/")), chainIDKeyCodec{}, newOutbox),
		Channels:     newChannels(ctx.Clone([]byte("channel/"))),
		Execution:    newExecutionState(ctx.Clone([]byte("exec/"))),
		Manager:      newManager(ctx.Clone([]byte("manager"))),
		PendingBlobs: newPendingBlobs(ctx.Clone([]byte("blob/"))),
	}
}

// EnsureIsActive fails with ErrInactiveChain unless the chain has a
// manager with at least one owner, a current epoch that is a member of its
// own known committees, and an admin id, per spec.md §4.2.
func (v *ChainStateView) EnsureIsActive() error {
	sys, err := v.Execution.System.Get()
	if err != nil {
		return fmt.Errorf("chainstate: ensure active: %w", err)
	}
	if !sys.Ownership.IsMultiOwner() && len(sys.Ownership.Owners) == 0 && len(sys.Ownership.SuperOwners) == 0 {
		return ErrInactiveChain
	}
	if !sys.HasAdminID {
		return ErrInactiveChain
	}
	if _, ok, err := v.Execution.Committees.Get(sys.Epoch); err != nil {
		return fmt.Errorf("chainstate: ensure active: %w", err)
	} else if !ok {
		return ErrInactiveChain
	}
	return nil
}

// Flush atomically commits every staged write made under this chain's root
// key since the last Flush or Rollback, per spec.md §4.1 contract (a). The
// chain worker calls this once a block's effects (or a timeout certificate's
// round advance) are ready to become durable.
func (v *ChainStateView) Flush() error {
	if err := v.root.Flush(); err != nil {
		return fmt.Errorf("chainstate: flush: %w", err)
	}
	return nil
}

// Rollback discards every staged write made under this chain's root key,
// per spec.md §4.1 contract (b), so later operations never observe writes
// that were never flushed. The chain worker does not call it; it undoes a
// single speculative execution or failed request with Snapshot and
// RestoreTo instead.
func (v *ChainStateView) Rollback() {
	v.root.Rollback()
}

// Snapshot and RestoreTo let a caller undo exactly one speculative
// execution (e.g. a block proposal that may lose its round) without
// disturbing whatever else is already staged under this chain's root, per
// spec.md §9's staged-execution-then-atomic-commit model.
func (v *ChainStateView) Snapshot() *store.Snapshot        { return v.root.Snapshot() }
func (v *ChainStateView) RestoreTo(snap *store.Snapshot) { v.root.RestoreTo(snap) }

// ExecuteBlock runs block against executor, which stages its writes in
// this view's context; nothing reaches the backing store until Flush, a
// separate, later step performed by the chain worker once all validity
// checks pass, per spec.md §4.2/§9's "staged execution then atomic commit".
func (v *ChainStateView) ExecuteBlock(executor Executor, block Block, localTimeUnixMillis int64, forcedOracleResponses [][]byte) (BlockExecutionOutcome, error) {
	return executor.Execute(v, block, localTimeUnixMillis, forcedOracleResponses)
}

// ReceiveMessageBundle enqueues bundle's events into the inbox for origin,
// in (height, index) order, per spec.md §4.2. Bundle acceptance rules
// (monotonic height, epoch trust) are the caller's responsibility
// (pkg/messaging); by the time a bundle reaches here it is already accepted.
func (v *ChainStateView) ReceiveMessageBundle(origin Origin, bundle MessageBundle) error {
	guard, err := v.Inboxes.LoadEntry(origin)
	if err != nil {
		return fmt.Errorf("chainstate: receive bundle: load inbox: %w", err)
	}
	defer guard.Release()

	inbox := guard.View
	if err := inbox.AddEvents(bundle.Height, bundle.ToAddedEvents()); err != nil {
		return fmt.Errorf("chainstate: receive bundle: %w", err)
	}
	return inbox.Save()
}

// MarkMessagesAsReceived pops from outboxes[target] every height <= height,
// returning true iff at least one height was popped, per spec.md §4.2.
func (v *ChainStateView) MarkMessagesAsReceived(target ids.ChainId, height ids.BlockHeight) (bool, error) {
	ob, err := v.Outboxes.Load(target)
	if err != nil {
		return false, fmt.Errorf("chainstate: mark received: load outbox: %w", err)
	}
	popped, err := ob.MarkReceivedUpTo(height)
	if err != nil {
		return false, fmt.Errorf("chainstate: mark received: %w", err)
	}
	return popped, nil
}

// CommitBlock advances the tip and confirmed log for a newly confirmed
// block, per spec.md §8's invariant confirmed_log.len() == next_block_height.
// It does not itself verify the block or its certificate; that is the
// consensus manager's job (pkg/consensus) before calling this.
func (v *ChainStateView) CommitBlock(block Block, blockHash ids.CryptoHash) error {
	tip, err := v.Tip.Get()
	if err != nil {
		return fmt.Errorf("chainstate: commit block: %w", err)
	}
	if block.Height < tip.NextBlockHeight {
		committed, err := v.ConfirmedLog.Read(uint64(block.Height), uint64(block.Height)+1)
		if err != nil {
			return fmt.Errorf("chainstate: commit block: %w", err)
		}
		if len(committed) == 1 && committed[0] == blockHash {
			return ErrDuplicateBlock
		}
		return ErrInvalidBlockChaining
	}
	if block.Height > tip.NextBlockHeight {
		return ErrMissingEarlierBlocks
	}
	if tip.HasBlockHash && (!block.HasPreviousBlockHash || block.PreviousBlockHash != tip.BlockHash) {
		return ErrInvalidBlockChaining
	}
	if err := v.ConfirmedLog.Push(blockHash); err != nil {
		return fmt.Errorf("chainstate: commit block: push confirmed log: %w", err)
	}
	tip.HasBlockHash = true
	tip.BlockHash = blockHash
	tip.NextBlockHeight++
	tip.NumIncomingMessages += uint32(len(block.IncomingMessages))
	tip.NumOperations += uint32(len(block.Operations))
	v.Tip.Set(tip)
	return v.Tip.Save()
}
