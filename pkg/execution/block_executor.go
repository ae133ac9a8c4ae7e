package execution

import (
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/messaging"
	"github.com/certen/microchain/pkg/wire"
)

// BlockExecutor is the concrete chainstate.Executor (spec.md C3): it
// decides every IncomingMessage in a block via pkg/messaging, dispatches
// every Operation to the application it names, and derives the block's
// resulting state hash. It is the only place chainstate.ChainStateView's
// staged writes are actually produced during execution; persistence itself
// (Flush/Rollback) is the caller's job, per spec.md §9.
type BlockExecutor struct {
	registry *Registry
	limits   ResourceLimits
}

// NewBlockExecutor returns an executor dispatching into registry, metering
// each block against limits.
func NewBlockExecutor(registry *Registry, limits ResourceLimits) *BlockExecutor {
	return &BlockExecutor{registry: registry, limits: limits}
}

// Execute implements chainstate.Executor.
func (x *BlockExecutor) Execute(view *chainstate.ChainStateView, block chainstate.Block, localTimeUnixMillis int64, forcedOracleResponses [][]byte) (chainstate.BlockExecutionOutcome, error) {
	resources := NewResourceController(x.limits)
	oracle := NewOracleTape(forcedOracleResponses)
	rt := newRuntime(view, x.registry, resources, oracle, block.Height, localTimeUnixMillis)

	for _, msg := range block.IncomingMessages {
		bounce, err := messaging.ApplyIncomingMessage(view, msg)
		if err != nil {
			return chainstate.BlockExecutionOutcome{}, fmt.Errorf("execution: incoming message: %w", err)
		}
		if bounce != nil {
			rt.messages = append(rt.messages, *bounce)
		}
		if msg.Action != chainstate.ActionAccept {
			continue
		}
		if err := x.acceptMessage(rt, block, msg, localTimeUnixMillis); err != nil {
			return chainstate.BlockExecutionOutcome{}, err
		}
	}

	messageCounts := make([]uint32, 0, len(block.Operations))
	for i, op := range block.Operations {
		if err := resources.ChargeOperation(); err != nil {
			return chainstate.BlockExecutionOutcome{}, err
		}
		before := len(rt.messages)
		if err := x.runOperation(rt, block, i, op, localTimeUnixMillis); err != nil {
			return chainstate.BlockExecutionOutcome{}, err
		}
		messageCounts = append(messageCounts, uint32(len(rt.messages)-before))
	}

	stateHash, err := computeStateHash(view)
	if err != nil {
		return chainstate.BlockExecutionOutcome{}, err
	}

	return chainstate.BlockExecutionOutcome{
		Messages:        rt.messages,
		MessageCounts:   messageCounts,
		StateHash:       stateHash,
		OracleResponses: oracle.Responses(),
	}, nil
}

// acceptMessage applies one accepted incoming message's effect. A direct
// medium message is a system-level balance grant (there is no application
// to route it to, per spec.md §4.4: only channel media name an owning
// application); a channel medium message is dispatched to the application
// that owns the channel it arrived on.
func (x *BlockExecutor) acceptMessage(rt *Runtime, block chainstate.Block, msg chainstate.IncomingMessage, localTimeUnixMillis int64) error {
	if !msg.Origin.Medium.IsChannel {
		if msg.Event.Grant == 0 {
			return nil
		}
		sys, err := rt.view.Execution.System.Get()
		if err != nil {
			return fmt.Errorf("execution: credit balance: %w", err)
		}
		sys.Balance += msg.Event.Grant
		rt.view.Execution.System.Set(sys)
		if err := rt.view.Execution.System.Save(); err != nil {
			return fmt.Errorf("execution: credit balance: %w", err)
		}
		return nil
	}

	appID := msg.Origin.Medium.Application
	app, ok := x.registry.Lookup(appID)
	if !ok {
		return ErrApplicationNotFound
	}
	ctx := MessageContext{
		OperationContext: OperationContext{
			ChainID:             block.ChainID,
			Height:              block.Height,
			TimestampUnixMillis: localTimeUnixMillis,
			Application:         appID,
		},
		IsBouncing: msg.Event.Kind == chainstate.KindBouncing,
	}
	if msg.Event.HasSigner {
		signer := msg.Event.AuthenticatedSigner
		ctx.AuthenticatedSigner = &signer
	}
	if err := rt.pushFrame(appID); err != nil {
		return err
	}
	defer rt.popFrame()
	if err := app.ExecuteMessage(&ctx, rt, msg.Event.Message); err != nil {
		return fmt.Errorf("execution: execute message: %w", err)
	}
	return nil
}

func (x *BlockExecutor) runOperation(rt *Runtime, block chainstate.Block, opIndex int, op chainstate.Operation, localTimeUnixMillis int64) error {
	if op.Application == SystemApplicationID {
		return x.runSystemOperation(rt, block, opIndex, op.Bytes)
	}
	app, ok := x.registry.Lookup(op.Application)
	if !ok {
		return ErrApplicationNotFound
	}
	ctx := OperationContext{
		ChainID:             block.ChainID,
		Height:              block.Height,
		TimestampUnixMillis: localTimeUnixMillis,
		Application:         op.Application,
	}
	if block.HasAuthenticatedSigner {
		signer := block.AuthenticatedSigner
		ctx.AuthenticatedSigner = &signer
	}
	if err := rt.pushFrame(op.Application); err != nil {
		return err
	}
	defer rt.popFrame()
	if err := app.ExecuteOperation(&ctx, rt, op.Bytes); err != nil {
		return fmt.Errorf("execution: execute operation: %w", err)
	}
	return nil
}

// stateDigest is the canonical encoding hashed into a block's resulting
// StateHash: the scalar system substate plus every application's state
// blob, in the MapView's byte-sorted key order (already deterministic, so
// no further sorting is needed here).
type stateDigest struct {
	sys     chainstate.SystemSubstate
	appIDs  []ids.ApplicationId
	appVals [][]byte
}

func (d stateDigest) MarshalCanonical(e *wire.Encoder) {
	d.sys.MarshalCanonical(e)
	wire.Slice(e, d.appIDs, func(e *wire.Encoder, id ids.ApplicationId) {
		e.Bytes32(id.BytecodeId)
		e.U64(uint64(id.CreationEventId.Height))
		e.U32(id.CreationEventId.Index)
		e.Bytes32(id.CreationEventId.ChainID)
	})
	wire.Slice(e, d.appVals, func(e *wire.Encoder, v []byte) { e.Bytes(v) })
}

func computeStateHash(view *chainstate.ChainStateView) (ids.CryptoHash, error) {
	sys, err := view.Execution.System.Get()
	if err != nil {
		return ids.CryptoHash{}, fmt.Errorf("execution: state hash: %w", err)
	}
	digest := stateDigest{sys: sys}
	err = view.Execution.ApplicationState.ForEachIndexValue(func(id ids.ApplicationId, v []byte) error {
		digest.appIDs = append(digest.appIDs, id)
		digest.appVals = append(digest.appVals, v)
		return nil
	})
	if err != nil {
		return ids.CryptoHash{}, fmt.Errorf("execution: state hash: %w", err)
	}
	return wire.Hash(digest), nil
}
