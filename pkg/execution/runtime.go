package execution

import (
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
)

// Runtime is the host API surface a guest Application sees while it is
// executing, per spec.md §4.3's host-function list: read-only system
// accessors, its own locked state blob, cross-application calls guarded
// against reentrancy, effectful operations (send_message, open_chain,
// close_chain, transfer), and oracle access with deterministic replay.
//
// One Runtime is opened per block and shared by every call frame within
// it, since resource metering (fuel, message/byte/pecuniary budgets) and
// oracle tape ordering are both block-scoped, not call-scoped.
type Runtime struct {
	view      *chainstate.ChainStateView
	registry  *Registry
	resources *ResourceController
	oracle    *OracleTape

	chainID   ids.ChainId
	height    ids.BlockHeight
	timestamp int64

	messages []chainstate.OutgoingMessage

	stack  []ids.ApplicationId
	locked map[ids.ApplicationId]bool
}

func newRuntime(view *chainstate.ChainStateView, registry *Registry, resources *ResourceController, oracle *OracleTape, height ids.BlockHeight, timestamp int64) *Runtime {
	return &Runtime{
		view:      view,
		registry:  registry,
		resources: resources,
		oracle:    oracle,
		chainID:   view.ChainID,
		height:    height,
		timestamp: timestamp,
		locked:    make(map[ids.ApplicationId]bool),
	}
}

// ChainID returns the chain this block is executing on.
func (rt *Runtime) ChainID() ids.ChainId { return rt.chainID }

// Height returns the block height currently executing.
func (rt *Runtime) Height() ids.BlockHeight { return rt.height }

// ReadSystemTimestamp returns the block's local timestamp.
func (rt *Runtime) ReadSystemTimestamp() int64 { return rt.timestamp }

// SystemBalance returns the chain's current system balance.
func (rt *Runtime) SystemBalance() (ids.Amount, error) {
	sys, err := rt.view.Execution.System.Get()
	if err != nil {
		return 0, fmt.Errorf("execution: system balance: %w", err)
	}
	return sys.Balance, nil
}

// currentApp returns the application owning the innermost call frame.
// Callers never invoke this before pushFrame has run at least once; the
// block executor always pushes a frame before handing a Runtime to guest
// code.
func (rt *Runtime) currentApp() ids.ApplicationId {
	return rt.stack[len(rt.stack)-1]
}

// pushFrame enters a new call frame for app, rejecting re-entry into an
// application that already has a frame on the stack (spec.md §4.3: an
// application's state lock is held for the duration of its outermost
// frame, so even indirect recursion through other applications is
// rejected).
func (rt *Runtime) pushFrame(app ids.ApplicationId) error {
	if rt.locked[app] {
		return ErrReentrancyLocked
	}
	rt.locked[app] = true
	rt.stack = append(rt.stack, app)
	return nil
}

func (rt *Runtime) popFrame() {
	n := len(rt.stack)
	app := rt.stack[n-1]
	rt.stack = rt.stack[:n-1]
	delete(rt.locked, app)
}

// ReadOwnState returns the calling application's persisted state blob, or
// nil if it has never written one.
func (rt *Runtime) ReadOwnState() ([]byte, error) {
	b, _, err := rt.view.Execution.ApplicationState.Get(rt.currentApp())
	if err != nil {
		return nil, fmt.Errorf("execution: read state: %w", err)
	}
	return b, nil
}

// WriteOwnState persists b as the calling application's state blob.
func (rt *Runtime) WriteOwnState(b []byte) error {
	if err := rt.resources.ChargeBytes(uint64(len(b))); err != nil {
		return err
	}
	if err := rt.view.Execution.ApplicationState.Insert(rt.currentApp(), b); err != nil {
		return fmt.Errorf("execution: write state: %w", err)
	}
	return nil
}

// Oracle asks query for a non-deterministic answer (a timestamp, a random
// value, an external read), recording it the first time and replaying the
// same answer on every subsequent re-execution of this exact block.
func (rt *Runtime) Oracle(query func() ([]byte, error)) ([]byte, error) {
	if err := rt.resources.ConsumeFuel(1); err != nil {
		return nil, err
	}
	return rt.oracle.Ask(query)
}

// TryCallApplication invokes callee.HandleApplicationCall on behalf of the
// currently executing application, per spec.md §4.3's cross-application
// call host function. When authenticated is true the caller's application
// id becomes the callee's authenticated caller; the signer is unchanged
// either way. Fails with ErrReentrancyLocked if callee (or any ancestor of
// the current frame) is already on the call stack.
func (rt *Runtime) TryCallApplication(callerCtx OperationContext, authenticated bool, callee ids.ApplicationId, argument []byte) ([]byte, error) {
	if err := rt.resources.ConsumeFuel(10); err != nil {
		return nil, err
	}
	app, ok := rt.registry.Lookup(callee)
	if !ok {
		return nil, ErrApplicationNotFound
	}
	if err := rt.pushFrame(callee); err != nil {
		return nil, err
	}
	defer rt.popFrame()

	ctx := callerCtx
	ctx.Application = callee
	ctx.AuthenticatedCaller = nil
	if authenticated {
		ctx.AuthenticatedCaller = rt.currentAppBelow()
	}
	return app.HandleApplicationCall(&ctx, rt, argument)
}

// currentAppBelow returns the application one frame below the innermost
// (the caller of the frame currently being pushed), or nil at the
// outermost frame.
func (rt *Runtime) currentAppBelow() *ids.ApplicationId {
	if len(rt.stack) < 2 {
		return nil
	}
	caller := rt.stack[len(rt.stack)-2]
	return &caller
}

// SendMessage queues an outgoing message on behalf of the currently
// executing application. A subscriber-addressed destination is always
// stamped with the caller's application id, since spec.md §4.4 identifies
// a channel by (application_id, channel_name) and only the owning
// application may broadcast to it.
func (rt *Runtime) SendMessage(dest chainstate.Destination, kind chainstate.MessageKind, grant ids.Amount, payload []byte) error {
	if err := rt.resources.ChargeMessage(len(payload)); err != nil {
		return err
	}
	if grant > 0 {
		if err := rt.resources.ChargePecuniary(uint64(grant)); err != nil {
			return err
		}
	}
	if dest.IsSubscribers {
		dest.Application = rt.currentApp()
	}
	rt.messages = append(rt.messages, chainstate.OutgoingMessage{
		Destination: dest,
		Kind:        kind,
		Grant:       grant,
		Message:     payload,
	})
	return nil
}

// Transfer debits amount from the chain's system balance and sends a
// tracked message granting it to recipient, per spec.md §4.3's transfer
// host function.
func (rt *Runtime) Transfer(recipient ids.ChainId, amount ids.Amount) error {
	sys, err := rt.view.Execution.System.Get()
	if err != nil {
		return fmt.Errorf("execution: transfer: %w", err)
	}
	if sys.Balance < amount {
		return fmt.Errorf("execution: transfer: insufficient balance")
	}
	sys.Balance -= amount
	rt.view.Execution.System.Set(sys)
	if err := rt.view.Execution.System.Save(); err != nil {
		return fmt.Errorf("execution: transfer: %w", err)
	}
	return rt.SendMessage(chainstate.RecipientDestination(recipient), chainstate.KindTracked, amount, nil)
}

// CloseChain marks the chain closed, if signer is authorized either as a
// chain owner or (for the calling application) via the close-chain
// allowlist.
func (rt *Runtime) CloseChain(signer ids.Owner) error {
	sys, err := rt.view.Execution.System.Get()
	if err != nil {
		return fmt.Errorf("execution: close chain: %w", err)
	}
	caller := rt.currentApp()
	if !sys.Permissions.CanClose(sys.Ownership, signer, &caller) {
		return fmt.Errorf("execution: close chain: not authorized")
	}
	sys.Closed = true
	rt.view.Execution.System.Set(sys)
	return rt.view.Execution.System.Save()
}

// OutgoingMessages returns every message queued via SendMessage/Transfer
// during this Runtime's lifetime, in the order they were queued.
func (rt *Runtime) OutgoingMessages() []chainstate.OutgoingMessage { return rt.messages }
