package mocksandbox

import (
	"github.com/certen/microchain/pkg/execution"
	"github.com/certen/microchain/pkg/ids"
)

// Relay forwards every operation (and every application call it receives)
// to Callee through try_call_application, storing the callee's reply in
// its own state. Two Relays pointed at each other exercise the
// reentrancy rejection.
type Relay struct {
	Callee        ids.ApplicationId
	Authenticated bool
}

func (Relay) Instantiate(_ *execution.OperationContext, _ *execution.Runtime, _ []byte) error {
	return nil
}

func (r Relay) ExecuteOperation(ctx *execution.OperationContext, rt *execution.Runtime, operation []byte) error {
	out, err := rt.TryCallApplication(*ctx, r.Authenticated, r.Callee, operation)
	if err != nil {
		return err
	}
	return rt.WriteOwnState(out)
}

func (Relay) ExecuteMessage(_ *execution.MessageContext, _ *execution.Runtime, _ []byte) error {
	return nil
}

func (r Relay) HandleApplicationCall(ctx *execution.OperationContext, rt *execution.Runtime, argument []byte) ([]byte, error) {
	return rt.TryCallApplication(*ctx, r.Authenticated, r.Callee, argument)
}

func (Relay) HandleQuery(_ *execution.QueryContext, rt *execution.Runtime, _ []byte) ([]byte, error) {
	return rt.ReadOwnState()
}

// Probe answers application calls with a single byte reporting whether
// the call carried an authenticated caller.
type Probe struct{}

func (Probe) Instantiate(_ *execution.OperationContext, _ *execution.Runtime, _ []byte) error {
	return nil
}

func (Probe) ExecuteOperation(_ *execution.OperationContext, _ *execution.Runtime, _ []byte) error {
	return nil
}

func (Probe) ExecuteMessage(_ *execution.MessageContext, _ *execution.Runtime, _ []byte) error {
	return nil
}

func (Probe) HandleApplicationCall(ctx *execution.OperationContext, _ *execution.Runtime, _ []byte) ([]byte, error) {
	if ctx.AuthenticatedCaller != nil {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (Probe) HandleQuery(_ *execution.QueryContext, _ *execution.Runtime, _ []byte) ([]byte, error) {
	return nil, execution.ErrQueryNotSupported
}
