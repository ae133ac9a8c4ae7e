package mocksandbox

import (
	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/execution"
	"github.com/certen/microchain/pkg/ids"
)

// Opener opens one child chain per operation: the operation bytes are an
// 8-byte big-endian balance to endow the child with, the block's
// authenticated signer becomes the child's sole owner, and the child's id
// is written into the application's own state.
type Opener struct{}

func (Opener) Instantiate(_ *execution.OperationContext, _ *execution.Runtime, _ []byte) error {
	return nil
}

func (Opener) ExecuteOperation(ctx *execution.OperationContext, rt *execution.Runtime, operation []byte) error {
	var ownership chainstate.Ownership
	if ctx.AuthenticatedSigner != nil {
		ownership.Owners = []ids.Owner{*ctx.AuthenticatedSigner}
	}
	child, err := rt.OpenChain(ownership, ids.Amount(decodeDelta(operation)))
	if err != nil {
		return err
	}
	return rt.WriteOwnState(child[:])
}

func (Opener) ExecuteMessage(_ *execution.MessageContext, _ *execution.Runtime, _ []byte) error {
	return nil
}

func (Opener) HandleApplicationCall(_ *execution.OperationContext, rt *execution.Runtime, _ []byte) ([]byte, error) {
	return rt.ReadOwnState()
}

func (Opener) HandleQuery(_ *execution.QueryContext, rt *execution.Runtime, _ []byte) ([]byte, error) {
	return rt.ReadOwnState()
}
