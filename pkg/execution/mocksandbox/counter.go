// Package mocksandbox provides a minimal Application implementation used
// to exercise pkg/execution's BlockExecutor and Runtime in tests without
// depending on a real compiled sandbox module.
package mocksandbox

import (
	"encoding/binary"

	"github.com/certen/microchain/pkg/execution"
)

// Counter is a trivial application: its state is a single uint64 counter.
// Operations and messages both carry an 8-byte big-endian delta added to
// it; HandleApplicationCall and HandleQuery both return the current total.
type Counter struct{}

func encodeCounter(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeDelta(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (Counter) Instantiate(_ *execution.OperationContext, rt *execution.Runtime, _ []byte) error {
	return rt.WriteOwnState(encodeCounter(0))
}

func (c Counter) apply(rt *execution.Runtime, delta []byte) error {
	cur, err := rt.ReadOwnState()
	if err != nil {
		return err
	}
	total := decodeDelta(cur) + decodeDelta(delta)
	return rt.WriteOwnState(encodeCounter(total))
}

func (c Counter) ExecuteOperation(_ *execution.OperationContext, rt *execution.Runtime, operation []byte) error {
	return c.apply(rt, operation)
}

func (c Counter) ExecuteMessage(_ *execution.MessageContext, rt *execution.Runtime, message []byte) error {
	return c.apply(rt, message)
}

func (c Counter) HandleApplicationCall(_ *execution.OperationContext, rt *execution.Runtime, _ []byte) ([]byte, error) {
	return rt.ReadOwnState()
}

func (c Counter) HandleQuery(_ *execution.QueryContext, rt *execution.Runtime, _ []byte) ([]byte, error) {
	return rt.ReadOwnState()
}
