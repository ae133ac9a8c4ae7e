package projection

import (
	"context"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
)

// ViewSource adapts a chainstate.ChainStateView to LogReader so Sync can
// read directly out of the authoritative KV store without the view
// package needing to know projection exists.
type ViewSource struct {
	View *chainstate.ChainStateView
}

func (s ViewSource) ConfirmedLen(_ context.Context) (uint64, error) {
	return s.View.ConfirmedLog.Count()
}

func (s ViewSource) ReceivedLen(_ context.Context) (uint64, error) {
	return s.View.ReceivedLog.Count()
}

func (s ViewSource) ConfirmedRange(_ context.Context, from, to uint64) ([]ids.CryptoHash, error) {
	return s.View.ConfirmedLog.Read(from, to)
}

func (s ViewSource) ReceivedRange(_ context.Context, from, to uint64) ([]ids.CryptoHash, error) {
	return s.View.ReceivedLog.Read(from, to)
}
