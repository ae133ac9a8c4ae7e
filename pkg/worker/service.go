package worker

import (
	"context"
	"sync/atomic"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
)

// serviceRuntime is the service-runtime subactor of spec.md §4.6: a
// companion task holding a long-lived read-only view of the chain, so
// application queries never occupy the worker's mutation mailbox (a slow
// query cannot stall block processing, and block processing cannot stall
// queries). Every committed mutation invalidates the context; the next
// query rebuilds the view from the store, observing a snapshot no older
// than the most recently committed block prior to the query's arrival.
type serviceRuntime struct {
	factory func() *chainstate.ChainStateView
	querier Querier
	jobs    chan func()
	stale   atomic.Bool

	// view is touched only from run's goroutine.
	view *chainstate.ChainStateView
}

func newServiceRuntime(factory func() *chainstate.ChainStateView, querier Querier, size int) *serviceRuntime {
	return &serviceRuntime{
		factory: factory,
		querier: querier,
		jobs:    make(chan func(), size),
	}
}

// invalidate marks the current snapshot stale. Safe to call from the
// worker goroutine while a query is in flight; the flag is consumed at
// the start of the next query.
func (s *serviceRuntime) invalidate() { s.stale.Store(true) }

// run drains query jobs until ctx is cancelled or the worker closes.
func (s *serviceRuntime) run(ctx context.Context, closed <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case job := <-s.jobs:
			job()
		}
	}
}

// query runs one application query on the subactor's goroutine and blocks
// until it answers, ctx is cancelled, or the worker closes.
func (s *serviceRuntime) query(ctx context.Context, closed <-chan struct{}, applicationID ids.ApplicationId, query []byte) ([]byte, error) {
	var out []byte
	var err error
	done := make(chan struct{})
	job := func() {
		defer close(done)
		if s.view == nil || s.stale.Swap(false) {
			s.view = s.factory()
		}
		out, err = s.querier.Query(s.view, applicationID, query)
	}

	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closed:
		return nil, ErrClosed
	}
	select {
	case <-done:
		return out, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
