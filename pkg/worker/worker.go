// Package worker implements the chain worker (spec.md C6): one actor per
// chain, serializing every mutating and read-consistent operation on that
// chain's pkg/chainstate view through a bounded mailbox, and dispatching
// into pkg/consensus and pkg/messaging for the actual proposal, certificate,
// and bundle-acceptance logic. The mailbox/request-response-channel shape is
// grounded on the teacher's own BFTValidator.executionQueue/ExecutionTask
// pattern in pkg/consensus/bft_integration.go, generalized from a single
// execution queue into the full per-chain request table of spec.md §4.6.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/consensus"
	"github.com/certen/microchain/pkg/ids"
)

// ErrClosed is returned by requests submitted after Close.
var ErrClosed = errors.New("worker: closed")

// Querier answers read-only application queries against a view, per
// spec.md §4.6's service-runtime subactor. It is injected the same way
// chainstate.Executor is, to keep pkg/worker decoupled from the execution
// runtime package (pkg/execution).
type Querier interface {
	Query(view *chainstate.ChainStateView, applicationID ids.ApplicationId, query []byte) ([]byte, error)
}

// Config bundles the per-chain parameters a ChainWorker needs beyond its
// view: its own signing key, the local clock's grace period for proposal
// timestamps, and the mailbox's buffer size. ServiceViewFactory builds
// fresh views over the chain's committed state for the service-runtime
// subactor; when set (together with a Querier), queries run on that
// companion task instead of the mutation mailbox.
type Config struct {
	Signer             consensus.Signer
	GracePeriodMillis  int64
	MailboxSize        int
	ServiceViewFactory func() *chainstate.ChainStateView
}

// ChainWorker is spec.md C6: single-threaded with respect to its own chain
// state, processing one request at a time from job.
type ChainWorker struct {
	ChainID ids.ChainId

	view     *chainstate.ChainStateView
	executor chainstate.Executor
	querier  Querier
	signer   consensus.Signer
	grace    int64

	service *serviceRuntime

	mailbox chan func()
	closed  chan struct{}
}

// NewChainWorker constructs a worker over view, ready for Run. querier may
// be nil; QueryApplication then fails rather than routing to a service
// sandbox.
func NewChainWorker(view *chainstate.ChainStateView, executor chainstate.Executor, querier Querier, cfg Config) *ChainWorker {
	size := cfg.MailboxSize
	if size <= 0 {
		size = 64
	}
	w := &ChainWorker{
		ChainID:  view.ChainID,
		view:     view,
		executor: executor,
		querier:  querier,
		signer:   cfg.Signer,
		grace:    cfg.GracePeriodMillis,
		mailbox:  make(chan func(), size),
		closed:   make(chan struct{}),
	}
	if querier != nil && cfg.ServiceViewFactory != nil {
		w.service = newServiceRuntime(cfg.ServiceViewFactory, querier, size)
	}
	return w
}

// Run drains the mailbox until ctx is cancelled or Close is called,
// processing exactly one job at a time (spec.md §4.6's concurrency
// contract: "never polls two chain mutations concurrently"). The
// service-runtime subactor, if configured, runs as a companion goroutine
// with the same lifetime.
func (w *ChainWorker) Run(ctx context.Context) {
	if w.service != nil {
		go w.service.run(ctx, w.closed)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closed:
			return
		case job := <-w.mailbox:
			job()
		}
	}
}

// Close stops accepting new requests. In-flight Run loops exit on their
// next select; the mailbox is not drained further.
func (w *ChainWorker) Close() {
	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
}

// submit enqueues fn and blocks until it has run, ctx is cancelled, or the
// worker is closed.
func (w *ChainWorker) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	job := func() {
		fn()
		close(done)
	}
	select {
	case w.mailbox <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.closed:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trustedCommitteeFor resolves the committee a re-proposal certificate must
// be signed by: the target epoch's own committee, since each chain is the
// sole source of truth for its own committees (spec.md leaves the exact
// source of "a trusted committee" to the implementer; see DESIGN.md).
func (w *ChainWorker) trustedCommitteeFor(epoch ids.Epoch) (chainstate.Committee, error) {
	committee, ok, err := w.view.Execution.Committees.Get(epoch)
	if err != nil {
		return chainstate.Committee{}, fmt.Errorf("worker: trusted committee: %w", err)
	}
	if !ok {
		return chainstate.Committee{}, consensus.ErrEpochMismatch
	}
	return committee, nil
}
