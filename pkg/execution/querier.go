package execution

import (
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
)

// Querier implements worker.Querier against a Registry: it runs an
// application's HandleQuery read-only. Any state the query stages (a
// misbehaving application could still call WriteOwnState) is discarded
// before Query returns, so a later Flush of the same view never persists it.
type Querier struct {
	registry *Registry
	limits   ResourceLimits
}

// NewQuerier returns a querier dispatching into registry.
func NewQuerier(registry *Registry, limits ResourceLimits) *Querier {
	return &Querier{registry: registry, limits: limits}
}

// Query implements worker.Querier.
func (q *Querier) Query(view *chainstate.ChainStateView, applicationID ids.ApplicationId, query []byte) ([]byte, error) {
	app, ok := q.registry.Lookup(applicationID)
	if !ok {
		return nil, ErrApplicationNotFound
	}
	snap := view.Snapshot()
	defer view.RestoreTo(snap)
	resources := NewResourceController(q.limits)
	oracle := NewOracleTape(nil)
	rt := newRuntime(view, q.registry, resources, oracle, 0, 0)
	if err := rt.pushFrame(applicationID); err != nil {
		return nil, err
	}
	defer rt.popFrame()

	ctx := QueryContext{ChainID: view.ChainID, Application: applicationID}
	result, err := app.HandleQuery(&ctx, rt, query)
	if err != nil {
		return nil, fmt.Errorf("execution: handle query: %w", err)
	}
	return result, nil
}
