package execution

import (
	"github.com/certen/microchain/pkg/ids"
)

// OperationContext carries the block-level facts available to an
// application while it handles one of its own operations, per spec.md
// §4.3's read-only system accessors (chain_id, authenticated_signer,
// read_system_timestamp).
type OperationContext struct {
	ChainID             ids.ChainId
	Height              ids.BlockHeight
	TimestampUnixMillis int64
	Application         ids.ApplicationId
	AuthenticatedSigner *ids.Owner
	AuthenticatedCaller *ids.ApplicationId
}

// MessageContext is the same facts as OperationContext, plus whether the
// incoming message's kind is Bouncing (`message_is_bouncing`, per spec.md
// §4.3). It does not carry the message's origin.
type MessageContext struct {
	OperationContext
	IsBouncing bool
}

// QueryContext carries the facts available to a read-only service query.
type QueryContext struct {
	ChainID     ids.ChainId
	Application ids.ApplicationId
}

// Application is the sandbox contract spec.md §4.3 describes a WebAssembly
// module exporting: initialize/execute_operation/execute_message (the
// contract side) and handle_query (the service side), plus
// handle_application_call for cross-application calls made through
// try_call_application. Applications in this runtime are ordinary Go
// values registered by bytecode id rather than compiled modules, since no
// WebAssembly engine is available to host them (see DESIGN.md); the
// narrow interface below is the same host/guest boundary the sandbox
// contract describes, just implemented in-process instead of across an
// ABI.
type Application interface {
	// Instantiate runs once, when CreateApplication registers a new
	// instance, to let it validate/store its instantiation parameters.
	Instantiate(ctx *OperationContext, rt *Runtime, parameters []byte) error

	// ExecuteOperation runs a block's Operation addressed to this
	// application.
	ExecuteOperation(ctx *OperationContext, rt *Runtime, operation []byte) error

	// ExecuteMessage runs an accepted incoming message addressed to this
	// application (a channel-medium message whose channel it owns).
	ExecuteMessage(ctx *MessageContext, rt *Runtime, message []byte) error

	// HandleApplicationCall answers a try_call_application invocation made
	// by another application (or by this one, recursively).
	HandleApplicationCall(ctx *OperationContext, rt *Runtime, argument []byte) ([]byte, error)

	// HandleQuery answers a read-only QueryApplication request. It must
	// not call any effectful Runtime method.
	HandleQuery(ctx *QueryContext, rt *Runtime, query []byte) ([]byte, error)
}

// Registry maps published bytecode ids to the in-process Application value
// that stands in for that bytecode's compiled module, per spec.md §4.6
// ("module bytes are content-addressed").
type Registry struct {
	byBytecode map[ids.BytecodeId]Application
}

// NewRegistry returns an empty application registry.
func NewRegistry() *Registry {
	return &Registry{byBytecode: make(map[ids.BytecodeId]Application)}
}

// Publish registers app under bytecodeID, the content hash a
// CreateApplication operation's ApplicationId.BytecodeId will reference.
func (r *Registry) Publish(bytecodeID ids.BytecodeId, app Application) {
	r.byBytecode[bytecodeID] = app
}

// Lookup returns the application published under id.BytecodeId, if any.
func (r *Registry) Lookup(id ids.ApplicationId) (Application, bool) {
	app, ok := r.byBytecode[id.BytecodeId]
	return app, ok
}
