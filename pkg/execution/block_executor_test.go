package execution_test

import (
	"errors"
	"testing"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/execution"
	"github.com/certen/microchain/pkg/execution/mocksandbox"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
	"github.com/certen/microchain/pkg/wire"
)

func newTestView(t *testing.T, chainID ids.ChainId) *chainstate.ChainStateView {
	t.Helper()
	kv := store.NewMemoryKV()
	t.Cleanup(func() { _ = kv.Close() })
	return chainstate.NewChainStateView(store.NewContext(kv, append([]byte("chain/"), chainID[:]...)), chainID)
}

func testApplicationID(tag byte) ids.ApplicationId {
	var bc ids.BytecodeId
	bc[0] = tag
	return ids.ApplicationId{BytecodeId: bc}
}

func TestBlockExecutorDirectMessageCreditsBalance(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x01
	view := newTestView(t, chainID)

	registry := execution.NewRegistry()
	exec := execution.NewBlockExecutor(registry, execution.DefaultResourceLimits())

	var sender ids.ChainId
	sender[0] = 0x02
	origin := chainstate.Origin{Sender: sender, Medium: chainstate.DirectMedium()}

	if err := view.ReceiveMessageBundle(origin, chainstate.MessageBundle{
		Height: 0,
		Events: []chainstate.Event{{Index: 0, Kind: chainstate.KindSimple, Grant: 7, Message: []byte("hi")}},
	}); err != nil {
		t.Fatalf("receive bundle: %v", err)
	}

	block := chainstate.Block{
		ChainID: chainID,
		Height:  0,
		IncomingMessages: []chainstate.IncomingMessage{
			{Origin: origin, Event: chainstate.Event{Index: 0, Kind: chainstate.KindSimple, Grant: 7, Message: []byte("hi")}, Action: chainstate.ActionAccept, Height: 0},
		},
	}

	outcome, err := exec.Execute(view, block, 0, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcome.Messages) != 0 {
		t.Fatalf("expected no outgoing messages, got %d", len(outcome.Messages))
	}

	sys, err := view.Execution.System.Get()
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	if sys.Balance != 7 {
		t.Fatalf("expected balance 7, got %d", sys.Balance)
	}
}

func TestBlockExecutorOperationDispatchesToApplication(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x03
	view := newTestView(t, chainID)

	registry := execution.NewRegistry()
	appID := testApplicationID(0xAA)
	registry.Publish(appID.BytecodeId, mocksandbox.Counter{})

	exec := execution.NewBlockExecutor(registry, execution.DefaultResourceLimits())

	delta := make([]byte, 8)
	delta[7] = 5
	block := chainstate.Block{
		ChainID:    chainID,
		Height:     0,
		Operations: []chainstate.Operation{{Application: appID, Bytes: delta}},
	}

	outcome, err := exec.Execute(view, block, 0, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcome.MessageCounts) != 1 || outcome.MessageCounts[0] != 0 {
		t.Fatalf("unexpected message counts: %+v", outcome.MessageCounts)
	}

	b, _, err := view.Execution.ApplicationState.Get(appID)
	if err != nil {
		t.Fatalf("get app state: %v", err)
	}
	if len(b) != 8 || b[7] != 5 {
		t.Fatalf("unexpected app state: %v", b)
	}
}

func TestBlockExecutorReexecutionIsDeterministic(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x04
	view := newTestView(t, chainID)

	registry := execution.NewRegistry()
	appID := testApplicationID(0xBB)
	registry.Publish(appID.BytecodeId, mocksandbox.Counter{})
	exec := execution.NewBlockExecutor(registry, execution.DefaultResourceLimits())

	delta := make([]byte, 8)
	delta[7] = 3
	block := chainstate.Block{
		ChainID:    chainID,
		Height:     0,
		Operations: []chainstate.Operation{{Application: appID, Bytes: delta}},
	}

	snap := view.Snapshot()
	first, err := exec.Execute(view, block, 0, nil)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	view.RestoreTo(snap)

	second, err := exec.Execute(view, block, 0, first.OracleResponses)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if first.StateHash != second.StateHash {
		t.Fatalf("state hash mismatch across re-execution: %x vs %x", first.StateHash, second.StateHash)
	}
}

func TestBlockExecutorUnregisteredApplicationFails(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x05
	view := newTestView(t, chainID)

	registry := execution.NewRegistry()
	exec := execution.NewBlockExecutor(registry, execution.DefaultResourceLimits())

	block := chainstate.Block{
		ChainID:    chainID,
		Height:     0,
		Operations: []chainstate.Operation{{Application: testApplicationID(0xCC), Bytes: nil}},
	}

	if _, err := exec.Execute(view, block, 0, nil); err == nil {
		t.Fatal("expected an error for an unregistered application")
	}
}

func TestSystemOperationsPublishAndCreate(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x08
	view := newTestView(t, chainID)

	module := []byte("counter module bytes")
	bytecode := ids.BytecodeId(wire.HashBytes(module))

	registry := execution.NewRegistry()
	registry.Publish(bytecode, mocksandbox.Counter{})
	exec := execution.NewBlockExecutor(registry, execution.DefaultResourceLimits())

	publish := execution.SystemOperation{Kind: execution.SysPublishBytecode, Module: module}
	create := execution.SystemOperation{Kind: execution.SysCreateApplication, Bytecode: bytecode, Parameters: []byte("p")}
	block := chainstate.Block{
		ChainID: chainID,
		Height:  0,
		Operations: []chainstate.Operation{
			{Application: execution.SystemApplicationID, Bytes: wire.Encode(publish)},
			{Application: execution.SystemApplicationID, Bytes: wire.Encode(create)},
		},
	}

	outcome, err := exec.Execute(view, block, 0, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcome.Messages) != 2 {
		t.Fatalf("expected two admin broadcasts, got %d", len(outcome.Messages))
	}
	for i, m := range outcome.Messages {
		if !m.Destination.IsSubscribers || m.Destination.ChannelName != chainstate.AdminChannelName {
			t.Fatalf("message %d is not an admin-channel broadcast: %+v", i, m.Destination)
		}
	}
	if len(outcome.MessageCounts) != 2 || outcome.MessageCounts[0] != 1 || outcome.MessageCounts[1] != 1 {
		t.Fatalf("unexpected message counts: %v", outcome.MessageCounts)
	}

	// The published module is staged as a pending blob under its content
	// hash until the block commits.
	blob, ok, err := view.PendingBlobs.Get(ids.BlobId(bytecode))
	if err != nil || !ok {
		t.Fatalf("pending blob missing: ok=%v err=%v", ok, err)
	}
	if string(blob) != string(module) {
		t.Fatal("pending blob does not match the published module")
	}

	d := wire.NewDecoder(outcome.Messages[1].Message)
	event := execution.DecodeAdminEvent(d)
	if err := d.Err(); err != nil {
		t.Fatalf("decode admin event: %v", err)
	}
	if event.Kind != execution.AdminRegisterApplications || event.Bytecode != bytecode {
		t.Fatalf("unexpected admin event: %+v", event)
	}
	if event.Application.CreationEventId.Index != 1 || event.Application.CreationEventId.ChainID != chainID {
		t.Fatalf("unexpected creation event id: %+v", event.Application.CreationEventId)
	}

	desc, ok, err := view.Execution.Applications.Get(event.Application)
	if err != nil || !ok {
		t.Fatalf("application not registered: ok=%v err=%v", ok, err)
	}
	if string(desc.Parameters) != "p" {
		t.Fatalf("unexpected parameters: %q", desc.Parameters)
	}

	// Instantiate ran against the new application's state blob.
	state, ok, err := view.Execution.ApplicationState.Get(event.Application)
	if err != nil || !ok {
		t.Fatalf("application state missing after instantiate: ok=%v err=%v", ok, err)
	}
	if len(state) != 8 {
		t.Fatalf("unexpected instantiated state: %v", state)
	}
}

func TestTryCallApplicationAuthenticationModes(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x0B
	view := newTestView(t, chainID)

	probeID := testApplicationID(0xA1)
	authRelayID := testApplicationID(0xA2)
	plainRelayID := testApplicationID(0xA3)

	registry := execution.NewRegistry()
	registry.Publish(probeID.BytecodeId, mocksandbox.Probe{})
	registry.Publish(authRelayID.BytecodeId, mocksandbox.Relay{Callee: probeID, Authenticated: true})
	registry.Publish(plainRelayID.BytecodeId, mocksandbox.Relay{Callee: probeID, Authenticated: false})
	exec := execution.NewBlockExecutor(registry, execution.DefaultResourceLimits())

	block := chainstate.Block{
		ChainID: chainID,
		Height:  0,
		Operations: []chainstate.Operation{
			{Application: authRelayID},
			{Application: plainRelayID},
		},
	}
	if _, err := exec.Execute(view, block, 0, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, ok, err := view.Execution.ApplicationState.Get(authRelayID)
	if err != nil || !ok || len(got) != 1 || got[0] != 1 {
		t.Fatalf("authenticated call: probe reported %v (ok=%v err=%v), want [1]", got, ok, err)
	}
	got, ok, err = view.Execution.ApplicationState.Get(plainRelayID)
	if err != nil || !ok || len(got) != 1 || got[0] != 0 {
		t.Fatalf("unauthenticated call: probe reported %v (ok=%v err=%v), want [0]", got, ok, err)
	}
}

func TestTryCallApplicationReentrancyRejected(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x0C
	view := newTestView(t, chainID)

	xID := testApplicationID(0xA4)
	yID := testApplicationID(0xA5)

	registry := execution.NewRegistry()
	registry.Publish(xID.BytecodeId, mocksandbox.Relay{Callee: yID, Authenticated: true})
	registry.Publish(yID.BytecodeId, mocksandbox.Relay{Callee: xID, Authenticated: true})
	exec := execution.NewBlockExecutor(registry, execution.DefaultResourceLimits())

	block := chainstate.Block{
		ChainID:    chainID,
		Height:     0,
		Operations: []chainstate.Operation{{Application: xID}},
	}
	if _, err := exec.Execute(view, block, 0, nil); !errors.Is(err, execution.ErrReentrancyLocked) {
		t.Fatalf("expected ErrReentrancyLocked for a call cycle, got %v", err)
	}
}

func TestOpenChainDebitsBalanceAndEmitsCreation(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x0A
	view := newTestView(t, chainID)

	var owner ids.Owner
	owner[0] = 0x42
	view.Execution.System.Set(chainstate.SystemSubstate{Balance: 10})
	if err := view.Execution.System.Save(); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	registry := execution.NewRegistry()
	appID := testApplicationID(0xAB)
	registry.Publish(appID.BytecodeId, mocksandbox.Opener{})
	exec := execution.NewBlockExecutor(registry, execution.DefaultResourceLimits())

	endowment := make([]byte, 8)
	endowment[7] = 4
	block := chainstate.Block{
		ChainID:                chainID,
		Height:                 0,
		HasAuthenticatedSigner: true,
		AuthenticatedSigner:    owner,
		Operations:             []chainstate.Operation{{Application: appID, Bytes: endowment}},
	}

	outcome, err := exec.Execute(view, block, 0, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcome.Messages) != 1 {
		t.Fatalf("expected one opening message, got %d", len(outcome.Messages))
	}

	msg := outcome.Messages[0]
	wantChild := execution.ChildChainID(ids.MessageId{ChainID: chainID, Height: 0, Index: 0})
	if msg.Kind != chainstate.KindTracked || msg.Grant != 4 {
		t.Fatalf("unexpected opening message: %+v", msg)
	}
	if msg.Destination.IsSubscribers || msg.Destination.Recipient != wantChild {
		t.Fatalf("opening message addressed to %+v, want child %s", msg.Destination, wantChild)
	}

	d := wire.NewDecoder(msg.Message)
	open := execution.DecodeOpenChainMessage(d)
	if err := d.Err(); err != nil {
		t.Fatalf("decode open chain message: %v", err)
	}
	if open.Balance != 4 || len(open.Ownership.Owners) != 1 || open.Ownership.Owners[0] != owner {
		t.Fatalf("unexpected open chain payload: %+v", open)
	}

	sys, err := view.Execution.System.Get()
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	if sys.Balance != 6 {
		t.Fatalf("expected balance 6 after endowment, got %d", sys.Balance)
	}
}

func TestCreateApplicationUnknownBytecodeIsRetryable(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x09
	view := newTestView(t, chainID)

	exec := execution.NewBlockExecutor(execution.NewRegistry(), execution.DefaultResourceLimits())

	var unknown ids.BytecodeId
	unknown[0] = 0xEE
	create := execution.SystemOperation{Kind: execution.SysCreateApplication, Bytecode: unknown}
	block := chainstate.Block{
		ChainID:    chainID,
		Height:     0,
		Operations: []chainstate.Operation{{Application: execution.SystemApplicationID, Bytes: wire.Encode(create)}},
	}

	if _, err := exec.Execute(view, block, 0, nil); !errors.Is(err, execution.ErrBytecodeNotFound) {
		t.Fatalf("expected ErrBytecodeNotFound, got %v", err)
	}
}

func TestQuerierRunsReadOnly(t *testing.T) {
	var chainID ids.ChainId
	chainID[0] = 0x06
	view := newTestView(t, chainID)

	registry := execution.NewRegistry()
	appID := testApplicationID(0xDD)
	registry.Publish(appID.BytecodeId, mocksandbox.Counter{})

	if err := view.Execution.ApplicationState.Insert(appID, []byte{0, 0, 0, 0, 0, 0, 0, 9}); err != nil {
		t.Fatalf("seed app state: %v", err)
	}

	q := execution.NewQuerier(registry, execution.DefaultResourceLimits())
	out, err := q.Query(view, appID, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 8 || out[7] != 9 {
		t.Fatalf("unexpected query result: %v", out)
	}
}
