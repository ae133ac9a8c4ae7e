// Copyright 2025 Certen Protocol

package execution

import (
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/wire"
)

// SystemApplicationID addresses an Operation to the chain itself rather
// than to a user application: bytecode publication and application
// creation are handled by the executor, not by a registered module.
var SystemApplicationID ids.ApplicationId

// SystemOperationKind tags the system operation sum.
type SystemOperationKind uint8

const (
	// SysPublishBytecode publishes content-addressed module bytes and
	// announces them on the admin channel.
	SysPublishBytecode SystemOperationKind = iota
	// SysCreateApplication instantiates an application from previously
	// published bytecode.
	SysCreateApplication
)

// SystemOperation is the decoded payload of an Operation addressed to
// SystemApplicationID.
type SystemOperation struct {
	Kind SystemOperationKind

	// Module carries the bytecode bytes for SysPublishBytecode.
	Module []byte

	// Bytecode and Parameters describe the application to create for
	// SysCreateApplication.
	Bytecode   ids.BytecodeId
	Parameters []byte
}

func (op SystemOperation) MarshalCanonical(e *wire.Encoder) {
	e.U8(uint8(op.Kind))
	switch op.Kind {
	case SysPublishBytecode:
		e.Bytes(op.Module)
	case SysCreateApplication:
		e.Bytes32(op.Bytecode)
		e.Bytes(op.Parameters)
	}
}

func DecodeSystemOperation(d *wire.Decoder) SystemOperation {
	var op SystemOperation
	op.Kind = SystemOperationKind(d.U8())
	switch op.Kind {
	case SysPublishBytecode:
		op.Module = d.Bytes()
	case SysCreateApplication:
		op.Bytecode = d.Bytes32()
		op.Parameters = d.Bytes()
	}
	return op
}

// AdminEventKind tags the events the system broadcasts on the admin
// channel.
type AdminEventKind uint8

const (
	// AdminPublishedBytecode announces newly published bytecode so
	// subscribers can fetch the blob before an application built on it
	// starts messaging them.
	AdminPublishedBytecode AdminEventKind = iota
	// AdminRegisterApplications announces a newly created application's
	// description.
	AdminRegisterApplications
)

// AdminEvent is the payload of an admin-channel broadcast.
type AdminEvent struct {
	Kind        AdminEventKind
	Bytecode    ids.BytecodeId
	Application ids.ApplicationId // valid for AdminRegisterApplications
	Parameters  []byte            // valid for AdminRegisterApplications
}

func (ev AdminEvent) MarshalCanonical(e *wire.Encoder) {
	e.U8(uint8(ev.Kind))
	e.Bytes32(ev.Bytecode)
	if ev.Kind == AdminRegisterApplications {
		e.Bytes32(ev.Application.BytecodeId)
		e.U64(uint64(ev.Application.CreationEventId.Height))
		e.U32(ev.Application.CreationEventId.Index)
		e.Bytes32(ev.Application.CreationEventId.ChainID)
		e.Bytes(ev.Parameters)
	}
}

func DecodeAdminEvent(d *wire.Decoder) AdminEvent {
	var ev AdminEvent
	ev.Kind = AdminEventKind(d.U8())
	ev.Bytecode = d.Bytes32()
	if ev.Kind == AdminRegisterApplications {
		ev.Application.BytecodeId = d.Bytes32()
		h := ids.BlockHeight(d.U64())
		idx := d.U32()
		chain := d.Bytes32()
		ev.Application.CreationEventId = ids.MessageId{ChainID: chain, Height: h, Index: idx}
		ev.Parameters = d.Bytes()
	}
	return ev
}

// runSystemOperation executes an Operation addressed to
// SystemApplicationID. opIndex disambiguates multiple creations within one
// block: it becomes the creation event's message index.
func (x *BlockExecutor) runSystemOperation(rt *Runtime, block chainstate.Block, opIndex int, raw []byte) error {
	d := wire.NewDecoder(raw)
	op := DecodeSystemOperation(d)
	if err := d.Err(); err != nil {
		return fmt.Errorf("execution: decode system operation: %w", err)
	}

	switch op.Kind {
	case SysPublishBytecode:
		blobID := ids.BlobId(wire.HashBytes(op.Module))
		if err := rt.view.PendingBlobs.Insert(blobID, op.Module); err != nil {
			return fmt.Errorf("execution: publish bytecode: %w", err)
		}
		rt.broadcastAdminEvent(AdminEvent{Kind: AdminPublishedBytecode, Bytecode: ids.BytecodeId(blobID)})
		return nil

	case SysCreateApplication:
		app, ok := x.registry.Lookup(ids.ApplicationId{BytecodeId: op.Bytecode})
		if !ok {
			return ErrBytecodeNotFound
		}
		appID := ids.ApplicationId{
			BytecodeId: op.Bytecode,
			CreationEventId: ids.MessageId{
				ChainID: block.ChainID,
				Height:  block.Height,
				Index:   uint32(opIndex),
			},
		}
		desc := chainstate.ApplicationDescription{ID: appID, Parameters: op.Parameters}
		if err := rt.view.Execution.Applications.Insert(appID, desc); err != nil {
			return fmt.Errorf("execution: create application: %w", err)
		}

		ctx := OperationContext{
			ChainID:             block.ChainID,
			Height:              block.Height,
			TimestampUnixMillis: rt.timestamp,
			Application:         appID,
		}
		if block.HasAuthenticatedSigner {
			signer := block.AuthenticatedSigner
			ctx.AuthenticatedSigner = &signer
		}
		if err := rt.pushFrame(appID); err != nil {
			return err
		}
		defer rt.popFrame()
		if err := app.Instantiate(&ctx, rt, op.Parameters); err != nil {
			return fmt.Errorf("execution: instantiate application: %w", err)
		}

		rt.broadcastAdminEvent(AdminEvent{
			Kind:        AdminRegisterApplications,
			Bytecode:    op.Bytecode,
			Application: appID,
			Parameters:  op.Parameters,
		})
		return nil

	default:
		return fmt.Errorf("execution: unknown system operation kind %d", op.Kind)
	}
}

// OpenChainMessage is the payload of the tracked message that creates a
// child chain: the child's initial ownership and the balance granted to
// it.
type OpenChainMessage struct {
	Ownership chainstate.Ownership
	Balance   ids.Amount
}

func (m OpenChainMessage) MarshalCanonical(e *wire.Encoder) {
	m.Ownership.MarshalCanonical(e)
	e.U64(uint64(m.Balance))
}

func DecodeOpenChainMessage(d *wire.Decoder) OpenChainMessage {
	return OpenChainMessage{
		Ownership: chainstate.DecodeOwnership(d),
		Balance:   ids.Amount(d.U64()),
	}
}

// ChildChainID derives a child chain's id from the id of the message that
// opened it.
func ChildChainID(creation ids.MessageId) ids.ChainId {
	e := wire.NewEncoder()
	e.Bytes32(creation.ChainID)
	e.U64(uint64(creation.Height))
	e.U32(creation.Index)
	return ids.ChainId(wire.HashBytes(e.Buf()))
}

// OpenChain debits balance from the chain's system balance and emits the
// tracked message that creates a child chain owned by ownership, per
// spec.md §4.3's open_chain host function. The returned id is the child's:
// the hash of the opening message's id, which the child's inbox will
// receive as its first event. A rejected opening message bounces the
// balance back, like any tracked grant.
func (rt *Runtime) OpenChain(ownership chainstate.Ownership, balance ids.Amount) (ids.ChainId, error) {
	sys, err := rt.view.Execution.System.Get()
	if err != nil {
		return ids.ChainId{}, fmt.Errorf("execution: open chain: %w", err)
	}
	if sys.Balance < balance {
		return ids.ChainId{}, fmt.Errorf("execution: open chain: insufficient balance")
	}
	sys.Balance -= balance
	rt.view.Execution.System.Set(sys)
	if err := rt.view.Execution.System.Save(); err != nil {
		return ids.ChainId{}, fmt.Errorf("execution: open chain: %w", err)
	}

	creation := ids.MessageId{ChainID: rt.chainID, Height: rt.height, Index: uint32(len(rt.messages))}
	child := ChildChainID(creation)
	payload := wire.Encode(OpenChainMessage{Ownership: ownership, Balance: balance})
	if err := rt.SendMessage(chainstate.RecipientDestination(child), chainstate.KindTracked, balance, payload); err != nil {
		return ids.ChainId{}, err
	}
	return child, nil
}

// broadcastAdminEvent fans ev out to every current admin-channel
// subscriber as a Simple message.
func (rt *Runtime) broadcastAdminEvent(ev AdminEvent) {
	rt.messages = append(rt.messages, chainstate.OutgoingMessage{
		Destination: chainstate.SubscribersDestination(SystemApplicationID, chainstate.AdminChannelName),
		Kind:        chainstate.KindSimple,
		Message:     wire.Encode(ev),
	})
}
