// Package chainstate implements the chain state view (spec.md C2): the
// composite, chain-rooted view over tip state, confirmed/received logs,
// inboxes, outboxes, channels, execution state, manager state, and pending
// blobs, plus the four composite operations named in spec.md §4.2.
package chainstate

import (
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/wire"
)

// MessageKind classifies an outgoing/inbound message's delivery contract,
// per spec.md §3/§4.3.
type MessageKind uint8

const (
	KindSimple MessageKind = iota
	KindTracked
	KindBouncing
)

// IncomingAction is the recipient's decision on an incoming message.
type IncomingAction uint8

const (
	ActionAccept IncomingAction = iota
	ActionReject
)

// AdminChannelName is the reserved channel the system broadcasts
// bytecode publications and application registrations on; subscribers
// fetch bytecodes before applications built on them start messaging
// them.
const AdminChannelName ids.ChannelName = "admin"

// Medium identifies how a message reached (or will reach) a recipient:
// directly, or via a named channel broadcast.
type Medium struct {
	IsChannel   bool
	ChannelName ids.ChannelName
	Application ids.ApplicationId
}

func DirectMedium() Medium { return Medium{} }

func ChannelMedium(name ids.ChannelName, app ids.ApplicationId) Medium {
	return Medium{IsChannel: true, ChannelName: name, Application: app}
}

func (m Medium) MarshalCanonical(e *wire.Encoder) {
	e.Bool(m.IsChannel)
	if m.IsChannel {
		e.String(string(m.ChannelName))
		e.Bytes32(m.Application.BytecodeId)
		e.U64(uint64(m.Application.CreationEventId.Height))
		e.U32(m.Application.CreationEventId.Index)
		e.Bytes32(m.Application.CreationEventId.ChainID)
	}
}

func DecodeMedium(d *wire.Decoder) Medium {
	m := Medium{IsChannel: d.Bool()}
	if m.IsChannel {
		m.ChannelName = ids.ChannelName(d.String())
		m.Application.BytecodeId = d.Bytes32()
		h := ids.BlockHeight(d.U64())
		idx := d.U32()
		chain := d.Bytes32()
		m.Application.CreationEventId = ids.MessageId{ChainID: chain, Height: h, Index: idx}
	}
	return m
}

// Origin identifies the (sender chain, medium) pair an inbox is keyed by.
type Origin struct {
	Sender ids.ChainId
	Medium Medium
}

func (o Origin) Key() string {
	b := wire.Encode(originMarshaler{o})
	return string(b)
}

type originMarshaler struct{ o Origin }

func (m originMarshaler) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(m.o.Sender)
	m.o.Medium.MarshalCanonical(e)
}

// Destination identifies where an outgoing message is headed: a single
// recipient chain, or every current subscriber of a channel.
// Destination identifies where an outgoing message is headed. A channel is
// identified by (application_id, channel_name) per spec.md §4.4: Application
// names the app that owns ChannelName, not the app a Recipient-addressed
// message is delivered to (that app is named by the message bytes/medium on
// the recipient's own inbox side instead).
type Destination struct {
	IsSubscribers bool
	Recipient     ids.ChainId
	ChannelName   ids.ChannelName
	Application   ids.ApplicationId
}

func RecipientDestination(chain ids.ChainId) Destination {
	return Destination{Recipient: chain}
}

func SubscribersDestination(app ids.ApplicationId, name ids.ChannelName) Destination {
	return Destination{IsSubscribers: true, ChannelName: name, Application: app}
}

func (d Destination) MarshalCanonical(e *wire.Encoder) {
	e.Bool(d.IsSubscribers)
	if d.IsSubscribers {
		e.String(string(d.ChannelName))
		e.Bytes32(d.Application.BytecodeId)
		e.U64(uint64(d.Application.CreationEventId.Height))
		e.U32(d.Application.CreationEventId.Index)
		e.Bytes32(d.Application.CreationEventId.ChainID)
	} else {
		e.Bytes32(d.Recipient)
	}
}

func DecodeDestination(d *wire.Decoder) Destination {
	out := Destination{IsSubscribers: d.Bool()}
	if out.IsSubscribers {
		out.ChannelName = ids.ChannelName(d.String())
		out.Application.BytecodeId = d.Bytes32()
		h := ids.BlockHeight(d.U64())
		idx := d.U32()
		chain := d.Bytes32()
		out.Application.CreationEventId = ids.MessageId{ChainID: chain, Height: h, Index: idx}
	} else {
		out.Recipient = d.Bytes32()
	}
	return out
}

// Event is one message queued in an inbox, prior to being accepted or
// rejected by a proposed block.
type Event struct {
	Index              uint32
	Kind               MessageKind
	HasSigner          bool
	AuthenticatedSigner ids.Owner
	Grant              ids.Amount
	HasRefundTarget    bool
	RefundTarget       ids.ChainId
	Message            []byte
}

func (ev Event) MarshalCanonical(e *wire.Encoder) {
	e.U32(ev.Index)
	e.U8(uint8(ev.Kind))
	e.Optional(ev.HasSigner, func(e *wire.Encoder) { e.Bytes32(ev.AuthenticatedSigner) })
	e.U64(uint64(ev.Grant))
	e.Optional(ev.HasRefundTarget, func(e *wire.Encoder) { e.Bytes32(ev.RefundTarget) })
	e.Bytes(ev.Message)
}

func DecodeEvent(d *wire.Decoder) Event {
	var ev Event
	ev.Index = d.U32()
	ev.Kind = MessageKind(d.U8())
	ev.HasSigner = d.Optional(func(d *wire.Decoder) { ev.AuthenticatedSigner = d.Bytes32() })
	ev.Grant = ids.Amount(d.U64())
	ev.HasRefundTarget = d.Optional(func(d *wire.Decoder) { ev.RefundTarget = d.Bytes32() })
	ev.Message = d.Bytes()
	return ev
}

// AddedEvent is an Event enqueued into an inbox's added-events queue,
// tagged with the certificate/height it arrived in, per spec.md §3.
type AddedEvent struct {
	CertificateHash ids.CryptoHash
	Height          ids.BlockHeight
	Timestamp       int64
	Event           Event
}

func (a AddedEvent) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(a.CertificateHash)
	e.U64(uint64(a.Height))
	e.U64(uint64(a.Timestamp))
	a.Event.MarshalCanonical(e)
}

func DecodeAddedEvent(d *wire.Decoder) AddedEvent {
	return AddedEvent{
		CertificateHash: d.Bytes32(),
		Height:          ids.BlockHeight(d.U64()),
		Timestamp:       int64(d.U64()),
		Event:           DecodeEvent(d),
	}
}

// RemovedEvent is an AddedEvent moved out of the added-events queue once
// accepted by a block, pending the cross-chain acknowledgement that lets it
// be forgotten entirely.
type RemovedEvent = AddedEvent

// IncomingMessage names one (origin, event) pair a proposed block is
// deciding to accept or reject. Height carries the origin's outbox height
// this event arrived at, copied from the inbox's AddedEvent, so that a
// confirmed block's IncomingMessages alone are enough to derive the
// highest height accepted per origin (needed to build the
// ConfirmUpdatedRecipient cross-chain request, per spec.md §6) without
// re-inspecting inbox state after commit.
type IncomingMessage struct {
	Origin Origin
	Event  Event
	Action IncomingAction
	Height ids.BlockHeight
}

func (m IncomingMessage) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(m.Origin.Sender)
	m.Origin.Medium.MarshalCanonical(e)
	m.Event.MarshalCanonical(e)
	e.U8(uint8(m.Action))
	e.U64(uint64(m.Height))
}

func DecodeIncomingMessage(d *wire.Decoder) IncomingMessage {
	sender := d.Bytes32()
	medium := DecodeMedium(d)
	ev := DecodeEvent(d)
	action := IncomingAction(d.U8())
	height := ids.BlockHeight(d.U64())
	return IncomingMessage{Origin: Origin{Sender: sender, Medium: medium}, Event: ev, Action: action, Height: height}
}

// Operation is an application-addressed, opaque operation payload within a
// block. The runtime (pkg/execution) interprets the bytes; the chain state
// view only threads them through unchanged.
type Operation struct {
	Application ids.ApplicationId
	Bytes       []byte
}

func (op Operation) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(op.Application.BytecodeId)
	e.U64(uint64(op.Application.CreationEventId.Height))
	e.U32(op.Application.CreationEventId.Index)
	e.Bytes32(op.Application.CreationEventId.ChainID)
	e.Bytes(op.Bytes)
}

func DecodeOperation(d *wire.Decoder) Operation {
	var op Operation
	op.Application.BytecodeId = d.Bytes32()
	h := ids.BlockHeight(d.U64())
	idx := d.U32()
	chain := d.Bytes32()
	op.Application.CreationEventId = ids.MessageId{ChainID: chain, Height: h, Index: idx}
	op.Bytes = d.Bytes()
	return op
}

// Block is a proposed or committed batch of accepted incoming messages and
// operations at a specific height on a specific chain, per spec.md §3.
type Block struct {
	ChainID             ids.ChainId
	Epoch               ids.Epoch
	Height              ids.BlockHeight
	Timestamp           int64
	HasPreviousBlockHash bool
	PreviousBlockHash   ids.CryptoHash
	HasAuthenticatedSigner bool
	AuthenticatedSigner ids.Owner
	IncomingMessages    []IncomingMessage
	Operations          []Operation
}

func (b Block) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(b.ChainID)
	e.U64(uint64(b.Epoch))
	e.U64(uint64(b.Height))
	e.U64(uint64(b.Timestamp))
	e.Optional(b.HasPreviousBlockHash, func(e *wire.Encoder) { e.Bytes32(b.PreviousBlockHash) })
	e.Optional(b.HasAuthenticatedSigner, func(e *wire.Encoder) { e.Bytes32(b.AuthenticatedSigner) })
	wire.Slice(e, b.IncomingMessages, func(e *wire.Encoder, m IncomingMessage) { m.MarshalCanonical(e) })
	wire.Slice(e, b.Operations, func(e *wire.Encoder, op Operation) { op.MarshalCanonical(e) })
}

func DecodeBlock(d *wire.Decoder) Block {
	var b Block
	b.ChainID = d.Bytes32()
	b.Epoch = ids.Epoch(d.U64())
	b.Height = ids.BlockHeight(d.U64())
	b.Timestamp = int64(d.U64())
	b.HasPreviousBlockHash = d.Optional(func(d *wire.Decoder) { b.PreviousBlockHash = d.Bytes32() })
	b.HasAuthenticatedSigner = d.Optional(func(d *wire.Decoder) { b.AuthenticatedSigner = d.Bytes32() })
	b.IncomingMessages = wire.DecodeSlice(d, DecodeIncomingMessage)
	b.Operations = wire.DecodeSlice(d, DecodeOperation)
	return b
}

func (b Block) Hash() ids.CryptoHash { return wire.Hash(b) }

// OutgoingMessage is one message a block's execution produced, per
// spec.md §3/§4.3.
type OutgoingMessage struct {
	Destination     Destination
	Authenticated   bool
	Kind            MessageKind
	Grant           ids.Amount
	HasRefundTarget bool
	RefundTarget    ids.ChainId
	Message         []byte
}

func (m OutgoingMessage) MarshalCanonical(e *wire.Encoder) {
	m.Destination.MarshalCanonical(e)
	e.Bool(m.Authenticated)
	e.U8(uint8(m.Kind))
	e.U64(uint64(m.Grant))
	e.Optional(m.HasRefundTarget, func(e *wire.Encoder) { e.Bytes32(m.RefundTarget) })
	e.Bytes(m.Message)
}

func DecodeOutgoingMessage(d *wire.Decoder) OutgoingMessage {
	var m OutgoingMessage
	m.Destination = DecodeDestination(d)
	m.Authenticated = d.Bool()
	m.Kind = MessageKind(d.U8())
	m.Grant = ids.Amount(d.U64())
	m.HasRefundTarget = d.Optional(func(d *wire.Decoder) { m.RefundTarget = d.Bytes32() })
	m.Message = d.Bytes()
	return m
}

// BlockExecutionOutcome is the deterministic result of executing a Block,
// per spec.md §3/§4.3: outgoing messages, per-operation message counts, the
// resulting state hash, and the ordered oracle responses recorded (or
// replayed) during execution.
type BlockExecutionOutcome struct {
	Messages       []OutgoingMessage
	MessageCounts  []uint32
	StateHash      ids.CryptoHash
	OracleResponses [][]byte
}

func (o BlockExecutionOutcome) MarshalCanonical(e *wire.Encoder) {
	wire.Slice(e, o.Messages, func(e *wire.Encoder, m OutgoingMessage) { m.MarshalCanonical(e) })
	wire.Slice(e, o.MessageCounts, func(e *wire.Encoder, c uint32) { e.U32(c) })
	e.Bytes32(o.StateHash)
	wire.Slice(e, o.OracleResponses, func(e *wire.Encoder, r []byte) { e.Bytes(r) })
}

func DecodeBlockExecutionOutcome(d *wire.Decoder) BlockExecutionOutcome {
	var o BlockExecutionOutcome
	o.Messages = wire.DecodeSlice(d, DecodeOutgoingMessage)
	o.MessageCounts = wire.DecodeSlice(d, func(d *wire.Decoder) uint32 { return d.U32() })
	o.StateHash = d.Bytes32()
	o.OracleResponses = wire.DecodeSlice(d, func(d *wire.Decoder) []byte { return d.Bytes() })
	return o
}

// ExecutedBlock pairs a Block with the outcome of executing it.
type ExecutedBlock struct {
	Block   Block
	Outcome BlockExecutionOutcome
}

func (e ExecutedBlock) MarshalCanonical(enc *wire.Encoder) {
	e.Block.MarshalCanonical(enc)
	e.Outcome.MarshalCanonical(enc)
}

func DecodeExecutedBlock(d *wire.Decoder) ExecutedBlock {
	return ExecutedBlock{Block: DecodeBlock(d), Outcome: DecodeBlockExecutionOutcome(d)}
}

func (e ExecutedBlock) Hash() ids.CryptoHash { return wire.Hash(e) }

// CertificateValueKind tags the CertificateValue sum type, per spec.md §3.
type CertificateValueKind uint8

const (
	CertValidatedBlock CertificateValueKind = iota
	CertConfirmedBlock
	CertTimeout
)

// CertificateValue is the value a Certificate's aggregated signature
// attests to.
type CertificateValue struct {
	Kind          CertificateValueKind
	ExecutedBlock ExecutedBlock // valid for CertValidatedBlock/CertConfirmedBlock

	// valid for CertTimeout
	ChainID ids.ChainId
	Height  ids.BlockHeight
	Epoch   ids.Epoch
}

func (v CertificateValue) MarshalCanonical(e *wire.Encoder) {
	e.U8(uint8(v.Kind))
	switch v.Kind {
	case CertValidatedBlock, CertConfirmedBlock:
		v.ExecutedBlock.MarshalCanonical(e)
	case CertTimeout:
		e.Bytes32(v.ChainID)
		e.U64(uint64(v.Height))
		e.U64(uint64(v.Epoch))
	}
}

func DecodeCertificateValue(d *wire.Decoder) CertificateValue {
	var v CertificateValue
	v.Kind = CertificateValueKind(d.U8())
	switch v.Kind {
	case CertValidatedBlock, CertConfirmedBlock:
		v.ExecutedBlock = DecodeExecutedBlock(d)
	case CertTimeout:
		v.ChainID = d.Bytes32()
		v.Height = ids.BlockHeight(d.U64())
		v.Epoch = ids.Epoch(d.U64())
	}
	return v
}

func (v CertificateValue) Hash() ids.CryptoHash { return wire.Hash(v) }

// PartialSignature is one committee member's signature over a
// CertificateValue's hash.
type PartialSignature struct {
	Signer    ids.Owner
	Signature ids.Signature
}

// Certificate is a CertificateValue plus an aggregated BFT signature from
// >=2/3 voting weight of the epoch's committee, per spec.md §3.
type Certificate struct {
	Value      CertificateValue
	Signatures []PartialSignature
}

func (c Certificate) Hash() ids.CryptoHash { return c.Value.Hash() }

// Lite returns the LiteCertificate view of c (hash + signatures only).
func (c Certificate) Lite() LiteCertificate {
	return LiteCertificate{Hash: c.Hash(), Signatures: c.Signatures}
}

// LiteCertificate carries only the certified value's hash and the
// aggregated signature, for callers that already hold (or don't need) the
// full value.
type LiteCertificate struct {
	Hash       ids.CryptoHash
	Signatures []PartialSignature
}
