package chainstate

import (
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
	"github.com/certen/microchain/pkg/wire"
)

// RoundKind distinguishes the three round shapes of spec.md §4.5.
type RoundKind uint8

const (
	RoundFast RoundKind = iota
	RoundMultiLeader
	RoundSingleLeader
)

// Round identifies a consensus round: Fast is always round 0; MultiLeader
// and SingleLeader rounds carry an increasing round number.
type Round struct {
	Kind   RoundKind
	Number uint32
}

func FastRound() Round                      { return Round{Kind: RoundFast} }
func MultiLeaderRound(n uint32) Round       { return Round{Kind: RoundMultiLeader, Number: n} }
func SingleLeaderRound(n uint32) Round      { return Round{Kind: RoundSingleLeader, Number: n} }

func (r Round) MarshalCanonical(e *wire.Encoder) {
	e.U8(uint8(r.Kind))
	e.U32(r.Number)
}

func decodeRound(d *wire.Decoder) Round {
	return Round{Kind: RoundKind(d.U8()), Number: d.U32()}
}

// Less reports whether r sorts strictly before other in round-progression
// order: Fast < MultiLeader(1) < MultiLeader(2) < ... < SingleLeader(1) < ...
func (r Round) Less(other Round) bool {
	if r.Kind != other.Kind {
		return r.Kind < other.Kind
	}
	return r.Number < other.Number
}

// Vote is one owner's signed commitment to a certificate value at a round.
type Vote struct {
	Round     Round
	Value     CertificateValue
	Signer    ids.Owner
	Signature ids.Signature
}

func (v Vote) MarshalCanonical(e *wire.Encoder) {
	v.Round.MarshalCanonical(e)
	v.Value.MarshalCanonical(e)
	e.Bytes32(v.Signer)
	e.Bytes64(v.Signature)
}

func decodeVote(d *wire.Decoder) Vote {
	return Vote{
		Round:     decodeRound(d),
		Value:     DecodeCertificateValue(d),
		Signer:    d.Bytes32(),
		Signature: d.Bytes64(),
	}
}

// ManagerState is the persisted round/proposal/lock bookkeeping of
// spec.md §3/§4.5's Manager subview. The round-advancing algorithm itself
// (leader election, timeout handling, vote issuance) lives in pkg/consensus
// and operates on this state rather than owning it.
type ManagerState struct {
	CurrentRound Round

	HasLeader bool
	Leader    ids.Owner

	HasPendingProposal bool
	PendingProposal    Block

	HasLockedCertificate bool
	LockedCertificate    Certificate

	HasLatestTimeoutCertificate bool
	LatestTimeoutCertificate    Certificate

	PendingVotes []Vote

	RoundStartedAtUnixMillis int64
}

func (m ManagerState) MarshalCanonical(e *wire.Encoder) {
	m.CurrentRound.MarshalCanonical(e)
	e.Optional(m.HasLeader, func(e *wire.Encoder) { e.Bytes32(m.Leader) })
	e.Optional(m.HasPendingProposal, func(e *wire.Encoder) { m.PendingProposal.MarshalCanonical(e) })
	e.Optional(m.HasLockedCertificate, func(e *wire.Encoder) { marshalCertificate(m.LockedCertificate, e) })
	e.Optional(m.HasLatestTimeoutCertificate, func(e *wire.Encoder) { marshalCertificate(m.LatestTimeoutCertificate, e) })
	wire.Slice(e, m.PendingVotes, func(e *wire.Encoder, v Vote) { v.MarshalCanonical(e) })
	e.U64(uint64(m.RoundStartedAtUnixMillis))
}

func marshalCertificate(c Certificate, e *wire.Encoder) {
	c.Value.MarshalCanonical(e)
	wire.Slice(e, c.Signatures, func(e *wire.Encoder, s PartialSignature) {
		e.Bytes32(s.Signer)
		e.Bytes64(s.Signature)
	})
}

func decodeCertificate(d *wire.Decoder) Certificate {
	value := DecodeCertificateValue(d)
	sigs := wire.DecodeSlice(d, func(d *wire.Decoder) PartialSignature {
		return PartialSignature{Signer: d.Bytes32(), Signature: d.Bytes64()}
	})
	return Certificate{Value: value, Signatures: sigs}
}

// MarshalCanonical lets a Certificate travel the wire on its own, outside
// a ManagerState (the RPC surface ships bare certificates).
func (c Certificate) MarshalCanonical(e *wire.Encoder) { marshalCertificate(c, e) }

func DecodeCertificate(d *wire.Decoder) Certificate { return decodeCertificate(d) }

func DecodeVote(d *wire.Decoder) Vote { return decodeVote(d) }

func DecodeManagerState(d *wire.Decoder) ManagerState { return decodeManagerState(d) }

func decodeManagerState(d *wire.Decoder) ManagerState {
	var m ManagerState
	m.CurrentRound = decodeRound(d)
	m.HasLeader = d.Optional(func(d *wire.Decoder) { m.Leader = d.Bytes32() })
	m.HasPendingProposal = d.Optional(func(d *wire.Decoder) { m.PendingProposal = DecodeBlock(d) })
	m.HasLockedCertificate = d.Optional(func(d *wire.Decoder) { m.LockedCertificate = decodeCertificate(d) })
	m.HasLatestTimeoutCertificate = d.Optional(func(d *wire.Decoder) { m.LatestTimeoutCertificate = decodeCertificate(d) })
	m.PendingVotes = wire.DecodeSlice(d, decodeVote)
	m.RoundStartedAtUnixMillis = int64(d.U64())
	return m
}

var managerStateCodec = wireCodec[ManagerState]{
	marshal:   func(v ManagerState, e *wire.Encoder) { v.MarshalCanonical(e) },
	unmarshal: decodeManagerState,
}

// Manager wraps a RegisterView over ManagerState.
type Manager struct {
	*store.RegisterView[ManagerState]
}

func newManager(ctx *store.Context) Manager {
	return Manager{store.NewRegisterView[ManagerState](ctx, managerStateCodec)}
}
