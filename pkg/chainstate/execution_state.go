package chainstate

import (
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
	"github.com/certen/microchain/pkg/wire"
)

// CommitteeMember is one validator's identity and voting weight within a
// committee, per spec.md §3/glossary.
type CommitteeMember struct {
	Validator ids.Owner
	Weight    uint64
}

// Committee is the set of validators authorized at a given epoch.
type Committee struct {
	Members []CommitteeMember
}

func (c Committee) MarshalCanonical(e *wire.Encoder) {
	wire.Slice(e, c.Members, func(e *wire.Encoder, m CommitteeMember) {
		e.Bytes32(m.Validator)
		e.U64(m.Weight)
	})
}

func DecodeCommittee(d *wire.Decoder) Committee { return decodeCommittee(d) }

func decodeCommittee(d *wire.Decoder) Committee {
	return Committee{Members: wire.DecodeSlice(d, func(d *wire.Decoder) CommitteeMember {
		return CommitteeMember{Validator: d.Bytes32(), Weight: d.U64()}
	})}
}

var committeeCodec = wireCodec[Committee]{
	marshal:   func(v Committee, e *wire.Encoder) { v.MarshalCanonical(e) },
	unmarshal: decodeCommittee,
}

// TotalWeight sums every member's voting weight.
func (c Committee) TotalWeight() uint64 {
	var total uint64
	for _, m := range c.Members {
		total += m.Weight
	}
	return total
}

// WeightOf returns the voting weight attributed to owner, or 0 if absent.
func (c Committee) WeightOf(owner ids.Owner) uint64 {
	for _, m := range c.Members {
		if m.Validator == owner {
			return m.Weight
		}
	}
	return 0
}

// Ownership names who may propose blocks on a chain and in what mode, per
// spec.md §4.5. A single owner runs in single-owner mode (round 0 always
// valid); more than one runs in multi-owner round-based mode.
type Ownership struct {
	Owners      []ids.Owner
	SuperOwners []ids.Owner // may propose in any round, not just their assigned multi-leader slot
}

func (o Ownership) MarshalCanonical(e *wire.Encoder) {
	wire.Slice(e, o.Owners, func(e *wire.Encoder, v ids.Owner) { e.Bytes32(v) })
	wire.Slice(e, o.SuperOwners, func(e *wire.Encoder, v ids.Owner) { e.Bytes32(v) })
}

func DecodeOwnership(d *wire.Decoder) Ownership { return decodeOwnership(d) }

func decodeOwnership(d *wire.Decoder) Ownership {
	return Ownership{
		Owners:      wire.DecodeSlice(d, func(d *wire.Decoder) ids.Owner { return d.Bytes32() }),
		SuperOwners: wire.DecodeSlice(d, func(d *wire.Decoder) ids.Owner { return d.Bytes32() }),
	}
}

// IsMultiOwner reports whether more than one owner can propose blocks.
func (o Ownership) IsMultiOwner() bool { return len(o.Owners)+len(o.SuperOwners) > 1 }

// IsOwner reports whether owner may propose blocks on this chain.
func (o Ownership) IsOwner(owner ids.Owner) bool {
	for _, v := range o.Owners {
		if v == owner {
			return true
		}
	}
	for _, v := range o.SuperOwners {
		if v == owner {
			return true
		}
	}
	return false
}

// ApplicationPermissions restricts which operations a chain will execute
// and who may close it. spec.md §9's open question #2: close_chain
// authorization is OR'd with plain signer/owner authorization, matching the
// source material as-is (see DESIGN.md).
type ApplicationPermissions struct {
	CloseChainAllowlist []ids.ApplicationId
	HasCloseChainAllowlist bool
}

func (p ApplicationPermissions) MarshalCanonical(e *wire.Encoder) {
	e.Bool(p.HasCloseChainAllowlist)
	wire.Slice(e, p.CloseChainAllowlist, func(e *wire.Encoder, a ids.ApplicationId) {
		e.Bytes32(a.BytecodeId)
		e.U64(uint64(a.CreationEventId.Height))
		e.U32(a.CreationEventId.Index)
		e.Bytes32(a.CreationEventId.ChainID)
	})
}

func decodeApplicationPermissions(d *wire.Decoder) ApplicationPermissions {
	has := d.Bool()
	list := wire.DecodeSlice(d, func(d *wire.Decoder) ids.ApplicationId {
		bc := d.Bytes32()
		h := ids.BlockHeight(d.U64())
		idx := d.U32()
		chain := d.Bytes32()
		return ids.ApplicationId{BytecodeId: bc, CreationEventId: ids.MessageId{ChainID: chain, Height: h, Index: idx}}
	})
	return ApplicationPermissions{HasCloseChainAllowlist: has, CloseChainAllowlist: list}
}

// CanClose reports whether signer may close the chain: either signer is a
// chain owner, OR signer's calling application is on the close_chain
// allowlist. This OR is exactly what spec.md §9 flags as possibly
// unintentional upstream; preserved here rather than guessed away.
func (p ApplicationPermissions) CanClose(ownership Ownership, signer ids.Owner, callingApp *ids.ApplicationId) bool {
	if ownership.IsOwner(signer) {
		return true
	}
	if !p.HasCloseChainAllowlist || callingApp == nil {
		return false
	}
	for _, app := range p.CloseChainAllowlist {
		if app == *callingApp {
			return true
		}
	}
	return false
}

// SystemSubstate is the scalar portion of spec.md §3's ExecutionState:
// everything except committees-by-epoch and per-application byte state,
// which are their own views below.
type SystemSubstate struct {
	Balance   ids.Amount
	Epoch     ids.Epoch
	Ownership Ownership
	Permissions ApplicationPermissions
	Closed    bool
	HasAdminID bool
	AdminID   ids.ChainId
}

func (s SystemSubstate) MarshalCanonical(e *wire.Encoder) {
	e.U64(uint64(s.Balance))
	e.U64(uint64(s.Epoch))
	s.Ownership.MarshalCanonical(e)
	s.Permissions.MarshalCanonical(e)
	e.Bool(s.Closed)
	e.Optional(s.HasAdminID, func(e *wire.Encoder) { e.Bytes32(s.AdminID) })
}

func decodeSystemSubstate(d *wire.Decoder) SystemSubstate {
	var s SystemSubstate
	s.Balance = ids.Amount(d.U64())
	s.Epoch = ids.Epoch(d.U64())
	s.Ownership = decodeOwnership(d)
	s.Permissions = decodeApplicationPermissions(d)
	s.Closed = d.Bool()
	s.HasAdminID = d.Optional(func(d *wire.Decoder) { s.AdminID = d.Bytes32() })
	return s
}

var systemSubstateCodec = wireCodec[SystemSubstate]{
	marshal:   func(v SystemSubstate, e *wire.Encoder) { v.MarshalCanonical(e) },
	unmarshal: decodeSystemSubstate,
}

// ApplicationDescription records a registered application's bytecode and
// creation event, mirroring ids.ApplicationId's own fields plus opaque
// instantiation parameters.
type ApplicationDescription struct {
	ID         ids.ApplicationId
	Parameters []byte
}

func (a ApplicationDescription) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(a.ID.BytecodeId)
	e.U64(uint64(a.ID.CreationEventId.Height))
	e.U32(a.ID.CreationEventId.Index)
	e.Bytes32(a.ID.CreationEventId.ChainID)
	e.Bytes(a.Parameters)
}

func decodeApplicationDescription(d *wire.Decoder) ApplicationDescription {
	var a ApplicationDescription
	a.ID.BytecodeId = d.Bytes32()
	h := ids.BlockHeight(d.U64())
	idx := d.U32()
	chain := d.Bytes32()
	a.ID.CreationEventId = ids.MessageId{ChainID: chain, Height: h, Index: idx}
	a.Parameters = d.Bytes()
	return a
}

var applicationDescriptionCodec = wireCodec[ApplicationDescription]{
	marshal:   func(v ApplicationDescription, e *wire.Encoder) { v.MarshalCanonical(e) },
	unmarshal: decodeApplicationDescription,
}

// applicationIDKeyCodec encodes an ApplicationId for use as a MapView key.
type applicationIDKeyCodec struct{}

func (applicationIDKeyCodec) Encode(k ids.ApplicationId) []byte {
	e := wire.NewEncoder()
	e.Bytes32(k.BytecodeId)
	e.U64(uint64(k.CreationEventId.Height))
	e.U32(k.CreationEventId.Index)
	e.Bytes32(k.CreationEventId.ChainID)
	return e.Buf()
}

func (applicationIDKeyCodec) Decode(b []byte) (ids.ApplicationId, error) {
	d := wire.NewDecoder(b)
	bc := d.Bytes32()
	h := ids.BlockHeight(d.U64())
	idx := d.U32()
	chain := d.Bytes32()
	return ids.ApplicationId{BytecodeId: bc, CreationEventId: ids.MessageId{ChainID: chain, Height: h, Index: idx}}, d.Err()
}

// ExecutionState is spec.md §3's composite: scalar system substate,
// committees indexed by epoch, the application registry, per-application
// opaque byte state (mediated only by pkg/execution), and this chain's
// outbound channel subscriptions.
type ExecutionState struct {
	System              *store.RegisterView[SystemSubstate]
	Committees          *store.MapView[ids.Epoch, Committee]
	Applications        *store.MapView[ids.ApplicationId, ApplicationDescription]
	ApplicationState    *store.MapView[ids.ApplicationId, []byte]
	Subscriptions       *store.MapView[string, bool] // key: chain||channel

	// AnticipatedHeights records, per origin chain, the highest sender
	// height this chain already knows a message is coming from — e.g. the
	// opening message of a freshly created child chain. Bundles at or
	// below the anticipated height are accepted even when their epoch is
	// otherwise untrusted.
	AnticipatedHeights *store.MapView[ids.ChainId, ids.BlockHeight]
}

func newExecutionState(ctx *store.Context) *ExecutionState {
	return &ExecutionState{
		System:             store.NewRegisterView[SystemSubstate](ctx.Clone([]byte("sys")), systemSubstateCodec),
		Committees:         store.NewMapView[ids.Epoch, Committee](ctx.Clone([]byte("committees/")), epochKeyCodec{}, committeeCodec),
		Applications:       store.NewMapView[ids.ApplicationId, ApplicationDescription](ctx.Clone([]byte("apps/")), applicationIDKeyCodec{}, applicationDescriptionCodec),
		ApplicationState:   store.NewMapView[ids.ApplicationId, []byte](ctx.Clone([]byte("appstate/")), applicationIDKeyCodec{}, rawBytesCodec{}),
		Subscriptions:      store.NewMapView[string, bool](ctx.Clone([]byte("subs/")), rawStringKeyCodec{}, boolCodec),
		AnticipatedHeights: store.NewMapView[ids.ChainId, ids.BlockHeight](ctx.Clone([]byte("anticipated/")), chainIDKeyCodec{}, heightCodec),
	}
}

// SubscriptionKey builds the key under which a subscription to channel on
// target is tracked.
func SubscriptionKey(target ids.ChainId, channel ids.ChannelName) string {
	e := wire.NewEncoder()
	e.Bytes32(target)
	e.String(string(channel))
	return string(e.Buf())
}

type epochKeyCodec struct{}

func (epochKeyCodec) Encode(k ids.Epoch) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(k >> (8 * i))
	}
	return b
}
func (epochKeyCodec) Decode(b []byte) (ids.Epoch, error) {
	var v ids.Epoch
	for _, c := range b {
		v = v<<8 | ids.Epoch(c)
	}
	return v, nil
}

type rawBytesCodec struct{}

func (rawBytesCodec) Marshal(v []byte) ([]byte, error)   { return v, nil }
func (rawBytesCodec) Unmarshal(b []byte) ([]byte, error) { return b, nil }

type rawStringKeyCodec struct{}

func (rawStringKeyCodec) Encode(k string) []byte          { return []byte(k) }
func (rawStringKeyCodec) Decode(b []byte) (string, error) { return string(b), nil }
