// Copyright 2025 Certen Protocol

package server

import (
	"fmt"
	"sort"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/wire"
	"github.com/certen/microchain/pkg/worker"
)

// BlockProposal is the body of a handle_block_proposal request: the round
// the proposer is claiming, the block itself, the validated certificate
// backing a re-proposal (if any), and the oracle responses the proposer is
// forcing, per spec.md §4.5 step 2.
type BlockProposal struct {
	Round chainstate.Round
	Block chainstate.Block

	HasValidatedCertificate bool
	ValidatedCertificate    chainstate.Certificate

	ForcedOracleResponses [][]byte
}

func (p BlockProposal) MarshalCanonical(e *wire.Encoder) {
	p.Round.MarshalCanonical(e)
	p.Block.MarshalCanonical(e)
	e.Optional(p.HasValidatedCertificate, func(e *wire.Encoder) { p.ValidatedCertificate.MarshalCanonical(e) })
	wire.Slice(e, p.ForcedOracleResponses, func(e *wire.Encoder, r []byte) { e.Bytes(r) })
}

func DecodeBlockProposal(d *wire.Decoder) BlockProposal {
	var p BlockProposal
	p.Round = decodeRound(d)
	p.Block = chainstate.DecodeBlock(d)
	p.HasValidatedCertificate = d.Optional(func(d *wire.Decoder) { p.ValidatedCertificate = chainstate.DecodeCertificate(d) })
	p.ForcedOracleResponses = wire.DecodeSlice(d, func(d *wire.Decoder) []byte { return d.Bytes() })
	return p
}

func decodeRound(d *wire.Decoder) chainstate.Round {
	kind := chainstate.RoundKind(d.U8())
	number := d.U32()
	return chainstate.Round{Kind: kind, Number: number}
}

// ProposalResponse answers handle_block_proposal: either the proposal was
// skipped (height already committed), or a validated-block vote.
type ProposalResponse struct {
	Skipped bool

	HasVote bool
	Vote    chainstate.Vote
}

func (r ProposalResponse) MarshalCanonical(e *wire.Encoder) {
	e.Bool(r.Skipped)
	e.Optional(r.HasVote, func(e *wire.Encoder) { r.Vote.MarshalCanonical(e) })
}

func DecodeProposalResponse(d *wire.Decoder) ProposalResponse {
	var r ProposalResponse
	r.Skipped = d.Bool()
	r.HasVote = d.Optional(func(d *wire.Decoder) { r.Vote = chainstate.DecodeVote(d) })
	return r
}

// CertificateEnvelope is the body of a handle_certificate request: the full
// certificate plus the hashed certificate values and blobs the recipient
// may be missing, per spec.md §6.
type CertificateEnvelope struct {
	Certificate  chainstate.Certificate
	HashedValues []chainstate.CertificateValue
	Blobs        [][]byte
}

func (c CertificateEnvelope) MarshalCanonical(e *wire.Encoder) {
	c.Certificate.MarshalCanonical(e)
	wire.Slice(e, c.HashedValues, func(e *wire.Encoder, v chainstate.CertificateValue) { v.MarshalCanonical(e) })
	wire.Slice(e, c.Blobs, func(e *wire.Encoder, b []byte) { e.Bytes(b) })
}

func DecodeCertificateEnvelope(d *wire.Decoder) CertificateEnvelope {
	return CertificateEnvelope{
		Certificate:  chainstate.DecodeCertificate(d),
		HashedValues: wire.DecodeSlice(d, chainstate.DecodeCertificateValue),
		Blobs:        wire.DecodeSlice(d, func(d *wire.Decoder) []byte { return d.Bytes() }),
	}
}

// LiteCertificateEnvelope is the body of a handle_lite_certificate request:
// hash and aggregated signature only; the receiving validator resolves the
// value from its own shared store.
type LiteCertificateEnvelope struct {
	Hash       ids.CryptoHash
	Signatures []chainstate.PartialSignature
}

func (l LiteCertificateEnvelope) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(l.Hash)
	wire.Slice(e, l.Signatures, func(e *wire.Encoder, s chainstate.PartialSignature) {
		e.Bytes32(s.Signer)
		e.Bytes64(s.Signature)
	})
}

func DecodeLiteCertificateEnvelope(d *wire.Decoder) LiteCertificateEnvelope {
	return LiteCertificateEnvelope{
		Hash: d.Bytes32(),
		Signatures: wire.DecodeSlice(d, func(d *wire.Decoder) chainstate.PartialSignature {
			return chainstate.PartialSignature{Signer: d.Bytes32(), Signature: d.Bytes64()}
		}),
	}
}

// CertificateResponse answers handle_certificate and
// handle_lite_certificate: the confirmed-block vote produced by a
// validated certificate (if any), plus the chain's post-dispatch info.
type CertificateResponse struct {
	HasVote bool
	Vote    chainstate.Vote
	Info    worker.ChainInfoResponse
}

func (r CertificateResponse) MarshalCanonical(e *wire.Encoder) {
	e.Optional(r.HasVote, func(e *wire.Encoder) { r.Vote.MarshalCanonical(e) })
	marshalChainInfoResponse(r.Info, e)
}

func DecodeCertificateResponse(d *wire.Decoder) CertificateResponse {
	var r CertificateResponse
	r.HasVote = d.Optional(func(d *wire.Decoder) { r.Vote = chainstate.DecodeVote(d) })
	r.Info = decodeChainInfoResponse(d)
	return r
}

// ChainInfoRequest is the body of a handle_chain_info_query request.
type ChainInfoRequest struct {
	ChainID ids.ChainId
	Query   worker.ChainInfoQuery
}

func (r ChainInfoRequest) MarshalCanonical(e *wire.Encoder) {
	e.Bytes32(r.ChainID)
	q := r.Query
	e.Bool(q.RequestCommittees)
	e.Bool(q.RequestOwnerBalance)
	e.Optional(q.AssertNextBlockHeight, func(e *wire.Encoder) { e.U64(uint64(q.ExpectedNextBlockHeight)) })
	e.Bool(q.RequestPendingMessages)
	e.Optional(q.SentCertificateHashRange != nil, func(e *wire.Encoder) {
		e.U64(uint64(q.SentCertificateHashRange.Start))
		e.U64(uint64(q.SentCertificateHashRange.End))
	})
	e.U32(uint32(q.ReceivedLogTailCount))
	e.Bool(q.RequestManagerValues)
}

func DecodeChainInfoRequest(d *wire.Decoder) ChainInfoRequest {
	var r ChainInfoRequest
	r.ChainID = d.Bytes32()
	r.Query.RequestCommittees = d.Bool()
	r.Query.RequestOwnerBalance = d.Bool()
	r.Query.AssertNextBlockHeight = d.Optional(func(d *wire.Decoder) {
		r.Query.ExpectedNextBlockHeight = ids.BlockHeight(d.U64())
	})
	r.Query.RequestPendingMessages = d.Bool()
	d.Optional(func(d *wire.Decoder) {
		r.Query.SentCertificateHashRange = &worker.HeightRange{
			Start: ids.BlockHeight(d.U64()),
			End:   ids.BlockHeight(d.U64()),
		}
	})
	r.Query.ReceivedLogTailCount = int(d.U32())
	r.Query.RequestManagerValues = d.Bool()
	return r
}

// ChainInfoResponseEnvelope wraps a worker.ChainInfoResponse in a
// wire.Marshaler.
type ChainInfoResponseEnvelope struct{ Info worker.ChainInfoResponse }

func (c ChainInfoResponseEnvelope) MarshalCanonical(e *wire.Encoder) {
	marshalChainInfoResponse(c.Info, e)
}

func DecodeChainInfoResponse(d *wire.Decoder) worker.ChainInfoResponse {
	return decodeChainInfoResponse(d)
}

func marshalChainInfoResponse(r worker.ChainInfoResponse, e *wire.Encoder) {
	e.Bytes32(r.ChainID)
	e.U64(uint64(r.NextBlockHeight))
	e.Optional(r.HasBlockHash, func(e *wire.Encoder) { e.Bytes32(r.BlockHash) })
	e.Bool(r.NextBlockHeightAssertionHolds)

	epochs := sortedEpochs(r.Committees)
	wire.Slice(e, epochs, func(e *wire.Encoder, epoch ids.Epoch) {
		e.U64(uint64(epoch))
		r.Committees[epoch].MarshalCanonical(e)
	})

	e.U64(uint64(r.OwnerBalance))
	wire.Slice(e, r.PendingMessages, func(e *wire.Encoder, m chainstate.IncomingMessage) { m.MarshalCanonical(e) })
	wire.Slice(e, r.SentCertificateHashes, func(e *wire.Encoder, h ids.CryptoHash) { e.Bytes32(h) })
	wire.Slice(e, r.ReceivedLogTail, func(e *wire.Encoder, h ids.CryptoHash) { e.Bytes32(h) })
	r.ManagerState.MarshalCanonical(e)
	e.Bytes32(r.Signer)
	e.Bytes64(r.Signature)
}

func decodeChainInfoResponse(d *wire.Decoder) worker.ChainInfoResponse {
	var r worker.ChainInfoResponse
	r.ChainID = d.Bytes32()
	r.NextBlockHeight = ids.BlockHeight(d.U64())
	r.HasBlockHash = d.Optional(func(d *wire.Decoder) { r.BlockHash = d.Bytes32() })
	r.NextBlockHeightAssertionHolds = d.Bool()

	type epochCommittee struct {
		epoch     ids.Epoch
		committee chainstate.Committee
	}
	pairs := wire.DecodeSlice(d, func(d *wire.Decoder) epochCommittee {
		return epochCommittee{epoch: ids.Epoch(d.U64()), committee: chainstate.DecodeCommittee(d)}
	})
	if len(pairs) > 0 {
		r.Committees = make(map[ids.Epoch]chainstate.Committee, len(pairs))
		for _, p := range pairs {
			r.Committees[p.epoch] = p.committee
		}
	}

	r.OwnerBalance = ids.Amount(d.U64())
	r.PendingMessages = wire.DecodeSlice(d, chainstate.DecodeIncomingMessage)
	r.SentCertificateHashes = wire.DecodeSlice(d, func(d *wire.Decoder) ids.CryptoHash { return d.Bytes32() })
	r.ReceivedLogTail = wire.DecodeSlice(d, func(d *wire.Decoder) ids.CryptoHash { return d.Bytes32() })
	r.ManagerState = chainstate.DecodeManagerState(d)
	r.Signer = d.Bytes32()
	r.Signature = d.Bytes64()
	return r
}

func sortedEpochs(committees map[ids.Epoch]chainstate.Committee) []ids.Epoch {
	epochs := make([]ids.Epoch, 0, len(committees))
	for epoch := range committees {
		epochs = append(epochs, epoch)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	return epochs
}

// marshalCrossChainRequest and DecodeCrossChainRequest carry spec.md §6's
// CrossChainRequest sum between validators.
func marshalCrossChainRequest(r worker.CrossChainRequest, e *wire.Encoder) {
	e.U8(uint8(r.Kind))
	e.Bytes32(r.Sender)
	e.Bytes32(r.Recipient)
	switch r.Kind {
	case worker.CrossChainUpdateRecipient:
		wire.Slice(e, r.BundleVecs, func(e *wire.Encoder, mb worker.MediumBundles) {
			mb.Medium.MarshalCanonical(e)
			wire.Slice(e, mb.Bundles, func(e *wire.Encoder, b chainstate.MessageBundle) { b.MarshalCanonical(e) })
		})
	case worker.CrossChainConfirmUpdatedRecipient:
		wire.Slice(e, r.LatestHeights, func(e *wire.Encoder, mh worker.MediumHeight) {
			mh.Medium.MarshalCanonical(e)
			e.U64(uint64(mh.Height))
		})
	}
}

// CrossChainRequestEnvelope wraps a worker.CrossChainRequest in a
// wire.Marshaler for clients encoding one.
type CrossChainRequestEnvelope struct{ Request worker.CrossChainRequest }

func (c CrossChainRequestEnvelope) MarshalCanonical(e *wire.Encoder) {
	marshalCrossChainRequest(c.Request, e)
}

func DecodeCrossChainRequest(d *wire.Decoder) (worker.CrossChainRequest, error) {
	var r worker.CrossChainRequest
	r.Kind = worker.CrossChainRequestKind(d.U8())
	r.Sender = d.Bytes32()
	r.Recipient = d.Bytes32()
	switch r.Kind {
	case worker.CrossChainUpdateRecipient:
		r.BundleVecs = wire.DecodeSlice(d, func(d *wire.Decoder) worker.MediumBundles {
			return worker.MediumBundles{
				Medium:  chainstate.DecodeMedium(d),
				Bundles: wire.DecodeSlice(d, chainstate.DecodeMessageBundle),
			}
		})
	case worker.CrossChainConfirmUpdatedRecipient:
		r.LatestHeights = wire.DecodeSlice(d, func(d *wire.Decoder) worker.MediumHeight {
			return worker.MediumHeight{
				Medium: chainstate.DecodeMedium(d),
				Height: ids.BlockHeight(d.U64()),
			}
		})
	default:
		return r, fmt.Errorf("server: unknown cross-chain request kind %d", r.Kind)
	}
	return r, d.Err()
}
