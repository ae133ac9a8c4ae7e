// Copyright 2025 Certen Protocol

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/consensus"
	"github.com/certen/microchain/pkg/wire"
	"github.com/certen/microchain/pkg/worker"
)

var errValueNotFound = errors.New("certificate value not found")

// HandleBlockProposal answers POST /api/block-proposal: runs the proposal
// pipeline on the block's chain worker and returns the validated-block
// vote, if one was produced.
func (s *Server) HandleBlockProposal(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	d := wire.NewDecoder(body)
	proposal := DecodeBlockProposal(d)
	if err := d.Err(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var reproposalCert *chainstate.Certificate
	if proposal.HasValidatedCertificate {
		reproposalCert = &proposal.ValidatedCertificate
	}

	result, err := s.node.HandleBlockProposal(
		r.Context(),
		proposal.Block.ChainID,
		proposal.Round,
		proposal.Block,
		reproposalCert,
		proposal.ForcedOracleResponses,
		time.Now().UnixMilli(),
	)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	resp := ProposalResponse{Skipped: result.Check == consensus.ProposalSkipped}
	if result.Vote != nil {
		resp.HasVote = true
		resp.Vote = *result.Vote
	}
	s.writeBinary(w, resp)
}

// HandleCertificate answers POST /api/certificate: persists the hashed
// values and blobs riding along, then dispatches the certificate by kind.
func (s *Server) HandleCertificate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	d := wire.NewDecoder(body)
	env := DecodeCertificateEnvelope(d)
	if err := d.Err(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.dispatchCertificate(r.Context(), w, env.Certificate, env.HashedValues, env.Blobs)
}

// HandleLiteCertificate answers POST /api/lite-certificate: resolves the
// hash against the shared value store and dispatches the reassembled
// certificate. A miss is retryable; the caller is expected to re-send the
// full certificate.
func (s *Server) HandleLiteCertificate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	d := wire.NewDecoder(body)
	lite := DecodeLiteCertificateEnvelope(d)
	if err := d.Err(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	value, found, err := s.node.LookupCertificateValue(lite.Hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errValueNotFound)
		return
	}

	cert := chainstate.Certificate{Value: value, Signatures: lite.Signatures}
	s.dispatchCertificate(r.Context(), w, cert, nil, nil)
}

func (s *Server) dispatchCertificate(ctx context.Context, w http.ResponseWriter, cert chainstate.Certificate, hashedValues []chainstate.CertificateValue, blobs [][]byte) {
	switch cert.Value.Kind {
	case chainstate.CertValidatedBlock:
		if err := s.node.StoreHashedValues(hashedValues); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if err := s.node.StoreBlobs(blobs); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		chainID := cert.Value.ExecutedBlock.Block.ChainID
		vote, err := s.node.HandleValidatedCertificate(ctx, chainID, cert)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		resp := CertificateResponse{}
		if vote != nil {
			resp.HasVote = true
			resp.Vote = *vote
		}
		resp.Info, err = s.node.HandleChainInfoQuery(ctx, chainID, worker.ChainInfoQuery{RequestManagerValues: true})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeBinary(w, resp)

	case chainstate.CertConfirmedBlock:
		chainID := cert.Value.ExecutedBlock.Block.ChainID
		info, err := s.node.HandleConfirmedCertificate(ctx, chainID, cert, hashedValues, blobs, time.Now().UnixMilli())
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.writeBinary(w, CertificateResponse{Info: info})

	case chainstate.CertTimeout:
		chainID := cert.Value.ChainID
		committeeSize, err := s.committeeSize(ctx, cert)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if err := s.node.HandleTimeout(ctx, chainID, cert, committeeSize, time.Now().UnixMilli()); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		info, err := s.node.HandleChainInfoQuery(ctx, chainID, worker.ChainInfoQuery{RequestManagerValues: true})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeBinary(w, CertificateResponse{Info: info})

	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown certificate kind"))
	}
}

// committeeSize resolves the size of the committee a timeout certificate's
// epoch names, which NextRound needs to know when multi-leader rounds run
// out.
func (s *Server) committeeSize(ctx context.Context, cert chainstate.Certificate) (int, error) {
	info, err := s.node.HandleChainInfoQuery(ctx, cert.Value.ChainID, worker.ChainInfoQuery{RequestCommittees: true})
	if err != nil {
		return 0, err
	}
	committee, ok := info.Committees[cert.Value.Epoch]
	if !ok {
		return 0, errors.New("timeout certificate names an unknown epoch")
	}
	return len(committee.Members), nil
}
