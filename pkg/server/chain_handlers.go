// Copyright 2025 Certen Protocol

package server

import (
	"encoding/json"
	"net/http"

	"github.com/certen/microchain/pkg/wire"
)

// HandleChainInfoQuery answers POST /api/chain-info-query with the signed
// ChainInfoResponse the chain's worker assembles.
func (s *Server) HandleChainInfoQuery(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	d := wire.NewDecoder(body)
	req := DecodeChainInfoRequest(d)
	if err := d.Err(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	info, err := s.node.HandleChainInfoQuery(r.Context(), req.ChainID, req.Query)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeBinary(w, ChainInfoResponseEnvelope{Info: info})
}

// HandleCrossChainRequest answers POST /api/cross-chain-request: routes an
// UpdateRecipient or ConfirmUpdatedRecipient from another validator into
// the target chain's worker.
func (s *Server) HandleCrossChainRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	d := wire.NewDecoder(body)
	req, err := DecodeCrossChainRequest(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.node.HandleCrossChainRequest(r.Context(), req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
