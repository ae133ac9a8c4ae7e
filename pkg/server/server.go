// Copyright 2025 Certen Protocol
//
// Package server exposes the validator RPC surface over HTTP: the five
// endpoints of the wire protocol (block proposals, lite and full
// certificates, chain info queries, cross-chain requests) plus a health
// probe. Request and response bodies are canonical binary; errors are
// small JSON documents.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/certen/microchain/pkg/node"
	"github.com/certen/microchain/pkg/wire"
)

// maxBodyBytes bounds a single RPC body. Certificates carrying blobs are
// the largest legitimate payload.
const maxBodyBytes = 32 << 20

// Server routes validator RPCs into a node.ValidatorNode.
type Server struct {
	node   *node.ValidatorNode
	logger *log.Logger
}

// NewServer wraps n. logger may be nil to disable request logging.
func NewServer(n *node.ValidatorNode, logger *log.Logger) *Server {
	return &Server{node: n, logger: logger}
}

// Routes returns a mux with every validator endpoint registered.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/block-proposal", s.withRequestID(s.HandleBlockProposal))
	mux.HandleFunc("/api/lite-certificate", s.withRequestID(s.HandleLiteCertificate))
	mux.HandleFunc("/api/certificate", s.withRequestID(s.HandleCertificate))
	mux.HandleFunc("/api/chain-info-query", s.withRequestID(s.HandleChainInfoQuery))
	mux.HandleFunc("/api/cross-chain-request", s.withRequestID(s.HandleCrossChainRequest))
	mux.HandleFunc("/health", s.HandleHealth)
	return mux
}

// withRequestID assigns each request a correlation id, echoed in the
// X-Request-Id response header and threaded through the request log line,
// so a misbehaving proposal can be matched to its worker-side effects.
func (s *Server) withRequestID(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", requestID)
		start := time.Now()
		h(w, r)
		if s.logger != nil {
			s.logger.Printf("rpc %s %s request_id=%s took=%s", r.Method, r.URL.Path, requestID, time.Since(start))
		}
	}
}

// HandleHealth answers GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, `{"error":"failed to read request body"}`, http.StatusBadRequest)
		return nil, false
	}
	if len(body) > maxBodyBytes {
		http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}

func (s *Server) writeBinary(w http.ResponseWriter, m wire.Marshaler) {
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := wire.WriteTo(w, m); err != nil && s.logger != nil {
		s.logger.Printf("rpc: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), status)
}
