package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/consensus"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/node"
	"github.com/certen/microchain/pkg/store"
	"github.com/certen/microchain/pkg/wire"
	"github.com/certen/microchain/pkg/worker"
)

var (
	testChain = func() ids.ChainId {
		var c ids.ChainId
		c[0] = 0x0a
		return c
	}()
	peerChain = func() ids.ChainId {
		var c ids.ChainId
		c[0] = 0x0c
		return c
	}()
)

// noopExecutor produces a state hash derived from the block height and no
// outgoing messages; enough for the RPC surface, which never interprets
// outcomes itself.
type noopExecutor struct{}

func (noopExecutor) Execute(_ *chainstate.ChainStateView, block chainstate.Block, _ int64, _ [][]byte) (chainstate.BlockExecutionOutcome, error) {
	var hash ids.CryptoHash
	hash[0] = byte(block.Height) + 1
	return chainstate.BlockExecutionOutcome{StateHash: hash}, nil
}

func seedChain(t *testing.T, kv store.KV, chainID ids.ChainId, signer consensus.Ed25519Signer) chainstate.Committee {
	t.Helper()
	view := chainstate.NewChainStateView(store.NewContext(kv, []byte("chain/"+chainID.String())), chainID)

	var admin ids.ChainId
	admin[0] = 0x01
	view.Execution.System.Set(chainstate.SystemSubstate{
		Ownership:  chainstate.Ownership{Owners: []ids.Owner{signer.PublicKey()}},
		HasAdminID: true,
		AdminID:    admin,
		Balance:    5,
	})
	if err := view.Execution.System.Save(); err != nil {
		t.Fatalf("save system: %v", err)
	}
	committee := chainstate.Committee{Members: []chainstate.CommitteeMember{{Validator: signer.PublicKey(), Weight: 1}}}
	if err := view.Execution.Committees.Insert(0, committee); err != nil {
		t.Fatalf("insert committee: %v", err)
	}
	if err := view.Flush(); err != nil {
		t.Fatalf("flush seed state: %v", err)
	}
	return committee
}

func startServer(t *testing.T) (*httptest.Server, store.KV, chainstate.Committee) {
	t.Helper()
	kv := store.NewMemoryKV()
	t.Cleanup(func() { _ = kv.Close() })

	signer := consensus.GenerateEd25519Signer()
	committee := seedChain(t, kv, testChain, signer)

	n := node.NewValidatorNode(kv, noopExecutor{}, nil, node.Config{Signer: signer, GracePeriodMillis: 5000})
	t.Cleanup(n.Close)

	ts := httptest.NewServer(NewServer(n, nil).Routes())
	t.Cleanup(ts.Close)
	return ts, kv, committee
}

func post(t *testing.T, url string, body wire.Marshaler) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(wire.Encode(body)))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, out
}

func TestProposeValidateConfirmOverRPC(t *testing.T) {
	ts, _, committee := startServer(t)

	block := chainstate.Block{ChainID: testChain, Height: 0, Timestamp: 0}
	resp, body := post(t, ts.URL+"/api/block-proposal", BlockProposal{Round: chainstate.FastRound(), Block: block})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("block proposal: status %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("expected a request id header")
	}

	d := wire.NewDecoder(body)
	proposalResp := DecodeProposalResponse(d)
	if err := d.Err(); err != nil {
		t.Fatalf("decode proposal response: %v", err)
	}
	if proposalResp.Skipped || !proposalResp.HasVote {
		t.Fatalf("expected a validated-block vote, got %+v", proposalResp)
	}

	validatedCert, err := consensus.BuildCertificate([]chainstate.Vote{proposalResp.Vote}, committee, consensus.ValidatedQuorumWeight(committee))
	if err != nil {
		t.Fatalf("build validated certificate: %v", err)
	}

	resp, body = post(t, ts.URL+"/api/certificate", CertificateEnvelope{Certificate: *validatedCert})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validated certificate: status %d: %s", resp.StatusCode, body)
	}
	d = wire.NewDecoder(body)
	certResp := DecodeCertificateResponse(d)
	if err := d.Err(); err != nil {
		t.Fatalf("decode certificate response: %v", err)
	}
	if !certResp.HasVote || certResp.Vote.Value.Kind != chainstate.CertConfirmedBlock {
		t.Fatalf("expected a confirmed-block vote, got %+v", certResp)
	}

	confirmedCert, err := consensus.BuildCertificate([]chainstate.Vote{certResp.Vote}, committee, consensus.ValidatedQuorumWeight(committee))
	if err != nil {
		t.Fatalf("build confirmed certificate: %v", err)
	}

	resp, body = post(t, ts.URL+"/api/certificate", CertificateEnvelope{Certificate: *confirmedCert})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirmed certificate: status %d: %s", resp.StatusCode, body)
	}
	d = wire.NewDecoder(body)
	certResp = DecodeCertificateResponse(d)
	if err := d.Err(); err != nil {
		t.Fatalf("decode confirmed response: %v", err)
	}
	if certResp.Info.NextBlockHeight != 1 {
		t.Fatalf("expected tip at height 1, got %d", certResp.Info.NextBlockHeight)
	}

	// The committed tip is observable through the query endpoint, with the
	// height assertion holding and the response signed.
	query := ChainInfoRequest{ChainID: testChain, Query: worker.ChainInfoQuery{
		AssertNextBlockHeight:   true,
		ExpectedNextBlockHeight: 1,
		RequestCommittees:       true,
	}}
	resp, body = post(t, ts.URL+"/api/chain-info-query", query)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chain info query: status %d: %s", resp.StatusCode, body)
	}
	d = wire.NewDecoder(body)
	info := DecodeChainInfoResponse(d)
	if err := d.Err(); err != nil {
		t.Fatalf("decode chain info response: %v", err)
	}
	if !info.NextBlockHeightAssertionHolds {
		t.Fatal("expected the next-block-height assertion to hold")
	}
	if len(info.Committees) != 1 {
		t.Fatalf("expected one committee, got %d", len(info.Committees))
	}
	if !consensus.VerifySignature(info.Signer, chainInfoDigest(info), info.Signature) {
		t.Fatal("chain info response signature does not verify")
	}
}

// chainInfoDigest mirrors the identity fields the worker signs.
func chainInfoDigest(info worker.ChainInfoResponse) ids.CryptoHash {
	e := wire.NewEncoder()
	e.Bytes32(info.ChainID)
	e.U64(uint64(info.NextBlockHeight))
	e.Optional(info.HasBlockHash, func(e *wire.Encoder) { e.Bytes32(info.BlockHash) })
	return wire.HashBytes(e.Buf())
}

func TestLiteCertificateUnknownHashIsRetryable(t *testing.T) {
	ts, _, _ := startServer(t)

	var unknown ids.CryptoHash
	unknown[0] = 0xff
	resp, body := post(t, ts.URL+"/api/lite-certificate", LiteCertificateEnvelope{Hash: unknown})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown value hash, got %d: %s", resp.StatusCode, body)
	}
}

func TestCrossChainRequestQueuesInboxEvent(t *testing.T) {
	ts, kv, _ := startServer(t)

	bundle := chainstate.MessageBundle{
		Height: 0,
		Epoch:  0,
		Events: []chainstate.Event{{Index: 0, Kind: chainstate.KindSimple, Message: []byte("credit:1")}},
	}
	req := worker.CrossChainRequest{
		Kind:       worker.CrossChainUpdateRecipient,
		Sender:     peerChain,
		Recipient:  testChain,
		BundleVecs: []worker.MediumBundles{{Medium: chainstate.DirectMedium(), Bundles: []chainstate.MessageBundle{bundle}}},
	}
	resp, body := post(t, ts.URL+"/api/cross-chain-request", CrossChainRequestEnvelope{Request: req})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cross-chain request: status %d: %s", resp.StatusCode, body)
	}

	// The event must now be durably queued in the recipient's inbox for
	// the sender's origin.
	view := chainstate.NewChainStateView(store.NewContext(kv, []byte("chain/"+testChain.String())), testChain)
	guard, err := view.Inboxes.LoadEntry(chainstate.Origin{Sender: peerChain, Medium: chainstate.DirectMedium()})
	if err != nil {
		t.Fatalf("load inbox: %v", err)
	}
	head, err := guard.View.PeekHead()
	guard.Release()
	if err != nil {
		t.Fatalf("peek inbox head: %v", err)
	}
	if string(head.Event.Message) != "credit:1" || head.Height != 0 {
		t.Fatalf("unexpected queued event: %+v", head)
	}

	// Re-delivering the same bundle is a silent no-op (replay protection).
	resp, body = post(t, ts.URL+"/api/cross-chain-request", CrossChainRequestEnvelope{Request: req})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replayed cross-chain request: status %d: %s", resp.StatusCode, body)
	}
}
