package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/consensus"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/messaging"
	"github.com/certen/microchain/pkg/wire"
)

// CrossChainRequestKind distinguishes the two requests a validator node
// routes between chain workers, per spec.md §6.
type CrossChainRequestKind uint8

const (
	CrossChainUpdateRecipient CrossChainRequestKind = iota
	CrossChainConfirmUpdatedRecipient
)

// MediumBundles pairs a medium (direct or a named channel) with the
// message bundles sent through it, per spec.md §6's
// `bundle_vecs: Vec<(Medium, Vec<MessageBundle>)>`.
type MediumBundles struct {
	Medium  chainstate.Medium
	Bundles []chainstate.MessageBundle
}

// MediumHeight pairs a medium with the latest height acknowledged through
// it, per spec.md §6's `latest_heights: Vec<(Medium, BlockHeight)>`.
type MediumHeight struct {
	Medium chainstate.Medium
	Height ids.BlockHeight
}

// CrossChainRequest is spec.md §6's CrossChainRequest sum type: a validator
// node forwards these between chain workers after a commit-producing
// request.
type CrossChainRequest struct {
	Kind          CrossChainRequestKind
	Sender        ids.ChainId
	Recipient     ids.ChainId
	BundleVecs    []MediumBundles
	LatestHeights []MediumHeight
}

// QueryApplication routes query to the service-runtime subactor, per
// spec.md §4.6, so it never occupies the mutation mailbox. Without a
// configured subactor (no ServiceViewFactory), the query falls back to
// the worker's own mailbox and live view.
func (w *ChainWorker) QueryApplication(ctx context.Context, applicationID ids.ApplicationId, query []byte) ([]byte, error) {
	if w.service != nil {
		return w.service.query(ctx, w.closed, applicationID, query)
	}

	var out []byte
	var err error
	submitErr := w.submit(ctx, func() {
		if w.querier == nil {
			err = fmt.Errorf("worker: query application: no service runtime configured")
			return
		}
		out, err = w.querier.Query(w.view, applicationID, query)
	})
	if submitErr != nil {
		return nil, submitErr
	}
	return out, err
}

// invalidateService tells the service subactor its snapshot predates a
// committed mutation.
func (w *ChainWorker) invalidateService() {
	if w.service != nil {
		w.service.invalidate()
	}
}

// DescribeApplication returns the registered description for applicationID.
func (w *ChainWorker) DescribeApplication(ctx context.Context, applicationID ids.ApplicationId) (chainstate.ApplicationDescription, bool, error) {
	var desc chainstate.ApplicationDescription
	var ok bool
	var err error
	submitErr := w.submit(ctx, func() {
		desc, ok, err = w.view.Execution.Applications.Get(applicationID)
	})
	if submitErr != nil {
		return chainstate.ApplicationDescription{}, false, submitErr
	}
	return desc, ok, err
}

// StageBlockExecution executes block against the live view's staged copy
// and returns the outcome without persisting anything, per spec.md §4.6.
func (w *ChainWorker) StageBlockExecution(ctx context.Context, block chainstate.Block, localTimeUnixMillis int64, forcedOracleResponses [][]byte) (chainstate.BlockExecutionOutcome, error) {
	var outcome chainstate.BlockExecutionOutcome
	var err error
	submitErr := w.submit(ctx, func() {
		snap := w.view.Snapshot()
		outcome, err = w.view.ExecuteBlock(w.executor, block, localTimeUnixMillis, forcedOracleResponses)
		w.view.RestoreTo(snap)
	})
	if submitErr != nil {
		return chainstate.BlockExecutionOutcome{}, submitErr
	}
	return outcome, err
}

// ProcessTimeout advances the manager's round if cert proves a >=1/3
// quorum timeout, per spec.md §4.5/§4.6.
func (w *ChainWorker) ProcessTimeout(ctx context.Context, cert chainstate.Certificate, committeeSize int, nowUnixMillis int64) error {
	var err error
	submitErr := w.submit(ctx, func() {
		snap := w.view.Snapshot()
		err = consensus.HandleTimeoutCertificate(w.view, cert, committeeSize, nowUnixMillis)
		if err != nil {
			w.view.RestoreTo(snap)
			return
		}
		if err = w.view.Flush(); err == nil {
			w.invalidateService()
		}
	})
	if submitErr != nil {
		return submitErr
	}
	return err
}

// HandleBlockProposal runs spec.md §4.5's proposal pipeline, producing a
// validated-block vote unless the proposal is skipped.
func (w *ChainWorker) HandleBlockProposal(
	ctx context.Context,
	round chainstate.Round,
	block chainstate.Block,
	reproposalCert *chainstate.Certificate,
	forcedOracleResponses [][]byte,
	localTimeUnixMillis int64,
) (consensus.ProposalResult, error) {
	var result consensus.ProposalResult
	var err error
	submitErr := w.submit(ctx, func() {
		var trusted chainstate.Committee
		trusted, err = w.trustedCommitteeFor(block.Epoch)
		if err != nil {
			return
		}
		// Proposal execution is speculative: it stages writes so the
		// outcome can be hashed and voted on, but nothing here is
		// confirmed, so undo exactly what this attempt staged and leave
		// whatever was already pending (e.g. an earlier confirmed-but-
		// unflushed chain, or genesis seeding) untouched.
		snap := w.view.Snapshot()
		result, err = consensus.HandleProposal(w.view, w.signer, round, block, reproposalCert, trusted, forcedOracleResponses, localTimeUnixMillis, w.grace, w.executor)
		w.view.RestoreTo(snap)
	})
	if submitErr != nil {
		return consensus.ProposalResult{}, submitErr
	}
	return result, err
}

// ProcessValidatedBlock produces a confirmed-block vote from a validated
// certificate; idempotent on a certificate that is not newer than our
// current lock (spec.md §4.6 treats that case as a no-op success, not an
// error, to keep repeated delivery safe).
func (w *ChainWorker) ProcessValidatedBlock(ctx context.Context, cert chainstate.Certificate) (*chainstate.Vote, error) {
	var vote *chainstate.Vote
	var err error
	submitErr := w.submit(ctx, func() {
		vote, err = consensus.HandleValidatedCertificate(w.view, w.signer, cert)
		if err == consensus.ErrStaleCertificate {
			err = nil
		}
	})
	if submitErr != nil {
		return nil, submitErr
	}
	return vote, err
}

// ProcessConfirmedBlock commits cert's block and derives the cross-chain
// requests a validator node must route to the recipients of its outgoing
// messages, per spec.md §4.5/§4.6/§6.
func (w *ChainWorker) ProcessConfirmedBlock(ctx context.Context, cert chainstate.Certificate, localTimeUnixMillis int64) ([]CrossChainRequest, error) {
	var requests []CrossChainRequest
	var err error
	submitErr := w.submit(ctx, func() {
		block := cert.Value.ExecutedBlock.Block
		outcome := cert.Value.ExecutedBlock.Outcome

		snap := w.view.Snapshot()
		if err = consensus.HandleConfirmedCertificate(w.view, w.executor, cert, localTimeUnixMillis); err != nil {
			w.view.RestoreTo(snap)
			// Re-delivering an already-committed certificate is success
			// with nothing left to do (spec.md §7's idempotence contract);
			// the caller answers with current chain info.
			if errors.Is(err, chainstate.ErrDuplicateBlock) {
				err = nil
			}
			return
		}
		var updateRequests []CrossChainRequest
		updateRequests, err = w.buildUpdateRecipientRequests(block, outcome, cert.Hash())
		if err != nil {
			w.view.RestoreTo(snap)
			return
		}
		requests = append(updateRequests, w.buildConfirmUpdatedRecipientRequests(block)...)
		if err = w.view.Flush(); err == nil {
			w.invalidateService()
		}
	})
	if submitErr != nil {
		return nil, submitErr
	}
	return requests, err
}

// buildUpdateRecipientRequests groups a confirmed block's outgoing
// messages by (recipient, medium) and packages each group into the
// UpdateRecipient cross-chain request its recipient's worker expects.
func (w *ChainWorker) buildUpdateRecipientRequests(block chainstate.Block, outcome chainstate.BlockExecutionOutcome, certHash ids.CryptoHash) ([]CrossChainRequest, error) {
	type key struct {
		recipient ids.ChainId
		medium    chainstate.Medium
	}
	events := make(map[key][]chainstate.Event)
	order := make([]key, 0)

	addEvent := func(k key, ev chainstate.Event) {
		if _, ok := events[k]; !ok {
			order = append(order, k)
		}
		events[k] = append(events[k], ev)
	}

	for i, m := range outcome.Messages {
		ev := chainstate.Event{
			Index:           uint32(i),
			Kind:            m.Kind,
			HasSigner:       m.Authenticated,
			Grant:           m.Grant,
			HasRefundTarget: m.HasRefundTarget,
			RefundTarget:    m.RefundTarget,
			Message:         m.Message,
		}
		if ev.HasSigner {
			ev.AuthenticatedSigner = block.AuthenticatedSigner
		}

		if !m.Destination.IsSubscribers {
			addEvent(key{recipient: m.Destination.Recipient, medium: chainstate.DirectMedium()}, ev)
			continue
		}
		ch, err := w.view.Channels.Load(m.Destination.ChannelName)
		if err != nil {
			return nil, fmt.Errorf("worker: build cross-chain requests: %w", err)
		}
		subscribers, err := ch.Subscribers()
		if err != nil {
			return nil, fmt.Errorf("worker: build cross-chain requests: %w", err)
		}
		medium := chainstate.ChannelMedium(m.Destination.ChannelName, m.Destination.Application)
		for _, sub := range subscribers {
			addEvent(key{recipient: sub, medium: medium}, ev)
		}
	}

	byRecipient := make(map[ids.ChainId][]MediumBundles)
	recipientOrder := make([]ids.ChainId, 0)
	for _, k := range order {
		bundle := chainstate.MessageBundle{
			Height:          block.Height,
			Epoch:           block.Epoch,
			Timestamp:       block.Timestamp,
			CertificateHash: certHash,
			Events:          events[k],
		}
		if _, ok := byRecipient[k.recipient]; !ok {
			recipientOrder = append(recipientOrder, k.recipient)
		}
		byRecipient[k.recipient] = append(byRecipient[k.recipient], MediumBundles{Medium: k.medium, Bundles: []chainstate.MessageBundle{bundle}})
	}

	requests := make([]CrossChainRequest, 0, len(recipientOrder))
	for _, recipient := range recipientOrder {
		requests = append(requests, CrossChainRequest{
			Kind:       CrossChainUpdateRecipient,
			Sender:     w.ChainID,
			Recipient:  recipient,
			BundleVecs: byRecipient[recipient],
		})
	}
	return requests, nil
}

// buildConfirmUpdatedRecipientRequests derives, for every origin that had at
// least one incoming message decided in block, a ConfirmUpdatedRecipient
// request telling that origin's worker it may pop its outbox for this chain
// up to the highest height decided here. Built from IncomingMessage.Height
// rather than re-inspecting inbox state, since both Accept and Reject
// decisions consume the inbox's queued event the same way (ApplyIncomingMessage
// always calls AcceptHead regardless of the decided action).
func (w *ChainWorker) buildConfirmUpdatedRecipientRequests(block chainstate.Block) []CrossChainRequest {
	type key struct {
		origin ids.ChainId
		medium chainstate.Medium
	}
	highest := make(map[key]ids.BlockHeight)
	order := make([]key, 0)
	for _, m := range block.IncomingMessages {
		k := key{origin: m.Origin.Sender, medium: m.Origin.Medium}
		if _, ok := highest[k]; !ok {
			order = append(order, k)
		}
		if m.Height > highest[k] {
			highest[k] = m.Height
		}
	}

	byOrigin := make(map[ids.ChainId][]MediumHeight)
	originOrder := make([]ids.ChainId, 0)
	for _, k := range order {
		if _, ok := byOrigin[k.origin]; !ok {
			originOrder = append(originOrder, k.origin)
		}
		byOrigin[k.origin] = append(byOrigin[k.origin], MediumHeight{Medium: k.medium, Height: highest[k]})
	}

	requests := make([]CrossChainRequest, 0, len(originOrder))
	for _, origin := range originOrder {
		requests = append(requests, CrossChainRequest{
			Kind:          CrossChainConfirmUpdatedRecipient,
			Sender:        w.ChainID,
			Recipient:     origin,
			LatestHeights: byOrigin[origin],
		})
	}
	return requests
}

// ProcessEpochChange installs the next epoch's committee, provided the
// witness carries a BLS-attested quorum of the outgoing committee. The
// witness rides alongside the ed25519 vote certificates; it never
// substitutes for them.
func (w *ChainWorker) ProcessEpochChange(ctx context.Context, witness consensus.EpochChangeWitness, next chainstate.Committee, signerKeys map[ids.Owner][]byte) error {
	var err error
	submitErr := w.submit(ctx, func() {
		var sys chainstate.SystemSubstate
		sys, err = w.view.Execution.System.Get()
		if err != nil {
			return
		}
		if witness.Epoch != sys.Epoch {
			err = fmt.Errorf("worker: epoch change: witness is for epoch %d, chain is at %d", witness.Epoch, sys.Epoch)
			return
		}
		var outgoing chainstate.Committee
		var ok bool
		outgoing, ok, err = w.view.Execution.Committees.Get(sys.Epoch)
		if err != nil {
			return
		}
		if !ok {
			err = fmt.Errorf("worker: epoch change: no committee for epoch %d", sys.Epoch)
			return
		}
		if witness.NextCommitteeHash != wire.Hash(next) {
			err = fmt.Errorf("worker: epoch change: witness attests a different committee")
			return
		}
		if err = consensus.VerifyEpochChangeWitness(witness, outgoing, signerKeys, consensus.ValidatedQuorumWeight(outgoing)); err != nil {
			return
		}

		snap := w.view.Snapshot()
		sys.Epoch++
		w.view.Execution.System.Set(sys)
		if err = w.view.Execution.System.Save(); err != nil {
			w.view.RestoreTo(snap)
			return
		}
		if err = w.view.Execution.Committees.Insert(sys.Epoch, next); err != nil {
			w.view.RestoreTo(snap)
			return
		}
		if err = w.view.Flush(); err != nil {
			w.view.RestoreTo(snap)
			return
		}
		w.invalidateService()
	})
	if submitErr != nil {
		return submitErr
	}
	return err
}

// ProcessCrossChainUpdate filters and applies bundles from origin, per
// spec.md §4.4/§4.6. Returns the last updated height.
func (w *ChainWorker) ProcessCrossChainUpdate(ctx context.Context, origin chainstate.Origin, trust messaging.EpochTrust, bundles []chainstate.MessageBundle) (ids.BlockHeight, error) {
	var height ids.BlockHeight
	var err error
	submitErr := w.submit(ctx, func() {
		snap := w.view.Snapshot()
		height, err = messaging.AcceptBundles(w.view, origin, trust, bundles)
		if err != nil {
			w.view.RestoreTo(snap)
			return
		}
		if err = w.view.Flush(); err == nil {
			w.invalidateService()
		}
	})
	if submitErr != nil {
		return 0, submitErr
	}
	return height, err
}

// ConfirmUpdatedRecipient pops every queued height <= height for target out
// of its outbox, per spec.md §4.4/§4.6.
func (w *ChainWorker) ConfirmUpdatedRecipient(ctx context.Context, target ids.ChainId, height ids.BlockHeight) (bool, error) {
	var popped bool
	var err error
	submitErr := w.submit(ctx, func() {
		snap := w.view.Snapshot()
		popped, err = messaging.ConfirmUpdatedRecipient(w.view, target, height)
		if err != nil {
			w.view.RestoreTo(snap)
			return
		}
		if err = w.view.Flush(); err == nil {
			w.invalidateService()
		}
	})
	if submitErr != nil {
		return false, submitErr
	}
	return popped, err
}
