// Package node implements the validator node (spec.md C7): the
// process-wide object that owns every chain's worker, the shared
// certificate-value and blob caches, the storage client, and the routing
// of cross-chain requests between chains. It is the outermost layer a
// validator's RPC surface (spec.md §6) sits in front of; this package
// itself exposes only typed Go calls, not a wire codec.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/consensus"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
	"github.com/certen/microchain/pkg/wire"
	"github.com/certen/microchain/pkg/worker"
)

// NotificationKind distinguishes the three events spec.md §4.7 step 5
// pushes to out-of-band subscribers.
type NotificationKind uint8

const (
	NotifyNewBlock NotificationKind = iota
	NotifyNewIncomingMessage
	NotifyNewRound
)

// Notification is one event on the outbound notification channel.
type Notification struct {
	Kind    NotificationKind
	ChainID ids.ChainId
	Height  ids.BlockHeight
}

// Config bundles the parameters shared by every chain worker the node
// creates, plus the sizing of its shared caches and notification buffer.
type Config struct {
	Signer            consensus.Signer
	GracePeriodMillis int64
	MailboxSize       int

	CertificateValueCacheBytes int64
	BlobCacheBytes             int64
	NotificationBuffer         int
}

type chainHandle struct {
	worker *worker.ChainWorker
	cancel context.CancelFunc
}

// ValidatorNode owns a map chain_id -> chain worker, the shared value/blob
// caches, the storage client, and a per-chain map of delivery notifiers,
// per spec.md §4.7. It is the only place in this codebase that both knows
// about more than one chain at once and mutates shared, cross-chain state;
// every per-chain mutation still goes exclusively through that chain's
// worker mailbox.
type ValidatorNode struct {
	kv       store.KV
	executor chainstate.Executor
	querier  worker.Querier
	cfg      Config

	mu     sync.RWMutex
	chains map[ids.ChainId]*chainHandle

	certificateValues *store.ValueCache
	blobs             *store.ValueCache

	notifMu   sync.Mutex
	notifiers map[ids.ChainId]map[ids.BlockHeight][]chan struct{}

	notifications chan Notification
}

// NewValidatorNode constructs a node over kv. executor and querier are
// shared by every chain worker the node creates, the same dependency
// injection pattern pkg/chainstate.Executor and pkg/worker.Querier already
// use to stay decoupled from the concrete execution runtime in
// pkg/execution.
func NewValidatorNode(kv store.KV, executor chainstate.Executor, querier worker.Querier, cfg Config) *ValidatorNode {
	notifBuffer := cfg.NotificationBuffer
	if notifBuffer <= 0 {
		notifBuffer = 256
	}
	certBytes := cfg.CertificateValueCacheBytes
	if certBytes <= 0 {
		certBytes = 64 << 20
	}
	blobBytes := cfg.BlobCacheBytes
	if blobBytes <= 0 {
		blobBytes = 64 << 20
	}
	return &ValidatorNode{
		kv:                kv,
		executor:          executor,
		querier:           querier,
		cfg:               cfg,
		chains:            make(map[ids.ChainId]*chainHandle),
		certificateValues: store.NewValueCache(certBytes),
		blobs:             store.NewValueCache(blobBytes),
		notifiers:         make(map[ids.ChainId]map[ids.BlockHeight][]chan struct{}),
		notifications:     make(chan Notification, notifBuffer),
	}
}

// Notifications returns the outbound channel of new-block / new-incoming-
// message / new-round events, per spec.md §4.7 step 5. Callers should keep
// draining it; a full buffer causes notify to drop the event rather than
// block a chain worker's commit path.
func (n *ValidatorNode) Notifications() <-chan Notification { return n.notifications }

// CertificateValues returns the shared certificate-value cache, per
// spec.md §4.1/§5's "shared across workers... behind internal locks".
func (n *ValidatorNode) CertificateValues() *store.ValueCache { return n.certificateValues }

// Blobs returns the shared content-addressed blob cache.
func (n *ValidatorNode) Blobs() *store.ValueCache { return n.blobs }

func chainRootKey(chainID ids.ChainId) []byte {
	return []byte("chain/" + chainID.String())
}

func certificateKey(hash ids.CryptoHash) []byte { return []byte("certificate/" + hash.String()) }
func valueKey(hash ids.CryptoHash) []byte       { return []byte("value/" + hash.String()) }
func blobKey(id ids.BlobId) []byte              { return []byte("blob/" + id.String()) }

// storeOnce writes a content-addressed entry, skipping the write if the key
// already exists (such entries are write-once per spec.md §6, so an
// existing value is necessarily identical).
func (n *ValidatorNode) storeOnce(key, value []byte) error {
	ok, err := n.kv.Has(key)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return n.kv.Set(key, value)
}

// StoreHashedValues persists certificate values into the shared
// content-addressed store and primes the shared cache, per spec.md §6's
// value/<hash> layout. Callers pass the hashed_certificate_values that ride
// along a handle_certificate RPC.
func (n *ValidatorNode) StoreHashedValues(values []chainstate.CertificateValue) error {
	for _, v := range values {
		hash := v.Hash()
		b := wire.Encode(v)
		if err := n.storeOnce(valueKey(hash), b); err != nil {
			return fmt.Errorf("node: store hashed value: %w", err)
		}
		n.certificateValues.Insert(hash.String(), b)
	}
	return nil
}

// StoreBlobs persists content-addressed blobs under blob/<hash> and primes
// the shared blob cache.
func (n *ValidatorNode) StoreBlobs(blobs [][]byte) error {
	for _, b := range blobs {
		id := ids.BlobId(wire.HashBytes(b))
		if err := n.storeOnce(blobKey(id), b); err != nil {
			return fmt.Errorf("node: store blob: %w", err)
		}
		n.blobs.Insert(id.String(), b)
	}
	return nil
}

// LookupCertificateValue resolves a lite certificate's hash to the full
// value it attests to, consulting the shared cache first and falling back
// to the content-addressed store.
func (n *ValidatorNode) LookupCertificateValue(hash ids.CryptoHash) (chainstate.CertificateValue, bool, error) {
	if b, ok := n.certificateValues.Get(hash.String()); ok {
		return decodeValueBytes(b)
	}
	b, err := n.kv.Get(valueKey(hash))
	if err != nil {
		return chainstate.CertificateValue{}, false, fmt.Errorf("node: lookup certificate value: %w", err)
	}
	if b == nil {
		return chainstate.CertificateValue{}, false, nil
	}
	n.certificateValues.Insert(hash.String(), b)
	return decodeValueBytes(b)
}

func decodeValueBytes(b []byte) (chainstate.CertificateValue, bool, error) {
	d := wire.NewDecoder(b)
	v := chainstate.DecodeCertificateValue(d)
	if err := d.Err(); err != nil {
		return chainstate.CertificateValue{}, false, fmt.Errorf("node: decode certificate value: %w", err)
	}
	return v, true, nil
}

// EnsureChain returns chainID's worker, creating and starting it over a
// freshly rooted persistence context if this is the first reference to
// that chain in this process, per the persisted layout of spec.md §6
// ("chain/<chain_id>").
func (n *ValidatorNode) EnsureChain(chainID ids.ChainId) *worker.ChainWorker {
	n.mu.RLock()
	h, ok := n.chains[chainID]
	n.mu.RUnlock()
	if ok {
		return h.worker
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if h, ok := n.chains[chainID]; ok {
		return h.worker
	}

	rootKey := chainRootKey(chainID)
	view := chainstate.NewChainStateView(store.NewContext(n.kv, rootKey), chainID)
	w := worker.NewChainWorker(view, n.executor, n.querier, worker.Config{
		Signer:            n.cfg.Signer,
		GracePeriodMillis: n.cfg.GracePeriodMillis,
		MailboxSize:       n.cfg.MailboxSize,
		// The service subactor reads committed state only, so it gets its
		// own freshly rooted views rather than sharing the worker's.
		ServiceViewFactory: func() *chainstate.ChainStateView {
			return chainstate.NewChainStateView(store.NewContext(n.kv, rootKey), chainID)
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	n.chains[chainID] = &chainHandle{worker: w, cancel: cancel}
	return w
}

// Close stops every chain worker this node has started. It does not close
// the underlying KV store, which the caller owns.
func (n *ValidatorNode) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, h := range n.chains {
		h.cancel()
		h.worker.Close()
	}
}

func (n *ValidatorNode) notify(evt Notification) {
	select {
	case n.notifications <- evt:
	default:
	}
}

// RegisterDeliveryNotifier returns a channel closed once chainID's outbox
// has drained to height or beyond, per spec.md §4.7's "per-chain map of
// delivery notifiers (one-shot channels waiting for an outbox to drain to
// a given height)". The node keeps no record of past drains: the channel
// is closed only by a drain to height or beyond that happens after this
// call, even if the outbox had already drained that far.
func (n *ValidatorNode) RegisterDeliveryNotifier(chainID ids.ChainId, height ids.BlockHeight) <-chan struct{} {
	ch := make(chan struct{})
	n.notifMu.Lock()
	defer n.notifMu.Unlock()
	byHeight, ok := n.notifiers[chainID]
	if !ok {
		byHeight = make(map[ids.BlockHeight][]chan struct{})
		n.notifiers[chainID] = byHeight
	}
	byHeight[height] = append(byHeight[height], ch)
	return ch
}

// fireDeliveryNotifiers closes and forgets every notifier registered for
// chainID at a height <= drainedTo.
func (n *ValidatorNode) fireDeliveryNotifiers(chainID ids.ChainId, drainedTo ids.BlockHeight) {
	n.notifMu.Lock()
	defer n.notifMu.Unlock()
	byHeight, ok := n.notifiers[chainID]
	if !ok {
		return
	}
	for height, chans := range byHeight {
		if height > drainedTo {
			continue
		}
		for _, ch := range chans {
			close(ch)
		}
		delete(byHeight, height)
	}
	if len(byHeight) == 0 {
		delete(n.notifiers, chainID)
	}
}

// HandleBlockProposal forwards a proposal to its chain's worker, per
// spec.md §4.7 step 1. A proposal never itself produces cross-chain
// requests; those only arise from a confirmed commit.
func (n *ValidatorNode) HandleBlockProposal(
	ctx context.Context,
	chainID ids.ChainId,
	round chainstate.Round,
	block chainstate.Block,
	reproposalCert *chainstate.Certificate,
	forcedOracleResponses [][]byte,
	localTimeUnixMillis int64,
) (consensus.ProposalResult, error) {
	w := n.EnsureChain(chainID)
	result, err := w.HandleBlockProposal(ctx, round, block, reproposalCert, forcedOracleResponses, localTimeUnixMillis)
	if err == nil && result.Check == consensus.ProposalVoted {
		n.notify(Notification{Kind: NotifyNewRound, ChainID: chainID, Height: block.Height})
	}
	return result, err
}

// HandleValidatedCertificate forwards a validated-block certificate to its
// chain's worker and returns the confirmed-block vote it produces, if any.
func (n *ValidatorNode) HandleValidatedCertificate(ctx context.Context, chainID ids.ChainId, cert chainstate.Certificate) (*chainstate.Vote, error) {
	w := n.EnsureChain(chainID)
	return w.ProcessValidatedBlock(ctx, cert)
}

// HandleConfirmedCertificate runs spec.md §4.7's full commit sequence: (1)
// forward to the owning worker, (2) accumulate the cross-chain requests it
// returns, (3) route each to its target chain's worker, (4) fire any
// delivery notifiers the routed acknowledgements satisfy, (5) push
// notifications to the outbound channel. hashedValues and blobs are the artifacts riding along
// the certificate (spec.md §4.6's ProcessConfirmedBlock signature); they
// are persisted into the shared content-addressed store before the commit
// so a re-execution needing them cannot miss, as is the certificate itself
// under certificate/<hash> once the commit succeeds.
func (n *ValidatorNode) HandleConfirmedCertificate(ctx context.Context, chainID ids.ChainId, cert chainstate.Certificate, hashedValues []chainstate.CertificateValue, blobs [][]byte, localTimeUnixMillis int64) (worker.ChainInfoResponse, error) {
	w := n.EnsureChain(chainID)

	if err := n.StoreHashedValues(hashedValues); err != nil {
		return worker.ChainInfoResponse{}, err
	}
	if err := n.StoreBlobs(blobs); err != nil {
		return worker.ChainInfoResponse{}, err
	}

	requests, err := w.ProcessConfirmedBlock(ctx, cert, localTimeUnixMillis)
	if err != nil {
		return worker.ChainInfoResponse{}, err
	}

	if err := n.storeOnce(certificateKey(cert.Hash()), wire.Encode(cert)); err != nil {
		return worker.ChainInfoResponse{}, fmt.Errorf("node: store certificate: %w", err)
	}
	n.certificateValues.Insert(cert.Hash().String(), wire.Encode(cert.Value))

	if err := n.routeCrossChainRequests(ctx, requests); err != nil {
		return worker.ChainInfoResponse{}, err
	}

	block := cert.Value.ExecutedBlock.Block
	n.notify(Notification{Kind: NotifyNewBlock, ChainID: chainID, Height: block.Height})
	if len(block.IncomingMessages) > 0 {
		n.notify(Notification{Kind: NotifyNewIncomingMessage, ChainID: chainID, Height: block.Height})
	}

	return w.HandleChainInfoQuery(ctx, worker.ChainInfoQuery{})
}

// HandleTimeout forwards a timeout certificate to chainID's worker.
func (n *ValidatorNode) HandleTimeout(ctx context.Context, chainID ids.ChainId, cert chainstate.Certificate, committeeSize int, nowUnixMillis int64) error {
	w := n.EnsureChain(chainID)
	return w.ProcessTimeout(ctx, cert, committeeSize, nowUnixMillis)
}

// HandleChainInfoQuery forwards a chain info query to chainID's worker.
func (n *ValidatorNode) HandleChainInfoQuery(ctx context.Context, chainID ids.ChainId, query worker.ChainInfoQuery) (worker.ChainInfoResponse, error) {
	w := n.EnsureChain(chainID)
	return w.HandleChainInfoQuery(ctx, query)
}

// HandleCrossChainRequest routes a cross-chain request received over the
// wire from another validator (as opposed to one produced locally by a
// confirmed commit), per spec.md §6's handle_cross_chain_request.
func (n *ValidatorNode) HandleCrossChainRequest(ctx context.Context, req worker.CrossChainRequest) error {
	return n.routeCrossChainRequests(ctx, []worker.CrossChainRequest{req})
}

func (n *ValidatorNode) routeCrossChainRequests(ctx context.Context, requests []worker.CrossChainRequest) error {
	for _, req := range requests {
		if err := n.routeCrossChainRequest(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// routeCrossChainRequest sends req to its target chain's worker (possibly
// this same node's own chain), per spec.md §4.7 step 3.
func (n *ValidatorNode) routeCrossChainRequest(ctx context.Context, req worker.CrossChainRequest) error {
	target := n.EnsureChain(req.Recipient)

	switch req.Kind {
	case worker.CrossChainUpdateRecipient:
		trust, err := target.EpochTrustFor(ctx, req.Sender)
		if err != nil {
			return fmt.Errorf("node: route cross-chain request: %w", err)
		}
		for _, mb := range req.BundleVecs {
			origin := chainstate.Origin{Sender: req.Sender, Medium: mb.Medium}
			if _, err := target.ProcessCrossChainUpdate(ctx, origin, trust, mb.Bundles); err != nil {
				return fmt.Errorf("node: route cross-chain request: %w", err)
			}
		}
		n.notify(Notification{Kind: NotifyNewIncomingMessage, ChainID: req.Recipient})

	case worker.CrossChainConfirmUpdatedRecipient:
		for _, mh := range req.LatestHeights {
			if _, err := target.ConfirmUpdatedRecipient(ctx, req.Sender, mh.Height); err != nil {
				return fmt.Errorf("node: route cross-chain request: %w", err)
			}
			n.fireDeliveryNotifiers(req.Recipient, mh.Height)
		}
	}
	return nil
}
