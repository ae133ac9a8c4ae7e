// Copyright 2025 Certen Protocol
//
// Validator process entry point: loads configuration from the
// environment, opens the on-disk store, bootstraps the genesis committee
// and chain state, and serves the validator RPC surface until signalled.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/config"
	"github.com/certen/microchain/pkg/consensus"
	"github.com/certen/microchain/pkg/execution"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/node"
	"github.com/certen/microchain/pkg/projection"
	"github.com/certen/microchain/pkg/server"
	"github.com/certen/microchain/pkg/store"
	"github.com/certen/microchain/pkg/wire"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	if err := run(logger); err != nil {
		logger.Fatalf("validator: %v", err)
	}
}

func run(logger *log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	kv, err := openKV(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	signer, err := loadOrCreateSigner(cfg)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	logger.Printf("validator %s public key %s", cfg.ValidatorID, signer.PublicKey())

	epoch, committee, err := bootstrapCommittee(cfg, signer)
	if err != nil {
		return fmt.Errorf("bootstrap committee: %w", err)
	}

	chainID, err := resolveChainID(cfg)
	if err != nil {
		return fmt.Errorf("resolve chain id: %w", err)
	}
	if err := seedGenesis(kv, chainID, epoch, committee, signer.PublicKey()); err != nil {
		return fmt.Errorf("seed genesis: %w", err)
	}
	logger.Printf("driving chain %s at epoch %d with %d committee members", chainID, epoch, len(committee.Members))

	registry := execution.NewRegistry()
	limits := execution.DefaultResourceLimits()
	n := node.NewValidatorNode(kv, execution.NewBlockExecutor(registry, limits), execution.NewQuerier(registry, limits), node.Config{
		Signer:                     signer,
		GracePeriodMillis:          cfg.GracePeriodMillis,
		MailboxSize:                cfg.MailboxSize,
		CertificateValueCacheBytes: cfg.CertificateValueCacheBytes,
		BlobCacheBytes:             cfg.BlobCacheBytes,
	})
	defer n.Close()
	n.EnsureChain(chainID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.ProjectionDSN != "" {
		proj, err := projection.Open(ctx, cfg.ProjectionDSN)
		if err != nil {
			return fmt.Errorf("open projection: %w", err)
		}
		defer proj.Close()
		go projectCommits(ctx, logger, proj, kv, n)
		logger.Printf("read-replica projection enabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewServer(n, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("validator RPC listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openKV(cfg *config.Config) (store.KV, error) {
	if cfg.DataDir == "" {
		return store.NewMemoryKV(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}
	switch cfg.KVBackend {
	case "pebble":
		return store.NewPebbleKV(filepath.Join(cfg.DataDir, "kv"))
	case "goleveldb":
		return store.NewGoLevelKV("kv", cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown KV backend %q", cfg.KVBackend)
	}
}

// loadOrCreateSigner reads the validator's ed25519 key from disk, creating
// a fresh one on first start. The fresh key is written to disk only when
// DataDir is set.
func loadOrCreateSigner(cfg *config.Config) (consensus.Ed25519Signer, error) {
	path := cfg.Ed25519KeyPath
	if !filepath.IsAbs(path) && cfg.DataDir != "" {
		path = filepath.Join(cfg.DataDir, path)
	}

	if b, err := os.ReadFile(path); err == nil {
		raw, err := hex.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return consensus.Ed25519Signer{}, fmt.Errorf("decode %s: %w", path, err)
		}
		return consensus.NewEd25519Signer(cmted25519.PrivKey(raw)), nil
	} else if !os.IsNotExist(err) {
		return consensus.Ed25519Signer{}, err
	}

	priv := cmted25519.GenPrivKey()
	if cfg.DataDir != "" {
		if err := os.WriteFile(path, []byte(hex.EncodeToString(priv)+"\n"), 0o600); err != nil {
			return consensus.Ed25519Signer{}, fmt.Errorf("persist %s: %w", path, err)
		}
	}
	return consensus.NewEd25519Signer(priv), nil
}

// bootstrapCommittee loads the genesis committee from the configured file,
// or defaults to a single-validator devnet committee containing only this
// process.
func bootstrapCommittee(cfg *config.Config, signer consensus.Ed25519Signer) (ids.Epoch, chainstate.Committee, error) {
	if cfg.CommitteeFile == "" {
		committee := chainstate.Committee{Members: []chainstate.CommitteeMember{{Validator: signer.PublicKey(), Weight: 1}}}
		return 0, committee, nil
	}
	cf, err := config.LoadCommitteeFile(cfg.CommitteeFile)
	if err != nil {
		return 0, chainstate.Committee{}, err
	}
	committee, err := cf.Committee()
	if err != nil {
		return 0, chainstate.Committee{}, err
	}
	return ids.Epoch(cf.Epoch), committee, nil
}

func resolveChainID(cfg *config.Config) (ids.ChainId, error) {
	if cfg.ChainID != "" {
		return ids.ParseChainId(cfg.ChainID)
	}
	return ids.ChainId(wire.HashBytes([]byte("devnet/" + cfg.ValidatorID))), nil
}

// seedGenesis makes the chain active (spec: description, owners, a known
// committee for the current epoch, an admin id) if this store has never
// seen it before. An already-seeded chain is left untouched.
func seedGenesis(kv store.KV, chainID ids.ChainId, epoch ids.Epoch, committee chainstate.Committee, owner ids.Owner) error {
	view := chainstate.NewChainStateView(store.NewContext(kv, []byte("chain/"+chainID.String())), chainID)

	sys, err := view.Execution.System.Get()
	if err != nil {
		return err
	}
	if len(sys.Ownership.Owners) > 0 {
		return nil
	}

	view.Execution.System.Set(chainstate.SystemSubstate{
		Epoch:      epoch,
		Ownership:  chainstate.Ownership{Owners: []ids.Owner{owner}},
		HasAdminID: true,
		AdminID:    chainID,
	})
	if err := view.Execution.System.Save(); err != nil {
		return err
	}
	if err := view.Execution.Committees.Insert(epoch, committee); err != nil {
		return err
	}
	return view.Flush()
}

// projectCommits mirrors each committed block's log entries into the
// Postgres read replica, driven by the node's new-block notifications.
func projectCommits(ctx context.Context, logger *log.Logger, proj *projection.Store, kv store.KV, n *node.ValidatorNode) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-n.Notifications():
			if !ok {
				return
			}
			if notif.Kind != node.NotifyNewBlock {
				continue
			}
			view := chainstate.NewChainStateView(store.NewContext(kv, []byte("chain/"+notif.ChainID.String())), notif.ChainID)
			if err := projection.Sync(ctx, proj, notif.ChainID, projection.ViewSource{View: view}); err != nil {
				logger.Printf("projection sync %s: %v", notif.ChainID, err)
			}
		}
	}
}
