package projection_test

import (
	"context"
	"os"
	"testing"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/projection"
	"github.com/certen/microchain/pkg/store"
)

// Mirrors the teacher's own Postgres integration tests: skipped unless a
// real database is configured via CERTEN_TEST_DB.
func openTestStore(t *testing.T) *projection.Store {
	t.Helper()
	dsn := os.Getenv("CERTEN_TEST_DB")
	if dsn == "" {
		t.Skip("CERTEN_TEST_DB not configured, skipping projection integration test")
	}
	s, err := projection.Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open projection store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSyncProjectsConfirmedAndReceivedLogs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var chainID ids.ChainId
	chainID[0] = 0xAB

	view := newTestView(chainID)
	if err := view.ConfirmedLog.Push(hashOf(1)); err != nil {
		t.Fatalf("push confirmed: %v", err)
	}
	if err := view.ConfirmedLog.Push(hashOf(2)); err != nil {
		t.Fatalf("push confirmed: %v", err)
	}
	if err := view.ReceivedLog.Push(hashOf(3)); err != nil {
		t.Fatalf("push received: %v", err)
	}

	source := projection.ViewSource{View: view}
	if err := projection.Sync(ctx, store, chainID, source); err != nil {
		t.Fatalf("sync: %v", err)
	}

	cursor, err := store.LoadCursor(ctx, chainID)
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor.ConfirmedCount != 2 || cursor.ReceivedCount != 1 {
		t.Fatalf("unexpected cursor after first sync: %+v", cursor)
	}

	// A second sync with no new entries must be a no-op.
	if err := projection.Sync(ctx, store, chainID, source); err != nil {
		t.Fatalf("sync again: %v", err)
	}
	cursor, err = store.LoadCursor(ctx, chainID)
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor.ConfirmedCount != 2 || cursor.ReceivedCount != 1 {
		t.Fatalf("cursor advanced on no-op sync: %+v", cursor)
	}

	if err := view.ConfirmedLog.Push(hashOf(4)); err != nil {
		t.Fatalf("push confirmed: %v", err)
	}
	if err := projection.Sync(ctx, store, chainID, source); err != nil {
		t.Fatalf("sync after new entry: %v", err)
	}
	cursor, err = store.LoadCursor(ctx, chainID)
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor.ConfirmedCount != 3 {
		t.Fatalf("expected confirmed cursor 3, got %d", cursor.ConfirmedCount)
	}
}

func newTestView(chainID ids.ChainId) *chainstate.ChainStateView {
	kv := store.NewMemoryKV()
	ctx := store.NewContext(kv, []byte("chain/"+chainID.String()))
	return chainstate.NewChainStateView(ctx, chainID)
}

func hashOf(b byte) ids.CryptoHash {
	var h ids.CryptoHash
	h[0] = b
	return h
}
