// Copyright 2025 Certen Protocol
//
// Package projection mirrors a chain's ConfirmedLog and ReceivedLog into
// Postgres for off-chain dashboards, the way the teacher's pkg/database
// projects proof artifacts out of the validator's authoritative state.
// The projection is strictly additive: the Pebble/CometBFT-backed
// chainstate.ChainStateView remains the only source of truth, and this
// package can be dropped and rebuilt from it at any time.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/certen/microchain/pkg/ids"
)

// Store projects chains' append-only logs into two Postgres
// tables, each keyed by (chain_id, seq) so re-running Sync after a crash
// just re-upserts rows it already wrote.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres at dsn and ensures the projection tables
// exist. Callers own the returned *Store's lifetime and must call Close.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("projection: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("projection: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS confirmed_log (
			chain_id   TEXT NOT NULL,
			seq        BIGINT NOT NULL,
			block_hash TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (chain_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS received_log (
			chain_id    TEXT NOT NULL,
			seq         BIGINT NOT NULL,
			message_hash TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (chain_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS projection_cursor (
			chain_id        TEXT PRIMARY KEY,
			confirmed_count BIGINT NOT NULL DEFAULT 0,
			received_count  BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("projection: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Cursor is the projector's last-known position in a chain's two logs.
type Cursor struct {
	ConfirmedCount uint64
	ReceivedCount  uint64
}

// LoadCursor returns the chain's last projected offsets, or a zero Cursor
// if the chain has never been projected before.
func (s *Store) LoadCursor(ctx context.Context, chainID ids.ChainId) (Cursor, error) {
	var cur Cursor
	row := s.db.QueryRowContext(ctx,
		`SELECT confirmed_count, received_count FROM projection_cursor WHERE chain_id = $1`,
		chainID.String())
	err := row.Scan(&cur.ConfirmedCount, &cur.ReceivedCount)
	if err == sql.ErrNoRows {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("projection: load cursor: %w", err)
	}
	return cur, nil
}

// AppendConfirmed writes newly-confirmed block hashes starting at
// fromSeq (the chain's ConfirmedLog index of hashes[0]) and advances the
// chain's confirmed cursor past them.
func (s *Store) AppendConfirmed(ctx context.Context, chainID ids.ChainId, fromSeq uint64, hashes []ids.CryptoHash) error {
	if len(hashes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("projection: begin: %w", err)
	}
	defer tx.Rollback()

	for i, h := range hashes {
		seq := fromSeq + uint64(i)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO confirmed_log (chain_id, seq, block_hash) VALUES ($1, $2, $3)
			 ON CONFLICT (chain_id, seq) DO UPDATE SET block_hash = EXCLUDED.block_hash`,
			chainID.String(), seq, h.String()); err != nil {
			return fmt.Errorf("projection: insert confirmed: %w", err)
		}
	}
	if err := upsertCursor(ctx, tx, chainID, "confirmed_count", fromSeq+uint64(len(hashes))); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("projection: commit: %w", err)
	}
	return nil
}

// AppendReceived writes newly-received message hashes the same way
// AppendConfirmed does for block hashes.
func (s *Store) AppendReceived(ctx context.Context, chainID ids.ChainId, fromSeq uint64, hashes []ids.CryptoHash) error {
	if len(hashes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("projection: begin: %w", err)
	}
	defer tx.Rollback()

	for i, h := range hashes {
		seq := fromSeq + uint64(i)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO received_log (chain_id, seq, message_hash) VALUES ($1, $2, $3)
			 ON CONFLICT (chain_id, seq) DO UPDATE SET message_hash = EXCLUDED.message_hash`,
			chainID.String(), seq, h.String()); err != nil {
			return fmt.Errorf("projection: insert received: %w", err)
		}
	}
	if err := upsertCursor(ctx, tx, chainID, "received_count", fromSeq+uint64(len(hashes))); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("projection: commit: %w", err)
	}
	return nil
}

func upsertCursor(ctx context.Context, tx *sql.Tx, chainID ids.ChainId, column string, value uint64) error {
	query := fmt.Sprintf(
		`INSERT INTO projection_cursor (chain_id, %s) VALUES ($1, $2)
		 ON CONFLICT (chain_id) DO UPDATE SET %s = EXCLUDED.%s`,
		column, column, column)
	if _, err := tx.ExecContext(ctx, query, chainID.String(), value); err != nil {
		return fmt.Errorf("projection: update cursor: %w", err)
	}
	return nil
}

// LogReader is the slice of chainstate.ChainStateView a Source needs:
// its two append-only logs, read by half-open range.
type LogReader interface {
	ConfirmedLen(ctx context.Context) (uint64, error)
	ReceivedLen(ctx context.Context) (uint64, error)
	ConfirmedRange(ctx context.Context, from, to uint64) ([]ids.CryptoHash, error)
	ReceivedRange(ctx context.Context, from, to uint64) ([]ids.CryptoHash, error)
}

// Sync advances the projection for chainID up to the source's current
// log lengths, projecting only the entries appended since the last
// Sync. It is safe to call repeatedly (e.g. from a ticker).
func Sync(ctx context.Context, store *Store, chainID ids.ChainId, source LogReader) error {
	cursor, err := store.LoadCursor(ctx, chainID)
	if err != nil {
		return err
	}

	confirmedLen, err := source.ConfirmedLen(ctx)
	if err != nil {
		return fmt.Errorf("projection: confirmed length: %w", err)
	}
	if confirmedLen > cursor.ConfirmedCount {
		hashes, err := source.ConfirmedRange(ctx, cursor.ConfirmedCount, confirmedLen)
		if err != nil {
			return fmt.Errorf("projection: read confirmed range: %w", err)
		}
		if err := store.AppendConfirmed(ctx, chainID, cursor.ConfirmedCount, hashes); err != nil {
			return err
		}
	}

	receivedLen, err := source.ReceivedLen(ctx)
	if err != nil {
		return fmt.Errorf("projection: received length: %w", err)
	}
	if receivedLen > cursor.ReceivedCount {
		hashes, err := source.ReceivedRange(ctx, cursor.ReceivedCount, receivedLen)
		if err != nil {
			return fmt.Errorf("projection: read received range: %w", err)
		}
		if err := store.AppendReceived(ctx, chainID, cursor.ReceivedCount, hashes); err != nil {
			return err
		}
	}

	return nil
}
