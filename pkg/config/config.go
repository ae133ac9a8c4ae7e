// Copyright 2025 Certen Protocol
//
// Package config loads the validator process's flat configuration from
// environment variables, mirroring the teacher's own pkg/config.Load.
package config

import (
	"os"
	"strconv"
)

// Config holds the process-wide configuration of a single validator node.
type Config struct {
	// ValidatorID names this process in logs and in the committee file.
	ValidatorID string

	// DataDir is the root directory for on-disk state: the Pebble/CometBFT
	// KV store and the ed25519 signing key. Empty means run against an
	// in-memory store (devnet/test mode; nothing survives a restart).
	DataDir string

	// Ed25519KeyPath is where the validator's signing key is persisted. A
	// relative path is resolved under DataDir.
	Ed25519KeyPath string

	// CommitteeFile points at a YAML committee bootstrap file (see
	// committee.go). Empty means bootstrap a single-validator devnet
	// committee containing only this process.
	CommitteeFile string

	// ChainID is the hex-encoded id of the chain this process drives
	// forward. Empty means derive a devnet chain id from ValidatorID.
	ChainID string

	// ListenAddr is the address the validator RPC surface (pkg/server)
	// binds to.
	ListenAddr string

	// KVBackend selects the on-disk store when DataDir is set: "pebble"
	// or "goleveldb". Ignored for in-memory runs.
	KVBackend string

	// ProjectionDSN is a postgres connection string for the optional
	// read-replica projection (pkg/projection). Empty disables it.
	ProjectionDSN string

	GracePeriodMillis int64
	MailboxSize       int

	CertificateValueCacheBytes int64
	BlobCacheBytes             int64
}

// Load populates a Config from environment variables, applying the same
// defaults a devnet single-validator run needs to work with zero
// configuration.
func Load() (*Config, error) {
	cfg := &Config{
		ValidatorID:    getEnv("VALIDATOR_ID", "validator-0"),
		DataDir:        getEnv("DATA_DIR", ""),
		Ed25519KeyPath: getEnv("ED25519_KEY_PATH", "validator.key"),
		CommitteeFile:  getEnv("COMMITTEE_FILE", ""),
		ChainID:        getEnv("CHAIN_ID", ""),
		ListenAddr:     getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
		KVBackend:      getEnv("KV_BACKEND", "pebble"),
		ProjectionDSN:  getEnv("PROJECTION_DSN", ""),

		GracePeriodMillis: getEnvInt64("GRACE_PERIOD_MILLIS", 5000),
		MailboxSize:       getEnvInt("MAILBOX_SIZE", 64),

		CertificateValueCacheBytes: getEnvInt64("CERT_VALUE_CACHE_BYTES", 64<<20),
		BlobCacheBytes:             getEnvInt64("BLOB_CACHE_BYTES", 64<<20),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
