package config_test

import (
	"testing"

	"github.com/certen/microchain/pkg/config"
)

func TestLoadAppliesDefaultsWithNoEnvironment(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ValidatorID == "" {
		t.Fatal("expected a non-empty default validator id")
	}
	if cfg.MailboxSize <= 0 || cfg.GracePeriodMillis <= 0 {
		t.Fatalf("unexpected zero-valued defaults: %+v", cfg)
	}
	if cfg.ListenAddr == "" || cfg.KVBackend == "" {
		t.Fatalf("unexpected empty defaults: %+v", cfg)
	}
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	t.Setenv("VALIDATOR_ID", "validator-test")
	t.Setenv("MAILBOX_SIZE", "128")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ValidatorID != "validator-test" {
		t.Fatalf("expected env override, got %q", cfg.ValidatorID)
	}
	if cfg.MailboxSize != 128 {
		t.Fatalf("expected mailbox size 128, got %d", cfg.MailboxSize)
	}
}
