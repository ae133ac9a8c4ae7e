package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/certen/microchain/pkg/config"
)

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}

func TestLoadCommitteeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "committee.yaml")
	valid := "epoch: 3\nmembers:\n" +
		"  - validator: validator-0\n" +
		"    public_key: \"0x" + repeatHex("01", 32) + "\"\n" +
		"    weight: 1\n" +
		"  - validator: validator-1\n" +
		"    public_key: \"0x" + repeatHex("02", 32) + "\"\n" +
		"    weight: 2\n"
	if err := os.WriteFile(path, []byte(valid), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cf, err := config.LoadCommitteeFile(path)
	if err != nil {
		t.Fatalf("load committee file: %v", err)
	}
	if cf.Epoch != 3 || len(cf.Members) != 2 {
		t.Fatalf("unexpected committee file: %+v", cf)
	}

	committee, err := cf.Committee()
	if err != nil {
		t.Fatalf("committee: %v", err)
	}
	if len(committee.Members) != 2 || committee.TotalWeight() != 3 {
		t.Fatalf("unexpected committee: %+v", committee)
	}
}

func TestLoadCommitteeFileRejectsBadKeyLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "committee.yaml")
	bad := "epoch: 0\nmembers:\n" +
		"  - validator: validator-0\n" +
		"    public_key: \"0xabcd\"\n" +
		"    weight: 1\n"
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cf, err := config.LoadCommitteeFile(path)
	if err != nil {
		t.Fatalf("load committee file: %v", err)
	}
	if _, err := cf.Committee(); err == nil {
		t.Fatal("expected an error for a too-short public key")
	}
}
