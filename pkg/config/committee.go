// Copyright 2025 Certen Protocol

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/certen/microchain/pkg/chainstate"
	"github.com/certen/microchain/pkg/ids"
)

// CommitteeMemberFile is one validator's entry in a committee bootstrap
// file: its ed25519 public key (hex, 0x-prefixed or bare) and its voting
// weight.
type CommitteeMemberFile struct {
	Validator string `yaml:"validator"`
	PublicKey string `yaml:"public_key"`
	Weight    uint64 `yaml:"weight"`
}

// CommitteeFile is the on-disk YAML shape a devnet or testnet operator
// edits by hand to pin the genesis committee, mirroring the teacher's own
// yaml.v3 use for static configuration rather than a generated format.
type CommitteeFile struct {
	Epoch   uint64                `yaml:"epoch"`
	Members []CommitteeMemberFile `yaml:"members"`
}

// LoadCommitteeFile reads and parses a committee bootstrap file from path.
func LoadCommitteeFile(path string) (CommitteeFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return CommitteeFile{}, fmt.Errorf("config: load committee file: %w", err)
	}
	var cf CommitteeFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return CommitteeFile{}, fmt.Errorf("config: parse committee file: %w", err)
	}
	return cf, nil
}

// Committee converts a parsed CommitteeFile into a chainstate.Committee.
func (cf CommitteeFile) Committee() (chainstate.Committee, error) {
	members := make([]chainstate.CommitteeMember, 0, len(cf.Members))
	for _, m := range cf.Members {
		owner, err := ids.ParseOwner(m.PublicKey)
		if err != nil {
			return chainstate.Committee{}, fmt.Errorf("config: committee member %q: %w", m.Validator, err)
		}
		members = append(members, chainstate.CommitteeMember{Validator: owner, Weight: m.Weight})
	}
	return chainstate.Committee{Members: members}, nil
}
