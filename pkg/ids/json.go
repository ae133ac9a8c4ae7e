package ids

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MarshalJSON renders a ChainId the way the rest of the ecosystem renders
// 32-byte identifiers: a 0x-prefixed hex string, so a CLI or dashboard can
// paste a chain id straight out of --help output or a status endpoint.
func (c ChainId) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.Encode(c[:]))
}

func (c *ChainId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return fmt.Errorf("ids: decode chain id: %w", err)
	}
	if len(b) != CryptoHashSize {
		return fmt.Errorf("ids: decode chain id: want %d bytes, got %d", CryptoHashSize, len(b))
	}
	copy(c[:], b)
	return nil
}

// MarshalJSON renders a PublicKey (Owner) as a 0x-prefixed hex string.
func (p PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.Encode(p[:]))
}

func (p *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return fmt.Errorf("ids: decode public key: %w", err)
	}
	if len(b) != PublicKeySize {
		return fmt.Errorf("ids: decode public key: want %d bytes, got %d", PublicKeySize, len(b))
	}
	copy(p[:], b)
	return nil
}

// ParseChainId decodes a 0x-prefixed (or bare) hex string into a ChainId,
// the form accepted by the --chain-id flag and committee bootstrap files.
func ParseChainId(s string) (ChainId, error) {
	b, err := hexutil.Decode(ensure0x(s))
	if err != nil {
		return ChainId{}, fmt.Errorf("ids: parse chain id: %w", err)
	}
	if len(b) != CryptoHashSize {
		return ChainId{}, fmt.Errorf("ids: parse chain id: want %d bytes, got %d", CryptoHashSize, len(b))
	}
	var c ChainId
	copy(c[:], b)
	return c, nil
}

// ParseOwner decodes a 0x-prefixed (or bare) hex string into an Owner.
func ParseOwner(s string) (Owner, error) {
	b, err := hexutil.Decode(ensure0x(s))
	if err != nil {
		return Owner{}, fmt.Errorf("ids: parse owner: %w", err)
	}
	if len(b) != PublicKeySize {
		return Owner{}, fmt.Errorf("ids: parse owner: want %d bytes, got %d", PublicKeySize, len(b))
	}
	var o Owner
	copy(o[:], b)
	return o, nil
}

func ensure0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s
	}
	return "0x" + s
}
