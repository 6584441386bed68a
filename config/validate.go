package config

import (
	"fmt"
	"math/big"
	"strings"

	"stakeledger/crypto"
)

// MinSecretLength is the shortest accepted HMAC secret.
var MinSecretLength = 16

// Validate checks the configuration for values the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	switch cfg.Database {
	case DatabaseLevelDB, DatabaseMemory:
	default:
		return fmt.Errorf("database: unsupported backend %q", cfg.Database)
	}
	if cfg.RewardDurationSeconds == 0 {
		return fmt.Errorf("reward duration must be positive")
	}
	if len(strings.TrimSpace(cfg.Auth.HMACSecret)) < MinSecretLength {
		return fmt.Errorf("auth: secret must be at least %d characters", MinSecretLength)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be within [0, 1]")
	}
	if addr := strings.TrimSpace(cfg.ModuleAddress); addr != "" {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("module address: %w", err)
		}
	}
	if _, err := cfg.GenesisAllocations(); err != nil {
		return err
	}
	return nil
}

// GenesisAllocation is a decoded Allocation.
type GenesisAllocation struct {
	Account crypto.Address
	Amount  *big.Int
}

// GenesisAllocations decodes the genesis table.
func (c *Config) GenesisAllocations() ([]GenesisAllocation, error) {
	out := make([]GenesisAllocation, 0, len(c.Genesis))
	seen := make(map[[20]byte]struct{}, len(c.Genesis))
	for i, alloc := range c.Genesis {
		addr, err := crypto.DecodeAddress(alloc.Account)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if _, dup := seen[addr.Raw()]; dup {
			return nil, fmt.Errorf("genesis[%d]: duplicate account %s", i, addr.String())
		}
		seen[addr.Raw()] = struct{}{}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("genesis[%d]: invalid amount %q", i, alloc.Amount)
		}
		out = append(out, GenesisAllocation{Account: addr, Amount: amount})
	}
	return out, nil
}
