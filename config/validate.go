package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ValidateConfig rejects configurations an operator should never run with:
// malformed addresses, a fee split that does not partition the protocol fee,
// or limits that would make every engine call fail.
func ValidateConfig(cfg *Config) error {
	for name, value := range map[string]string{
		"Admin":            cfg.Admin,
		"Treasury":         cfg.Treasury,
		"StakerPool":       cfg.StakerPool,
		"collateral.Vault": cfg.Collateral.Vault,
		"vesting.Vault":    cfg.Vesting.Vault,
		"orderbook.Vault":  cfg.Orderbook.Vault,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := ParseAddress(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, operator := range cfg.EpochOperators {
		if _, err := ParseAddress(operator); err != nil {
			return fmt.Errorf("EpochOperators: %w", err)
		}
	}

	f := cfg.Fees
	if f.ProtocolFeeBps > 10_000 {
		return fmt.Errorf("fees: ProtocolFeeBps exceeds 10000")
	}
	if f.BurnBps+f.TreasuryBps+f.StakerBps != 10_000 {
		return fmt.Errorf("fees: split shares must sum to 10000 bps")
	}
	if cfg.Collateral.BaseRatioBps > 10_000 {
		return fmt.Errorf("collateral: BaseRatioBps exceeds 10000")
	}
	if cfg.Orderbook.MaxOrdersPerUser <= 0 {
		return fmt.Errorf("orderbook: MaxOrdersPerUser must be positive")
	}
	if cfg.Orderbook.DefaultExpirySecs <= 0 {
		return fmt.Errorf("orderbook: DefaultExpirySecs must be positive")
	}
	if cfg.Mining.HalveningPeriodSecs == 0 {
		return fmt.Errorf("mining: HalveningPeriodSecs must be positive")
	}
	if cfg.EventFeedLimit <= 0 {
		return fmt.Errorf("EventFeedLimit must be positive")
	}
	return nil
}

// ParseAddress decodes a hex encoded 20-byte address with an optional 0x
// prefix.
func ParseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid address %q", raw)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("invalid address length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
