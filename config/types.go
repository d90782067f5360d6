package config

import (
	"fmt"
	"math/big"
	"strings"

	"sagemarket/native/collateral"
	"sagemarket/native/fees"
	"sagemarket/native/mining"
	"sagemarket/native/orderbook"
	"sagemarket/native/vesting"
)

// Fees mirrors the fee split applied to settled GMV, expressed in basis
// points. The three split shares partition the protocol fee.
type Fees struct {
	ProtocolFeeBps uint32 `toml:"ProtocolFeeBps"`
	BurnBps        uint32 `toml:"BurnBps"`
	TreasuryBps    uint32 `toml:"TreasuryBps"`
	StakerBps      uint32 `toml:"StakerBps"`
}

func (f *Fees) applyDefaults() {
	if f.ProtocolFeeBps == 0 && f.BurnBps == 0 && f.TreasuryBps == 0 && f.StakerBps == 0 {
		def := fees.DefaultConfig()
		f.ProtocolFeeBps = def.ProtocolFeeBps
		f.BurnBps = def.BurnBps
		f.TreasuryBps = def.TreasuryBps
		f.StakerBps = def.StakerBps
	}
}

// EngineConfig converts the section into the runtime fee configuration.
func (f Fees) EngineConfig() fees.Config {
	return fees.Config{
		ProtocolFeeBps: f.ProtocolFeeBps,
		BurnBps:        f.BurnBps,
		TreasuryBps:    f.TreasuryBps,
		StakerBps:      f.StakerBps,
	}
}

// Collateral tunes the participation weighting and unbonding rules. Amounts
// are decimal strings in base units.
type Collateral struct {
	Vault                   string   `toml:"Vault"`
	BaseRatioBps            uint32   `toml:"BaseRatioBps"`
	CollateralPerWeightUnit string   `toml:"CollateralPerWeightUnit"`
	GracePeriodEndEpoch     uint64   `toml:"GracePeriodEndEpoch"`
	UnbondingPeriodSecs     uint64   `toml:"UnbondingPeriodSecs"`
	Slashers                []string `toml:"Slashers"`
}

func (c *Collateral) applyDefaults() {
	def := collateral.DefaultParams()
	if c.BaseRatioBps == 0 {
		c.BaseRatioBps = def.BaseRatioBps
	}
	if strings.TrimSpace(c.CollateralPerWeightUnit) == "" {
		c.CollateralPerWeightUnit = def.CollateralPerWeightUnit.String()
	}
	if c.UnbondingPeriodSecs == 0 {
		c.UnbondingPeriodSecs = def.UnbondingPeriodSecs
	}
	if c.Slashers == nil {
		c.Slashers = []string{}
	}
}

// EngineParams converts the section into runtime collateral parameters.
func (c Collateral) EngineParams() (collateral.Params, error) {
	perUnit, err := parseAmount(c.CollateralPerWeightUnit)
	if err != nil {
		return collateral.Params{}, fmt.Errorf("invalid collateral.CollateralPerWeightUnit: %w", err)
	}
	return collateral.Params{
		BaseRatioBps:            c.BaseRatioBps,
		CollateralPerWeightUnit: perUnit,
		GracePeriodEndEpoch:     c.GracePeriodEndEpoch,
		UnbondingPeriodSecs:     c.UnbondingPeriodSecs,
	}, nil
}

// Mining configures the halvening reward schedule and per-tier daily caps.
// Amounts are decimal strings in base units.
type Mining struct {
	BaseReward          string   `toml:"BaseReward"`
	StartTimestamp      uint64   `toml:"StartTimestamp"`
	HalveningPeriodSecs uint64   `toml:"HalveningPeriodSecs"`
	PoolCap             string   `toml:"PoolCap"`
	StakeThresholds     []string `toml:"StakeThresholds"`
	DailyCaps           []string `toml:"DailyCaps"`
	ScheduleStepsBps    []uint32 `toml:"ScheduleStepsBps"`
	AuthorizedCallers   []string `toml:"AuthorizedCallers"`
}

func (m *Mining) applyDefaults() {
	def := mining.DefaultConfig()
	if strings.TrimSpace(m.BaseReward) == "" {
		m.BaseReward = def.BaseReward.String()
	}
	if m.HalveningPeriodSecs == 0 {
		m.HalveningPeriodSecs = def.HalveningPeriodSecs
	}
	if strings.TrimSpace(m.PoolCap) == "" {
		m.PoolCap = def.PoolCap.String()
	}
	if len(m.StakeThresholds) == 0 {
		m.StakeThresholds = amountStrings(def.StakeThresholds[:])
	}
	if len(m.DailyCaps) == 0 {
		m.DailyCaps = amountStrings(def.DailyCaps[:])
	}
	if m.AuthorizedCallers == nil {
		m.AuthorizedCallers = []string{}
	}
}

// EngineConfig converts the section into the runtime mining configuration.
func (m Mining) EngineConfig() (mining.Config, error) {
	cfg := mining.Config{
		StartTimestamp:      m.StartTimestamp,
		HalveningPeriodSecs: m.HalveningPeriodSecs,
	}
	var err error
	if cfg.BaseReward, err = parseAmount(m.BaseReward); err != nil {
		return cfg, fmt.Errorf("invalid mining.BaseReward: %w", err)
	}
	if cfg.PoolCap, err = parseAmount(m.PoolCap); err != nil {
		return cfg, fmt.Errorf("invalid mining.PoolCap: %w", err)
	}
	if len(m.StakeThresholds) != len(cfg.StakeThresholds) {
		return cfg, fmt.Errorf("mining.StakeThresholds requires %d entries", len(cfg.StakeThresholds))
	}
	for i, raw := range m.StakeThresholds {
		if cfg.StakeThresholds[i], err = parseAmount(raw); err != nil {
			return cfg, fmt.Errorf("invalid mining.StakeThresholds[%d]: %w", i, err)
		}
	}
	if len(m.DailyCaps) != len(cfg.DailyCaps) {
		return cfg, fmt.Errorf("mining.DailyCaps requires %d entries", len(cfg.DailyCaps))
	}
	for i, raw := range m.DailyCaps {
		if cfg.DailyCaps[i], err = parseAmount(raw); err != nil {
			return cfg, fmt.Errorf("invalid mining.DailyCaps[%d]: %w", i, err)
		}
	}
	return cfg, nil
}

// Schedule builds the halvening schedule, falling back to the built-in steps
// when none are configured.
func (m Mining) Schedule() (*mining.Schedule, error) {
	if len(m.ScheduleStepsBps) == 0 {
		return mining.DefaultSchedule(), nil
	}
	return mining.NewSchedule(m.ScheduleStepsBps)
}

// Vesting configures the per-reward-type vesting lengths. MinVestAmount is a
// decimal string in base units.
type Vesting struct {
	Vault              string   `toml:"Vault"`
	WorkVestEpochs     uint64   `toml:"WorkVestEpochs"`
	TopMinerVestEpochs uint64   `toml:"TopMinerVestEpochs"`
	SubsidyVestEpochs  uint64   `toml:"SubsidyVestEpochs"`
	MinVestAmount      string   `toml:"MinVestAmount"`
	AuthorizedGranters []string `toml:"AuthorizedGranters"`
}

func (v *Vesting) applyDefaults() {
	def := vesting.DefaultParams()
	if v.TopMinerVestEpochs == 0 {
		v.TopMinerVestEpochs = def.TopMinerVestEpochs
	}
	if v.SubsidyVestEpochs == 0 {
		v.SubsidyVestEpochs = def.SubsidyVestEpochs
	}
	if strings.TrimSpace(v.MinVestAmount) == "" {
		v.MinVestAmount = def.MinVestAmount.String()
	}
	if v.AuthorizedGranters == nil {
		v.AuthorizedGranters = []string{}
	}
}

// EngineParams converts the section into runtime vesting parameters.
func (v Vesting) EngineParams() (vesting.Params, error) {
	minVest, err := parseAmount(v.MinVestAmount)
	if err != nil {
		return vesting.Params{}, fmt.Errorf("invalid vesting.MinVestAmount: %w", err)
	}
	return vesting.Params{
		WorkVestEpochs:     v.WorkVestEpochs,
		TopMinerVestEpochs: v.TopMinerVestEpochs,
		SubsidyVestEpochs:  v.SubsidyVestEpochs,
		MinVestAmount:      minVest,
	}, nil
}

// Orderbook tunes trading fees and order admission limits. MaxOrderSize is a
// decimal string in base units.
type Orderbook struct {
	Vault             string `toml:"Vault"`
	MakerFeeBps       uint32 `toml:"MakerFeeBps"`
	TakerFeeBps       uint32 `toml:"TakerFeeBps"`
	DefaultExpirySecs int64  `toml:"DefaultExpirySecs"`
	MaxOrdersPerUser  int    `toml:"MaxOrdersPerUser"`
	MaxOrderSize      string `toml:"MaxOrderSize"`
}

func (o *Orderbook) applyDefaults() {
	def := orderbook.DefaultParams()
	if o.MakerFeeBps == 0 {
		o.MakerFeeBps = def.MakerFeeBps
	}
	if o.TakerFeeBps == 0 {
		o.TakerFeeBps = def.TakerFeeBps
	}
	if o.DefaultExpirySecs == 0 {
		o.DefaultExpirySecs = def.DefaultExpirySecs
	}
	if o.MaxOrdersPerUser == 0 {
		o.MaxOrdersPerUser = def.MaxOrdersPerUser
	}
	if strings.TrimSpace(o.MaxOrderSize) == "" {
		o.MaxOrderSize = def.MaxOrderSize.String()
	}
}

// EngineParams converts the section into runtime orderbook parameters.
func (o Orderbook) EngineParams() (orderbook.Params, error) {
	maxSize, err := parseAmount(o.MaxOrderSize)
	if err != nil {
		return orderbook.Params{}, fmt.Errorf("invalid orderbook.MaxOrderSize: %w", err)
	}
	return orderbook.Params{
		MakerFeeBps:       o.MakerFeeBps,
		TakerFeeBps:       o.TakerFeeBps,
		DefaultExpirySecs: o.DefaultExpirySecs,
		MaxOrdersPerUser:  o.MaxOrdersPerUser,
		MaxOrderSize:      maxSize,
	}, nil
}

// Pauses lists modules that start paused. Operators flip them at runtime via
// the gateway admin endpoint.
type Pauses struct {
	Fees       bool `toml:"Fees"`
	Collateral bool `toml:"Collateral"`
	Mining     bool `toml:"Mining"`
	Vesting    bool `toml:"Vesting"`
	Escrow     bool `toml:"Escrow"`
	Orderbook  bool `toml:"Orderbook"`
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func amountStrings(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = "0"
			continue
		}
		out[i] = v.String()
	}
	return out
}
