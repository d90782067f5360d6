package mining

import (
	"errors"
	"fmt"
	"math/big"
)

// GPUTier classifies the hardware class a job ran on. Higher tiers earn a
// larger reward multiplier.
type GPUTier uint8

const (
	GPUTierConsumer GPUTier = iota
	GPUTierProsumer
	GPUTierWorkstation
	GPUTierDatacenter
	GPUTierFrontier
)

// Valid reports whether the tier is a known value.
func (t GPUTier) Valid() bool {
	return t <= GPUTierFrontier
}

// MultiplierBps returns the reward multiplier for the tier in basis points.
func (t GPUTier) MultiplierBps() uint32 {
	switch t {
	case GPUTierConsumer:
		return 10_000
	case GPUTierProsumer:
		return 12_500
	case GPUTierWorkstation:
		return 15_000
	case GPUTierDatacenter:
		return 20_000
	case GPUTierFrontier:
		return 25_000
	default:
		return 0
	}
}

// String renders the tier for events and logs.
func (t GPUTier) String() string {
	switch t {
	case GPUTierConsumer:
		return "consumer"
	case GPUTierProsumer:
		return "prosumer"
	case GPUTierWorkstation:
		return "workstation"
	case GPUTierDatacenter:
		return "datacenter"
	case GPUTierFrontier:
		return "frontier"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// StakeTier buckets a worker by staked SAGE for daily cap purposes. Bronze is
// the floor tier: workers below the bronze threshold still classify as
// Bronze rather than being excluded.
type StakeTier uint8

const (
	StakeTierBronze StakeTier = iota
	StakeTierSilver
	StakeTierGold
	StakeTierPlatinum
)

// String renders the tier for events and logs.
func (t StakeTier) String() string {
	switch t {
	case StakeTierBronze:
		return "bronze"
	case StakeTierSilver:
		return "silver"
	case StakeTierGold:
		return "gold"
	case StakeTierPlatinum:
		return "platinum"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Config tunes the issuance schedule and caps. Amounts are 18-decimal SAGE.
type Config struct {
	// BaseReward is the year-zero per-job reward before multipliers.
	BaseReward *big.Int `json:"baseReward"`
	// StartTimestamp anchors the halvening schedule.
	StartTimestamp uint64 `json:"startTimestamp"`
	// HalveningPeriodSecs is the length of one schedule step.
	HalveningPeriodSecs uint64 `json:"halveningPeriodSecs"`
	// PoolCap bounds lifetime issuance.
	PoolCap *big.Int `json:"poolCap"`
	// StakeThresholds are the ascending minimum stakes for Silver, Gold and
	// Platinum (Bronze is the floor).
	StakeThresholds [3]*big.Int `json:"stakeThresholds"`
	// DailyCaps are the per-tier daily earning caps, indexed by StakeTier.
	DailyCaps [4]*big.Int `json:"dailyCaps"`
}

func sage(n int64) *big.Int {
	out := big.NewInt(n)
	return out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// DefaultConfig mirrors the launch parameters: 2 SAGE base reward, yearly
// halvening steps, a 300M lifetime pool, and tier caps from 50 to 400 SAGE
// per day.
func DefaultConfig() Config {
	return Config{
		BaseReward:          sage(2),
		StartTimestamp:      0,
		HalveningPeriodSecs: 365 * 24 * 60 * 60,
		PoolCap:             sage(300_000_000),
		StakeThresholds:     [3]*big.Int{sage(1_000), sage(10_000), sage(100_000)},
		DailyCaps:           [4]*big.Int{sage(50), sage(100), sage(200), sage(400)},
	}
}

// Validate checks configuration bounds.
func (c Config) Validate() error {
	if c.BaseReward == nil || c.BaseReward.Sign() <= 0 {
		return errors.New("mining: base reward must be positive")
	}
	if c.HalveningPeriodSecs == 0 {
		return errors.New("mining: halvening period must be positive")
	}
	if c.PoolCap == nil || c.PoolCap.Sign() <= 0 {
		return errors.New("mining: pool cap must be positive")
	}
	prev := big.NewInt(0)
	for i, threshold := range c.StakeThresholds {
		if threshold == nil || threshold.Sign() <= 0 {
			return fmt.Errorf("mining: stake threshold %d must be positive", i)
		}
		if threshold.Cmp(prev) <= 0 {
			return fmt.Errorf("mining: stake thresholds must ascend")
		}
		prev = threshold
	}
	for i, limit := range c.DailyCaps {
		if limit == nil || limit.Sign() < 0 {
			return fmt.Errorf("mining: daily cap %d must be non-negative", i)
		}
	}
	return nil
}

// ClassifyStake resolves the stake tier for a staked amount.
func (c Config) ClassifyStake(stake *big.Int) StakeTier {
	if stake == nil {
		return StakeTierBronze
	}
	tier := StakeTierBronze
	for i, threshold := range c.StakeThresholds {
		if threshold != nil && stake.Cmp(threshold) >= 0 {
			tier = StakeTier(i + 1)
		}
	}
	return tier
}

// DailyStats tracks the per-day counters that lazily reset whenever the
// wall-clock day (timestamp/86400) changes.
type DailyStats struct {
	Day           uint64   `json:"day"`
	JobsCompleted uint64   `json:"jobsCompleted"`
	EarnedToday   *big.Int `json:"earnedToday"`
}

// WorkerStats aggregates a worker's lifetime and daily mining activity.
type WorkerStats struct {
	TotalJobs   uint64     `json:"totalJobs"`
	TotalEarned *big.Int   `json:"totalEarned"`
	Daily       DailyStats `json:"daily"`
	FirstJobAt  uint64     `json:"firstJobAt"`
	LastJobAt   uint64     `json:"lastJobAt"`
}

func (w *WorkerStats) ensure() *WorkerStats {
	if w == nil {
		return &WorkerStats{TotalEarned: big.NewInt(0), Daily: DailyStats{EarnedToday: big.NewInt(0)}}
	}
	if w.TotalEarned == nil {
		w.TotalEarned = big.NewInt(0)
	}
	if w.Daily.EarnedToday == nil {
		w.Daily.EarnedToday = big.NewInt(0)
	}
	return w
}

var (
	// ErrUnauthorized rejects job recording from callers outside the job
	// manager/owner set.
	ErrUnauthorized = errors.New("mining: unauthorized caller")
	// ErrOnlyOwner rejects configuration changes from non-owners.
	ErrOnlyOwner = errors.New("mining: only owner")
	// ErrInvalidGPUTier rejects unknown hardware tiers.
	ErrInvalidGPUTier = errors.New("mining: invalid gpu tier")
)
