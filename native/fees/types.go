package fees

import (
	"errors"
	"fmt"
	"math/big"

	"sagemarket/native/common"
)

// Config captures the protocol fee and its burn/treasury/staker split. All
// values are basis points.
type Config struct {
	ProtocolFeeBps uint32 `json:"protocolFeeBps"`
	BurnBps        uint32 `json:"burnBps"`
	TreasuryBps    uint32 `json:"treasuryBps"`
	StakerBps      uint32 `json:"stakerBps"`
}

// DefaultConfig mirrors the launch parameters: a 20% protocol fee split
// 70/20/10 across burn, treasury and stakers.
func DefaultConfig() Config {
	return Config{ProtocolFeeBps: 2000, BurnBps: 7000, TreasuryBps: 2000, StakerBps: 1000}
}

// Validate ensures the split covers the whole protocol fee with nothing left
// over and the fee itself stays within 100%.
func (c Config) Validate() error {
	if c.ProtocolFeeBps > common.BpsDenominator {
		return fmt.Errorf("fees: protocol fee %d bps exceeds %d", c.ProtocolFeeBps, common.BpsDenominator)
	}
	total := uint64(c.BurnBps) + uint64(c.TreasuryBps) + uint64(c.StakerBps)
	if total != common.BpsDenominator {
		return fmt.Errorf("fees: split must sum to %d bps, got %d", common.BpsDenominator, total)
	}
	return nil
}

// Stats accumulates monotonic running totals across every processed
// transaction. Append-only; nothing ever decrements these.
type Stats struct {
	TotalGMV      *big.Int `json:"totalGmv"`
	TotalFees     *big.Int `json:"totalFees"`
	TotalBurned   *big.Int `json:"totalBurned"`
	TotalTreasury *big.Int `json:"totalTreasury"`
	TotalStakers  *big.Int `json:"totalStakers"`
	TotalWorkers  *big.Int `json:"totalWorkers"`
	TxCount       uint64   `json:"txCount"`
}

func newStats() *Stats {
	return &Stats{
		TotalGMV:      big.NewInt(0),
		TotalFees:     big.NewInt(0),
		TotalBurned:   big.NewInt(0),
		TotalTreasury: big.NewInt(0),
		TotalStakers:  big.NewInt(0),
		TotalWorkers:  big.NewInt(0),
	}
}

func (s *Stats) ensure() *Stats {
	if s == nil {
		return newStats()
	}
	if s.TotalGMV == nil {
		s.TotalGMV = big.NewInt(0)
	}
	if s.TotalFees == nil {
		s.TotalFees = big.NewInt(0)
	}
	if s.TotalBurned == nil {
		s.TotalBurned = big.NewInt(0)
	}
	if s.TotalTreasury == nil {
		s.TotalTreasury = big.NewInt(0)
	}
	if s.TotalStakers == nil {
		s.TotalStakers = big.NewInt(0)
	}
	if s.TotalWorkers == nil {
		s.TotalWorkers = big.NewInt(0)
	}
	return s
}

// Breakdown reports how one gross payment was divided. The four components
// always sum to the gross amount exactly.
type Breakdown struct {
	GMV           *big.Int `json:"gmv"`
	ProtocolFee   *big.Int `json:"protocolFee"`
	Burn          *big.Int `json:"burn"`
	Treasury      *big.Int `json:"treasury"`
	Staker        *big.Int `json:"staker"`
	WorkerPayment *big.Int `json:"workerPayment"`
}

// StakerReward tracks the lazily-settled reward position for one staker.
type StakerReward struct {
	PendingRewards      *big.Int `json:"pendingRewards"`
	TotalClaimed        *big.Int `json:"totalClaimed"`
	LastCalculatedEpoch uint64   `json:"lastCalculatedEpoch"`
	StakeShareBps       uint32   `json:"stakeShareBps"`
}

func (r *StakerReward) ensure() *StakerReward {
	if r == nil {
		return &StakerReward{PendingRewards: big.NewInt(0), TotalClaimed: big.NewInt(0)}
	}
	if r.PendingRewards == nil {
		r.PendingRewards = big.NewInt(0)
	}
	if r.TotalClaimed == nil {
		r.TotalClaimed = big.NewInt(0)
	}
	return r
}

var (
	// ErrUnauthorized rejects fee processing from callers outside the job
	// manager/owner set.
	ErrUnauthorized = errors.New("fees: unauthorized caller")
	// ErrOnlyOwner rejects configuration changes from non-owners.
	ErrOnlyOwner = errors.New("fees: only owner")
	// ErrShareOverflow rejects share updates that would push the aggregate
	// staker share past 100%.
	ErrShareOverflow = errors.New("fees: total staker share exceeds 10000 bps")
	// ErrNothingToClaim is returned when a claim settles zero rewards.
	ErrNothingToClaim = errors.New("fees: nothing to claim")
)
