package vesting

import (
	"errors"
	"fmt"
	"math/big"

	"sagemarket/native/common"
)

// RewardType selects the vesting schedule applied to a grant.
type RewardType uint8

const (
	// RewardWork vests immediately: payment for completed compute.
	RewardWork RewardType = iota
	// RewardTopMiner vests linearly over the top-miner schedule.
	RewardTopMiner
	// RewardSubsidy vests linearly over the long subsidy schedule.
	RewardSubsidy
)

// Valid reports whether the reward type is known.
func (t RewardType) Valid() bool {
	return t <= RewardSubsidy
}

// String renders the reward type for events and logs.
func (t RewardType) String() string {
	switch t {
	case RewardWork:
		return "work"
	case RewardTopMiner:
		return "top_miner"
	case RewardSubsidy:
		return "subsidy"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Params tunes the vesting schedules and the dust threshold.
type Params struct {
	// WorkVestEpochs is the vesting length for work rewards (zero means
	// immediate).
	WorkVestEpochs uint64 `json:"workVestEpochs"`
	// TopMinerVestEpochs is the vesting length for top-miner rewards.
	TopMinerVestEpochs uint64 `json:"topMinerVestEpochs"`
	// SubsidyVestEpochs is the vesting length for subsidy rewards.
	SubsidyVestEpochs uint64 `json:"subsidyVestEpochs"`
	// MinVestAmount suppresses dust grants below this amount.
	MinVestAmount *big.Int `json:"minVestAmount"`
}

// DefaultParams mirrors the launch schedules: immediate work rewards, 90
// epoch top-miner vesting, 180 epoch subsidy vesting.
func DefaultParams() Params {
	return Params{
		WorkVestEpochs:     0,
		TopMinerVestEpochs: 90,
		SubsidyVestEpochs:  180,
		MinVestAmount:      big.NewInt(1_000_000_000_000),
	}
}

// VestEpochs resolves the schedule length for a reward type.
func (p Params) VestEpochs(t RewardType) uint64 {
	switch t {
	case RewardTopMiner:
		return p.TopMinerVestEpochs
	case RewardSubsidy:
		return p.SubsidyVestEpochs
	default:
		return p.WorkVestEpochs
	}
}

// Entry records one reward grant and its claim progress. Entries are never
// deleted; a fully claimed entry keeps a zero remainder and is cheap to skip.
type Entry struct {
	Amount     *big.Int   `json:"amount"`
	StartEpoch uint64     `json:"startEpoch"`
	EndEpoch   uint64     `json:"endEpoch"`
	Claimed    *big.Int   `json:"claimed"`
	RewardType RewardType `json:"rewardType"`
}

func (e *Entry) ensure() *Entry {
	if e == nil {
		return &Entry{Amount: big.NewInt(0), Claimed: big.NewInt(0)}
	}
	if e.Amount == nil {
		e.Amount = big.NewInt(0)
	}
	if e.Claimed == nil {
		e.Claimed = big.NewInt(0)
	}
	return e
}

// ClaimableAt computes the amount claimable from the entry as of epoch. Fully
// elapsed or immediate schedules release the whole remainder; otherwise the
// vested amount interpolates linearly and already-claimed value is deducted,
// floored at zero.
func (e *Entry) ClaimableAt(epoch uint64) *big.Int {
	e = e.ensure()
	remainder := new(big.Int).Sub(e.Amount, e.Claimed)
	if remainder.Sign() <= 0 {
		return big.NewInt(0)
	}
	if epoch >= e.EndEpoch || e.StartEpoch == e.EndEpoch {
		return remainder
	}
	if epoch <= e.StartEpoch {
		return big.NewInt(0)
	}
	elapsed := new(big.Int).SetUint64(epoch - e.StartEpoch)
	span := new(big.Int).SetUint64(e.EndEpoch - e.StartEpoch)
	vested := common.Proportion(e.Amount, elapsed, span)
	claimable := vested.Sub(vested, e.Claimed)
	if claimable.Sign() < 0 {
		return big.NewInt(0)
	}
	return claimable
}

var (
	// ErrOnlyOwner rejects parameter changes from non-owners.
	ErrOnlyOwner = errors.New("vesting: only owner")
	// ErrUnauthorized rejects grants from callers outside the authorized
	// set.
	ErrUnauthorized = errors.New("vesting: unauthorized caller")
	// ErrEntryNotFound is returned for out-of-range entry indices.
	ErrEntryNotFound = errors.New("vesting: entry not found")
	// ErrNothingToClaim is returned when no value is claimable.
	ErrNothingToClaim = errors.New("vesting: nothing to claim")
)
