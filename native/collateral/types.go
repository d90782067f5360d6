package collateral

import (
	"errors"
	"fmt"
	"math/big"

	"sagemarket/native/common"
)

// SlashReason selects the penalty severity applied to a participant.
type SlashReason uint8

const (
	SlashInvalidProof SlashReason = iota
	SlashDowntime
	SlashMalicious
	SlashConsensusFault
)

// Valid reports whether the reason is a known value.
func (r SlashReason) Valid() bool {
	switch r {
	case SlashInvalidProof, SlashDowntime, SlashMalicious, SlashConsensusFault:
		return true
	default:
		return false
	}
}

// String renders the reason for events and logs.
func (r SlashReason) String() string {
	switch r {
	case SlashInvalidProof:
		return "invalid_proof"
	case SlashDowntime:
		return "downtime"
	case SlashMalicious:
		return "malicious"
	case SlashConsensusFault:
		return "consensus_fault"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// Bps returns the slash percentage for the reason in basis points.
func (r SlashReason) Bps() uint32 {
	switch r {
	case SlashInvalidProof:
		return 2000
	case SlashDowntime:
		return 1000
	case SlashMalicious, SlashConsensusFault:
		return 5000
	default:
		return 0
	}
}

// ParseSlashReason resolves the canonical string form of a reason.
func ParseSlashReason(s string) (SlashReason, error) {
	switch s {
	case "invalid_proof":
		return SlashInvalidProof, nil
	case "downtime":
		return SlashDowntime, nil
	case "malicious":
		return SlashMalicious, nil
	case "consensus_fault":
		return SlashConsensusFault, nil
	default:
		return 0, fmt.Errorf("collateral: unknown slash reason %q", s)
	}
}

// Params tunes the weighting and unbonding behaviour.
type Params struct {
	// BaseRatioBps is the share of potential weight granted without any
	// collateral backing once the grace period ends.
	BaseRatioBps uint32 `json:"baseRatioBps"`
	// CollateralPerWeightUnit is the SAGE collateral required to activate one
	// unit of weight beyond the base share.
	CollateralPerWeightUnit *big.Int `json:"collateralPerWeightUnit"`
	// GracePeriodEndEpoch is the last epoch during which collateral
	// requirements are waived entirely.
	GracePeriodEndEpoch uint64 `json:"gracePeriodEndEpoch"`
	// UnbondingPeriodSecs is the cooldown between a withdrawal request and
	// the payout becoming claimable.
	UnbondingPeriodSecs uint64 `json:"unbondingPeriodSecs"`
}

// DefaultParams mirrors the launch configuration: a 20% unconditional base
// share, 30 grace epochs and a 7 day unbonding cooldown.
func DefaultParams() Params {
	return Params{
		BaseRatioBps:            2000,
		CollateralPerWeightUnit: big.NewInt(1_000_000_000_000_000_000),
		GracePeriodEndEpoch:     30,
		UnbondingPeriodSecs:     7 * 24 * 60 * 60,
	}
}

// Validate checks parameter bounds.
func (p Params) Validate() error {
	if p.BaseRatioBps > common.BpsDenominator {
		return fmt.Errorf("collateral: base ratio %d bps exceeds %d", p.BaseRatioBps, common.BpsDenominator)
	}
	if p.CollateralPerWeightUnit == nil || p.CollateralPerWeightUnit.Sign() <= 0 {
		return errors.New("collateral: collateral per weight unit must be positive")
	}
	if p.UnbondingPeriodSecs == 0 {
		return errors.New("collateral: unbonding period must be positive")
	}
	return nil
}

// State tracks a participant's collateral lifecycle and derived weights. The
// sum of Active and Unbonding only grows through Deposit and only shrinks via
// slashing or the completion of an unbonding request.
type State struct {
	Active                *big.Int `json:"active"`
	Unbonding             *big.Int `json:"unbonding"`
	UnbondCompleteAt      uint64   `json:"unbondCompleteAt"`
	UnbondCompletionEpoch uint64   `json:"unbondCompletionEpoch"`
	PotentialWeight       *big.Int `json:"potentialWeight"`
	EffectiveWeight       *big.Int `json:"effectiveWeight"`
	TotalSlashed          *big.Int `json:"totalSlashed"`
	IsActive              bool     `json:"isActive"`
}

func (s *State) ensure() *State {
	if s == nil {
		return &State{
			Active:          big.NewInt(0),
			Unbonding:       big.NewInt(0),
			PotentialWeight: big.NewInt(0),
			EffectiveWeight: big.NewInt(0),
			TotalSlashed:    big.NewInt(0),
		}
	}
	if s.Active == nil {
		s.Active = big.NewInt(0)
	}
	if s.Unbonding == nil {
		s.Unbonding = big.NewInt(0)
	}
	if s.PotentialWeight == nil {
		s.PotentialWeight = big.NewInt(0)
	}
	if s.EffectiveWeight == nil {
		s.EffectiveWeight = big.NewInt(0)
	}
	if s.TotalSlashed == nil {
		s.TotalSlashed = big.NewInt(0)
	}
	return s
}

// Clone returns a deep copy so callers can mutate the copy freely.
func (s *State) Clone() *State {
	if s == nil {
		return (&State{}).ensure()
	}
	clone := &State{
		UnbondCompleteAt:      s.UnbondCompleteAt,
		UnbondCompletionEpoch: s.UnbondCompletionEpoch,
		IsActive:              s.IsActive,
	}
	clone.Active = common.CopyBig(s.Active)
	clone.Unbonding = common.CopyBig(s.Unbonding)
	clone.PotentialWeight = common.CopyBig(s.PotentialWeight)
	clone.EffectiveWeight = common.CopyBig(s.EffectiveWeight)
	clone.TotalSlashed = common.CopyBig(s.TotalSlashed)
	return clone
}

var (
	// ErrUnbondingInProgress rejects a second withdrawal while one is
	// already cooling down.
	ErrUnbondingInProgress = errors.New("collateral: unbonding already in progress")
	// ErrNothingUnbonding is returned when completing with no pending
	// request.
	ErrNothingUnbonding = errors.New("collateral: no unbonding request")
	// ErrUnbondingNotReady is returned before the cooldown elapses.
	ErrUnbondingNotReady = errors.New("collateral: unbonding period not elapsed")
	// ErrInsufficientCollateral rejects withdrawals above the active
	// balance.
	ErrInsufficientCollateral = errors.New("collateral: insufficient active collateral")
	// ErrUnauthorizedSlasher rejects slash calls from outside the
	// staking/verifier/owner set.
	ErrUnauthorizedSlasher = errors.New("collateral: unauthorized slasher")
	// ErrOnlyOwner rejects parameter changes from non-owners.
	ErrOnlyOwner = errors.New("collateral: only owner")
)
