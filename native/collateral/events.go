package collateral

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"sagemarket/core/types"
)

const (
	EventTypeDeposit           = "collateral.deposited"
	EventTypeWithdrawInitiated = "collateral.withdrawInitiated"
	EventTypeUnbondCompleted   = "collateral.unbondCompleted"
	EventTypeSlashed           = "collateral.slashed"
	EventTypeWeightUpdated     = "collateral.weightUpdated"
)

type collateralEvent struct {
	evt *types.Event
}

func (e collateralEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e collateralEvent) Event() *types.Event { return e.evt }

func bigAttr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newDepositEvent(participant [20]byte, amount *big.Int) *collateralEvent {
	return &collateralEvent{evt: &types.Event{
		Type: EventTypeDeposit,
		Attributes: map[string]string{
			"participant": hex.EncodeToString(participant[:]),
			"amount":      bigAttr(amount),
		},
	}}
}

func newWithdrawInitiatedEvent(participant [20]byte, amount *big.Int, completeAt uint64) *collateralEvent {
	return &collateralEvent{evt: &types.Event{
		Type: EventTypeWithdrawInitiated,
		Attributes: map[string]string{
			"participant": hex.EncodeToString(participant[:]),
			"amount":      bigAttr(amount),
			"completeAt":  strconv.FormatUint(completeAt, 10),
		},
	}}
}

func newUnbondCompletedEvent(participant [20]byte, amount *big.Int) *collateralEvent {
	return &collateralEvent{evt: &types.Event{
		Type: EventTypeUnbondCompleted,
		Attributes: map[string]string{
			"participant": hex.EncodeToString(participant[:]),
			"amount":      bigAttr(amount),
		},
	}}
}

func newSlashedEvent(participant [20]byte, reason SlashReason, total, active, unbonding *big.Int) *collateralEvent {
	return &collateralEvent{evt: &types.Event{
		Type: EventTypeSlashed,
		Attributes: map[string]string{
			"participant":   hex.EncodeToString(participant[:]),
			"reason":        reason.String(),
			"amount":        bigAttr(total),
			"fromActive":    bigAttr(active),
			"fromUnbonding": bigAttr(unbonding),
		},
	}}
}

func newWeightUpdatedEvent(participant [20]byte, st *State) *collateralEvent {
	if st == nil {
		return nil
	}
	return &collateralEvent{evt: &types.Event{
		Type: EventTypeWeightUpdated,
		Attributes: map[string]string{
			"participant":     hex.EncodeToString(participant[:]),
			"potentialWeight": bigAttr(st.PotentialWeight),
			"effectiveWeight": bigAttr(st.EffectiveWeight),
		},
	}}
}
