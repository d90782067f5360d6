package vesting

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"sagemarket/core/types"
)

const (
	EventTypeGranted = "vesting.granted"
	EventTypeClaimed = "vesting.claimed"
)

type vestingEvent struct {
	evt *types.Event
}

func (e vestingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vestingEvent) Event() *types.Event { return e.evt }

func newGrantedEvent(participant [20]byte, entry *Entry, index int) *vestingEvent {
	if entry == nil {
		return nil
	}
	return &vestingEvent{evt: &types.Event{
		Type: EventTypeGranted,
		Attributes: map[string]string{
			"participant": hex.EncodeToString(participant[:]),
			"amount":      entry.Amount.String(),
			"startEpoch":  strconv.FormatUint(entry.StartEpoch, 10),
			"endEpoch":    strconv.FormatUint(entry.EndEpoch, 10),
			"rewardType":  entry.RewardType.String(),
			"index":       strconv.Itoa(index),
		},
	}}
}

func newClaimedEvent(participant [20]byte, amount *big.Int, epoch uint64) *vestingEvent {
	return &vestingEvent{evt: &types.Event{
		Type: EventTypeClaimed,
		Attributes: map[string]string{
			"participant": hex.EncodeToString(participant[:]),
			"amount":      amount.String(),
			"epoch":       strconv.FormatUint(epoch, 10),
		},
	}}
}
