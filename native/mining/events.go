package mining

import (
	"encoding/hex"
	"math/big"

	"sagemarket/core/types"
)

const (
	EventTypeJobRecorded = "mining.jobRecorded"
)

type miningEvent struct {
	evt *types.Event
}

func (e miningEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e miningEvent) Event() *types.Event { return e.evt }

func newJobRecordedEvent(worker [20]byte, jobID [32]byte, gpuTier GPUTier, stakeTier StakeTier, reward *big.Int) *miningEvent {
	amount := "0"
	if reward != nil {
		amount = reward.String()
	}
	return &miningEvent{evt: &types.Event{
		Type: EventTypeJobRecorded,
		Attributes: map[string]string{
			"worker":    hex.EncodeToString(worker[:]),
			"jobId":     hex.EncodeToString(jobID[:]),
			"gpuTier":   gpuTier.String(),
			"stakeTier": stakeTier.String(),
			"reward":    amount,
		},
	}}
}
