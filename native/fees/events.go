package fees

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"sagemarket/core/types"
)

const (
	EventTypeProcessed     = "fees.processed"
	EventTypeConfigUpdated = "fees.configUpdated"
	EventTypeShareUpdated  = "fees.stakerShareUpdated"
	EventTypeStakerClaimed = "fees.stakerClaimed"
)

type feeEvent struct {
	evt *types.Event
}

func (e feeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e feeEvent) Event() *types.Event { return e.evt }

func bigAttr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newProcessedEvent(worker [20]byte, b *Breakdown, epoch uint64) *feeEvent {
	if b == nil {
		return nil
	}
	return &feeEvent{evt: &types.Event{
		Type: EventTypeProcessed,
		Attributes: map[string]string{
			"worker":        hex.EncodeToString(worker[:]),
			"gmv":           bigAttr(b.GMV),
			"protocolFee":   bigAttr(b.ProtocolFee),
			"burn":          bigAttr(b.Burn),
			"treasury":      bigAttr(b.Treasury),
			"staker":        bigAttr(b.Staker),
			"workerPayment": bigAttr(b.WorkerPayment),
			"epoch":         strconv.FormatUint(epoch, 10),
		},
	}}
}

func newConfigUpdatedEvent(cfg Config) *feeEvent {
	return &feeEvent{evt: &types.Event{
		Type: EventTypeConfigUpdated,
		Attributes: map[string]string{
			"protocolFeeBps": strconv.FormatUint(uint64(cfg.ProtocolFeeBps), 10),
			"burnBps":        strconv.FormatUint(uint64(cfg.BurnBps), 10),
			"treasuryBps":    strconv.FormatUint(uint64(cfg.TreasuryBps), 10),
			"stakerBps":      strconv.FormatUint(uint64(cfg.StakerBps), 10),
		},
	}}
}

func newShareUpdatedEvent(staker [20]byte, shareBps, totalBps uint32) *feeEvent {
	return &feeEvent{evt: &types.Event{
		Type: EventTypeShareUpdated,
		Attributes: map[string]string{
			"staker":   hex.EncodeToString(staker[:]),
			"shareBps": strconv.FormatUint(uint64(shareBps), 10),
			"totalBps": strconv.FormatUint(uint64(totalBps), 10),
		},
	}}
}

func newStakerClaimedEvent(staker [20]byte, amount *big.Int, epoch uint64) *feeEvent {
	return &feeEvent{evt: &types.Event{
		Type: EventTypeStakerClaimed,
		Attributes: map[string]string{
			"staker": hex.EncodeToString(staker[:]),
			"amount": bigAttr(amount),
			"epoch":  strconv.FormatUint(epoch, 10),
		},
	}}
}
