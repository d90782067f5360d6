package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"sagemarket/core/types"
)

const (
	EventTypeCreated   = "escrow.created"
	EventTypeAssigned  = "escrow.workerAssigned"
	EventTypeCompleted = "escrow.completed"
	EventTypeRefunded  = "escrow.refunded"
	EventTypeDisputed  = "escrow.disputed"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

func baseAttributes(entry *Entry) map[string]string {
	return map[string]string{
		"id":     hex.EncodeToString(entry.ID[:]),
		"client": hex.EncodeToString(entry.Client[:]),
		"worker": hex.EncodeToString(entry.Worker[:]),
		"status": entry.Status.String(),
	}
}

func newCreatedEvent(entry *Entry) *escrowEvent {
	if entry == nil {
		return nil
	}
	attrs := baseAttributes(entry)
	attrs["maxCost"] = entry.MaxCost.String()
	attrs["deadline"] = strconv.FormatInt(entry.Deadline, 10)
	return &escrowEvent{evt: &types.Event{Type: EventTypeCreated, Attributes: attrs}}
}

func newAssignedEvent(entry *Entry) *escrowEvent {
	if entry == nil {
		return nil
	}
	return &escrowEvent{evt: &types.Event{Type: EventTypeAssigned, Attributes: baseAttributes(entry)}}
}

func newCompletedEvent(entry *Entry, refund *big.Int) *escrowEvent {
	if entry == nil {
		return nil
	}
	attrs := baseAttributes(entry)
	attrs["actualCost"] = entry.ActualCost.String()
	if refund != nil {
		attrs["refund"] = refund.String()
	}
	return &escrowEvent{evt: &types.Event{Type: EventTypeCompleted, Attributes: attrs}}
}

func newRefundedEvent(entry *Entry, refunded *big.Int) *escrowEvent {
	if entry == nil {
		return nil
	}
	attrs := baseAttributes(entry)
	if refunded != nil {
		attrs["amount"] = refunded.String()
	}
	return &escrowEvent{evt: &types.Event{Type: EventTypeRefunded, Attributes: attrs}}
}

func newDisputedEvent(entry *Entry) *escrowEvent {
	if entry == nil {
		return nil
	}
	return &escrowEvent{evt: &types.Event{Type: EventTypeDisputed, Attributes: baseAttributes(entry)}}
}
