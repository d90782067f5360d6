package orderbook

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"sagemarket/core/types"
)

const (
	EventTypePairCreated    = "orderbook.pairCreated"
	EventTypeOrderPlaced    = "orderbook.orderPlaced"
	EventTypeOrderCancelled = "orderbook.orderCancelled"
	EventTypeOrderExpired   = "orderbook.orderExpired"
	EventTypeTrade          = "orderbook.trade"
	EventTypeFeesWithdrawn  = "orderbook.feesWithdrawn"
)

type bookEvent struct {
	evt *types.Event
}

func (e bookEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bookEvent) Event() *types.Event { return e.evt }

func newPairCreatedEvent(pair *Pair) *bookEvent {
	if pair == nil {
		return nil
	}
	return &bookEvent{evt: &types.Event{
		Type: EventTypePairCreated,
		Attributes: map[string]string{
			"pairId":       hex.EncodeToString(pair.ID[:]),
			"baseToken":    pair.BaseToken,
			"quoteToken":   pair.QuoteToken,
			"tickSize":     pair.TickSize.String(),
			"minOrderSize": pair.MinOrderSize.String(),
		},
	}}
}

func orderAttributes(order *Order) map[string]string {
	return map[string]string{
		"orderId":   strconv.FormatUint(order.ID, 10),
		"pairId":    hex.EncodeToString(order.PairID[:]),
		"maker":     hex.EncodeToString(order.Maker[:]),
		"side":      order.Side.String(),
		"type":      order.Type.String(),
		"price":     order.Price.String(),
		"amount":    order.Amount.String(),
		"remaining": order.Remaining.String(),
		"status":    order.Status.String(),
	}
}

func newOrderPlacedEvent(order *Order) *bookEvent {
	if order == nil {
		return nil
	}
	return &bookEvent{evt: &types.Event{Type: EventTypeOrderPlaced, Attributes: orderAttributes(order)}}
}

func newOrderCancelledEvent(order *Order) *bookEvent {
	if order == nil {
		return nil
	}
	return &bookEvent{evt: &types.Event{Type: EventTypeOrderCancelled, Attributes: orderAttributes(order)}}
}

func newOrderExpiredEvent(order *Order) *bookEvent {
	if order == nil {
		return nil
	}
	return &bookEvent{evt: &types.Event{Type: EventTypeOrderExpired, Attributes: orderAttributes(order)}}
}

func newTradeEvent(trade *Trade) *bookEvent {
	if trade == nil {
		return nil
	}
	return &bookEvent{evt: &types.Event{
		Type: EventTypeTrade,
		Attributes: map[string]string{
			"tradeId":      strconv.FormatUint(trade.ID, 10),
			"pairId":       hex.EncodeToString(trade.PairID[:]),
			"makerOrderId": strconv.FormatUint(trade.MakerOrderID, 10),
			"takerOrderId": strconv.FormatUint(trade.TakerOrderID, 10),
			"maker":        hex.EncodeToString(trade.Maker[:]),
			"taker":        hex.EncodeToString(trade.Taker[:]),
			"takerSide":    trade.TakerSide.String(),
			"price":        trade.Price.String(),
			"amount":       trade.Amount.String(),
			"makerFee":     trade.MakerFee.String(),
			"takerFee":     trade.TakerFee.String(),
		},
	}}
}

func newFeesWithdrawnEvent(token string, amount *big.Int, to [20]byte) *bookEvent {
	return &bookEvent{evt: &types.Event{
		Type: EventTypeFeesWithdrawn,
		Attributes: map[string]string{
			"token":  token,
			"amount": amount.String(),
			"to":     hex.EncodeToString(to[:]),
		},
	}}
}
