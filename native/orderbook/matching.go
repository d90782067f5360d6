package orderbook

import (
	"fmt"
	"math/big"

	"sagemarket/native/common"
)

// PlaceLimitOrder validates, locks funds, rests the order and immediately
// attempts to cross it. Buy orders lock price*amount/1e18 of the quote token,
// sell orders lock the base amount. The returned order reflects the
// post-match state.
func (e *Engine) PlaceLimitOrder(maker [20]byte, pairID [32]byte, side Side, price, amount *big.Int, expiresInSecs int64) (_ *Order, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	e.begin()
	defer e.end(&err)
	pair, err := e.Pair(pairID)
	if err != nil {
		return nil, err
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	if err := e.validatePlacement(pair, params, maker, amount); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if new(big.Int).Mod(price, pair.TickSize).Sign() != 0 {
		return nil, ErrInvalidPrice
	}

	now := e.now()
	order := &Order{
		Maker:     maker,
		PairID:    pairID,
		Side:      side,
		Type:      TypeLimit,
		Price:     common.CopyBig(price),
		Amount:    common.CopyBig(amount),
		Remaining: common.CopyBig(amount),
		Status:    StatusOpen,
		CreatedAt: now,
		ExpiresAt: expiryFor(now, expiresInSecs, params.DefaultExpirySecs),
	}
	order.ID, err = e.nextSeq(orderSeqKey)
	if err != nil {
		return nil, err
	}

	if side == SideBuy {
		locked := quoteFor(order.Price, order.Amount)
		if err := e.transfers.Transfer(maker, e.vault, pair.QuoteToken, locked); err != nil {
			return nil, err
		}
	} else {
		if err := e.transfers.Transfer(maker, e.vault, pair.BaseToken, order.Amount); err != nil {
			return nil, err
		}
	}

	ids, err := e.sideList(pairID, side)
	if err != nil {
		return nil, err
	}
	ids = append(ids, order.ID)
	if err := e.putSideList(pairID, side, ids); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(orderKey(order.ID), order); err != nil {
		return nil, err
	}
	if err := e.adjustOpenCount(maker, 1); err != nil {
		return nil, err
	}
	if err := e.seedBest(pairID, side, order.Price); err != nil {
		return nil, err
	}
	e.emit(newOrderPlacedEvent(order))

	if err := e.match(pair, params, order); err != nil {
		return nil, err
	}
	return e.Order(order.ID)
}

// PlaceMarketOrder crosses the book immediately at the best available
// prices. Sell orders lock the base amount up front; buy orders pay quote
// per fill from the taker's balance. A market order never rests: any
// unfilled remainder is released and the order is marked Cancelled. An empty
// opposite book is a fatal error.
func (e *Engine) PlaceMarketOrder(taker [20]byte, pairID [32]byte, side Side, amount *big.Int) (_ *Order, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	e.begin()
	defer e.end(&err)
	pair, err := e.Pair(pairID)
	if err != nil {
		return nil, err
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	if err := e.validatePlacement(pair, params, taker, amount); err != nil {
		return nil, err
	}

	now := e.now()
	order := &Order{
		Maker:     taker,
		PairID:    pairID,
		Side:      side,
		Type:      TypeMarket,
		Price:     big.NewInt(0),
		Amount:    common.CopyBig(amount),
		Remaining: common.CopyBig(amount),
		Status:    StatusOpen,
		CreatedAt: now,
	}
	order.ID, err = e.nextSeq(orderSeqKey)
	if err != nil {
		return nil, err
	}
	if side == SideSell {
		if err := e.transfers.Transfer(taker, e.vault, pair.BaseToken, order.Amount); err != nil {
			return nil, err
		}
	}
	if err := e.state.KVPut(orderKey(order.ID), order); err != nil {
		return nil, err
	}
	e.emit(newOrderPlacedEvent(order))

	if err := e.match(pair, params, order); err != nil {
		return nil, err
	}
	unfilled := order.Amount.Cmp(order.Remaining) == 0
	if order.Status.Resting() {
		// Market orders never rest: release the unfilled remainder and
		// close the order.
		if order.Side == SideSell && order.Remaining.Sign() > 0 {
			if err := e.transfers.Transfer(e.vault, taker, pair.BaseToken, order.Remaining); err != nil {
				return nil, err
			}
		}
		order.Status = StatusCancelled
		if err := e.state.KVPut(orderKey(order.ID), order); err != nil {
			return nil, err
		}
		e.emit(newOrderCancelledEvent(order))
	}
	if unfilled {
		return nil, ErrNoLiquidity
	}
	return order, nil
}

// CancelOrder releases a resting order's remaining funds. The order's maker
// or the engine owner may call.
func (e *Engine) CancelOrder(caller [20]byte, id uint64) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	e.begin()
	defer e.end(&err)
	order, err := e.Order(id)
	if err != nil {
		return err
	}
	if caller != order.Maker && caller != e.owner {
		return ErrNotOrderOwner
	}
	if !order.Status.Resting() {
		return ErrOrderNotOpen
	}
	pair, err := e.Pair(order.PairID)
	if err != nil {
		return err
	}
	if err := e.release(pair, order); err != nil {
		return err
	}
	order.Status = StatusCancelled
	if err := e.removeFromBook(order); err != nil {
		return err
	}
	if err := e.state.KVPut(orderKey(order.ID), order); err != nil {
		return err
	}
	if err := e.adjustOpenCount(order.Maker, -1); err != nil {
		return err
	}
	e.emit(newOrderCancelledEvent(order))
	return nil
}

// ExpireOrders sweeps a pair's book and settles every order whose expiry has
// passed, releasing the remaining locked funds. Anyone may call; it returns
// the number of orders cleared. Expiry is otherwise checked only when the
// matching loop happens to touch a stale order.
func (e *Engine) ExpireOrders(pairID [32]byte) (_ int, err error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return 0, err
	}
	e.begin()
	defer e.end(&err)
	pair, err := e.Pair(pairID)
	if err != nil {
		return 0, err
	}
	now := e.now()
	cleared := 0
	for _, side := range []Side{SideBuy, SideSell} {
		ids, err := e.sideList(pairID, side)
		if err != nil {
			return cleared, err
		}
		kept := ids[:0]
		for _, id := range ids {
			order, err := e.Order(id)
			if err != nil {
				return cleared, err
			}
			if !order.Status.Resting() || !order.expired(now) {
				kept = append(kept, id)
				continue
			}
			if err := e.settleStale(pair, order); err != nil {
				return cleared, err
			}
			cleared++
		}
		if err := e.putSideList(pairID, side, kept); err != nil {
			return cleared, err
		}
	}
	if cleared > 0 {
		if err := e.recalcBest(pairID); err != nil {
			return cleared, err
		}
	}
	return cleared, nil
}

func (e *Engine) validatePlacement(pair *Pair, params Params, maker [20]byte, amount *big.Int) error {
	if !pair.Active {
		return ErrPairInactive
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountOutOfRange
	}
	if amount.Cmp(pair.MinOrderSize) < 0 {
		return ErrAmountOutOfRange
	}
	if params.MaxOrderSize != nil && params.MaxOrderSize.Sign() > 0 && amount.Cmp(params.MaxOrderSize) > 0 {
		return ErrAmountOutOfRange
	}
	count, err := e.OpenOrderCount(maker)
	if err != nil {
		return err
	}
	if count >= params.MaxOrdersPerUser {
		return ErrTooManyOrders
	}
	return nil
}

func expiryFor(now, override, fallback int64) int64 {
	if override > 0 {
		return now + override
	}
	if fallback > 0 {
		return now + fallback
	}
	return 0
}

// seedBest keeps the cached top of book current on insert: bids keep the
// maximum, asks keep the minimum or seed an empty side.
func (e *Engine) seedBest(pairID [32]byte, side Side, price *big.Int) error {
	best, err := e.BestPrices(pairID)
	if err != nil {
		return err
	}
	if side == SideBuy {
		if price.Cmp(best.Bid) > 0 {
			best.Bid = common.CopyBig(price)
		}
	} else {
		if best.Ask.Sign() == 0 || price.Cmp(best.Ask) < 0 {
			best.Ask = common.CopyBig(price)
		}
	}
	return e.putBest(pairID, best)
}

// recalcBest rescans both sides of the book for the true top. Required after
// any removal that may have emptied a price level.
func (e *Engine) recalcBest(pairID [32]byte) error {
	best := (&BestPrices{}).ensure()
	for _, side := range []Side{SideBuy, SideSell} {
		ids, err := e.sideList(pairID, side)
		if err != nil {
			return err
		}
		for _, id := range ids {
			order, err := e.Order(id)
			if err != nil {
				return err
			}
			if !order.Status.Resting() {
				continue
			}
			if side == SideBuy {
				if order.Price.Cmp(best.Bid) > 0 {
					best.Bid = common.CopyBig(order.Price)
				}
			} else {
				if best.Ask.Sign() == 0 || order.Price.Cmp(best.Ask) < 0 {
					best.Ask = common.CopyBig(order.Price)
				}
			}
		}
	}
	return e.putBest(pairID, best)
}

// release refunds an order's remaining lock to its maker. Market buys lock
// nothing, so there is nothing to return for them.
func (e *Engine) release(pair *Pair, order *Order) error {
	if order.Remaining.Sign() == 0 {
		return nil
	}
	if order.Side == SideBuy {
		if order.Type == TypeMarket {
			return nil
		}
		refund := quoteFor(order.Price, order.Remaining)
		if refund.Sign() == 0 {
			return nil
		}
		return e.transfers.Transfer(e.vault, order.Maker, pair.QuoteToken, refund)
	}
	return e.transfers.Transfer(e.vault, order.Maker, pair.BaseToken, order.Remaining)
}

func (e *Engine) removeFromBook(order *Order) error {
	ids, err := e.sideList(order.PairID, order.Side)
	if err != nil {
		return err
	}
	ids = removeID(ids, order.ID)
	if err := e.putSideList(order.PairID, order.Side, ids); err != nil {
		return err
	}
	return e.recalcBest(order.PairID)
}

// settleStale expires a resting order encountered past its expiry. Untouched
// orders expire; partially filled ones can only close as cancelled.
func (e *Engine) settleStale(pair *Pair, order *Order) error {
	if err := e.release(pair, order); err != nil {
		return err
	}
	if order.Status == StatusOpen {
		order.Status = StatusExpired
	} else {
		order.Status = StatusCancelled
	}
	if err := e.state.KVPut(orderKey(order.ID), order); err != nil {
		return err
	}
	if err := e.adjustOpenCount(order.Maker, -1); err != nil {
		return err
	}
	e.emit(newOrderExpiredEvent(order))
	return nil
}

// crosses reports whether the taker's limit admits the maker's price. Market
// orders cross any price.
func crosses(taker *Order, makerPrice *big.Int) bool {
	if taker.Type == TypeMarket {
		return true
	}
	if taker.Side == SideBuy {
		return taker.Price.Cmp(makerPrice) >= 0
	}
	return taker.Price.Cmp(makerPrice) <= 0
}

// bestCandidate scans the opposite side for the best-priced resting order
// the taker may legally cross: price priority first, arrival order within a
// level, same-maker orders skipped, stale orders settled on the way.
func (e *Engine) bestCandidate(pair *Pair, taker *Order) (*Order, error) {
	ids, err := e.sideList(pair.ID, taker.Side.Opposite())
	if err != nil {
		return nil, err
	}
	now := e.now()
	var best *Order
	kept := ids[:0]
	dirty := false
	for _, id := range ids {
		order, err := e.Order(id)
		if err != nil {
			return nil, err
		}
		if !order.Status.Resting() {
			dirty = true
			continue
		}
		if order.expired(now) {
			if err := e.settleStale(pair, order); err != nil {
				return nil, err
			}
			dirty = true
			continue
		}
		kept = append(kept, id)
		if order.Maker == taker.Maker {
			continue
		}
		if best == nil {
			best = order
			continue
		}
		if taker.Side == SideBuy {
			if order.Price.Cmp(best.Price) < 0 {
				best = order
			}
		} else {
			if order.Price.Cmp(best.Price) > 0 {
				best = order
			}
		}
	}
	if dirty {
		if err := e.putSideList(pair.ID, taker.Side.Opposite(), kept); err != nil {
			return nil, err
		}
		if err := e.recalcBest(pair.ID); err != nil {
			return nil, err
		}
	}
	return best, nil
}

// match crosses the taker against the book until its limit stops crossing or
// liquidity runs out. Execution is always at the resting order's price.
func (e *Engine) match(pair *Pair, params Params, taker *Order) error {
	for taker.Remaining.Sign() > 0 {
		maker, err := e.bestCandidate(pair, taker)
		if err != nil {
			return err
		}
		if maker == nil || !crosses(taker, maker.Price) {
			return nil
		}
		if err := e.fill(pair, params, taker, maker); err != nil {
			return err
		}
	}
	return nil
}

// fill executes one trade between taker and maker at the maker's price,
// settling both legs through the vault. The buyer's base leg and the
// seller's quote leg each shed the fee for that side's role.
func (e *Engine) fill(pair *Pair, params Params, taker, maker *Order) error {
	price := maker.Price
	amount := common.MinBig(taker.Remaining, maker.Remaining)
	quoteAmt := quoteFor(price, amount)

	buyer, seller := taker, maker
	if taker.Side == SideSell {
		buyer, seller = maker, taker
	}
	buyerBps := params.MakerFeeBps
	if buyer == taker {
		buyerBps = params.TakerFeeBps
	}
	sellerBps := params.MakerFeeBps
	if seller == taker {
		sellerBps = params.TakerFeeBps
	}
	baseFee := common.PercentOf(amount, buyerBps)
	quoteFee := common.PercentOf(quoteAmt, sellerBps)

	// Market buys lock nothing up front: fund the quote leg per fill.
	if buyer.Type == TypeMarket {
		if err := e.transfers.Transfer(buyer.Maker, e.vault, pair.QuoteToken, quoteAmt); err != nil {
			return err
		}
	}
	baseOut := new(big.Int).Sub(amount, baseFee)
	if baseOut.Sign() > 0 {
		if err := e.transfers.Transfer(e.vault, buyer.Maker, pair.BaseToken, baseOut); err != nil {
			return err
		}
	}
	quoteOut := new(big.Int).Sub(quoteAmt, quoteFee)
	if quoteOut.Sign() > 0 {
		if err := e.transfers.Transfer(e.vault, seller.Maker, pair.QuoteToken, quoteOut); err != nil {
			return err
		}
	}
	// A limit buy locked quote at its own limit; price improvement over the
	// maker's price returns to the buyer now so the lock stays exact.
	if buyer.Type == TypeLimit && buyer.Price.Cmp(price) > 0 {
		surplus := new(big.Int).Sub(quoteFor(buyer.Price, amount), quoteAmt)
		if surplus.Sign() > 0 {
			if err := e.transfers.Transfer(e.vault, buyer.Maker, pair.QuoteToken, surplus); err != nil {
				return err
			}
		}
	}
	if err := e.accrueFee(pair.BaseToken, baseFee); err != nil {
		return err
	}
	if err := e.accrueFee(pair.QuoteToken, quoteFee); err != nil {
		return err
	}

	if err := e.applyFill(taker, amount); err != nil {
		return err
	}
	if err := e.applyFill(maker, amount); err != nil {
		return err
	}
	if !maker.Status.Resting() {
		if err := e.removeFromBook(maker); err != nil {
			return err
		}
		if err := e.adjustOpenCount(maker.Maker, -1); err != nil {
			return err
		}
	}
	if taker.Type == TypeLimit && !taker.Status.Resting() {
		if err := e.removeFromBook(taker); err != nil {
			return err
		}
		if err := e.adjustOpenCount(taker.Maker, -1); err != nil {
			return err
		}
	}

	makerFee, takerFee := baseFee, quoteFee
	if maker == seller {
		makerFee, takerFee = quoteFee, baseFee
	}
	tradeID, err := e.nextSeq(tradeSeqKey)
	if err != nil {
		return err
	}
	trade := &Trade{
		ID:           tradeID,
		PairID:       pair.ID,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		Maker:        maker.Maker,
		Taker:        taker.Maker,
		TakerSide:    taker.Side,
		Price:        common.CopyBig(price),
		Amount:       common.CopyBig(amount),
		MakerFee:     makerFee,
		TakerFee:     takerFee,
		ExecutedAt:   e.now(),
	}
	if err := e.state.KVPut(tradeKey(trade.ID), trade); err != nil {
		return err
	}
	if err := e.recordTrade(pair.ID, price, amount); err != nil {
		return err
	}
	e.emit(newTradeEvent(trade))
	return nil
}

// applyFill reduces an order's remaining size and advances its status.
func (e *Engine) applyFill(order *Order, amount *big.Int) error {
	order.Remaining = new(big.Int).Sub(order.Remaining, amount)
	next := StatusPartialFill
	if order.Remaining.Sign() == 0 {
		next = StatusFilled
	}
	if order.Status != next {
		if !order.Status.CanTransition(next) {
			return fmt.Errorf("orderbook: illegal fill transition %s -> %s", order.Status, next)
		}
		order.Status = next
	}
	return e.state.KVPut(orderKey(order.ID), order)
}
