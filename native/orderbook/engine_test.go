package orderbook

import (
	"errors"
	"math/big"
	"testing"

	"sagemarket/core/state"
	"sagemarket/native/bank"
	"sagemarket/storage"
)

func addr(index byte) [20]byte {
	var out [20]byte
	out[19] = index
	return out
}

// big18 scales a unit count to 18 decimals.
func big18(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), oneE18)
}

type bookFixture struct {
	engine *Engine
	bank   *bank.Engine
	pair   *Pair
	owner  [20]byte
	vault  [20]byte
	now    int64
}

func newFixture(t *testing.T) *bookFixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	transfers := bank.NewEngine(manager)

	f := &bookFixture{
		bank:  transfers,
		owner: addr(0x01),
		vault: addr(0xEE),
		now:   1_000_000,
	}
	engine := NewEngine()
	engine.SetState(manager)
	engine.SetTransferor(transfers)
	engine.SetOwner(f.owner)
	engine.SetVault(f.vault)
	engine.SetNowFunc(func() int64 { return f.now })
	f.engine = engine

	pair, err := engine.CreatePair(f.owner, bank.TokenSAGE, bank.TokenUSDC, oneE18, big.NewInt(1))
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}
	f.pair = pair
	return f
}

func (f *bookFixture) fund(t *testing.T, who [20]byte, token string, units int64) {
	t.Helper()
	if err := f.bank.Mint(who, token, big18(units)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (f *bookFixture) balance(t *testing.T, who [20]byte, token string) *big.Int {
	t.Helper()
	balance, err := f.bank.BalanceOf(who, token)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func (f *bookFixture) limit(t *testing.T, maker [20]byte, side Side, priceUnits, amountUnits int64) *Order {
	t.Helper()
	order, err := f.engine.PlaceLimitOrder(maker, f.pair.ID, side, big18(priceUnits), big18(amountUnits), 0)
	if err != nil {
		t.Fatalf("place %s limit: %v", side, err)
	}
	return order
}

func TestMakerPriceExecution(t *testing.T) {
	f := newFixture(t)
	seller, buyer := addr(0x10), addr(0x20)
	f.fund(t, seller, bank.TokenSAGE, 5)
	f.fund(t, buyer, bank.TokenUSDC, 2_000)

	// Resting sell at 100, incoming buy at 110: the trade executes at the
	// maker's 100, never 110 or the midpoint.
	f.limit(t, seller, SideSell, 100, 5)
	taker := f.limit(t, buyer, SideBuy, 110, 5)

	if taker.Status != StatusFilled {
		t.Fatalf("expected taker filled, got %s", taker.Status)
	}
	trade, err := f.engine.Trade(1)
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if trade.Price.Cmp(big18(100)) != 0 {
		t.Fatalf("expected execution at maker price 100, got %s", trade.Price)
	}
	// The buyer locked at 110 but paid at 100: price improvement returned.
	spent := new(big.Int).Sub(big18(2_000), f.balance(t, buyer, bank.TokenUSDC))
	if spent.Cmp(big18(500)) != 0 {
		t.Fatalf("expected buyer to spend 500 quote, got %s", spent)
	}
}

func TestSelfTradePrevention(t *testing.T) {
	f := newFixture(t)
	trader := addr(0x10)
	f.fund(t, trader, bank.TokenSAGE, 5)
	f.fund(t, trader, bank.TokenUSDC, 1_000)

	f.limit(t, trader, SideSell, 100, 5)
	buy := f.limit(t, trader, SideBuy, 110, 5)

	// Both orders rest: the engine skipped the same-maker candidate.
	if buy.Status != StatusOpen {
		t.Fatalf("expected buy to rest, got %s", buy.Status)
	}
	sell, err := f.engine.Order(1)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if sell.Status != StatusOpen {
		t.Fatalf("expected sell to rest, got %s", sell.Status)
	}
}

func TestPriceTimePriority(t *testing.T) {
	f := newFixture(t)
	first, second, cheaper, buyer := addr(0x10), addr(0x11), addr(0x12), addr(0x20)
	f.fund(t, first, bank.TokenSAGE, 2)
	f.fund(t, second, bank.TokenSAGE, 2)
	f.fund(t, cheaper, bank.TokenSAGE, 2)
	f.fund(t, buyer, bank.TokenUSDC, 10_000)

	f.limit(t, first, SideSell, 100, 2)
	f.now++
	f.limit(t, second, SideSell, 100, 2)
	f.now++
	f.limit(t, cheaper, SideSell, 90, 2)
	f.now++

	taker := f.limit(t, buyer, SideBuy, 100, 7)
	if taker.Status != StatusPartialFill {
		t.Fatalf("expected partial fill, got %s", taker.Status)
	}
	if taker.Remaining.Cmp(big18(1)) != 0 {
		t.Fatalf("expected remainder 1, got %s", taker.Remaining)
	}

	// Price priority seats the 90 ask first, then time priority orders the
	// two 100 asks by arrival.
	for i, expect := range []struct {
		maker [20]byte
		price int64
	}{{cheaper, 90}, {first, 100}, {second, 100}} {
		trade, err := f.engine.Trade(uint64(i + 1))
		if err != nil {
			t.Fatalf("trade %d: %v", i+1, err)
		}
		if trade.Maker != expect.maker {
			t.Fatalf("trade %d: wrong maker", i+1)
		}
		if trade.Price.Cmp(big18(expect.price)) != 0 {
			t.Fatalf("trade %d: expected price %d, got %s", i+1, expect.price, trade.Price)
		}
	}
}

func TestPartialFillLifecycle(t *testing.T) {
	f := newFixture(t)
	seller, buyer := addr(0x10), addr(0x20)
	f.fund(t, seller, bank.TokenSAGE, 10)
	f.fund(t, buyer, bank.TokenUSDC, 1_000)

	resting := f.limit(t, seller, SideSell, 100, 10)
	f.limit(t, buyer, SideBuy, 100, 4)

	updated, err := f.engine.Order(resting.ID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if updated.Status != StatusPartialFill {
		t.Fatalf("expected partial fill, got %s", updated.Status)
	}
	if updated.Remaining.Cmp(big18(6)) != 0 {
		t.Fatalf("expected remaining 6, got %s", updated.Remaining)
	}

	// Cancelling the partial fill releases only the unfilled base.
	if err := f.engine.CancelOrder(seller, resting.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	final, err := f.engine.Order(resting.ID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if final.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if got := f.balance(t, seller, bank.TokenSAGE); got.Cmp(big18(6)) != 0 {
		t.Fatalf("expected 6 base returned, got %s", got)
	}
	if err := f.engine.CancelOrder(seller, resting.ID); !errors.Is(err, ErrOrderNotOpen) {
		t.Fatalf("expected ErrOrderNotOpen, got %v", err)
	}
}

func TestCancelRestoresFunds(t *testing.T) {
	f := newFixture(t)
	buyer := addr(0x20)
	f.fund(t, buyer, bank.TokenUSDC, 1_000)

	order := f.limit(t, buyer, SideBuy, 100, 5)
	if got := f.balance(t, buyer, bank.TokenUSDC); got.Cmp(big18(500)) != 0 {
		t.Fatalf("expected 500 left after lock, got %s", got)
	}
	if err := f.engine.CancelOrder(addr(0x66), order.ID); !errors.Is(err, ErrNotOrderOwner) {
		t.Fatalf("expected ErrNotOrderOwner, got %v", err)
	}
	if err := f.engine.CancelOrder(buyer, order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.balance(t, buyer, bank.TokenUSDC); got.Cmp(big18(1_000)) != 0 {
		t.Fatalf("expected full refund, got %s", got)
	}
}

func TestMarketOrderNeverRests(t *testing.T) {
	f := newFixture(t)
	seller, buyer := addr(0x10), addr(0x20)
	f.fund(t, seller, bank.TokenSAGE, 3)
	f.fund(t, buyer, bank.TokenUSDC, 1_000)

	f.limit(t, seller, SideSell, 100, 3)

	order, err := f.engine.PlaceMarketOrder(buyer, f.pair.ID, SideBuy, big18(5))
	if err != nil {
		t.Fatalf("market buy: %v", err)
	}
	if order.Status != StatusCancelled {
		t.Fatalf("expected cancelled remainder, got %s", order.Status)
	}
	if order.Remaining.Cmp(big18(2)) != 0 {
		t.Fatalf("expected remaining 2, got %s", order.Remaining)
	}
	spent := new(big.Int).Sub(big18(1_000), f.balance(t, buyer, bank.TokenUSDC))
	if spent.Cmp(big18(300)) != 0 {
		t.Fatalf("expected 300 spent, got %s", spent)
	}
}

func TestMarketBuyUnderfundedLeavesBookUntouched(t *testing.T) {
	f := newFixture(t)
	seller, buyer := addr(0x10), addr(0x20)
	f.fund(t, seller, bank.TokenSAGE, 10)
	// Quote for the first fill only; the second fill must fail and unwind
	// the whole call.
	f.fund(t, buyer, bank.TokenUSDC, 5)

	first := f.limit(t, seller, SideSell, 1, 5)
	second := f.limit(t, seller, SideSell, 1, 5)

	if _, err := f.engine.PlaceMarketOrder(buyer, f.pair.ID, SideBuy, big18(10)); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if got := f.balance(t, buyer, bank.TokenSAGE); got.Sign() != 0 {
		t.Fatalf("failed call must not pay out base, got %s", got)
	}
	if got := f.balance(t, buyer, bank.TokenUSDC); got.Cmp(big18(5)) != 0 {
		t.Fatalf("failed call must not spend quote, got %s", got)
	}
	if got := f.balance(t, seller, bank.TokenUSDC); got.Sign() != 0 {
		t.Fatalf("seller must not be paid by a failed call, got %s", got)
	}
	for _, placed := range []*Order{first, second} {
		order, err := f.engine.Order(placed.ID)
		if err != nil {
			t.Fatalf("order %d: %v", placed.ID, err)
		}
		if order.Status != StatusOpen {
			t.Fatalf("ask %d must stay open, got %s", placed.ID, order.Status)
		}
		if order.Remaining.Cmp(big18(5)) != 0 {
			t.Fatalf("ask %d must keep its size, got %s", placed.ID, order.Remaining)
		}
	}
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	f := newFixture(t)
	seller := addr(0x10)
	f.fund(t, seller, bank.TokenSAGE, 5)

	if _, err := f.engine.PlaceMarketOrder(seller, f.pair.ID, SideSell, big18(5)); !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("expected ErrNoLiquidity, got %v", err)
	}
	// The aborted order returned its base lock.
	if got := f.balance(t, seller, bank.TokenSAGE); got.Cmp(big18(5)) != 0 {
		t.Fatalf("expected base refunded, got %s", got)
	}
}

func TestTradingFeesAccrueAndWithdraw(t *testing.T) {
	f := newFixture(t)
	seller, buyer := addr(0x10), addr(0x20)
	f.fund(t, seller, bank.TokenSAGE, 10_000)
	f.fund(t, buyer, bank.TokenUSDC, 10_000)

	// 10000 base at price 1: the taker buyer sheds 20 bps from the base
	// leg, the maker seller sheds 10 bps from the quote leg.
	f.limit(t, seller, SideSell, 1, 10_000)
	f.limit(t, buyer, SideBuy, 1, 10_000)

	if got := f.balance(t, buyer, bank.TokenSAGE); got.Cmp(big18(9_980)) != 0 {
		t.Fatalf("expected buyer 9980 base, got %s", got)
	}
	if got := f.balance(t, seller, bank.TokenUSDC); got.Cmp(big18(9_990)) != 0 {
		t.Fatalf("expected seller 9990 quote, got %s", got)
	}

	baseFees, err := f.engine.CollectedFees(bank.TokenSAGE)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if baseFees.Cmp(big18(20)) != 0 {
		t.Fatalf("expected 20 base fees, got %s", baseFees)
	}
	quoteFees, err := f.engine.CollectedFees(bank.TokenUSDC)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if quoteFees.Cmp(big18(10)) != 0 {
		t.Fatalf("expected 10 quote fees, got %s", quoteFees)
	}

	treasury := addr(0x30)
	if _, err := f.engine.WithdrawFees(buyer, bank.TokenSAGE, treasury); !errors.Is(err, ErrOnlyOwner) {
		t.Fatalf("expected ErrOnlyOwner, got %v", err)
	}
	withdrawn, err := f.engine.WithdrawFees(f.owner, bank.TokenSAGE, treasury)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(big18(20)) != 0 {
		t.Fatalf("expected 20 withdrawn, got %s", withdrawn)
	}
	if got := f.balance(t, treasury, bank.TokenSAGE); got.Cmp(big18(20)) != 0 {
		t.Fatalf("expected treasury 20, got %s", got)
	}
	remaining, err := f.engine.CollectedFees(bank.TokenSAGE)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if remaining.Sign() != 0 {
		t.Fatalf("expected fees zeroed, got %s", remaining)
	}
}

func TestPlacementValidation(t *testing.T) {
	f := newFixture(t)
	trader := addr(0x10)
	f.fund(t, trader, bank.TokenUSDC, 10_000)

	// Off-tick price.
	if _, err := f.engine.PlaceLimitOrder(trader, f.pair.ID, SideBuy, big.NewInt(5), big18(5), 0); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	// Zero amount.
	if _, err := f.engine.PlaceLimitOrder(trader, f.pair.ID, SideBuy, big18(1), big.NewInt(0), 0); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}
	// Unknown pair.
	if _, err := f.engine.PlaceLimitOrder(trader, [32]byte{0xFF}, SideBuy, big18(1), big18(5), 0); !errors.Is(err, ErrPairNotFound) {
		t.Fatalf("expected ErrPairNotFound, got %v", err)
	}
	// Inactive pair.
	if err := f.engine.SetPairActive(f.owner, f.pair.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.engine.PlaceLimitOrder(trader, f.pair.ID, SideBuy, big18(1), big18(5), 0); !errors.Is(err, ErrPairInactive) {
		t.Fatalf("expected ErrPairInactive, got %v", err)
	}
}

func TestPerUserOrderCap(t *testing.T) {
	f := newFixture(t)
	trader := addr(0x10)
	f.fund(t, trader, bank.TokenUSDC, 10_000)

	params := DefaultParams()
	params.MaxOrdersPerUser = 2
	if err := f.engine.SetParams(f.owner, params); err != nil {
		t.Fatalf("set params: %v", err)
	}

	f.limit(t, trader, SideBuy, 10, 1)
	f.limit(t, trader, SideBuy, 11, 1)
	if _, err := f.engine.PlaceLimitOrder(trader, f.pair.ID, SideBuy, big18(12), big18(1), 0); !errors.Is(err, ErrTooManyOrders) {
		t.Fatalf("expected ErrTooManyOrders, got %v", err)
	}
}

func TestBestPriceRescanAfterFill(t *testing.T) {
	f := newFixture(t)
	seller, buyer := addr(0x10), addr(0x20)
	f.fund(t, seller, bank.TokenSAGE, 4)
	f.fund(t, buyer, bank.TokenUSDC, 10_000)

	f.limit(t, seller, SideSell, 90, 2)
	f.limit(t, seller, SideSell, 100, 2)

	best, err := f.engine.BestPrices(f.pair.ID)
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.Ask.Cmp(big18(90)) != 0 {
		t.Fatalf("expected ask 90, got %s", best.Ask)
	}

	// Consuming the 90 level re-seats the ask at 100 via a full rescan.
	f.limit(t, buyer, SideBuy, 90, 2)
	best, err = f.engine.BestPrices(f.pair.ID)
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.Ask.Cmp(big18(100)) != 0 {
		t.Fatalf("expected ask re-seated at 100, got %s", best.Ask)
	}
}

func TestExpireOrdersSweep(t *testing.T) {
	f := newFixture(t)
	trader := addr(0x10)
	f.fund(t, trader, bank.TokenUSDC, 1_000)

	order, err := f.engine.PlaceLimitOrder(trader, f.pair.ID, SideBuy, big18(100), big18(5), 60)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	f.now += 61
	cleared, err := f.engine.ExpireOrders(f.pair.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared)
	}
	swept, err := f.engine.Order(order.ID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if swept.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", swept.Status)
	}
	if got := f.balance(t, trader, bank.TokenUSDC); got.Cmp(big18(1_000)) != 0 {
		t.Fatalf("expected full refund, got %s", got)
	}
}

func TestAnalyticsWindow(t *testing.T) {
	f := newFixture(t)
	seller, buyer := addr(0x10), addr(0x20)
	f.fund(t, seller, bank.TokenSAGE, 5)
	f.fund(t, buyer, bank.TokenUSDC, 10_000)

	f.limit(t, seller, SideSell, 100, 2)
	f.limit(t, buyer, SideBuy, 100, 2)
	f.now += 3_600
	f.limit(t, seller, SideSell, 120, 3)
	f.limit(t, buyer, SideBuy, 120, 3)

	volume, high, low, err := f.engine.Stats24h(f.pair.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if volume.Cmp(big18(5)) != 0 {
		t.Fatalf("expected volume 5, got %s", volume)
	}
	if high.Cmp(big18(120)) != 0 {
		t.Fatalf("expected high 120, got %s", high)
	}
	if low.Cmp(big18(100)) != 0 {
		t.Fatalf("expected low 100, got %s", low)
	}

	// One hour at price 100 then an instant at 120: the TWAP sits at 100.
	twap, err := f.engine.TWAP(f.pair.ID)
	if err != nil {
		t.Fatalf("twap: %v", err)
	}
	if twap.Cmp(big18(100)) != 0 {
		t.Fatalf("expected twap 100, got %s", twap)
	}

	stats, err := f.engine.Analytics(f.pair.ID)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if len(stats.Snapshots) != 2 {
		t.Fatalf("expected 2 hourly snapshots, got %d", len(stats.Snapshots))
	}
}
