package fees

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"sagemarket/core/state"
	"sagemarket/native/bank"
	"sagemarket/storage"
)

type stubEpochs struct {
	current uint64
}

func (s *stubEpochs) Current() uint64 { return s.current }

func addr(index byte) [20]byte {
	var out [20]byte
	out[19] = index
	return out
}

type feeFixture struct {
	engine *Engine
	bank   *bank.Engine
	epochs *stubEpochs
	owner  [20]byte
	vault  [20]byte
	pool   [20]byte
}

func newFixture(t *testing.T) *feeFixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	transfers := bank.NewEngine(manager)
	epochs := &stubEpochs{current: 1}
	engine := NewEngine()
	engine.SetState(manager)
	engine.SetTransferor(transfers)
	engine.SetEpochSource(epochs)
	f := &feeFixture{
		engine: engine,
		bank:   transfers,
		epochs: epochs,
		owner:  addr(0x01),
		vault:  addr(0xEE),
		pool:   addr(0xEF),
	}
	engine.SetOwner(f.owner)
	engine.SetTreasury(addr(0xDD))
	engine.SetStakerPoolAddress(f.pool)
	return f
}

func (f *feeFixture) fund(t *testing.T, amount int64) {
	t.Helper()
	if err := f.bank.Mint(f.vault, bank.TokenSAGE, big.NewInt(amount)); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
}

func TestProcessTransactionConservation(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1_000_000)
	worker := addr(0x10)

	breakdown, err := f.engine.ProcessTransaction(f.owner, f.vault, worker, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if breakdown.ProtocolFee.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("expected protocol fee 200000, got %s", breakdown.ProtocolFee)
	}
	if breakdown.Burn.Cmp(big.NewInt(140_000)) != 0 {
		t.Fatalf("expected burn 140000, got %s", breakdown.Burn)
	}
	if breakdown.Treasury.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("expected treasury 40000, got %s", breakdown.Treasury)
	}
	if breakdown.Staker.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("expected staker 20000, got %s", breakdown.Staker)
	}
	if breakdown.WorkerPayment.Cmp(big.NewInt(800_000)) != 0 {
		t.Fatalf("expected worker payment 800000, got %s", breakdown.WorkerPayment)
	}
	sum := new(big.Int).Add(breakdown.WorkerPayment, breakdown.Burn)
	sum.Add(sum, breakdown.Treasury)
	sum.Add(sum, breakdown.Staker)
	if sum.Cmp(breakdown.GMV) != 0 {
		t.Fatalf("legs must reconcile to gmv: %s != %s", sum, breakdown.GMV)
	}
	got, _ := f.bank.BalanceOf(worker, bank.TokenSAGE)
	if got.Cmp(big.NewInt(800_000)) != 0 {
		t.Fatalf("worker balance %s", got)
	}
	burned, _ := f.bank.BalanceOf(bank.DeadAddress, bank.TokenSAGE)
	if burned.Cmp(big.NewInt(140_000)) != 0 {
		t.Fatalf("burn balance %s", burned)
	}
}

func TestProcessTransactionUnderfundedRollsBack(t *testing.T) {
	f := newFixture(t)
	worker := addr(0x10)
	// Enough for the worker leg but not the burn leg: the call must fail
	// without moving anything.
	f.fund(t, 900)

	if _, err := f.engine.ProcessTransaction(f.owner, f.vault, worker, big.NewInt(1_000)); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if got, _ := f.bank.BalanceOf(worker, bank.TokenSAGE); got.Sign() != 0 {
		t.Fatalf("failed settlement must not pay the worker, got %s", got)
	}
	if got, _ := f.bank.BalanceOf(f.vault, bank.TokenSAGE); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("failed settlement must leave the source intact, got %s", got)
	}
	stats, err := f.engine.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TxCount != 0 {
		t.Fatalf("failed settlement must not be recorded, got %d", stats.TxCount)
	}
}

func TestConcurrentSettlementsSerialize(t *testing.T) {
	f := newFixture(t)
	worker := addr(0x10)
	const calls = 64
	f.fund(t, calls*8_000)

	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ProcessTransaction(f.owner, f.vault, worker, big.NewInt(8_000))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	stats, err := f.engine.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TxCount != calls {
		t.Fatalf("expected %d settlements recorded, got %d", calls, stats.TxCount)
	}
	if stats.TotalGMV.Cmp(big.NewInt(calls*8_000)) != 0 {
		t.Fatalf("expected total gmv %d, got %s", calls*8_000, stats.TotalGMV)
	}
	got, _ := f.bank.BalanceOf(worker, bank.TokenSAGE)
	if got.Cmp(big.NewInt(calls*6_400)) != 0 {
		t.Fatalf("expected worker balance %d, got %s", calls*6_400, got)
	}
}

func TestProcessTransactionRemainderAbsorbedByStaker(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10_003)
	// 10003 * 20% = 2000 (truncated). burn=1400, treasury=400, staker=200.
	breakdown, err := f.engine.ProcessTransaction(f.owner, f.vault, addr(0x10), big.NewInt(10_003))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	reconstructed := new(big.Int).Add(breakdown.Burn, breakdown.Treasury)
	reconstructed.Add(reconstructed, breakdown.Staker)
	if reconstructed.Cmp(breakdown.ProtocolFee) != 0 {
		t.Fatalf("protocol fee legs must reconcile: %s != %s", reconstructed, breakdown.ProtocolFee)
	}
}

func TestProcessTransactionUnauthorized(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100)
	if _, err := f.engine.ProcessTransaction(addr(0x99), f.vault, addr(0x10), big.NewInt(100)); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestProcessTransactionAuthorizedCaller(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100)
	manager := addr(0x42)
	f.engine.SetAuthorizedCaller(manager, true)
	if _, err := f.engine.ProcessTransaction(manager, f.vault, addr(0x10), big.NewInt(100)); err != nil {
		t.Fatalf("authorized caller rejected: %v", err)
	}
}

func TestSetConfigValidatesSplit(t *testing.T) {
	f := newFixture(t)
	bad := Config{ProtocolFeeBps: 2000, BurnBps: 5000, TreasuryBps: 2000, StakerBps: 1000}
	if err := f.engine.SetConfig(f.owner, bad); err == nil {
		t.Fatalf("expected split validation error")
	}
	if err := f.engine.SetConfig(addr(0x99), DefaultConfig()); err != ErrOnlyOwner {
		t.Fatalf("expected ErrOnlyOwner, got %v", err)
	}
}

func TestStakerClaimProportional(t *testing.T) {
	f := newFixture(t)
	stakerA := addr(0x20)
	stakerB := addr(0x21)
	if err := f.engine.UpdateStakerShare(f.owner, stakerA, 7000); err != nil {
		t.Fatalf("share a: %v", err)
	}
	if err := f.engine.UpdateStakerShare(f.owner, stakerB, 3000); err != nil {
		t.Fatalf("share b: %v", err)
	}

	f.epochs.current = 2
	f.fund(t, 1_000_000)
	if _, err := f.engine.ProcessTransaction(f.owner, f.vault, addr(0x10), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("process: %v", err)
	}
	// Epoch 2 staker pool is 20000; A gets 70%, B gets 30%.
	f.epochs.current = 3
	payout, err := f.engine.ClaimStakerRewards(stakerA)
	if err != nil {
		t.Fatalf("claim a: %v", err)
	}
	if payout.Cmp(big.NewInt(14_000)) != 0 {
		t.Fatalf("expected 14000 for A, got %s", payout)
	}
	payout, err = f.engine.ClaimStakerRewards(stakerB)
	if err != nil {
		t.Fatalf("claim b: %v", err)
	}
	if payout.Cmp(big.NewInt(6_000)) != 0 {
		t.Fatalf("expected 6000 for B, got %s", payout)
	}
	if _, err := f.engine.ClaimStakerRewards(stakerA); err != ErrNothingToClaim {
		t.Fatalf("double claim should yield ErrNothingToClaim, got %v", err)
	}
}

func TestStakerShareOverflowRejected(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateStakerShare(f.owner, addr(0x20), 8000); err != nil {
		t.Fatalf("share: %v", err)
	}
	if err := f.engine.UpdateStakerShare(f.owner, addr(0x21), 3000); err != ErrShareOverflow {
		t.Fatalf("expected ErrShareOverflow, got %v", err)
	}
}

func TestPoolSkippedWhenNoSharesRegistered(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1_000_000)
	// Pool accrues in epoch 1 before any staker registers.
	if _, err := f.engine.ProcessTransaction(f.owner, f.vault, addr(0x10), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.epochs.current = 2
	if err := f.engine.UpdateStakerShare(f.owner, addr(0x20), 10_000); err != nil {
		t.Fatalf("share: %v", err)
	}
	// Registration settles epochs up to 2 with a zero share, so epoch 1's
	// pool stays unclaimed dust.
	f.epochs.current = 3
	if _, err := f.engine.ClaimStakerRewards(addr(0x20)); err != ErrNothingToClaim {
		t.Fatalf("expected dust to remain unclaimed, got %v", err)
	}
	pool, err := f.engine.EpochPool(1)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("epoch 1 pool should remain, got %s", pool)
	}
}

func TestStatsMonotonic(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 2_000)
	if _, err := f.engine.ProcessTransaction(f.owner, f.vault, addr(0x10), big.NewInt(1_000)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := f.engine.ProcessTransaction(f.owner, f.vault, addr(0x10), big.NewInt(1_000)); err != nil {
		t.Fatalf("process: %v", err)
	}
	stats, err := f.engine.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TxCount != 2 {
		t.Fatalf("expected tx count 2, got %d", stats.TxCount)
	}
	if stats.TotalGMV.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("expected gmv 2000, got %s", stats.TotalGMV)
	}
}
